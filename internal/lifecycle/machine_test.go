package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineTransitions(t *testing.T) {
	m := &machine{state: StateIdle}
	require.NoError(t, m.to(StateSubmitting))
	require.NoError(t, m.to(StateIdle), "rejected submit returns to idle")
	require.NoError(t, m.to(StateSubmitting))
	require.NoError(t, m.to(StateAwaitingJob))
	assert.True(t, m.state.InFlight())
	require.NoError(t, m.to(StateFailed))
	require.NoError(t, m.to(StateSubmitting), "retry after failure")
	require.NoError(t, m.to(StateAwaitingJob))
	require.NoError(t, m.to(StateSucceeded))
	require.NoError(t, m.to(StateSubmitting), "regenerate after success")
}

func TestMachineRejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{StateIdle, StateAwaitingJob},
		{StateIdle, StateSucceeded},
		{StateAwaitingJob, StateIdle},
		{StateAwaitingJob, StateSubmitting},
		{StateSucceeded, StateFailed},
	}
	for _, tc := range cases {
		m := &machine{state: tc.from}
		err := m.to(tc.to)
		assert.True(t, errors.Is(err, ErrIllegalTransition), "%s -> %s", tc.from, tc.to)
		assert.Equal(t, tc.from, m.state)
	}
}
