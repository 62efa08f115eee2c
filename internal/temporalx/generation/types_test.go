package generation

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
)

func TestJobPayloadRoundTripThroughJSON(t *testing.T) {
	job := Job{
		Type:        "speech_generation",
		PipelineID:  uuid.New(),
		UserID:      uuid.New(),
		Stage:       types.StageVoice,
		AttemptID:   uuid.New(),
		CreditsCost: 30000,
		Input:       map[string]any{"text": "hello", "voice_id": "alloy"},
	}
	raw, err := json.Marshal(job.Payload())
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))

	got, err := JobFromPayload("speech_generation", payload)
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestJobFromPayloadRejectsMissingIDs(t *testing.T) {
	_, err := JobFromPayload("image_generation", map[string]any{"stage": "first_frame"})
	assert.Error(t, err)
	_, err = JobFromPayload("", map[string]any{})
	assert.Error(t, err)
}
