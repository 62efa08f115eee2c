package bus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/realtime"
)

func TestDecodeMessage(t *testing.T) {
	msg, err := decodeMessage(`{"channel":"pipeline:abc","event":"PipelineUpdated","data":{"status":"processing"}}`)
	require.NoError(t, err)
	assert.Equal(t, "pipeline:abc", msg.Channel)
	assert.Equal(t, realtime.SSEEventPipelineUpdated, msg.Event)

	_, err = decodeMessage(`{"event":"Notification"}`)
	assert.Error(t, err)
	_, err = decodeMessage(`not json`)
	assert.Error(t, err)
}

func TestNewRedisBusDisabledWithoutAddr(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	b, err := NewRedisBus(logger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestRedisBusRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	b, err := NewRedisBusWithConfig(logger.NewNop(), RedisConfig{Addr: addr, Channel: "talkinghead-test"})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan realtime.SSEMessage, 1)
	require.NoError(t, b.StartForwarder(ctx, func(m realtime.SSEMessage) { got <- m }))
	require.NoError(t, b.Publish(ctx, realtime.SSEMessage{Channel: "u1", Event: realtime.SSEEventNotification}))

	select {
	case m := <-got:
		assert.Equal(t, "u1", m.Channel)
	case <-time.After(5 * time.Second):
		t.Fatal("no message forwarded")
	}
}
