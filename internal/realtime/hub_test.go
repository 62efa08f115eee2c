package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

func recvMessage(t *testing.T, ch <-chan SSEMessage, timeout time.Duration) SSEMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for SSE message")
	}
	return SSEMessage{}
}

func TestSSEHubOrderingAndReconnect(t *testing.T) {
	hub := NewSSEHub(logger.NewNop())
	channel := PipelineChannel(uuid.New())

	clientA := hub.NewSSEClient(uuid.New())
	hub.AddChannel(clientA, channel)
	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventPipelineUpdated, Data: map[string]any{"seq": 1}})
	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventNotification, Data: map[string]any{"seq": 2}})

	assert.Equal(t, SSEEventPipelineUpdated, recvMessage(t, clientA.Outbound, time.Second).Event)
	assert.Equal(t, SSEEventNotification, recvMessage(t, clientA.Outbound, time.Second).Event)

	hub.CloseClient(clientA)
	hub.CloseClient(clientA)
	_, ok := <-clientA.Outbound
	assert.False(t, ok, "outbound should be closed after disconnect")

	clientB := hub.NewSSEClient(uuid.New())
	hub.AddChannel(clientB, channel)
	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventPipelineUpdated})
	assert.Equal(t, SSEEventPipelineUpdated, recvMessage(t, clientB.Outbound, time.Second).Event)
}

func TestSSEHubDropsWhenBufferFull(t *testing.T) {
	hub := NewSSEHub(logger.NewNop())
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, "c")
	for i := 0; i < outboundBuffer+5; i++ {
		hub.Broadcast(SSEMessage{Channel: "c", Event: SSEEventNotification})
	}
	assert.Len(t, client.Outbound, outboundBuffer)
}

func TestSSEHubSubscribe(t *testing.T) {
	hub := NewSSEHub(logger.NewNop())
	id := uuid.New()
	ch, cancel := hub.Subscribe(PipelineChannel(id))
	hub.Broadcast(SSEMessage{Channel: PipelineChannel(uuid.New()), Event: SSEEventPipelineUpdated})
	hub.Broadcast(SSEMessage{Channel: PipelineChannel(id), Event: SSEEventPipelineUpdated, Data: "mine"})
	assert.Equal(t, "mine", recvMessage(t, ch, time.Second).Data)
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSSEHubServeHTTPWritesEvents(t *testing.T) {
	hub := NewSSEHub(logger.NewNop())
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, "u")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		hub.ServeHTTP(rec, req, client)
		close(done)
	}()
	hub.Broadcast(SSEMessage{Channel: "u", Event: SSEEventNotification, Data: map[string]any{"kind": "save_failed"}})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(body, `"event":"Notification"`), body)
	assert.True(t, strings.Contains(body, `"kind":"save_failed"`), body)
}

func TestParsePipelineChannel(t *testing.T) {
	id := uuid.New()
	got, ok := ParsePipelineChannel(PipelineChannel(id))
	require.True(t, ok)
	assert.Equal(t, id, got)
	_, ok = ParsePipelineChannel(id.String())
	assert.False(t, ok)
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(ctx context.Context, msg SSEMessage) error {
	p.calls++
	return errors.New("redis down")
}

func TestBusEmitterFallsBackToHub(t *testing.T) {
	hub := NewSSEHub(logger.NewNop())
	ch, cancel := hub.Subscribe("u")
	defer cancel()
	pub := &failingPublisher{}
	e := &BusEmitter{Bus: pub, Fallback: &HubEmitter{Hub: hub}}
	e.Emit(context.Background(), SSEMessage{Channel: "u", Event: SSEEventNotification})
	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, SSEEventNotification, recvMessage(t, ch, time.Second).Event)
}
