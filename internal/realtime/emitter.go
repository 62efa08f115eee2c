package realtime

import (
	"context"
)

type Emitter interface {
	Emit(ctx context.Context, msg SSEMessage)
}

// HubEmitter delivers straight to this process's hub.
type HubEmitter struct{ Hub *SSEHub }

func (e *HubEmitter) Emit(ctx context.Context, msg SSEMessage) {
	if e == nil || e.Hub == nil {
		return
	}
	e.Hub.Broadcast(msg)
}

// Publisher is the subset of bus.Bus an emitter needs.
type Publisher interface {
	Publish(ctx context.Context, msg SSEMessage) error
}

// BusEmitter fans out through the shared bus; every API instance's forwarder
// re-broadcasts into its own hub.
type BusEmitter struct {
	Bus      Publisher
	Fallback Emitter
}

func (e *BusEmitter) Emit(ctx context.Context, msg SSEMessage) {
	if e == nil || e.Bus == nil {
		return
	}
	if err := e.Bus.Publish(ctx, msg); err != nil && e.Fallback != nil {
		e.Fallback.Emit(ctx, msg)
	}
}
