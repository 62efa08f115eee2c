package services

import (
	"context"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/realtime"
)

// RowPublisher announces committed pipeline rows on the pipeline's channel.
type RowPublisher struct {
	emit realtime.Emitter
}

func NewRowPublisher(emit realtime.Emitter) *RowPublisher {
	return &RowPublisher{emit: emit}
}

func (r *RowPublisher) PipelineUpdated(ctx context.Context, p *types.Pipeline) {
	if r == nil || r.emit == nil || p == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.emit.Emit(ctx, realtime.SSEMessage{
		Channel: realtime.PipelineChannel(p.ID),
		Event:   realtime.SSEEventPipelineUpdated,
		Data:    p,
	})
}
