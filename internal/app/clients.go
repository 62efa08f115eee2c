package app

import (
	"context"
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/talkinghead-backend/internal/platform/gcp"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/realtime/bus"
	"github.com/yungbote/talkinghead-backend/internal/temporalx"
)

type Clients struct {
	Bus      bus.Bus
	Bucket   gcp.BucketService
	Temporal temporalsdkclient.Client
}

// wireClients connects the external systems. Redis and Temporal are optional:
// without REDIS_ADDR events stay in-process, without TEMPORAL_ADDRESS the
// temporal invoker reports the generation backend as unavailable.
func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	b, err := bus.NewRedisBus(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init redis bus: %w", err)
	}

	bucket, err := ResolveBucketService(log)
	if err != nil {
		if b != nil {
			_ = b.Close()
		}
		return Clients{}, fmt.Errorf("init bucket client: %w", err)
	}

	tc, err := temporalx.LoadConfig().Dial(context.Background(), log)
	if err != nil {
		if b != nil {
			_ = b.Close()
		}
		return Clients{}, fmt.Errorf("init temporal client: %w", err)
	}

	return Clients{Bus: b, Bucket: bucket, Temporal: tc}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
}
