package invoker

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/talkinghead-backend/internal/platform/envutil"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

// Request is the generation function contract: a job type discriminator plus
// a flat payload of resolved stage input and identifying keys.
type Request struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Result reports acceptance of a job, not its completion.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

type Mode string

const (
	ModeTemporal Mode = "temporal"
	ModeHTTP     Mode = "http"
)

type Config struct {
	Mode         Mode
	FunctionsURL string
	Token        string
}

func ConfigFromEnv() Config {
	return Config{
		Mode:         Mode(strings.ToLower(envutil.String("INVOKER_MODE", string(ModeTemporal)))),
		FunctionsURL: envutil.String("FUNCTIONS_URL", ""),
		Token:        envutil.String("FUNCTIONS_TOKEN", ""),
	}
}

// New picks the invoker for cfg. A temporal invoker without a client still
// constructs; every Invoke then reports the backend as unavailable.
func New(log *logger.Logger, cfg Config, starter WorkflowStarter, taskQueue string) (Invoker, error) {
	switch cfg.Mode {
	case ModeHTTP:
		return NewHTTPInvoker(log, cfg.FunctionsURL, cfg.Token, nil)
	case ModeTemporal, "":
		return NewTemporalInvoker(log, starter, taskQueue), nil
	default:
		return nil, fmt.Errorf("unknown INVOKER_MODE %q", cfg.Mode)
	}
}
