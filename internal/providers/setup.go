package providers

import (
	"fmt"
	"time"

	"github.com/yungbote/talkinghead-backend/internal/platform/envutil"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/platform/openai"
	"github.com/yungbote/talkinghead-backend/internal/stages"
)

type Config struct {
	LipSyncURL     string
	VideoURL       string
	EndpointAPIKey string
	EndpointWait   time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		LipSyncURL:     envutil.String("LIPSYNC_ENDPOINT_URL", ""),
		VideoURL:       envutil.String("VIDEO_ENDPOINT_URL", ""),
		EndpointAPIKey: envutil.String("ENDPOINT_API_KEY", ""),
		EndpointWait:   envutil.Seconds("ENDPOINT_HTTP_TIMEOUT_SECONDS", 60*time.Second),
	}
}

// NewDefaultRegistry wires the OpenAI-backed providers and whichever endpoint
// providers are configured. A job type without a provider fails at run time.
func NewDefaultRegistry(log *logger.Logger, ai openai.Client, catalog *stages.Catalog, cfg Config) (*Registry, error) {
	if ai == nil {
		return nil, fmt.Errorf("openai client required")
	}
	cps := catalog.CharsPerSecond
	r := NewRegistry()
	r.Register(stages.JobImageGeneration, &ImageProvider{Client: ai})
	r.Register(stages.JobScriptGeneration, &ScriptProvider{Client: ai, CharsPerSecond: cps})
	r.Register(stages.JobSpeechGeneration, &SpeechProvider{Client: ai, CharsPerSecond: cps})

	endpoints := []struct {
		jobType stages.JobType
		url     string
	}{
		{stages.JobLipSyncGeneration, cfg.LipSyncURL},
		{stages.JobVideoGeneration, cfg.VideoURL},
	}
	for _, e := range endpoints {
		if e.url == "" {
			log.Warn("No endpoint configured; jobs of this type will fail", "job_type", e.jobType)
			continue
		}
		p, err := NewEndpointProvider(log, EndpointConfig{
			BaseURL: e.url,
			APIKey:  cfg.EndpointAPIKey,
			Field:   "video_url",
			Keep:    []string{"duration_seconds"},
			Timeout: cfg.EndpointWait,
		})
		if err != nil {
			return nil, fmt.Errorf("%s provider: %w", e.jobType, err)
		}
		r.Register(e.jobType, p)
	}
	return r, nil
}
