package app

import (
	"strconv"

	"github.com/yungbote/talkinghead-backend/internal/credits"
	"github.com/yungbote/talkinghead-backend/internal/platform/envutil"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

type Config struct {
	Port           string
	ServiceName    string
	Environment    string
	Version        string
	JWTSecretKey   string
	JWTIssuer      string
	AllowedOrigins []string
	InitialCredits credits.Amount
	TopUpURL       string
	CatalogPath    string
	RunServer      bool
	RunWorker      bool
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:           envutil.String("PORT", "8080"),
		ServiceName:    envutil.String("SERVICE_NAME", "talkinghead-api"),
		Environment:    envutil.String("ENVIRONMENT", "development"),
		Version:        envutil.String("VERSION", "dev"),
		JWTSecretKey:   envutil.String("JWT_SECRET_KEY", ""),
		JWTIssuer:      envutil.String("JWT_ISSUER", ""),
		AllowedOrigins: envutil.List("CORS_ALLOWED_ORIGINS", nil),
		InitialCredits: credits.FromCredits(1),
		TopUpURL:       envutil.String("CREDITS_TOP_UP_URL", "/billing"),
		CatalogPath:    envutil.String("STAGE_CATALOG_PATH", ""),
		RunServer:      envutil.Bool("RUN_SERVER", true),
		RunWorker:      envutil.Bool("RUN_WORKER", false),
	}
	if raw := envutil.String("INITIAL_CREDITS", ""); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 {
			cfg.InitialCredits = credits.FromCredits(v)
		} else {
			log.Warn("Ignoring invalid INITIAL_CREDITS", "value", raw)
		}
	}
	return cfg
}
