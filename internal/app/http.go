package app

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/talkinghead-backend/internal/http"
	httpH "github.com/yungbote/talkinghead-backend/internal/http/handlers"
	httpMW "github.com/yungbote/talkinghead-backend/internal/http/middleware"
	"github.com/yungbote/talkinghead-backend/internal/observability"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/realtime"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health    *httpH.HealthHandler
	Realtime  *httpH.RealtimeHandler
	Pipeline  *httpH.PipelineHandler
	Stage     *httpH.StageHandler
	Functions *httpH.FunctionsHandler
	Upload    *httpH.UploadHandler
	Tag       *httpH.TagHandler
	Credit    *httpH.CreditHandler
}

func wireHandlers(log *logger.Logger, services Services, sseHub *realtime.SSEHub, ready httpH.ReadinessCheck) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:    httpH.NewHealthHandler(ready),
		Realtime:  httpH.NewRealtimeHandler(log, sseHub, services.Pipelines),
		Pipeline:  httpH.NewPipelineHandler(log, services.Pipelines, services.Shells),
		Stage:     httpH.NewStageHandler(log, services.Shells, services.Catalog, services.Notify),
		Functions: httpH.NewFunctionsHandler(log, services.Pipelines, services.Catalog, services.Functions),
		Upload:    httpH.NewUploadHandler(log, services.Uploads),
		Tag:       httpH.NewTagHandler(log, services.Tags),
		Credit:    httpH.NewCreditHandler(log, services.Credits, services.Pipelines, services.Catalog),
	}
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, services.Auth),
	}
}

func wireRouter(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers, middleware Middleware) *gin.Engine {
	return http.NewRouter(http.RouterConfig{
		Log:              log,
		ServiceName:      cfg.ServiceName,
		AllowedOrigins:   cfg.AllowedOrigins,
		Metrics:          metrics,
		AuthMiddleware:   middleware.Auth,
		HealthHandler:    handlers.Health,
		RealtimeHandler:  handlers.Realtime,
		PipelineHandler:  handlers.Pipeline,
		StageHandler:     handlers.Stage,
		FunctionsHandler: handlers.Functions,
		UploadHandler:    handlers.Upload,
		TagHandler:       handlers.Tag,
		CreditHandler:    handlers.Credit,
	})
}
