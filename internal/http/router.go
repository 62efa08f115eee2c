package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/talkinghead-backend/internal/http/handlers"
	httpMW "github.com/yungbote/talkinghead-backend/internal/http/middleware"
	"github.com/yungbote/talkinghead-backend/internal/observability"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	AllowedOrigins []string
	Metrics        *observability.Metrics

	AuthMiddleware  *httpMW.AuthMiddleware
	RealtimeHandler *httpH.RealtimeHandler

	PipelineHandler  *httpH.PipelineHandler
	StageHandler     *httpH.StageHandler
	FunctionsHandler *httpH.FunctionsHandler
	UploadHandler    *httpH.UploadHandler
	TagHandler       *httpH.TagHandler
	CreditHandler    *httpH.CreditHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "talkinghead-api"
	}
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	protected := api.Group("/")
	{
		// Middleware
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			protected.GET("/sse/stream", cfg.RealtimeHandler.SSEStream)
			protected.POST("/sse/subscribe", cfg.RealtimeHandler.SSESubscribe)
			protected.POST("/sse/unsubscribe", cfg.RealtimeHandler.SSEUnsubscribe)
		}

		// Pipelines
		if cfg.PipelineHandler != nil {
			protected.POST("/pipelines", cfg.PipelineHandler.CreatePipeline)
			protected.GET("/pipelines", cfg.PipelineHandler.ListPipelines)
			protected.GET("/pipelines/:id", cfg.PipelineHandler.GetPipeline)
			protected.GET("/pipelines/:id/view", cfg.PipelineHandler.GetView)
			protected.PATCH("/pipelines/:id/metadata", cfg.PipelineHandler.EditMetadata)
			protected.POST("/pipelines/:id/navigate", cfg.PipelineHandler.Navigate)
			protected.POST("/pipelines/:id/close", cfg.PipelineHandler.ClosePipeline)
		}

		// Stages
		if cfg.StageHandler != nil {
			protected.PATCH("/pipelines/:id/stages/:stage/input", cfg.StageHandler.SaveInput)
			protected.POST("/pipelines/:id/stages/:stage/input/flush", cfg.StageHandler.FlushInput)
			protected.POST("/pipelines/:id/stages/:stage/generate", cfg.StageHandler.Generate)
			protected.GET("/pipelines/:id/stages/:stage/download", cfg.StageHandler.Download)
			protected.GET("/pipelines/:id/stages/:stage/copy", cfg.StageHandler.Copy)
		}

		// Generation functions
		if cfg.FunctionsHandler != nil {
			protected.POST("/functions/invoke", cfg.FunctionsHandler.Invoke)
		}

		// Uploads
		if cfg.UploadHandler != nil {
			protected.POST("/uploads", cfg.UploadHandler.Upload)
		}

		// Tags
		if cfg.TagHandler != nil {
			protected.GET("/tags", cfg.TagHandler.ListTags)
			protected.POST("/tags", cfg.TagHandler.CreateTag)
			protected.DELETE("/tags/:id", cfg.TagHandler.DeleteTag)
		}

		// Credits
		if cfg.CreditHandler != nil {
			protected.GET("/credits/balance", cfg.CreditHandler.Balance)
			protected.POST("/credits/estimate", cfg.CreditHandler.Estimate)
		}
	}

	return r
}
