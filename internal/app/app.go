package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/talkinghead-backend/internal/data/db"
	"github.com/yungbote/talkinghead-backend/internal/data/repos"
	httpserver "github.com/yungbote/talkinghead-backend/internal/http"
	"github.com/yungbote/talkinghead-backend/internal/observability"
	"github.com/yungbote/talkinghead-backend/internal/platform/envutil"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    repos.Repos
	Services Services
	Clients  Clients
	SSEHub   *realtime.SSEHub
	Metrics  *observability.Metrics

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	metrics := observability.Init(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	theDB := pg.DB()

	clients, err := wireClients(log)
	if err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	ssehub := realtime.NewSSEHub(log)
	reposet := repos.New(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, reposet, clients, ssehub, metrics)
	if err != nil {
		clients.Close()
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	ready := func(ctx context.Context) error {
		sqlDB, err := theDB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
	handlerset := wireHandlers(log, serviceset, ssehub, ready)
	middleware := wireMiddleware(log, serviceset)
	router := wireRouter(log, cfg, metrics, handlerset, middleware)

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Repos:        reposet,
		Services:     serviceset,
		Clients:      clients,
		SSEHub:       ssehub,
		Metrics:      metrics,
		pg:           pg,
		otelShutdown: otelShutdown,
	}, nil
}

// Run starts what RUN_SERVER / RUN_WORKER enable and blocks until ctx is
// done. With a bus configured, bus messages are forwarded into the local hub.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	if !a.Cfg.RunServer && a.Services.Worker == nil {
		return fmt.Errorf("nothing to run: set RUN_SERVER and/or RUN_WORKER")
	}
	if a.Clients.Bus != nil {
		if err := a.Clients.Bus.StartForwarder(ctx, a.SSEHub.Broadcast); err != nil {
			return fmt.Errorf("start bus forwarder: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.Services.Shells != nil {
		g.Go(func() error {
			a.Services.Shells.Janitor(gctx)
			return nil
		})
	}
	if a.Services.Worker != nil {
		g.Go(func() error {
			if err := a.Services.Worker.Start(gctx); err != nil {
				return fmt.Errorf("temporal worker: %w", err)
			}
			<-gctx.Done()
			return nil
		})
	}
	if a.Cfg.RunServer {
		g.Go(func() error {
			addr := ":" + a.Cfg.Port
			a.Log.Info("Starting HTTP server", "addr", addr)
			return (&httpserver.Server{Engine: a.Router}).Run(gctx, addr)
		})
	}
	return g.Wait()
}

// Close flushes open sessions before tearing down clients and the database.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Services.Lifecycle != nil {
		a.Services.Lifecycle.Close()
	}
	a.Clients.Close()
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
