package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/talkinghead-backend/internal/data/repos"
	"github.com/yungbote/talkinghead-backend/internal/invoker"
	"github.com/yungbote/talkinghead-backend/internal/lifecycle"
	"github.com/yungbote/talkinghead-backend/internal/notify"
	"github.com/yungbote/talkinghead-backend/internal/observability"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/platform/openai"
	"github.com/yungbote/talkinghead-backend/internal/providers"
	"github.com/yungbote/talkinghead-backend/internal/realtime"
	"github.com/yungbote/talkinghead-backend/internal/services"
	"github.com/yungbote/talkinghead-backend/internal/shell"
	"github.com/yungbote/talkinghead-backend/internal/stages"
	"github.com/yungbote/talkinghead-backend/internal/temporalx"
	"github.com/yungbote/talkinghead-backend/internal/temporalx/generation"
	"github.com/yungbote/talkinghead-backend/internal/temporalx/temporalworker"
	"github.com/yungbote/talkinghead-backend/internal/uploads"
)

type Services struct {
	Catalog   *stages.Catalog
	Emitter   realtime.Emitter
	Auth      services.AuthService
	Pipelines services.PipelineService
	Tags      services.TagService
	Credits   services.CreditService
	Notify    notify.Notifier
	Invoker   invoker.Invoker
	Functions invoker.Invoker
	Lifecycle *lifecycle.Manager
	Shells    *shell.Manager
	Uploads   uploads.Uploader
	Worker    *temporalworker.Runner
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r repos.Repos, clients Clients, hub *realtime.SSEHub, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	catalog, err := stages.Load(cfg.CatalogPath)
	if err != nil {
		return Services{}, fmt.Errorf("load stage catalog: %w", err)
	}

	// With a bus every instance (and the worker) fans out through redis and
	// the forwarder re-broadcasts into the local hub.
	var emit realtime.Emitter = &realtime.HubEmitter{Hub: hub}
	if clients.Bus != nil {
		emit = &realtime.BusEmitter{Bus: clients.Bus, Fallback: emit}
	}

	auth, err := services.NewAuthService(log, cfg.JWTSecretKey, cfg.JWTIssuer)
	if err != nil {
		return Services{}, fmt.Errorf("init auth: %w", err)
	}
	pipelines := services.NewPipelineService(db, log, r, services.NewRowPublisher(emit))
	creditSvc := services.NewCreditService(log, r.Credits, cfg.InitialCredits)
	notifier := notify.New(log, emit, cfg.TopUpURL)

	taskQueue := temporalx.LoadConfig().TaskQueue
	inv, err := invoker.New(log, invoker.ConfigFromEnv(), clients.Temporal, taskQueue)
	if err != nil {
		return Services{}, fmt.Errorf("init invoker: %w", err)
	}

	lc := lifecycle.NewManager(lifecycle.Deps{
		Log:      log,
		Catalog:  catalog,
		Store:    pipelines,
		Balances: creditSvc,
		Invoker:  inv,
		Notify:   notifier,
		Hub:      hub,
	}, lifecycle.ConfigFromEnv())

	var worker *temporalworker.Runner
	if cfg.RunWorker {
		if worker, err = wireWorker(log, catalog, pipelines, clients, metrics); err != nil {
			return Services{}, err
		}
	}

	return Services{
		Catalog:   catalog,
		Emitter:   emit,
		Auth:      auth,
		Pipelines: pipelines,
		Tags:      services.NewTagService(log, r.Tags),
		Credits:   creditSvc,
		Notify:    notifier,
		Invoker:   inv,
		// The functions endpoint always starts workflows directly; routing it
		// through an HTTP invoker would call itself.
		Functions: invoker.NewTemporalInvoker(log, clients.Temporal, taskQueue),
		Lifecycle: lc,
		Shells:    shell.NewManager(log, pipelines, notifier, lc, shell.ConfigFromEnv()),
		Uploads:   uploads.New(log, clients.Bucket),
		Worker:    worker,
	}, nil
}

func wireWorker(log *logger.Logger, catalog *stages.Catalog, attempts generation.AttemptWriter, clients Clients, metrics *observability.Metrics) (*temporalworker.Runner, error) {
	ai, err := openai.NewClient(log)
	if err != nil {
		return nil, fmt.Errorf("init openai client: %w", err)
	}
	registry, err := providers.NewDefaultRegistry(log, ai, catalog, providers.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("init providers: %w", err)
	}
	w, err := temporalworker.NewRunner(log, clients.Temporal, &generation.Activities{
		Log:       log.With("service", "GenerationActivities"),
		Providers: registry,
		Bucket:    clients.Bucket,
		Attempts:  attempts,
		Catalog:   catalog,
		Metrics:   metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("init temporal worker: %w", err)
	}
	return w, nil
}
