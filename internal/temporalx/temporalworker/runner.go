package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/talkinghead-backend/internal/platform/envutil"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/temporalx"
	"github.com/yungbote/talkinghead-backend/internal/temporalx/generation"
)

type Runner struct {
	log  *logger.Logger
	tc   temporalsdkclient.Client
	acts *generation.Activities
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, acts *generation.Activities) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if acts == nil || acts.Providers == nil || acts.Bucket == nil || acts.Attempts == nil || acts.Catalog == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	return &Runner{log: log.With("service", "TemporalWorker"), tc: tc, acts: acts}, nil
}

// Start polls the task queue until ctx is done. It keeps retrying worker start
// for TEMPORAL_WORKER_START_MAX_WAIT_SECONDS so the worker can come up before
// the Temporal frontend does.
func (r *Runner) Start(ctx context.Context) error {
	cfg := temporalx.LoadConfig()
	r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)

	// Temporal Cloud namespaces are pre-created; auto register is for local stacks.
	if cfg.AutoRegisterNamespace {
		if err := cfg.EnsureNamespace(ctx, r.log); err != nil {
			r.log.Warn("Temporal namespace ensure failed; worker will retry on start", "namespace", cfg.Namespace, "error", err)
		}
	}

	maxWait := envutil.Seconds("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60*time.Second)
	backoff := temporalx.Backoff{
		Base: envutil.Millis("TEMPORAL_WORKER_START_BACKOFF_MS", 250*time.Millisecond),
		Max:  envutil.Millis("TEMPORAL_WORKER_START_BACKOFF_MAX_MS", 5*time.Second),
	}
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		w := r.newWorker(cfg)
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		missingNamespace := errors.As(startErr, &nfe)
		if missingNamespace && cfg.AutoRegisterNamespace {
			_ = cfg.EnsureNamespace(ctx, r.log)
		}

		if maxWait <= 0 || time.Now().After(deadline) {
			if missingNamespace {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}

		r.log.Warn("Temporal worker failed to start; retrying", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempt", attempt, "error", startErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff.Delay(attempt)):
		}
	}
}

func (r *Runner) newWorker(cfg temporalx.Config) worker.Worker {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}

	w := worker.New(r.tc, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})
	Register(w, r.acts)
	return w
}

// Register binds the generation workflow and its activities under their
// stable names.
func Register(w worker.Registry, acts *generation.Activities) {
	w.RegisterWorkflowWithOptions(generation.Workflow, workflow.RegisterOptions{Name: generation.WorkflowName})
	w.RegisterActivityWithOptions(acts.Submit, activity.RegisterOptions{Name: generation.ActivitySubmit})
	w.RegisterActivityWithOptions(acts.Poll, activity.RegisterOptions{Name: generation.ActivityPoll})
	w.RegisterActivityWithOptions(acts.Finalize, activity.RegisterOptions{Name: generation.ActivityFinalize})
	w.RegisterActivityWithOptions(acts.Fail, activity.RegisterOptions{Name: generation.ActivityFail})
}
