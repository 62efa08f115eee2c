package invoker

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/temporalx/generation"
)

// WorkflowStarter is the part of the Temporal client the invoker uses.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options temporalsdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (temporalsdkclient.WorkflowRun, error)
}

type TemporalInvoker struct {
	log       *logger.Logger
	starter   WorkflowStarter
	taskQueue string
}

func NewTemporalInvoker(log *logger.Logger, starter WorkflowStarter, taskQueue string) *TemporalInvoker {
	return &TemporalInvoker{
		log:       log.With("service", "TemporalInvoker"),
		starter:   starter,
		taskQueue: taskQueue,
	}
}

// Invoke starts one workflow per attempt. The attempt id doubles as the
// workflow id, so a duplicate submit is accepted without starting twice.
func (inv *TemporalInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	if inv == nil || inv.starter == nil {
		return Result{}, fmt.Errorf("generation backend unavailable")
	}
	job, err := generation.JobFromPayload(req.Type, req.Payload)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    generation.WorkflowID(job.AttemptID),
		TaskQueue:             inv.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	run, err := inv.starter.ExecuteWorkflow(ctx, opts, generation.WorkflowName, job)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return Result{Success: true}, nil
		}
		inv.log.Warn("Generation workflow start failed", "type", job.Type, "stage", job.Stage, "attempt_id", job.AttemptID, "error", err)
		return Result{}, fmt.Errorf("start generation: %w", err)
	}
	if run != nil {
		inv.log.Info("Generation workflow started", "type", job.Type, "stage", job.Stage, "workflow_id", run.GetID(), "run_id", run.GetRunID())
	}
	return Result{Success: true}, nil
}
