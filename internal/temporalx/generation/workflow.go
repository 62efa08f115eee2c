package generation

import (
	"errors"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	pollInterval = 2 * time.Second
	maxWait      = 45 * time.Minute
)

// Workflow runs one generation attempt: submit, poll until the provider is
// done, then finalize. Any failure ends in the fail activity so the stage
// never stays processing. Submission is never retried.
func Workflow(ctx workflow.Context, job Job) error {
	log := workflow.GetLogger(ctx)

	submitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	pollCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    5,
		},
	})
	writeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{InitialInterval: time.Second, MaximumAttempts: 10},
	})

	var step StepResult
	if err := workflow.ExecuteActivity(submitCtx, ActivitySubmit, job).Get(ctx, &step); err != nil {
		return fail(writeCtx, job, failureMessage(err))
	}

	deadline := workflow.Now(ctx).Add(maxWait)
	for !step.Done && !step.Failed {
		if !workflow.Now(ctx).Before(deadline) {
			return fail(writeCtx, job, "generation timed out")
		}
		if err := workflow.Sleep(ctx, pollInterval); err != nil {
			return err
		}
		var next StepResult
		if err := workflow.ExecuteActivity(pollCtx, ActivityPoll, job, step.Handle).Get(ctx, &next); err != nil {
			return fail(writeCtx, job, failureMessage(err))
		}
		if next.Handle == "" {
			next.Handle = step.Handle
		}
		step = next
	}
	if step.Failed {
		return fail(writeCtx, job, step.Message)
	}

	var applied bool
	if err := workflow.ExecuteActivity(writeCtx, ActivityFinalize, job, step.Output).Get(ctx, &applied); err != nil {
		log.Warn("finalize gave up", "attempt_id", job.AttemptID.String(), "error", err)
		return fail(writeCtx, job, failureMessage(err))
	}
	log.Info("generation finalized", "attempt_id", job.AttemptID.String(), "applied", applied)
	return nil
}

func fail(ctx workflow.Context, job Job, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "generation failed"
	}
	var applied bool
	return workflow.ExecuteActivity(ctx, ActivityFail, job, message).Get(ctx, &applied)
}

func failureMessage(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && strings.TrimSpace(appErr.Message()) != "" {
		return "generation failed: " + appErr.Message()
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return "generation timed out"
	}
	return "generation failed"
}
