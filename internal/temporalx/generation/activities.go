package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/yungbote/talkinghead-backend/internal/credits"
	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/observability"
	"github.com/yungbote/talkinghead-backend/internal/platform/dbctx"
	"github.com/yungbote/talkinghead-backend/internal/platform/gcp"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/providers"
	"github.com/yungbote/talkinghead-backend/internal/services"
	"github.com/yungbote/talkinghead-backend/internal/stages"
)

// AttemptWriter is the slice of the pipeline service the worker writes through.
type AttemptWriter interface {
	FinishAttempt(ctx context.Context, pipelineID uuid.UUID, stage types.StageKey, attemptID uuid.UUID, output map[string]any, cost int64) (services.FinishOutcome, error)
	FailAttempt(ctx context.Context, pipelineID uuid.UUID, stage types.StageKey, attemptID uuid.UUID, message string) (bool, error)
}

type Activities struct {
	Log       *logger.Logger
	Providers *providers.Registry
	Bucket    gcp.BucketService
	Attempts  AttemptWriter
	Catalog   *stages.Catalog
	Metrics   *observability.Metrics
}

func (a *Activities) Submit(ctx context.Context, job Job) (res StepResult, err error) {
	defer a.observe("submit", job, time.Now(), &res, &err)
	p, err := a.Providers.Get(stages.JobType(job.Type))
	if err != nil {
		return StepResult{Failed: true, Message: err.Error()}, nil
	}
	step, err := p.Submit(ctx, providers.Request{JobType: stages.JobType(job.Type), Input: job.Input})
	return a.settle(ctx, job, step, err)
}

func (a *Activities) Poll(ctx context.Context, job Job, handle string) (res StepResult, err error) {
	defer a.observe("poll", job, time.Now(), &res, &err)
	p, err := a.Providers.Get(stages.JobType(job.Type))
	if err != nil {
		return StepResult{Failed: true, Message: err.Error()}, nil
	}
	step, err := p.Poll(ctx, handle)
	return a.settle(ctx, job, step, err)
}

func (a *Activities) observe(activity string, job Job, start time.Time, res *StepResult, err *error) {
	status := "pending"
	switch {
	case *err != nil:
		status = "error"
	case res.Failed:
		status = "failed"
	case res.Done:
		status = "done"
	}
	a.Metrics.ObserveActivity(activity, job.Type, status, time.Since(start))
}

// settle turns a provider step into a StepResult. Produced assets are stored
// here so only URLs travel back through workflow history.
func (a *Activities) settle(ctx context.Context, job Job, step providers.Step, err error) (StepResult, error) {
	log := a.Log.With("attempt_id", job.AttemptID, "stage", job.Stage, "job_type", job.Type)
	if err != nil {
		var je *providers.JobError
		if errors.As(err, &je) {
			log.Warn("Generation job failed", "message", je.Message)
			return StepResult{Failed: true, Message: je.Message}, nil
		}
		log.Warn("Provider call failed", "error", err)
		return StepResult{}, err
	}
	if !step.Done {
		return StepResult{Handle: step.Handle}, nil
	}

	out := make(map[string]any, len(step.Output)+len(step.Assets))
	for k, v := range step.Output {
		out[k] = v
	}
	for _, asset := range step.Assets {
		url, err := a.store(ctx, job, asset)
		if err != nil {
			log.Error("Storing generated asset failed", "field", asset.Field, "error", err)
			return StepResult{}, err
		}
		out[asset.Field] = url
	}
	return StepResult{Done: true, Handle: step.Handle, Output: out}, nil
}

func (a *Activities) store(ctx context.Context, job Job, asset providers.Asset) (string, error) {
	if len(asset.Data) == 0 {
		return "", fmt.Errorf("empty %s", asset.Field)
	}
	contentType := strings.TrimSpace(asset.ContentType)
	if contentType == "" {
		contentType = mimetype.Detect(asset.Data).String()
	}
	key := AssetKey(job, asset.Field, extensionFor(contentType, asset.Data))
	if err := a.Bucket.UploadFile(dbctx.Context{Ctx: ctx}, gcp.BucketCategoryGenerated, key, bytes.NewReader(asset.Data), contentType); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return a.Bucket.GetPublicURL(gcp.BucketCategoryGenerated, key), nil
}

// AssetKey is where a produced file lives in the generated bucket.
func AssetKey(job Job, field, ext string) string {
	name := strings.TrimSuffix(field, "_url")
	return fmt.Sprintf("%s/%s/%s/%s-%s%s", job.UserID, job.PipelineID, job.Stage, job.AttemptID, name, ext)
}

func extensionFor(contentType string, data []byte) string {
	if m := mimetype.Lookup(strings.TrimSpace(strings.Split(contentType, ";")[0])); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if ext := mimetype.Detect(data).Extension(); ext != "" {
		return ext
	}
	return ".bin"
}

// Finalize writes the output and charges the owner. The charge is priced
// again here from the resolved input, with any measured driver value in the
// output taking precedence over the requested one.
func (a *Activities) Finalize(ctx context.Context, job Job, output map[string]any) (bool, error) {
	cost := a.price(job, output)
	outcome, err := a.Attempts.FinishAttempt(ctx, job.PipelineID, job.Stage, job.AttemptID, output, cost)
	if err != nil {
		return false, err
	}
	log := a.Log.With("attempt_id", job.AttemptID, "stage", job.Stage, "pipeline_id", job.PipelineID)
	switch outcome {
	case services.FinishCharged:
		log.Info("Generation finished", "credits_cost", cost)
		a.Metrics.ObserveGeneration(string(job.Stage), "succeeded", credits.Amount(cost).Credits())
		return true, nil
	case services.FinishUnpaid:
		log.Warn("Generation finished but the owner could not cover it", "credits_cost", cost)
		a.Metrics.ObserveGeneration(string(job.Stage), "insufficient_credits", 0)
		return true, nil
	default:
		log.Info("Discarding result of superseded attempt")
		a.Metrics.ObserveGeneration(string(job.Stage), "stale", 0)
		return false, nil
	}
}

func (a *Activities) price(job Job, output map[string]any) int64 {
	def, ok := a.Catalog.Stage(job.Stage)
	if !ok {
		return job.CreditsCost
	}
	_, mode, err := def.Mode(job.Input)
	if err != nil {
		return job.CreditsCost
	}
	input := make(map[string]any, len(job.Input))
	for k, v := range job.Input {
		input[k] = v
	}
	if f := mode.Driver.Field; f != "" && mode.Driver.Param == "seconds" {
		if v, ok := output[f]; ok {
			input[f] = v
		}
	}
	cost, err := a.Catalog.Estimate(mode, input)
	if err != nil {
		a.Log.Warn("Re-pricing failed; charging the quoted cost", "stage", job.Stage, "error", err)
		return job.CreditsCost
	}
	return int64(cost)
}

func (a *Activities) Fail(ctx context.Context, job Job, message string) (bool, error) {
	applied, err := a.Attempts.FailAttempt(ctx, job.PipelineID, job.Stage, job.AttemptID, message)
	if err != nil {
		return false, err
	}
	if applied {
		a.Log.Info("Generation marked failed", "attempt_id", job.AttemptID, "stage", job.Stage, "message", message)
		a.Metrics.ObserveGeneration(string(job.Stage), "failed", 0)
	}
	return applied, nil
}
