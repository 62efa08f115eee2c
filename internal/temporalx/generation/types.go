package generation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
)

const (
	WorkflowName     = "stage_generation"
	ActivitySubmit   = "stage_generation_submit"
	ActivityPoll     = "stage_generation_poll"
	ActivityFinalize = "stage_generation_finalize"
	ActivityFail     = "stage_generation_fail"
)

// Reserved payload keys; everything else in a payload is stage input.
const (
	KeyPipelineID  = "pipeline_id"
	KeyUserID      = "user_id"
	KeyStage       = "stage"
	KeyAttemptID   = "attempt_id"
	KeyCreditsCost = "credits_cost"
)

// Job is one generation attempt for one stage slot.
type Job struct {
	Type        string         `json:"type"`
	PipelineID  uuid.UUID      `json:"pipeline_id"`
	UserID      uuid.UUID      `json:"user_id"`
	Stage       types.StageKey `json:"stage"`
	AttemptID   uuid.UUID      `json:"attempt_id"`
	CreditsCost int64          `json:"credits_cost"`
	Input       map[string]any `json:"input"`
}

// StepResult is what submit and poll report back to the workflow. Output is
// set once the provider finished and any produced asset has been stored.
// Failed means the job itself failed; Message is shown to the user.
type StepResult struct {
	Done    bool           `json:"done"`
	Failed  bool           `json:"failed,omitempty"`
	Message string         `json:"message,omitempty"`
	Handle  string         `json:"handle,omitempty"`
	Output  map[string]any `json:"output,omitempty"`
}

func WorkflowID(attemptID uuid.UUID) string {
	return "generation-" + attemptID.String()
}

// Payload flattens the job the way the invoker contract carries it.
func (j Job) Payload() map[string]any {
	out := make(map[string]any, len(j.Input)+5)
	for k, v := range j.Input {
		out[k] = v
	}
	out[KeyPipelineID] = j.PipelineID.String()
	out[KeyUserID] = j.UserID.String()
	out[KeyStage] = string(j.Stage)
	out[KeyAttemptID] = j.AttemptID.String()
	out[KeyCreditsCost] = j.CreditsCost
	return out
}

// JobFromPayload is the inverse of Payload.
func JobFromPayload(jobType string, payload map[string]any) (Job, error) {
	job := Job{Type: strings.TrimSpace(jobType), Input: map[string]any{}}
	if job.Type == "" {
		return job, fmt.Errorf("missing job type")
	}
	var err error
	if job.PipelineID, err = uuidField(payload, KeyPipelineID); err != nil {
		return job, err
	}
	if job.UserID, err = uuidField(payload, KeyUserID); err != nil {
		return job, err
	}
	if job.AttemptID, err = uuidField(payload, KeyAttemptID); err != nil {
		return job, err
	}
	stage, _ := payload[KeyStage].(string)
	job.Stage = types.StageKey(strings.TrimSpace(stage))
	if job.Stage == "" {
		return job, fmt.Errorf("missing %s", KeyStage)
	}
	switch v := payload[KeyCreditsCost].(type) {
	case float64:
		job.CreditsCost = int64(v)
	case int64:
		job.CreditsCost = v
	case int:
		job.CreditsCost = int64(v)
	}
	for k, v := range payload {
		switch k {
		case KeyPipelineID, KeyUserID, KeyStage, KeyAttemptID, KeyCreditsCost:
		default:
			job.Input[k] = v
		}
	}
	return job, nil
}

func uuidField(payload map[string]any, key string) (uuid.UUID, error) {
	raw, _ := payload[key].(string)
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid %s", key)
	}
	return id, nil
}
