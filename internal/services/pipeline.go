package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/talkinghead-backend/internal/data/repos"
	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/platform/dbctx"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

const defaultPipelineName = "Untitled pipeline"

type CreatePipelineInput struct {
	ProjectID     uuid.UUID           `json:"project_id"`
	FolderID      *uuid.UUID          `json:"folder_id,omitempty"`
	Name          string              `json:"name"`
	PipelineType  types.PipelineType  `json:"pipeline_type"`
	TagIDs        []uuid.UUID         `json:"tag_ids,omitempty"`
	DisplayStatus types.DisplayStatus `json:"display_status,omitempty"`
}

// MetadataPatch is a partial update of the pipeline's user-editable metadata.
// Nil fields are left alone.
type MetadataPatch struct {
	Name          *string              `json:"name,omitempty"`
	TagIDs        *[]uuid.UUID         `json:"tag_ids,omitempty"`
	DisplayStatus *types.DisplayStatus `json:"display_status,omitempty"`
}

func (m MetadataPatch) Empty() bool {
	return m.Name == nil && m.TagIDs == nil && m.DisplayStatus == nil
}

// Merge overlays next on m; later edits win field by field.
func (m MetadataPatch) Merge(next MetadataPatch) MetadataPatch {
	if next.Name != nil {
		m.Name = next.Name
	}
	if next.TagIDs != nil {
		m.TagIDs = next.TagIDs
	}
	if next.DisplayStatus != nil {
		m.DisplayStatus = next.DisplayStatus
	}
	return m
}

type PipelineService interface {
	Create(ctx context.Context, ownerUserID uuid.UUID, in CreatePipelineInput) (*types.Pipeline, error)
	Get(ctx context.Context, ownerUserID, pipelineID uuid.UUID) (*types.Pipeline, error)
	List(ctx context.Context, ownerUserID uuid.UUID, projectID *uuid.UUID) ([]*types.Pipeline, error)
	UpdateMetadata(ctx context.Context, ownerUserID, pipelineID uuid.UUID, patch MetadataPatch) (*types.Pipeline, error)
	SetCurrentStage(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey) (*types.Pipeline, error)

	// MergeStageInput merges partial into the stored input. A nil value removes the key.
	MergeStageInput(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey, partial map[string]any) (*types.Pipeline, error)
	// BeginAttempt records a new in-flight attempt (optimistic write before invoking).
	BeginAttempt(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey, attempt Attempt) (*types.Pipeline, error)
	// RevertAttempt undoes BeginAttempt after the invoker refused the job.
	RevertAttempt(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey, attemptID uuid.UUID) (*types.Pipeline, error)
	// CompleteSync stores the output of a synchronous mode (paste, upload).
	CompleteSync(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey, input, output map[string]any) (*types.Pipeline, error)

	// FinishAttempt and FailAttempt are the worker's writes. Both are no-ops
	// (FinishStale / false) once attemptID is no longer the stage's current attempt.
	FinishAttempt(ctx context.Context, pipelineID uuid.UUID, stage types.StageKey, attemptID uuid.UUID, output map[string]any, cost int64) (FinishOutcome, error)
	FailAttempt(ctx context.Context, pipelineID uuid.UUID, stage types.StageKey, attemptID uuid.UUID, message string) (bool, error)
}

type Attempt struct {
	ID    uuid.UUID
	Input map[string]any
	Cost  int64
}

// FinishOutcome is what FinishAttempt did with a result.
type FinishOutcome string

const (
	FinishStale   FinishOutcome = "stale"
	FinishCharged FinishOutcome = "charged"
	// FinishUnpaid: the owner could not cover the charge, so the stage was
	// failed and the output dropped.
	FinishUnpaid FinishOutcome = "unpaid"
)

var inFlightStatuses = []types.StageStatus{types.StageStatusQueued, types.StageStatusProcessing}

type pipelineService struct {
	db        *gorm.DB
	log       *logger.Logger
	pipelines repos.PipelineRepo
	stages    repos.StageRepo
	tags      repos.TagRepo
	credits   repos.CreditRepo
	publish   *RowPublisher
}

func NewPipelineService(db *gorm.DB, log *logger.Logger, r repos.Repos, publish *RowPublisher) PipelineService {
	return &pipelineService{
		db:        db,
		log:       log.With("service", "PipelineService"),
		pipelines: r.Pipelines,
		stages:    r.Stages,
		tags:      r.Tags,
		credits:   r.Credits,
		publish:   publish,
	}
}

func (s *pipelineService) Create(ctx context.Context, ownerUserID uuid.UUID, in CreatePipelineInput) (*types.Pipeline, error) {
	if ownerUserID == uuid.Nil {
		return nil, fmt.Errorf("missing owner: %w", types.ErrInvalidArgument)
	}
	if in.PipelineType == "" {
		in.PipelineType = types.PipelineTypeTalkingHead
	}
	if !in.PipelineType.Valid() {
		return nil, fmt.Errorf("unknown pipeline type %q: %w", in.PipelineType, types.ErrInvalidArgument)
	}
	if in.ProjectID == uuid.Nil {
		return nil, fmt.Errorf("missing project_id: %w", types.ErrInvalidArgument)
	}
	if in.DisplayStatus == "" {
		in.DisplayStatus = types.DisplayStatusBacklog
	}
	if !in.DisplayStatus.Valid() {
		return nil, fmt.Errorf("unknown display status %q: %w", in.DisplayStatus, types.ErrInvalidArgument)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = defaultPipelineName
	}

	var created *types.Pipeline
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inner := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.checkTags(inner, ownerUserID, in.TagIDs); err != nil {
			return err
		}
		p, err := s.pipelines.Create(inner, &types.Pipeline{
			OwnerUserID:   ownerUserID,
			ProjectID:     in.ProjectID,
			FolderID:      in.FolderID,
			Name:          name,
			TagIDs:        types.EncodeTagIDs(in.TagIDs),
			DisplayStatus: in.DisplayStatus,
			PipelineType:  in.PipelineType,
			CurrentStage:  in.PipelineType.Stages()[0],
			Status:        types.PipelineStatusDraft,
		})
		if err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortStages(created)
	s.log.Info("Pipeline created", "pipeline_id", created.ID, "type", created.PipelineType)
	return created, nil
}

func (s *pipelineService) Get(ctx context.Context, ownerUserID, pipelineID uuid.UUID) (*types.Pipeline, error) {
	p, err := s.pipelines.GetByIDForOwner(dbctx.Of(ctx), ownerUserID, pipelineID)
	if err != nil {
		return nil, err
	}
	sortStages(p)
	return p, nil
}

func (s *pipelineService) List(ctx context.Context, ownerUserID uuid.UUID, projectID *uuid.UUID) ([]*types.Pipeline, error) {
	return s.pipelines.ListByOwner(dbctx.Of(ctx), ownerUserID, projectID)
}

func (s *pipelineService) UpdateMetadata(ctx context.Context, ownerUserID, pipelineID uuid.UUID, patch MetadataPatch) (*types.Pipeline, error) {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, fmt.Errorf("name must not be empty: %w", types.ErrInvalidArgument)
		}
		updates["name"] = name
	}
	if patch.DisplayStatus != nil {
		if !patch.DisplayStatus.Valid() {
			return nil, fmt.Errorf("unknown display status %q: %w", *patch.DisplayStatus, types.ErrInvalidArgument)
		}
		updates["display_status"] = *patch.DisplayStatus
	}
	return s.mutate(ctx, ownerUserID, pipelineID, func(dbc dbctx.Context, p *types.Pipeline) error {
		if patch.TagIDs != nil {
			if err := s.checkTags(dbc, ownerUserID, *patch.TagIDs); err != nil {
				return err
			}
			updates["tag_ids"] = types.EncodeTagIDs(*patch.TagIDs)
		}
		if len(updates) == 0 {
			return nil
		}
		return s.pipelines.UpdateFields(dbc, p.ID, updates)
	})
}

func (s *pipelineService) SetCurrentStage(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey) (*types.Pipeline, error) {
	return s.mutate(ctx, ownerUserID, pipelineID, func(dbc dbctx.Context, p *types.Pipeline) error {
		if !p.PipelineType.HasStage(stage) {
			return unknownStage(p, stage)
		}
		if p.CurrentStage == stage {
			return nil
		}
		return s.pipelines.UpdateFields(dbc, p.ID, map[string]interface{}{"current_stage": stage})
	})
}

func (s *pipelineService) MergeStageInput(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey, partial map[string]any) (*types.Pipeline, error) {
	return s.mutate(ctx, ownerUserID, pipelineID, func(dbc dbctx.Context, p *types.Pipeline) error {
		slot := p.Stage(stage)
		if slot == nil {
			return unknownStage(p, stage)
		}
		merged := slot.InputMap()
		for k, v := range partial {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		ok, err := s.stages.UpdateFieldsUnlessStatus(dbc, p.ID, stage, inFlightStatuses, map[string]interface{}{
			"input": types.EncodeObject(merged),
		})
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrGenerationInFlight
		}
		return nil
	})
}

func (s *pipelineService) BeginAttempt(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey, attempt Attempt) (*types.Pipeline, error) {
	if attempt.ID == uuid.Nil {
		return nil, fmt.Errorf("missing attempt id: %w", types.ErrInvalidArgument)
	}
	return s.mutate(ctx, ownerUserID, pipelineID, func(dbc dbctx.Context, p *types.Pipeline) error {
		slot := p.Stage(stage)
		if slot == nil {
			return unknownStage(p, stage)
		}
		ok, err := s.stages.UpdateFieldsUnlessStatus(dbc, p.ID, stage, inFlightStatuses, map[string]interface{}{
			"input":        types.EncodeObject(attempt.Input),
			"prior_status": slot.Status,
			"status":       types.StageStatusProcessing,
			"attempt_id":   attempt.ID,
			"error":        "",
			"credits_cost": attempt.Cost,
		})
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrGenerationInFlight
		}
		if p.CurrentStage == stage {
			return nil
		}
		return s.pipelines.UpdateFields(dbc, p.ID, map[string]interface{}{"current_stage": stage})
	})
}

func (s *pipelineService) RevertAttempt(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey, attemptID uuid.UUID) (*types.Pipeline, error) {
	return s.mutate(ctx, ownerUserID, pipelineID, func(dbc dbctx.Context, p *types.Pipeline) error {
		slot := p.Stage(stage)
		if slot == nil {
			return unknownStage(p, stage)
		}
		prior := slot.PriorStatus
		if prior == "" || prior.InFlight() {
			prior = types.StageStatusIdle
		}
		_, err := s.stages.UpdateFieldsIfAttempt(dbc, p.ID, stage, attemptID, map[string]interface{}{
			"status":       prior,
			"prior_status": "",
			"attempt_id":   nil,
			"credits_cost": 0,
		})
		return err
	})
}

func (s *pipelineService) CompleteSync(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey, input, output map[string]any) (*types.Pipeline, error) {
	return s.mutate(ctx, ownerUserID, pipelineID, func(dbc dbctx.Context, p *types.Pipeline) error {
		if p.Stage(stage) == nil {
			return unknownStage(p, stage)
		}
		ok, err := s.stages.UpdateFieldsUnlessStatus(dbc, p.ID, stage, inFlightStatuses, map[string]interface{}{
			"input":        types.EncodeObject(input),
			"output":       types.EncodeObject(output),
			"complete":     true,
			"status":       types.StageStatusCompleted,
			"error":        "",
			"attempt_id":   nil,
			"credits_cost": 0,
		})
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrGenerationInFlight
		}
		if p.CurrentStage == stage {
			return nil
		}
		return s.pipelines.UpdateFields(dbc, p.ID, map[string]interface{}{"current_stage": stage})
	})
}

func (s *pipelineService) FinishAttempt(ctx context.Context, pipelineID uuid.UUID, stage types.StageKey, attemptID uuid.UUID, output map[string]any, cost int64) (FinishOutcome, error) {
	outcome := FinishStale
	_, err := s.mutate(ctx, uuid.Nil, pipelineID, func(dbc dbctx.Context, p *types.Pipeline) error {
		slot := p.Stage(stage)
		if slot == nil || slot.AttemptID == nil || *slot.AttemptID != attemptID {
			return nil
		}
		paid, err := s.credits.Debit(dbc, p.OwnerUserID, cost)
		if err != nil {
			return err
		}
		fields := map[string]interface{}{
			"output":       types.EncodeObject(output),
			"complete":     true,
			"status":       types.StageStatusCompleted,
			"error":        "",
			"prior_status": "",
			"credits_cost": cost,
		}
		next := FinishCharged
		if !paid {
			fields = map[string]interface{}{
				"status":       types.StageStatusFailed,
				"error":        types.ErrInsufficientCredits.Error(),
				"prior_status": "",
			}
			next = FinishUnpaid
		}
		applied, err := s.stages.UpdateFieldsIfAttempt(dbc, p.ID, stage, attemptID, fields)
		if err != nil {
			return err
		}
		if applied {
			outcome = next
		}
		return nil
	})
	if err != nil {
		return FinishStale, err
	}
	if outcome == FinishStale {
		s.log.Info("Dropping stale generation result", "pipeline_id", pipelineID, "stage", stage, "attempt_id", attemptID)
	}
	return outcome, nil
}

func (s *pipelineService) FailAttempt(ctx context.Context, pipelineID uuid.UUID, stage types.StageKey, attemptID uuid.UUID, message string) (bool, error) {
	applied := false
	message = strings.TrimSpace(message)
	if message == "" {
		message = "generation failed"
	}
	_, err := s.mutate(ctx, uuid.Nil, pipelineID, func(dbc dbctx.Context, p *types.Pipeline) error {
		var err error
		applied, err = s.stages.UpdateFieldsIfAttempt(dbc, p.ID, stage, attemptID, map[string]interface{}{
			"status":       types.StageStatusFailed,
			"prior_status": "",
			"error":        message,
		})
		return err
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// mutate runs fn inside a transaction, re-derives the coarse status from the
// stage slots and publishes the resulting row. A nil owner skips the owner check.
func (s *pipelineService) mutate(ctx context.Context, ownerUserID, pipelineID uuid.UUID, fn func(dbc dbctx.Context, p *types.Pipeline) error) (*types.Pipeline, error) {
	var out *types.Pipeline
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inner := dbctx.Context{Ctx: ctx, Tx: tx}
		p, err := s.load(inner, ownerUserID, pipelineID)
		if err != nil {
			return err
		}
		if err := fn(inner, p); err != nil {
			return err
		}
		p, err = s.load(inner, ownerUserID, pipelineID)
		if err != nil {
			return err
		}
		if next := types.DeriveStatus(p); next != p.Status {
			if err := s.pipelines.UpdateFields(inner, p.ID, map[string]interface{}{"status": next}); err != nil {
				return err
			}
			p.Status = next
		}
		out = p
		return nil
	})
	if err != nil {
		if !errors.Is(err, types.ErrGenerationInFlight) && !errors.Is(err, repos.ErrNotFound) && !errors.Is(err, types.ErrInvalidArgument) {
			s.log.Warn("Pipeline write failed", "pipeline_id", pipelineID, "error", err)
		}
		return nil, err
	}
	sortStages(out)
	s.publish.PipelineUpdated(ctx, out)
	return out, nil
}

func (s *pipelineService) load(dbc dbctx.Context, ownerUserID, pipelineID uuid.UUID) (*types.Pipeline, error) {
	if ownerUserID == uuid.Nil {
		return s.pipelines.GetByID(dbc, pipelineID)
	}
	return s.pipelines.GetByIDForOwner(dbc, ownerUserID, pipelineID)
}

func (s *pipelineService) checkTags(dbc dbctx.Context, ownerUserID uuid.UUID, ids []uuid.UUID) error {
	want := types.EncodeTagIDs(ids)
	unique := (&types.Pipeline{TagIDs: want}).TagIDList()
	if len(unique) == 0 {
		return nil
	}
	found, err := s.tags.GetByIDs(dbc, ownerUserID, unique)
	if err != nil {
		return err
	}
	if len(found) != len(unique) {
		return fmt.Errorf("unknown tag id: %w", types.ErrInvalidArgument)
	}
	return nil
}

func unknownStage(p *types.Pipeline, stage types.StageKey) error {
	return fmt.Errorf("stage %q is not part of a %s pipeline: %w", stage, p.PipelineType, types.ErrInvalidArgument)
}

// sortStages puts the slots in presentation order.
func sortStages(p *types.Pipeline) {
	if p == nil {
		return
	}
	order := map[types.StageKey]int{}
	for i, k := range p.PipelineType.Stages() {
		order[k] = i
	}
	sort.SliceStable(p.Stages, func(i, j int) bool {
		return order[p.Stages[i].StageKey] < order[p.Stages[j].StageKey]
	})
}
