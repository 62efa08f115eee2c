package studio

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/platform/dbctx"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

type StageRepo interface {
	Get(dbc dbctx.Context, pipelineID uuid.UUID, key types.StageKey) (*types.PipelineStage, error)
	ListByPipeline(dbc dbctx.Context, pipelineID uuid.UUID) ([]*types.PipelineStage, error)
	UpdateFields(dbc dbctx.Context, pipelineID uuid.UUID, key types.StageKey, updates map[string]interface{}) error
	// UpdateFieldsUnlessStatus skips the write when the slot is in one of the given statuses.
	UpdateFieldsUnlessStatus(dbc dbctx.Context, pipelineID uuid.UUID, key types.StageKey, disallowed []types.StageStatus, updates map[string]interface{}) (bool, error)
	// UpdateFieldsIfAttempt only writes while attemptID is still the slot's current attempt.
	UpdateFieldsIfAttempt(dbc dbctx.Context, pipelineID uuid.UUID, key types.StageKey, attemptID uuid.UUID, updates map[string]interface{}) (bool, error)
}

type stageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStageRepo(db *gorm.DB, baseLog *logger.Logger) StageRepo {
	return &stageRepo{
		db:  db,
		log: baseLog.With("repo", "StageRepo"),
	}
}

func (r *stageRepo) Get(dbc dbctx.Context, pipelineID uuid.UUID, key types.StageKey) (*types.PipelineStage, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var s types.PipelineStage
	if err := transaction.WithContext(dbc.Ctx).
		Where("pipeline_id = ? AND stage_key = ?", pipelineID, key).
		First(&s).Error; err != nil {
		return nil, mapError("get stage", err)
	}
	return &s, nil
}

func (r *stageRepo) ListByPipeline(dbc dbctx.Context, pipelineID uuid.UUID) ([]*types.PipelineStage, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PipelineStage
	if err := transaction.WithContext(dbc.Ctx).
		Where("pipeline_id = ?", pipelineID).
		Find(&out).Error; err != nil {
		return nil, mapError("list stages", err)
	}
	return out, nil
}

func (r *stageRepo) UpdateFields(dbc dbctx.Context, pipelineID uuid.UUID, key types.StageKey, updates map[string]interface{}) error {
	ok, err := r.update(dbc, pipelineID, key, updates, nil)
	if err != nil {
		return mapError("update stage", err)
	}
	if !ok {
		return mapError("update stage", ErrNotFound)
	}
	return nil
}

func (r *stageRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, pipelineID uuid.UUID, key types.StageKey, disallowed []types.StageStatus, updates map[string]interface{}) (bool, error) {
	ok, err := r.update(dbc, pipelineID, key, updates, func(q *gorm.DB) *gorm.DB {
		if len(disallowed) == 0 {
			return q
		}
		return q.Where("status NOT IN ?", disallowed)
	})
	if err != nil {
		return false, mapError("update stage", err)
	}
	return ok, nil
}

func (r *stageRepo) UpdateFieldsIfAttempt(dbc dbctx.Context, pipelineID uuid.UUID, key types.StageKey, attemptID uuid.UUID, updates map[string]interface{}) (bool, error) {
	ok, err := r.update(dbc, pipelineID, key, updates, func(q *gorm.DB) *gorm.DB {
		return q.Where("attempt_id = ?", attemptID)
	})
	if err != nil {
		return false, mapError("update stage", err)
	}
	return ok, nil
}

func (r *stageRepo) update(dbc dbctx.Context, pipelineID uuid.UUID, key types.StageKey, updates map[string]interface{}, scope func(*gorm.DB) *gorm.DB) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if pipelineID == uuid.Nil || key == "" {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := transaction.WithContext(dbc.Ctx).
		Model(&types.PipelineStage{}).
		Where("pipeline_id = ? AND stage_key = ?", pipelineID, key)
	if scope != nil {
		q = scope(q)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
