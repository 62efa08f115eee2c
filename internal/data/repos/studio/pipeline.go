package studio

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/platform/dbctx"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

type PipelineRepo interface {
	Create(dbc dbctx.Context, p *types.Pipeline) (*types.Pipeline, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Pipeline, error)
	GetByIDForOwner(dbc dbctx.Context, ownerUserID, id uuid.UUID) (*types.Pipeline, error)
	ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID, projectID *uuid.UUID) ([]*types.Pipeline, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type pipelineRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPipelineRepo(db *gorm.DB, baseLog *logger.Logger) PipelineRepo {
	return &pipelineRepo{
		db:  db,
		log: baseLog.With("repo", "PipelineRepo"),
	}
}

// Create inserts the pipeline and one empty slot per stage of its type.
func (r *pipelineRepo) Create(dbc dbctx.Context, p *types.Pipeline) (*types.Pipeline, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		stages := p.Stages
		p.Stages = nil
		if err := txx.Omit("Stages").Create(p).Error; err != nil {
			return err
		}
		if len(stages) == 0 {
			for _, key := range p.PipelineType.Stages() {
				stages = append(stages, &types.PipelineStage{StageKey: key})
			}
		}
		for _, s := range stages {
			s.PipelineID = p.ID
		}
		if err := txx.Create(&stages).Error; err != nil {
			return err
		}
		p.Stages = stages
		return nil
	})
	if err != nil {
		return nil, mapError("create pipeline", err)
	}
	return p, nil
}

func (r *pipelineRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Pipeline, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var p types.Pipeline
	if err := transaction.WithContext(dbc.Ctx).
		Preload("Stages").
		Where("id = ?", id).
		First(&p).Error; err != nil {
		return nil, mapError("get pipeline", err)
	}
	return &p, nil
}

func (r *pipelineRepo) GetByIDForOwner(dbc dbctx.Context, ownerUserID, id uuid.UUID) (*types.Pipeline, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var p types.Pipeline
	if err := transaction.WithContext(dbc.Ctx).
		Preload("Stages").
		Where("id = ? AND owner_user_id = ?", id, ownerUserID).
		First(&p).Error; err != nil {
		return nil, mapError("get pipeline", err)
	}
	return &p, nil
}

func (r *pipelineRepo) ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID, projectID *uuid.UUID) ([]*types.Pipeline, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Ctx).Where("owner_user_id = ?", ownerUserID)
	if projectID != nil && *projectID != uuid.Nil {
		q = q.Where("project_id = ?", *projectID)
	}
	var out []*types.Pipeline
	if err := q.Order("updated_at DESC").Find(&out).Error; err != nil {
		return nil, mapError("list pipelines", err)
	}
	return out, nil
}

func (r *pipelineRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Pipeline{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return mapError("update pipeline", res.Error)
	}
	if res.RowsAffected == 0 {
		return mapError("update pipeline", ErrNotFound)
	}
	return nil
}
