package studio

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/platform/dbctx"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

type TagRepo interface {
	Create(dbc dbctx.Context, tag *types.Tag) (*types.Tag, error)
	ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) ([]*types.Tag, error)
	GetByIDs(dbc dbctx.Context, ownerUserID uuid.UUID, ids []uuid.UUID) ([]*types.Tag, error)
	Delete(dbc dbctx.Context, ownerUserID, id uuid.UUID) error
}

type tagRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTagRepo(db *gorm.DB, baseLog *logger.Logger) TagRepo {
	return &tagRepo{
		db:  db,
		log: baseLog.With("repo", "TagRepo"),
	}
}

func (r *tagRepo) Create(dbc dbctx.Context, tag *types.Tag) (*types.Tag, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(dbc.Ctx).Create(tag).Error; err != nil {
		return nil, mapError("create tag", err)
	}
	return tag, nil
}

func (r *tagRepo) ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) ([]*types.Tag, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Tag
	if err := transaction.WithContext(dbc.Ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("name_key ASC").
		Find(&out).Error; err != nil {
		return nil, mapError("list tags", err)
	}
	return out, nil
}

func (r *tagRepo) GetByIDs(dbc dbctx.Context, ownerUserID uuid.UUID, ids []uuid.UUID) ([]*types.Tag, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Tag
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("owner_user_id = ? AND id IN ?", ownerUserID, ids).
		Find(&out).Error; err != nil {
		return nil, mapError("get tags", err)
	}
	return out, nil
}

// Delete removes the tag only. Pipelines keep whatever tag ids they reference.
func (r *tagRepo) Delete(dbc dbctx.Context, ownerUserID, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Where("owner_user_id = ? AND id = ?", ownerUserID, id).
		Delete(&types.Tag{})
	if res.Error != nil {
		return mapError("delete tag", res.Error)
	}
	if res.RowsAffected == 0 {
		return mapError("delete tag", ErrNotFound)
	}
	return nil
}
