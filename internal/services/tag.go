package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/talkinghead-backend/internal/data/repos"
	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/platform/dbctx"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

const defaultTagColor = "#6b7280"

var tagColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type TagService interface {
	List(ctx context.Context, ownerUserID uuid.UUID) ([]*types.Tag, error)
	Create(ctx context.Context, ownerUserID uuid.UUID, name, color string) (*types.Tag, error)
	Delete(ctx context.Context, ownerUserID, tagID uuid.UUID) error
}

type tagService struct {
	log  *logger.Logger
	tags repos.TagRepo
}

func NewTagService(log *logger.Logger, tags repos.TagRepo) TagService {
	return &tagService{
		log:  log.With("service", "TagService"),
		tags: tags,
	}
}

func (s *tagService) List(ctx context.Context, ownerUserID uuid.UUID) ([]*types.Tag, error) {
	return s.tags.ListByOwner(dbctx.Of(ctx), ownerUserID)
}

// Create makes a tag on demand. A name that collides case-insensitively with
// an existing tag returns repos.ErrConflict.
func (s *tagService) Create(ctx context.Context, ownerUserID uuid.UUID, name, color string) (*types.Tag, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return nil, fmt.Errorf("tag name must not be empty: %w", types.ErrInvalidArgument)
	}
	color = strings.TrimSpace(color)
	if color == "" {
		color = defaultTagColor
	}
	if !tagColorPattern.MatchString(color) {
		return nil, fmt.Errorf("tag color must look like #rrggbb: %w", types.ErrInvalidArgument)
	}
	tag, err := s.tags.Create(dbctx.Of(ctx), &types.Tag{
		OwnerUserID: ownerUserID,
		Name:        name,
		Color:       strings.ToLower(color),
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("Tag created", "tag_id", tag.ID)
	return tag, nil
}

func (s *tagService) Delete(ctx context.Context, ownerUserID, tagID uuid.UUID) error {
	return s.tags.Delete(dbctx.Of(ctx), ownerUserID, tagID)
}
