package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/talkinghead-backend/internal/data/repos/studio"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

type (
	PipelineRepo = studio.PipelineRepo
	StageRepo    = studio.StageRepo
	TagRepo      = studio.TagRepo
	CreditRepo   = studio.CreditRepo
)

var (
	ErrNotFound = studio.ErrNotFound
	ErrConflict = studio.ErrConflict
)

type Repos struct {
	Pipelines PipelineRepo
	Stages    StageRepo
	Tags      TagRepo
	Credits   CreditRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Pipelines: studio.NewPipelineRepo(db, log),
		Stages:    studio.NewStageRepo(db, log),
		Tags:      studio.NewTagRepo(db, log),
		Credits:   studio.NewCreditRepo(db, log),
	}
}
