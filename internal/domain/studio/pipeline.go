package studio

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PipelineType string

const (
	PipelineTypeTalkingHead PipelineType = "talking_head"
	PipelineTypeBroll       PipelineType = "broll"
)

// PipelineStatus is the coarse generation status kept on the pipeline row.
// It is derived from the stage slots; see DeriveStatus.
type PipelineStatus string

const (
	PipelineStatusDraft      PipelineStatus = "draft"
	PipelineStatusProcessing PipelineStatus = "processing"
	PipelineStatusCompleted  PipelineStatus = "completed"
	PipelineStatusFailed     PipelineStatus = "failed"
)

// DisplayStatus is the Kanban column. It never follows generation status.
type DisplayStatus string

const (
	DisplayStatusBacklog    DisplayStatus = "backlog"
	DisplayStatusInProgress DisplayStatus = "in_progress"
	DisplayStatusReview     DisplayStatus = "review"
	DisplayStatusDone       DisplayStatus = "done"
)

func (s DisplayStatus) Valid() bool {
	switch s {
	case DisplayStatusBacklog, DisplayStatusInProgress, DisplayStatusReview, DisplayStatusDone:
		return true
	}
	return false
}

type Pipeline struct {
	ID            uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID   uuid.UUID        `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	ProjectID     uuid.UUID        `gorm:"type:uuid;not null;index" json:"project_id"`
	FolderID      *uuid.UUID       `gorm:"type:uuid;index" json:"folder_id,omitempty"`
	Name          string           `gorm:"column:name;not null" json:"name"`
	TagIDs        datatypes.JSON   `gorm:"column:tag_ids" json:"tag_ids"`
	DisplayStatus DisplayStatus    `gorm:"column:display_status;not null;index" json:"display_status"`
	PipelineType  PipelineType     `gorm:"column:pipeline_type;not null;index" json:"pipeline_type"`
	CurrentStage  StageKey         `gorm:"column:current_stage;not null" json:"current_stage"`
	Status        PipelineStatus   `gorm:"column:status;not null;index" json:"status"`
	Stages        []*PipelineStage `gorm:"foreignKey:PipelineID" json:"stages,omitempty"`
	CreatedAt     time.Time        `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"not null;index" json:"updated_at"`
	DeletedAt     gorm.DeletedAt   `gorm:"index" json:"deleted_at,omitempty"`
}

func (Pipeline) TableName() string { return "pipeline" }

func (p *Pipeline) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if len(p.TagIDs) == 0 {
		p.TagIDs = datatypes.JSON([]byte("[]"))
	}
	return nil
}

// TagIDList decodes TagIDs, skipping anything that isn't a uuid.
func (p *Pipeline) TagIDList() []uuid.UUID {
	if p == nil || len(p.TagIDs) == 0 {
		return []uuid.UUID{}
	}
	var raw []string
	if err := json.Unmarshal(p.TagIDs, &raw); err != nil {
		return []uuid.UUID{}
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		if id, err := uuid.Parse(s); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func EncodeTagIDs(ids []uuid.UUID) datatypes.JSON {
	raw := make([]string, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		raw = append(raw, id.String())
	}
	b, _ := json.Marshal(raw)
	return datatypes.JSON(b)
}

// Stage returns the slot for key, or nil when the pipeline wasn't loaded with it.
func (p *Pipeline) Stage(key StageKey) *PipelineStage {
	if p == nil {
		return nil
	}
	for _, s := range p.Stages {
		if s != nil && s.StageKey == key {
			return s
		}
	}
	return nil
}
