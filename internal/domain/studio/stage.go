package studio

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type StageKey string

const (
	StageFirstFrame StageKey = "first_frame"
	StageScript     StageKey = "script"
	StageVoice      StageKey = "voice"
	StageLipSync    StageKey = "lip_sync"
	StageFinalVideo StageKey = "final_video"
)

var stageOrder = map[PipelineType][]StageKey{
	PipelineTypeTalkingHead: {StageFirstFrame, StageScript, StageVoice, StageLipSync},
	PipelineTypeBroll:       {StageFirstFrame, StageScript, StageVoice, StageFinalVideo},
}

func (t PipelineType) Valid() bool {
	_, ok := stageOrder[t]
	return ok
}

// Stages returns the stage keys in presentation order. Order does not gate anything.
func (t PipelineType) Stages() []StageKey {
	keys := stageOrder[t]
	out := make([]StageKey, len(keys))
	copy(out, keys)
	return out
}

func (t PipelineType) FinalStage() StageKey {
	keys := stageOrder[t]
	if len(keys) == 0 {
		return ""
	}
	return keys[len(keys)-1]
}

func (t PipelineType) HasStage(key StageKey) bool {
	for _, k := range stageOrder[t] {
		if k == key {
			return true
		}
	}
	return false
}

// StageStatus tracks the remote generation state of one stage slot.
type StageStatus string

const (
	StageStatusIdle       StageStatus = "idle"
	StageStatusQueued     StageStatus = "queued"
	StageStatusProcessing StageStatus = "processing"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusFailed     StageStatus = "failed"
)

func (s StageStatus) InFlight() bool {
	return s == StageStatusQueued || s == StageStatusProcessing
}

type PipelineStage struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	PipelineID  uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_pipeline_stage_key" json:"pipeline_id"`
	StageKey    StageKey        `gorm:"column:stage_key;not null;uniqueIndex:idx_pipeline_stage_key" json:"stage_key"`
	Input       datatypes.JSON  `gorm:"column:input" json:"input"`
	Output      *datatypes.JSON `gorm:"column:output" json:"output"`
	Complete    bool            `gorm:"column:complete;not null" json:"complete"`
	Status      StageStatus     `gorm:"column:status;not null;index" json:"status"`
	PriorStatus StageStatus     `gorm:"column:prior_status" json:"-"`
	Error       string          `gorm:"column:error" json:"error,omitempty"`
	AttemptID   *uuid.UUID      `gorm:"type:uuid;column:attempt_id;index" json:"attempt_id,omitempty"`
	CreditsCost int64           `gorm:"column:credits_cost;not null" json:"credits_cost"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null;index" json:"updated_at"`
}

func (PipelineStage) TableName() string { return "pipeline_stage" }

func (s *PipelineStage) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if len(s.Input) == 0 {
		s.Input = datatypes.JSON([]byte("{}"))
	}
	if s.Status == "" {
		s.Status = StageStatusIdle
	}
	return nil
}

func (s *PipelineStage) HasOutput() bool {
	if s == nil || s.Output == nil {
		return false
	}
	raw := string(*s.Output)
	return raw != "" && raw != "null"
}

// InputMap decodes the loosely typed input. Malformed input reads as empty.
func (s *PipelineStage) InputMap() map[string]any {
	return decodeObject(s.inputBytes())
}

func (s *PipelineStage) OutputMap() map[string]any {
	if !s.HasOutput() {
		return nil
	}
	return decodeObject(*s.Output)
}

func (s *PipelineStage) inputBytes() []byte {
	if s == nil {
		return nil
	}
	return s.Input
}

func decodeObject(b []byte) map[string]any {
	out := map[string]any{}
	if len(b) == 0 {
		return out
	}
	if err := json.Unmarshal(b, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func EncodeObject(m map[string]any) datatypes.JSON {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(b)
}

// DeriveStatus computes the coarse pipeline status from its stage slots.
func DeriveStatus(p *Pipeline) PipelineStatus {
	if p == nil {
		return PipelineStatusDraft
	}
	for _, s := range p.Stages {
		if s != nil && s.Status.InFlight() {
			return PipelineStatusProcessing
		}
	}
	if final := p.Stage(p.PipelineType.FinalStage()); final != nil && final.Status == StageStatusCompleted {
		return PipelineStatusCompleted
	}
	if cur := p.Stage(p.CurrentStage); cur != nil && cur.Status == StageStatusFailed {
		return PipelineStatusFailed
	}
	return PipelineStatusDraft
}
