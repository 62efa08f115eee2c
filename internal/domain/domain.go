package domain

import (
	"github.com/yungbote/talkinghead-backend/internal/domain/studio"
)

type (
	Pipeline       = studio.Pipeline
	PipelineStage  = studio.PipelineStage
	PipelineType   = studio.PipelineType
	PipelineStatus = studio.PipelineStatus
	DisplayStatus  = studio.DisplayStatus
	StageKey       = studio.StageKey
	StageStatus    = studio.StageStatus
	Tag            = studio.Tag
	CreditAccount  = studio.CreditAccount
)

const (
	PipelineTypeTalkingHead = studio.PipelineTypeTalkingHead
	PipelineTypeBroll       = studio.PipelineTypeBroll

	PipelineStatusDraft      = studio.PipelineStatusDraft
	PipelineStatusProcessing = studio.PipelineStatusProcessing
	PipelineStatusCompleted  = studio.PipelineStatusCompleted
	PipelineStatusFailed     = studio.PipelineStatusFailed

	DisplayStatusBacklog    = studio.DisplayStatusBacklog
	DisplayStatusInProgress = studio.DisplayStatusInProgress
	DisplayStatusReview     = studio.DisplayStatusReview
	DisplayStatusDone       = studio.DisplayStatusDone

	StageFirstFrame = studio.StageFirstFrame
	StageScript     = studio.StageScript
	StageVoice      = studio.StageVoice
	StageLipSync    = studio.StageLipSync
	StageFinalVideo = studio.StageFinalVideo

	StageStatusIdle       = studio.StageStatusIdle
	StageStatusQueued     = studio.StageStatusQueued
	StageStatusProcessing = studio.StageStatusProcessing
	StageStatusCompleted  = studio.StageStatusCompleted
	StageStatusFailed     = studio.StageStatusFailed
)

var (
	ErrInvalidArgument     = studio.ErrInvalidArgument
	ErrGenerationInFlight  = studio.ErrGenerationInFlight
	ErrInsufficientCredits = studio.ErrInsufficientCredits
	ErrUnsavedChanges      = studio.ErrUnsavedChanges
	ErrConfirmDiscard      = studio.ErrConfirmDiscard
)

var (
	DeriveStatus = studio.DeriveStatus
	EncodeObject = studio.EncodeObject
	EncodeTagIDs = studio.EncodeTagIDs
	TagNameKey   = studio.TagNameKey
)

// AllModels lists every table for migrations.
func AllModels() []any {
	return []any{
		&studio.Pipeline{},
		&studio.PipelineStage{},
		&studio.Tag{},
		&studio.CreditAccount{},
	}
}
