package notify

import (
	"context"
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/realtime"
)

type Kind string

const (
	KindSaveFailed          Kind = "save_failed"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindGenerationStarted   Kind = "generation_started"
	KindGenerationSucceeded Kind = "generation_succeeded"
	KindGenerationFailed    Kind = "generation_failed"
	KindCopySucceeded       Kind = "copy_succeeded"
	KindCopyFailed          Kind = "copy_failed"
	KindDownloadSucceeded   Kind = "download_succeeded"
	KindDownloadFailed      Kind = "download_failed"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Notification is a transient user-visible message.
type Notification struct {
	Kind       Kind           `json:"kind"`
	Level      Level          `json:"level"`
	Message    string         `json:"message"`
	PipelineID uuid.UUID      `json:"pipeline_id,omitempty"`
	Stage      types.StageKey `json:"stage,omitempty"`
	AttemptID  *uuid.UUID     `json:"attempt_id,omitempty"`
	Action     *Action        `json:"action,omitempty"`
}

type Notifier interface {
	SaveFailed(ctx context.Context, userID, pipelineID uuid.UUID, stage types.StageKey, err error)
	InsufficientBalance(ctx context.Context, userID, pipelineID uuid.UUID, stage types.StageKey)
	GenerationStarted(ctx context.Context, userID, pipelineID uuid.UUID, stage types.StageKey, attemptID uuid.UUID)
	GenerationSucceeded(ctx context.Context, userID, pipelineID uuid.UUID, stage types.StageKey, attemptID uuid.UUID)
	GenerationFailed(ctx context.Context, userID, pipelineID uuid.UUID, stage types.StageKey, attemptID *uuid.UUID, message string)
	CopyResult(ctx context.Context, userID, pipelineID uuid.UUID, stage types.StageKey, err error)
	DownloadResult(ctx context.Context, userID, pipelineID uuid.UUID, stage types.StageKey, err error)
}

type notifier struct {
	log      *logger.Logger
	emit     realtime.Emitter
	topUpURL string
}

func New(log *logger.Logger, emit realtime.Emitter, topUpURL string) Notifier {
	return &notifier{
		log:      log.With("service", "Notifier"),
		emit:     emit,
		topUpURL: strings.TrimSpace(topUpURL),
	}
}

func (n *notifier) send(ctx context.Context, userID uuid.UUID, note Notification) {
	if n == nil || n.emit == nil || userID == uuid.Nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	n.log.Debug("Notification", "kind", note.Kind, "pipeline_id", note.PipelineID, "stage", note.Stage)
	n.emit.Emit(ctx, realtime.SSEMessage{
		Channel: realtime.UserChannel(userID),
		Event:   realtime.SSEEventNotification,
		Data:    note,
	})
}

func (n *notifier) SaveFailed(ctx context.Context, userID, pipelineID uuid.UUID, stage types.StageKey, err error) {
	msg := "Could not save your changes."
	if err != nil {
		msg = "Could not save your changes: " + err.Error()
	}
	n.send(ctx, userID, Notification{Kind: KindSaveFailed, Level: LevelError, Message: msg, PipelineID: pipelineID, Stage: stage})
}

func (n *notifier) InsufficientBalance(ctx context.Context, userID, pipelineID uuid.UUID, stage types.StageKey) {
	note := Notification{
		Kind:       KindInsufficientBalance,
		Level:      LevelError,
		Message:    "Not enough credits for this generation.",
		PipelineID: pipelineID,
		Stage:      stage,
	}
	if n.topUpURL != "" {
		note.Action = &Action{Label: "Top up", URL: n.topUpURL}
	}
	n.send(ctx, userID, note)
}

func (n *notifier) GenerationStarted(ctx context.Context, userID, pipelineID uuid.UUID, stage types.StageKey, attemptID uuid.UUID) {
	n.send(ctx, userID, Notification{
		Kind:       KindGenerationStarted,
		Level:      LevelInfo,
		Message:    "Generation started.",
		PipelineID: pipelineID,
		Stage:      stage,
		AttemptID:  &attemptID,
	})
}

func (n *notifier) GenerationSucceeded(ctx context.Context, userID, pipelineID uuid.UUID, stage types.StageKey, attemptID uuid.UUID) {
	n.send(ctx, userID, Notification{
		Kind:       KindGenerationSucceeded,
		Level:      LevelSuccess,
		Message:    "Generation finished.",
		PipelineID: pipelineID,
		Stage:      stage,
		AttemptID:  &attemptID,
	})
}

func (n *notifier) GenerationFailed(ctx context.Context, userID, pipelineID uuid.UUID, stage types.StageKey, attemptID *uuid.UUID, message string) {
	if strings.TrimSpace(message) == "" {
		message = "Generation failed."
	}
	n.send(ctx, userID, Notification{
		Kind:       KindGenerationFailed,
		Level:      LevelError,
		Message:    message,
		PipelineID: pipelineID,
		Stage:      stage,
		AttemptID:  attemptID,
	})
}

func (n *notifier) CopyResult(ctx context.Context, userID, pipelineID uuid.UUID, stage types.StageKey, err error) {
	if err != nil {
		n.send(ctx, userID, Notification{Kind: KindCopyFailed, Level: LevelError, Message: "Copy failed: " + err.Error(), PipelineID: pipelineID, Stage: stage})
		return
	}
	n.send(ctx, userID, Notification{Kind: KindCopySucceeded, Level: LevelSuccess, Message: "Copied to clipboard.", PipelineID: pipelineID, Stage: stage})
}

func (n *notifier) DownloadResult(ctx context.Context, userID, pipelineID uuid.UUID, stage types.StageKey, err error) {
	if err != nil {
		n.send(ctx, userID, Notification{Kind: KindDownloadFailed, Level: LevelError, Message: "Download failed: " + err.Error(), PipelineID: pipelineID, Stage: stage})
		return
	}
	n.send(ctx, userID, Notification{Kind: KindDownloadSucceeded, Level: LevelSuccess, Message: "Download started.", PipelineID: pipelineID, Stage: stage})
}
