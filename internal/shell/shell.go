package shell

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/talkinghead-backend/internal/debounce"
	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/lifecycle"
	"github.com/yungbote/talkinghead-backend/internal/notify"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/services"
)

const metadataKey = "metadata"

type Store interface {
	UpdateMetadata(ctx context.Context, ownerUserID, pipelineID uuid.UUID, patch services.MetadataPatch) (*types.Pipeline, error)
	SetCurrentStage(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey) (*types.Pipeline, error)
}

type CloseChoice string

const (
	CloseChoiceNone    CloseChoice = ""
	CloseChoiceSave    CloseChoice = "save"
	CloseChoiceDiscard CloseChoice = "discard"
)

type CloseRequest struct {
	Choice         CloseChoice `json:"choice"`
	ConfirmDiscard bool        `json:"confirm_discard"`
}

// Shell is the wizard frame around the stages of one open pipeline.
type Shell struct {
	log      *logger.Logger
	store    Store
	notify   notify.Notifier
	session  *lifecycle.Session
	debounce *debounce.Debouncer
	delay    time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	active  types.StageKey
	pending services.MetadataPatch
	saving  int
	closed  bool
	touched time.Time
}

func (s *Shell) Session() *lifecycle.Session { return s.session }

func (s *Shell) touch() {
	s.mu.Lock()
	s.touched = time.Now()
	s.mu.Unlock()
}

func (s *Shell) lastTouched() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// ActiveStage is the stage on screen; it starts at the row's current stage.
func (s *Shell) ActiveStage() types.StageKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != "" {
		return s.active
	}
	if p := s.session.Pipeline(); p != nil {
		return p.CurrentStage
	}
	return ""
}

// Navigate switches to any stage of the pipeline's type. Nothing gates it.
func (s *Shell) Navigate(ctx context.Context, stage types.StageKey) error {
	p := s.session.Pipeline()
	if p == nil {
		return lifecycle.ErrNotLoaded
	}
	if !p.PipelineType.HasStage(stage) {
		return fmt.Errorf("stage %q is not part of a %s pipeline: %w", stage, p.PipelineType, types.ErrInvalidArgument)
	}
	s.mu.Lock()
	s.active = stage
	s.mu.Unlock()

	updated, err := s.store.SetCurrentStage(ctx, s.session.UserID(), s.session.PipelineID(), stage)
	if err != nil {
		s.log.Warn("Persisting current stage failed", "stage", stage, "error", err)
		return nil
	}
	s.session.Observe(updated)
	return nil
}

// EditMetadata buffers the patch and saves it once edits pause.
func (s *Shell) EditMetadata(patch services.MetadataPatch) error {
	if patch.Empty() {
		return nil
	}
	if patch.DisplayStatus != nil && !patch.DisplayStatus.Valid() {
		return fmt.Errorf("unknown display status %q: %w", *patch.DisplayStatus, types.ErrInvalidArgument)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("pipeline is closed: %w", types.ErrInvalidArgument)
	}
	s.pending = s.pending.Merge(patch)
	s.mu.Unlock()

	s.debounce.Schedule(metadataKey, s.delay, s.saveDebounced)
	return nil
}

func (s *Shell) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.pending.Empty()
}

func (s *Shell) Saving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving > 0
}

// saveDebounced is the autosave timer. A failure keeps the edits buffered
// and is only logged; the user hears about it when closing.
func (s *Shell) saveDebounced() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.flush(ctx); err != nil {
		s.log.Warn("Metadata autosave failed", "error", err)
	}
}

// save is the explicit save on close. The user is told when it fails.
func (s *Shell) save(ctx context.Context) error {
	if err := s.flush(ctx); err != nil {
		s.log.Warn("Metadata save failed", "error", err)
		s.notify.SaveFailed(ctx, s.session.UserID(), s.session.PipelineID(), "", err)
		return err
	}
	return nil
}

// flush writes whatever is pending. On failure the edits go back into the
// buffer underneath anything typed since.
func (s *Shell) flush(ctx context.Context) error {
	s.mu.Lock()
	patch := s.pending
	s.pending = services.MetadataPatch{}
	if patch.Empty() {
		s.mu.Unlock()
		return nil
	}
	s.saving++
	s.mu.Unlock()

	p, err := s.store.UpdateMetadata(ctx, s.session.UserID(), s.session.PipelineID(), patch)

	s.mu.Lock()
	s.saving--
	if err != nil {
		s.pending = patch.Merge(s.pending)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.session.Observe(p)
	return nil
}

// Close asks to leave the pipeline. It reports true once the shell is closed.
func (s *Shell) Close(ctx context.Context, req CloseRequest) (bool, error) {
	if !s.Dirty() {
		s.markClosed()
		return true, nil
	}
	switch req.Choice {
	case CloseChoiceNone:
		return false, types.ErrUnsavedChanges
	case CloseChoiceSave:
		s.debounce.Cancel(metadataKey)
		if err := s.save(ctx); err != nil {
			return false, err
		}
		s.markClosed()
		return true, nil
	case CloseChoiceDiscard:
		if !req.ConfirmDiscard {
			return false, types.ErrConfirmDiscard
		}
		s.debounce.Cancel(metadataKey)
		s.mu.Lock()
		s.pending = services.MetadataPatch{}
		s.mu.Unlock()
		s.markClosed()
		return true, nil
	default:
		return false, fmt.Errorf("unknown close choice %q: %w", req.Choice, types.ErrInvalidArgument)
	}
}

func (s *Shell) markClosed() {
	s.debounce.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
