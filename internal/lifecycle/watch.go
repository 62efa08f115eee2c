package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/realtime"
)

// watch follows one attempt until the row shows it settled. Row-change events
// trigger a re-read; the ticker covers missed or undelivered events.
func (s *Session) watch(stage types.StageKey, attemptID uuid.UUID) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		var updates <-chan realtime.SSEMessage
		if s.m.deps.Hub != nil {
			ch, unsubscribe := s.m.deps.Hub.Subscribe(realtime.PipelineChannel(s.pipelineID))
			defer unsubscribe()
			updates = ch
		}
		ticker := time.NewTicker(s.m.cfg.PollInterval)
		defer ticker.Stop()

		if s.checkAttempt(stage, attemptID) {
			return
		}
		for {
			select {
			case <-s.ctx.Done():
				return
			case _, ok := <-updates:
				if !ok {
					updates = nil
					continue
				}
			case <-ticker.C:
			}
			if s.checkAttempt(stage, attemptID) {
				return
			}
		}
	}()
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeSucceeded
	outcomeFailed
	outcomeGone
)

// checkAttempt re-reads the row and reports whether watching can stop.
func (s *Session) checkAttempt(stage types.StageKey, attemptID uuid.UUID) bool {
	ctx, cancel := context.WithTimeout(s.ctx, s.m.cfg.WriteTimeout)
	defer cancel()
	p, err := s.m.deps.Store.Get(ctx, s.userID, s.pipelineID)
	if err != nil {
		if s.ctx.Err() != nil {
			return true
		}
		s.log.Debug("Generation poll failed", "stage", stage, "error", err)
		return false
	}

	slot := p.Stage(stage)
	result := outcomePending
	message := ""

	s.mu.Lock()
	s.pipeline = p
	mach := s.machineLocked(stage)
	switch {
	case mach.state != StateAwaitingJob || s.attempts[stage] != attemptID:
		result = outcomeGone
	case slot == nil || slot.AttemptID == nil || *slot.AttemptID != attemptID:
		result = outcomeGone
	case slot.Status == types.StageStatusFailed:
		result = outcomeFailed
		message = slot.Error
		_ = mach.to(StateFailed)
	case !slot.Status.InFlight() && slot.HasOutput():
		result = outcomeSucceeded
		_ = mach.to(StateSucceeded)
	case !slot.Status.InFlight():
		result = outcomeGone
	}
	if result == outcomeGone && mach.state == StateAwaitingJob && s.attempts[stage] == attemptID {
		if def, ok := s.m.deps.Catalog.Stage(stage); ok {
			s.machines[stage] = &machine{state: deriveState(def, slot)}
		}
	}
	if result != outcomePending && s.attempts[stage] == attemptID {
		delete(s.attempts, stage)
	}
	s.mu.Unlock()

	switch result {
	case outcomePending:
		return false
	case outcomeSucceeded:
		if s.announce(stage, attemptID) {
			s.m.deps.Notify.GenerationSucceeded(s.ctx, s.userID, s.pipelineID, stage, attemptID)
		}
	case outcomeFailed:
		if s.announce(stage, attemptID) {
			s.m.deps.Notify.GenerationFailed(s.ctx, s.userID, s.pipelineID, stage, &attemptID, message)
		}
	}
	return true
}
