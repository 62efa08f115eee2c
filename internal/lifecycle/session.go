package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/talkinghead-backend/internal/credits"
	"github.com/yungbote/talkinghead-backend/internal/data/repos"
	"github.com/yungbote/talkinghead-backend/internal/debounce"
	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/invoker"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/services"
	"github.com/yungbote/talkinghead-backend/internal/stages"
	"github.com/yungbote/talkinghead-backend/internal/temporalx/generation"
)

var (
	ErrNotLoaded          = errors.New("pipeline not loaded")
	ErrGenerationRejected = errors.New("generation rejected")
)

// Attempt describes an accepted Generate call.
type Attempt struct {
	ID    uuid.UUID      `json:"attempt_id,omitempty"`
	Stage types.StageKey `json:"stage"`
	Mode  string         `json:"mode"`
	Sync  bool           `json:"sync"`
	Cost  credits.Amount `json:"cost"`
}

// Session is the controller for one user editing one pipeline. All stages
// share it; each stage has its own machine, input buffer and watcher.
type Session struct {
	m          *Manager
	log        *logger.Logger
	userID     uuid.UUID
	pipelineID uuid.UUID

	ctx      context.Context
	cancel   context.CancelFunc
	debounce *debounce.Debouncer
	wg       sync.WaitGroup

	mu       sync.Mutex
	pipeline *types.Pipeline
	machines map[types.StageKey]*machine
	attempts map[types.StageKey]uuid.UUID
	pending  map[types.StageKey]map[string]any
	writes   map[types.StageKey]int
	// announced is the last attempt per stage whose outcome was notified.
	announced map[types.StageKey]uuid.UUID
}

func newSession(m *Manager, userID, pipelineID uuid.UUID) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		m:          m,
		log:        m.log.With("pipeline_id", pipelineID),
		userID:     userID,
		pipelineID: pipelineID,
		ctx:        ctx,
		cancel:     cancel,
		debounce:   debounce.New(),
		machines:   make(map[types.StageKey]*machine),
		attempts:   make(map[types.StageKey]uuid.UUID),
		pending:    make(map[types.StageKey]map[string]any),
		writes:     make(map[types.StageKey]int),
		announced:  make(map[types.StageKey]uuid.UUID),
	}
}

func (s *Session) PipelineID() uuid.UUID { return s.pipelineID }
func (s *Session) UserID() uuid.UUID     { return s.userID }

// Load fetches the row and re-derives every stage machine from it. It returns
// (nil, nil) while the row cannot be read yet.
func (s *Session) Load(ctx context.Context) (*types.Pipeline, error) {
	p, err := s.m.deps.Store.Get(ctx, s.userID, s.pipelineID)
	if err != nil {
		if !errors.Is(err, repos.ErrNotFound) {
			s.log.Warn("Pipeline load failed", "error", err)
		}
		return nil, nil
	}
	s.Observe(p)
	return p, nil
}

func (s *Session) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline != nil
}

// Pipeline returns the latest row this session has seen.
func (s *Session) Pipeline() *types.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline
}

// Observe records a newer row snapshot. Settled machines follow the row;
// in-flight machines are left to their watcher.
func (s *Session) Observe(p *types.Pipeline) {
	if p == nil || p.ID != s.pipelineID {
		return
	}
	type resume struct {
		stage   types.StageKey
		attempt uuid.UUID
	}
	var toWatch []resume

	s.mu.Lock()
	s.pipeline = p
	for _, key := range p.PipelineType.Stages() {
		def, ok := s.m.deps.Catalog.Stage(key)
		if !ok {
			continue
		}
		slot := p.Stage(key)
		if mach, ok := s.machines[key]; ok && mach.state.InFlight() {
			continue
		}
		state := deriveState(def, slot)
		s.machines[key] = &machine{state: state}
		if state == StateAwaitingJob && slot.AttemptID != nil {
			s.attempts[key] = *slot.AttemptID
			toWatch = append(toWatch, resume{stage: key, attempt: *slot.AttemptID})
		}
	}
	s.mu.Unlock()

	for _, r := range toWatch {
		s.watch(r.stage, r.attempt)
	}
}

func deriveState(def *stages.StageDef, slot *types.PipelineStage) State {
	switch {
	case slot == nil:
		return StateIdle
	case slot.Status.InFlight() && slot.AttemptID != nil:
		return StateAwaitingJob
	case slot.Status == types.StageStatusFailed:
		return StateFailed
	case def.IsComplete(slot):
		return StateSucceeded
	default:
		return StateIdle
	}
}

func (s *Session) stageDefLocked(stage types.StageKey) (*stages.StageDef, error) {
	if s.pipeline == nil {
		return nil, ErrNotLoaded
	}
	if !s.pipeline.PipelineType.HasStage(stage) {
		return nil, fmt.Errorf("stage %q is not part of a %s pipeline: %w", stage, s.pipeline.PipelineType, types.ErrInvalidArgument)
	}
	def, ok := s.m.deps.Catalog.Stage(stage)
	if !ok {
		return nil, fmt.Errorf("stage %q has no definition: %w", stage, types.ErrInvalidArgument)
	}
	return def, nil
}

func (s *Session) machineLocked(stage types.StageKey) *machine {
	mach, ok := s.machines[stage]
	if !ok {
		mach = &machine{state: StateIdle}
		s.machines[stage] = mach
	}
	return mach
}

// State returns the local machine state of stage.
func (s *Session) State(stage types.StageKey) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machineLocked(stage).state
}

// SaveInput buffers partial and schedules a debounced write.
func (s *Session) SaveInput(stage types.StageKey, partial map[string]any) error {
	s.mu.Lock()
	def, err := s.stageDefLocked(stage)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.machineLocked(stage).state.InFlight() {
		s.mu.Unlock()
		return types.ErrGenerationInFlight
	}
	buf, ok := s.pending[stage]
	if !ok {
		buf = map[string]any{}
		s.pending[stage] = buf
	}
	for k, v := range partial {
		buf[k] = v
	}
	delay := s.m.cfg.StructuredDelay
	for k := range buf {
		if def.IsFreeText(k) {
			delay = s.m.cfg.FreeTextDelay
			break
		}
	}
	s.mu.Unlock()

	s.debounce.Schedule(string(stage), delay, func() { s.flushDebounced(stage) })
	return nil
}

func (s *Session) takePendingLocked(stage types.StageKey) map[string]any {
	buf := s.pending[stage]
	delete(s.pending, stage)
	return buf
}

// flushDebounced is the timer path: failures are logged only.
func (s *Session) flushDebounced(stage types.StageKey) {
	s.mu.Lock()
	if s.machineLocked(stage).state.InFlight() {
		delete(s.pending, stage)
		s.mu.Unlock()
		s.log.Debug("Dropping input save during generation", "stage", stage)
		return
	}
	buf := s.takePendingLocked(stage)
	if len(buf) == 0 {
		s.mu.Unlock()
		return
	}
	s.writes[stage]++
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.m.cfg.WriteTimeout)
	defer cancel()
	p, err := s.m.deps.Store.MergeStageInput(ctx, s.userID, s.pipelineID, stage, buf)

	s.mu.Lock()
	s.writes[stage]--
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("Debounced input save failed", "stage", stage, "error", err)
		return
	}
	s.Observe(p)
}

// FlushInput writes any buffered input now. Failures are reported to the user.
func (s *Session) FlushInput(ctx context.Context, stage types.StageKey) error {
	s.debounce.Cancel(string(stage))
	s.mu.Lock()
	if _, err := s.stageDefLocked(stage); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.machineLocked(stage).state.InFlight() {
		s.mu.Unlock()
		return types.ErrGenerationInFlight
	}
	buf := s.takePendingLocked(stage)
	if len(buf) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.writes[stage]++
	s.mu.Unlock()

	p, err := s.m.deps.Store.MergeStageInput(ctx, s.userID, s.pipelineID, stage, buf)

	s.mu.Lock()
	s.writes[stage]--
	if err != nil {
		cur := s.pending[stage]
		if cur == nil {
			cur = map[string]any{}
			s.pending[stage] = cur
		}
		for k, v := range buf {
			if _, newer := cur[k]; !newer {
				cur[k] = v
			}
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.m.deps.Notify.SaveFailed(ctx, s.userID, s.pipelineID, stage, err)
		return err
	}
	s.Observe(p)
	return nil
}

// Generate validates, prices and submits one generation of stage.
func (s *Session) Generate(ctx context.Context, stage types.StageKey, params map[string]any) (*Attempt, error) {
	s.mu.Lock()
	def, err := s.stageDefLocked(stage)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.machineLocked(stage).state.InFlight() {
		s.mu.Unlock()
		return nil, types.ErrGenerationInFlight
	}
	pending := make(map[string]any, len(s.pending[stage]))
	for k, v := range s.pending[stage] {
		pending[k] = v
	}
	s.mu.Unlock()

	p, err := s.m.deps.Store.Get(ctx, s.userID, s.pipelineID)
	if err != nil {
		return nil, err
	}
	slot := p.Stage(stage)
	if slot == nil {
		return nil, fmt.Errorf("stage %q missing from pipeline: %w", stage, types.ErrInvalidArgument)
	}
	if slot.Status.InFlight() {
		return nil, types.ErrGenerationInFlight
	}

	input := slot.InputMap()
	for _, layer := range []map[string]any{pending, params} {
		for k, v := range layer {
			if v == nil {
				delete(input, k)
				continue
			}
			input[k] = v
		}
	}

	modeName, mode, err := def.Mode(input)
	if err != nil {
		s.m.deps.Notify.GenerationFailed(ctx, s.userID, s.pipelineID, stage, nil, err.Error())
		return nil, fmt.Errorf("%s: %w", err.Error(), types.ErrInvalidArgument)
	}
	resolved := s.m.deps.Catalog.ResolveInput(p, def, input)
	if err := def.Validate(mode, resolved); err != nil {
		s.m.deps.Notify.GenerationFailed(ctx, s.userID, s.pipelineID, stage, nil, err.Error())
		return nil, err
	}
	cost, err := s.m.deps.Catalog.Estimate(mode, resolved)
	if err != nil {
		s.m.deps.Notify.GenerationFailed(ctx, s.userID, s.pipelineID, stage, nil, err.Error())
		return nil, fmt.Errorf("%s: %w", err.Error(), types.ErrInvalidArgument)
	}
	if cost > 0 {
		balance, err := s.m.deps.Balances.Balance(ctx, s.userID)
		if err != nil {
			return nil, fmt.Errorf("read balance: %w", err)
		}
		if balance < cost {
			s.m.deps.Notify.InsufficientBalance(ctx, s.userID, s.pipelineID, stage)
			return nil, fmt.Errorf("need %s credits, have %s: %w", cost, balance, types.ErrInsufficientCredits)
		}
	}

	s.mu.Lock()
	mach := s.machineLocked(stage)
	if mach.state.InFlight() {
		s.mu.Unlock()
		return nil, types.ErrGenerationInFlight
	}
	if err := mach.to(StateSubmitting); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.debounce.Cancel(string(stage))
	delete(s.pending, stage)
	s.mu.Unlock()

	if mode.Sync {
		return s.completeSync(ctx, stage, modeName, mode, input, resolved)
	}

	attempt := &Attempt{ID: uuid.New(), Stage: stage, Mode: modeName, Cost: cost}
	p, err = s.m.deps.Store.BeginAttempt(ctx, s.userID, s.pipelineID, stage, services.Attempt{
		ID:    attempt.ID,
		Input: input,
		Cost:  int64(cost),
	})
	if err != nil {
		s.settle(stage, StateIdle)
		if !errors.Is(err, types.ErrGenerationInFlight) {
			s.m.deps.Notify.GenerationFailed(ctx, s.userID, s.pipelineID, stage, nil, err.Error())
		}
		return nil, err
	}
	s.observeSnapshot(p)
	s.m.deps.Notify.GenerationStarted(ctx, s.userID, s.pipelineID, stage, attempt.ID)

	job := generation.Job{
		Type:        string(def.JobType),
		PipelineID:  s.pipelineID,
		UserID:      s.userID,
		Stage:       stage,
		AttemptID:   attempt.ID,
		CreditsCost: int64(cost),
		Input:       resolved,
	}
	res, err := s.m.deps.Invoker.Invoke(ctx, invoker.Request{Type: job.Type, Payload: job.Payload()})
	if err != nil || !res.Success {
		msg := strings.TrimSpace(res.Error)
		if err != nil {
			msg = err.Error()
		}
		if msg == "" {
			msg = "generation request was rejected"
		}
		s.rollback(stage, attempt.ID)
		s.m.deps.Notify.GenerationFailed(ctx, s.userID, s.pipelineID, stage, &attempt.ID, msg)
		s.announce(stage, attempt.ID)
		return nil, fmt.Errorf("%w: %s", ErrGenerationRejected, msg)
	}

	s.mu.Lock()
	if err := s.machineLocked(stage).to(StateAwaitingJob); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.attempts[stage] = attempt.ID
	s.mu.Unlock()

	s.log.Info("Generation submitted", "stage", stage, "attempt_id", attempt.ID, "job_type", job.Type)
	s.watch(stage, attempt.ID)
	return attempt, nil
}

func (s *Session) completeSync(ctx context.Context, stage types.StageKey, modeName string, mode *stages.ModeDef, input, resolved map[string]any) (*Attempt, error) {
	output := s.m.deps.Catalog.SyncOutput(mode, resolved)
	p, err := s.m.deps.Store.CompleteSync(ctx, s.userID, s.pipelineID, stage, input, output)
	if err != nil {
		s.settle(stage, StateIdle)
		s.m.deps.Notify.GenerationFailed(ctx, s.userID, s.pipelineID, stage, nil, err.Error())
		return nil, err
	}
	s.settle(stage, StateSucceeded)
	s.Observe(p)
	return &Attempt{Stage: stage, Mode: modeName, Sync: true}, nil
}

// rollback reverts the optimistic write after the invoker refused the job.
func (s *Session) rollback(stage types.StageKey, attemptID uuid.UUID) {
	ctx, cancel := context.WithTimeout(s.ctx, s.m.cfg.WriteTimeout)
	defer cancel()
	p, err := s.m.deps.Store.RevertAttempt(ctx, s.userID, s.pipelineID, stage, attemptID)
	if err != nil {
		s.log.Warn("Reverting rejected attempt failed", "stage", stage, "attempt_id", attemptID, "error", err)
	}
	s.settle(stage, StateIdle)
	if p != nil {
		s.Observe(p)
	}
}

func (s *Session) settle(stage types.StageKey, next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.machineLocked(stage).to(next); err != nil {
		s.log.Warn("Unexpected stage transition", "stage", stage, "error", err)
	}
}

// observeSnapshot stores a row without re-deriving machines.
func (s *Session) observeSnapshot(p *types.Pipeline) {
	if p == nil {
		return
	}
	s.mu.Lock()
	s.pipeline = p
	s.mu.Unlock()
}

// IsStageComplete reports completion from the latest row.
func (s *Session) IsStageComplete(stage types.StageKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, err := s.stageDefLocked(stage)
	if err != nil {
		return false
	}
	return def.IsComplete(s.pipeline.Stage(stage))
}

func (s *Session) Progress(stage types.StageKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, err := s.stageDefLocked(stage)
	if err != nil {
		return 0
	}
	return def.Progress(s.pipeline.Stage(stage))
}

// announce reports true exactly once per attempt. Only a stage's latest
// attempt can still settle, so one id per stage is enough.
func (s *Session) announce(stage types.StageKey, attemptID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.announced[stage] == attemptID {
		return false
	}
	s.announced[stage] = attemptID
	return true
}

// Busy reports whether the session holds unsaved input or has a generation
// in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 || len(s.attempts) > 0 {
		return true
	}
	for _, n := range s.writes {
		if n > 0 {
			return true
		}
	}
	for _, mach := range s.machines {
		if mach.state.InFlight() {
			return true
		}
	}
	return false
}

func (s *Session) close() {
	for _, key := range s.pendingStages() {
		s.debounce.Flush(string(key))
	}
	s.debounce.Stop()
	s.cancel()
	s.wg.Wait()
}

func (s *Session) pendingStages() []types.StageKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.StageKey, 0, len(s.pending))
	for k := range s.pending {
		out = append(out, k)
	}
	return out
}
