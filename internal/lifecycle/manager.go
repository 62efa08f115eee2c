package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/talkinghead-backend/internal/credits"
	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/invoker"
	"github.com/yungbote/talkinghead-backend/internal/notify"
	"github.com/yungbote/talkinghead-backend/internal/platform/envutil"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/realtime"
	"github.com/yungbote/talkinghead-backend/internal/services"
	"github.com/yungbote/talkinghead-backend/internal/stages"
)

// Store is the persistence the controller writes through.
type Store interface {
	Get(ctx context.Context, ownerUserID, pipelineID uuid.UUID) (*types.Pipeline, error)
	MergeStageInput(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey, partial map[string]any) (*types.Pipeline, error)
	BeginAttempt(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey, attempt services.Attempt) (*types.Pipeline, error)
	RevertAttempt(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey, attemptID uuid.UUID) (*types.Pipeline, error)
	CompleteSync(ctx context.Context, ownerUserID, pipelineID uuid.UUID, stage types.StageKey, input, output map[string]any) (*types.Pipeline, error)
}

type Balances interface {
	Balance(ctx context.Context, userID uuid.UUID) (credits.Amount, error)
}

// Subscriber delivers row-change events for a channel.
type Subscriber interface {
	Subscribe(channel string) (<-chan realtime.SSEMessage, func())
}

type Config struct {
	StructuredDelay time.Duration
	FreeTextDelay   time.Duration
	PollInterval    time.Duration
	WriteTimeout    time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		StructuredDelay: envutil.Millis("INPUT_SAVE_DEBOUNCE_MS", 500*time.Millisecond),
		FreeTextDelay:   envutil.Millis("INPUT_SAVE_FREE_TEXT_DEBOUNCE_MS", 1500*time.Millisecond),
		PollInterval:    envutil.Millis("GENERATION_POLL_INTERVAL_MS", 2*time.Second),
		WriteTimeout:    envutil.Seconds("SESSION_WRITE_TIMEOUT_SECONDS", 10*time.Second),
	}
}

func (c Config) withDefaults() Config {
	if c.StructuredDelay <= 0 {
		c.StructuredDelay = 500 * time.Millisecond
	}
	if c.FreeTextDelay <= 0 {
		c.FreeTextDelay = 1500 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

type Deps struct {
	Log      *logger.Logger
	Catalog  *stages.Catalog
	Store    Store
	Balances Balances
	Invoker  invoker.Invoker
	Notify   notify.Notifier
	Hub      Subscriber
}

type sessionKey struct {
	userID     uuid.UUID
	pipelineID uuid.UUID
}

// Manager owns one Session per (user, pipeline).
type Manager struct {
	deps Deps
	cfg  Config
	log  *logger.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

func NewManager(deps Deps, cfg Config) *Manager {
	return &Manager{
		deps:     deps,
		cfg:      cfg.withDefaults(),
		log:      deps.Log.With("service", "StageLifecycle"),
		sessions: make(map[sessionKey]*Session),
	}
}

// Session returns the live session for the pair, creating it on first use.
func (m *Manager) Session(userID, pipelineID uuid.UUID) *Session {
	key := sessionKey{userID: userID, pipelineID: pipelineID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s
	}
	s := newSession(m, userID, pipelineID)
	m.sessions[key] = s
	return s
}

// Lookup returns the session only if one is live.
func (m *Manager) Lookup(userID, pipelineID uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey{userID: userID, pipelineID: pipelineID}]
	return s, ok
}

// Release flushes pending input and drops the session's local state.
func (m *Manager) Release(userID, pipelineID uuid.UUID) {
	key := sessionKey{userID: userID, pipelineID: pipelineID}
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if ok {
		s.close()
	}
}

func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for k, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, k)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.close()
	}
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
