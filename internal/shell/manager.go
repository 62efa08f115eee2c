package shell

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/talkinghead-backend/internal/debounce"
	"github.com/yungbote/talkinghead-backend/internal/lifecycle"
	"github.com/yungbote/talkinghead-backend/internal/notify"
	"github.com/yungbote/talkinghead-backend/internal/platform/envutil"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

type Config struct {
	MetadataDelay time.Duration
	SaveTimeout   time.Duration
	// IdleTTL is how long an untouched shell with nothing pending stays open.
	IdleTTL time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		MetadataDelay: envutil.Millis("METADATA_SAVE_DEBOUNCE_MS", 2*time.Second),
		SaveTimeout:   envutil.Seconds("METADATA_SAVE_TIMEOUT_SECONDS", 10*time.Second),
		IdleTTL:       envutil.Seconds("SESSION_IDLE_TTL_SECONDS", 30*time.Minute),
	}
}

type key struct {
	userID     uuid.UUID
	pipelineID uuid.UUID
}

// Manager keeps one Shell per open (user, pipeline) next to its lifecycle session.
type Manager struct {
	log       *logger.Logger
	store     Store
	notify    notify.Notifier
	lifecycle *lifecycle.Manager
	cfg       Config

	mu     sync.Mutex
	shells map[key]*Shell
}

func NewManager(log *logger.Logger, store Store, n notify.Notifier, lc *lifecycle.Manager, cfg Config) *Manager {
	if cfg.MetadataDelay <= 0 {
		cfg.MetadataDelay = 2 * time.Second
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 10 * time.Second
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	return &Manager{
		log:       log.With("service", "PipelineShell"),
		store:     store,
		notify:    n,
		lifecycle: lc,
		cfg:       cfg,
		shells:    make(map[key]*Shell),
	}
}

// Open returns the shell for the pair, loading the pipeline on first use.
func (m *Manager) Open(ctx context.Context, userID, pipelineID uuid.UUID) (*Shell, error) {
	k := key{userID: userID, pipelineID: pipelineID}
	m.mu.Lock()
	if sh, ok := m.shells[k]; ok {
		m.mu.Unlock()
		sh.touch()
		return sh, nil
	}
	m.mu.Unlock()

	session := m.lifecycle.Session(userID, pipelineID)
	if !session.Loaded() {
		p, err := session.Load(ctx)
		if err != nil {
			return nil, err
		}
		if p == nil {
			m.lifecycle.Release(userID, pipelineID)
			return nil, lifecycle.ErrNotLoaded
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sh, ok := m.shells[k]; ok {
		sh.touch()
		return sh, nil
	}
	sh := &Shell{
		log:      m.log.With("pipeline_id", pipelineID),
		store:    m.store,
		notify:   m.notify,
		session:  session,
		debounce: debounce.New(),
		delay:    m.cfg.MetadataDelay,
		timeout:  m.cfg.SaveTimeout,
		touched:  time.Now(),
	}
	m.shells[k] = sh
	return sh, nil
}

// Close runs the close protocol and, once closed, releases the pipeline's
// lifecycle session as well.
func (m *Manager) Close(ctx context.Context, userID, pipelineID uuid.UUID, req CloseRequest) (bool, error) {
	sh, err := m.Open(ctx, userID, pipelineID)
	if err != nil {
		return false, err
	}
	closed, err := sh.Close(ctx, req)
	if err != nil || !closed {
		return closed, err
	}
	m.mu.Lock()
	delete(m.shells, key{userID: userID, pipelineID: pipelineID})
	m.mu.Unlock()
	m.lifecycle.Release(userID, pipelineID)
	return true, nil
}

// Sweep closes shells untouched since IdleTTL that hold no unsaved edits and
// have no generation in flight, releasing their sessions too.
func (m *Manager) Sweep(now time.Time) int {
	var idle []key
	m.mu.Lock()
	for k, sh := range m.shells {
		if now.Sub(sh.lastTouched()) < m.cfg.IdleTTL || sh.Dirty() || sh.Saving() || sh.session.Busy() {
			continue
		}
		sh.markClosed()
		delete(m.shells, k)
		idle = append(idle, k)
	}
	m.mu.Unlock()

	for _, k := range idle {
		m.lifecycle.Release(k.userID, k.pipelineID)
	}
	if len(idle) > 0 {
		m.log.Info("Closed idle pipelines", "count", len(idle))
	}
	return len(idle)
}

// Janitor sweeps idle shells until ctx is done.
func (m *Manager) Janitor(ctx context.Context) {
	every := m.cfg.IdleTTL / 4
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.shells)
}
