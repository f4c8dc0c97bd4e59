package ads

import (
	"context"
	"errors"
	"sync"
	"time"

	"adsbot/internal/eventbus"
	"adsbot/internal/session"
	"adsbot/internal/storage"
	logx "adsbot/pkg/logx"
)

var (
	// ErrAlreadyRunning and ErrNotRunning mark the side-effect-free start/stop
	// no-ops; they are informational, not failures.
	ErrAlreadyRunning = errors.New("ads already running")
	ErrNotRunning     = errors.New("ads not running")
)

// Sessions is the slice of the session registry the manager needs.
type Sessions interface {
	Session(userID int64) (session.Sender, bool)
}

type Config struct {
	// SkipBackoff is the sleep between cycles while the user's config is
	// incomplete (no message or no destinations). Zero means 5s.
	SkipBackoff time.Duration
	// JitterMax bounds the random addition to every interval sleep so many
	// admins' tasks do not fire in lockstep. Zero means 5s.
	JitterMax time.Duration
}

// CycleEvent summarizes one broadcast cycle for the audit trail.
type CycleEvent struct {
	UserID int64
	Sent   int
	Failed int
}

// StateEvent reports a task starting or stopping.
type StateEvent struct {
	UserID int64
}

// Manager owns at most one live broadcast task per admin.
type Manager struct {
	cfg      Config
	store    *ConfigStore
	sessions Sessions
	bus      eventbus.Bus
	log      logx.Logger

	mu    sync.Mutex
	tasks map[int64]*task
	wg    sync.WaitGroup
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, store *ConfigStore, sessions Sessions, bus eventbus.Bus, log logx.Logger) *Manager {
	if cfg.SkipBackoff <= 0 {
		cfg.SkipBackoff = 5 * time.Second
	}
	if cfg.JitterMax <= 0 {
		cfg.JitterMax = 5 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		bus:      bus,
		log:      log,
		tasks:    map[int64]*task{},
	}
}

// Start spawns the user's broadcast task. Returns ErrAlreadyRunning (no side
// effects) when a task is live, session.ErrNotAuthenticated when the user has
// no session.
func (m *Manager) Start(ctx context.Context, userID int64) error {
	if _, ok := m.sessions.Session(userID); !ok {
		return session.ErrNotAuthenticated
	}

	m.mu.Lock()
	if m.tasks[userID] != nil {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	// Task lifetime is owned by the manager, not by the request that
	// triggered the start.
	runCtx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	m.tasks[userID] = t
	m.wg.Add(1)
	m.mu.Unlock()

	if _, err := m.store.Update(ctx, userID, func(c *storage.UserConfig) { c.Running = true }); err != nil {
		m.log.Warn("cannot persist running flag", logx.Int64("user_id", userID), logx.Err(err))
	}

	go m.run(runCtx, userID, t)
	m.log.Info("ads started", logx.Int64("user_id", userID))
	m.bus.Publish(eventbus.Event{Type: "ads.started", Data: StateEvent{UserID: userID}})
	return nil
}

// Stop cancels the user's task and waits for it to exit. Returns
// ErrNotRunning (no side effects) when there is nothing to stop.
func (m *Manager) Stop(ctx context.Context, userID int64) error {
	m.mu.Lock()
	t := m.tasks[userID]
	delete(m.tasks, userID)
	m.mu.Unlock()
	if t == nil {
		return ErrNotRunning
	}

	t.cancel()
	select {
	case <-t.done:
	case <-ctx.Done():
		// The loop observes cancellation at its next suspension point; state
		// bookkeeping below still proceeds.
	}

	if _, err := m.store.Update(ctx, userID, func(c *storage.UserConfig) { c.Running = false }); err != nil {
		m.log.Warn("cannot persist running flag", logx.Int64("user_id", userID), logx.Err(err))
	}
	m.log.Info("ads stopped", logx.Int64("user_id", userID))
	m.bus.Publish(eventbus.Event{Type: "ads.stopped", Data: StateEvent{UserID: userID}})
	return nil
}

// Running reports whether a live task exists for userID.
func (m *Manager) Running(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[userID] != nil
}

// Shutdown cancels every task and waits. Running flags are left as-is; the
// config store repairs them on next startup.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for id, t := range m.tasks {
		t.cancel()
		delete(m.tasks, id)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
