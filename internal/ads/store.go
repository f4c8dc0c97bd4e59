package ads

import (
	"context"
	"sync"

	"adsbot/internal/storage"
	logx "adsbot/pkg/logx"
)

// ConfigStore is the durable per-admin configuration: an in-memory cache over
// storage.Store with write-through persistence on every mutation.
//
// Records are only ever mutated on behalf of their own user, so locking is
// per user id; unrelated admins never contend.
type ConfigStore struct {
	persist storage.Store
	log     logx.Logger

	mu    sync.RWMutex
	users map[int64]storage.UserConfig
	locks map[int64]*sync.Mutex
}

// NewConfigStore loads all persisted records. Stale running flags (a task
// cannot survive a restart: sessions are transient) are repaired here.
func NewConfigStore(ctx context.Context, persist storage.Store, log logx.Logger) (*ConfigStore, error) {
	users, err := persist.LoadUsers(ctx)
	if err != nil {
		return nil, err
	}
	s := &ConfigStore{
		persist: persist,
		log:     log,
		users:   users,
		locks:   map[int64]*sync.Mutex{},
	}
	for id, cfg := range users {
		if !cfg.Running {
			continue
		}
		cfg.Running = false
		s.users[id] = cfg
		if err := persist.PutUser(ctx, id, cfg); err != nil {
			return nil, err
		}
		log.Info("repaired stale running flag", logx.Int64("user_id", id))
	}
	return s, nil
}

func (s *ConfigStore) userLock(userID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.locks[userID]
	if l == nil {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// Get returns the user's record, or a default one if none exists yet.
// It never persists; records reach disk on first mutation.
func (s *ConfigStore) Get(userID int64) storage.UserConfig {
	s.mu.RLock()
	cfg, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return storage.DefaultUserConfig().Normalize()
	}
	return cfg.Clone()
}

// Update applies fn to the user's record under that user's lock and writes
// the result through to storage. The read-modify-write is atomic with respect
// to all other Update calls for the same user.
func (s *ConfigStore) Update(ctx context.Context, userID int64, fn func(*storage.UserConfig)) (storage.UserConfig, error) {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	cfg := s.Get(userID)
	fn(&cfg)
	cfg = cfg.Normalize()

	if err := s.persist.PutUser(ctx, userID, cfg); err != nil {
		return storage.UserConfig{}, err
	}

	s.mu.Lock()
	s.users[userID] = cfg.Clone()
	s.mu.Unlock()
	return cfg, nil
}
