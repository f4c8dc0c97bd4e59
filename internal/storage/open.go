package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "adsbot/pkg/logx"
)

// Store is the persistence API used by the config store and the audit writer.
type Store interface {
	// LoadUsers returns every persisted user record. Malformed entries are
	// replaced by defaults, never surfaced as errors.
	LoadUsers(ctx context.Context) (map[int64]UserConfig, error)
	// PutUser atomically replaces one user's record (write-through).
	PutUser(ctx context.Context, userID int64, cfg UserConfig) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	// PruneAudit drops audit entries older than cutoff and reports how many.
	PruneAudit(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
