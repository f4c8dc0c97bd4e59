//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "adsbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) LoadUsers(ctx context.Context) (map[int64]UserConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, destinations, message, interval_seconds, running FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]UserConfig{}
	for rows.Next() {
		var (
			id       int64
			destsRaw string
			cfg      UserConfig
			running  int
		)
		if err := rows.Scan(&id, &destsRaw, &cfg.Message, &cfg.IntervalSeconds, &running); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(destsRaw), &cfg.Destinations); err != nil {
			s.log.Warn("bad destinations column, using defaults", logx.Int64("user_id", id), logx.Err(err))
			cfg = DefaultUserConfig()
		}
		cfg.Running = running != 0
		out[id] = cfg.Normalize()
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutUser(ctx context.Context, userID int64, cfg UserConfig) error {
	cfg = cfg.Normalize()
	dests, err := json.Marshal(cfg.Destinations)
	if err != nil {
		return err
	}
	running := 0
	if cfg.Running {
		running = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, destinations, message, interval_seconds, running)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   destinations=excluded.destinations,
		   message=excluded.message,
		   interval_seconds=excluded.interval_seconds,
		   running=excluded.running`,
		userID, string(dests), cfg.Message, cfg.IntervalSeconds, running)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, action, target, detail, err) VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, e.Action, nullStr(e.Target), nullStr(e.Detail), nullStr(e.Error))
	return err
}

func (s *sqliteStore) PruneAudit(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit WHERE at < ?`, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
