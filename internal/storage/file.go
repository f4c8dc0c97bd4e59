package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "adsbot/pkg/logx"
)

// fileStore is the dependency-free persistence backend.
//
// Files:
//   - <prefix>.users.json  (full snapshot, replaced atomically on every put)
//   - <prefix>.audit.jsonl (append-only JSON Lines)
//
// The snapshot is small (one record per admin), so rewriting it on every
// mutation is cheaper than journaling and keeps crash recovery trivial.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	usersPath string
	users     map[int64]UserConfig

	auditPath string
	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./adsbot-data.json"
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:       log,
		usersPath: prefix + ".users.json",
		auditPath: prefix + ".audit.jsonl",
	}
	s.users = s.readUsersSnapshot()

	af, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.auditFile = af
	return s, nil
}

// readUsersSnapshot never fails the startup: a corrupt snapshot degrades to
// defaults, per-record damage degrades per record.
func (s *fileStore) readUsersSnapshot() map[int64]UserConfig {
	out := map[int64]UserConfig{}

	b, err := os.ReadFile(s.usersPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("users snapshot unreadable; starting from defaults", logx.String("path", s.usersPath), logx.Err(err))
		}
		return out
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		s.log.Warn("users snapshot malformed; starting from defaults", logx.String("path", s.usersPath), logx.Err(err))
		return out
	}
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			s.log.Warn("users snapshot: skipping bad key", logx.String("key", k))
			continue
		}
		var cfg UserConfig
		if err := json.Unmarshal(v, &cfg); err != nil {
			s.log.Warn("users snapshot: bad record, using defaults", logx.Int64("user_id", id), logx.Err(err))
			cfg = DefaultUserConfig()
		}
		out[id] = cfg.Normalize()
	}
	return out
}

func (s *fileStore) LoadUsers(ctx context.Context) (map[int64]UserConfig, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]UserConfig, len(s.users))
	for id, cfg := range s.users {
		out[id] = cfg.Clone()
	}
	return out, nil
}

func (s *fileStore) PutUser(ctx context.Context, userID int64, cfg UserConfig) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = map[int64]UserConfig{}
	}
	s.users[userID] = cfg.Normalize().Clone()
	return s.writeUsersSnapshotLocked()
}

func (s *fileStore) writeUsersSnapshotLocked() error {
	raw := make(map[string]UserConfig, len(s.users))
	for id, cfg := range s.users {
		raw[strconv.FormatInt(id, 10)] = cfg
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.usersPath, b)
}

// atomicWrite replaces path via a same-directory temp file and rename, so a
// crash mid-write never leaves a truncated snapshot.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	_, werr := tmp.Write(data)
	serr := tmp.Sync()
	cerr := tmp.Close()
	if werr != nil || serr != nil || cerr != nil {
		_ = os.Remove(name)
		if werr != nil {
			return werr
		}
		if serr != nil {
			return serr
		}
		return cerr
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PruneAudit(ctx context.Context, cutoff time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return 0, errors.New("audit file closed")
	}

	f, err := os.Open(s.auditPath)
	if err != nil {
		return 0, err
	}
	var kept []AuditEntry
	dropped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			dropped++ // unparseable lines go away with the prune
			continue
		}
		if e.At.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	scanErr := sc.Err()
	_ = f.Close()
	if scanErr != nil {
		return 0, scanErr
	}
	if dropped == 0 {
		return 0, nil
	}

	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	for _, e := range kept {
		if err := enc.Encode(e); err != nil {
			return 0, err
		}
	}
	if err := atomicWrite(s.auditPath, []byte(buf.String())); err != nil {
		return 0, err
	}

	// Reopen the append handle against the new file.
	_ = s.auditFile.Close()
	af, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.auditFile = nil
		return dropped, err
	}
	s.auditFile = af
	return dropped, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile != nil {
		err := s.auditFile.Close()
		s.auditFile = nil
		return err
	}
	return nil
}
