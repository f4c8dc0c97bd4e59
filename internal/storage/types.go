package storage

import "time"

// Config configures storage.
//
// Driver values:
//   - "file": snapshot JSON for user records, JSONL audit log (default)
//   - "sqlite": SQLite database file (build tag "sqlite")
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// UserConfig is one admin's ad-broadcast configuration.
//
// Running mirrors whether a broadcast task is believed live for this user.
// It is repaired to false on startup: sessions are transient, so a task can
// never survive a restart.
type UserConfig struct {
	Destinations    []string `json:"destinations"`
	Message         string   `json:"message"`
	IntervalSeconds int      `json:"interval_seconds"`
	Running         bool     `json:"running"`
}

const DefaultIntervalSeconds = 60

// DefaultUserConfig is the record created lazily on first interaction.
func DefaultUserConfig() UserConfig {
	return UserConfig{IntervalSeconds: DefaultIntervalSeconds}
}

// Normalize repairs values a malformed or hand-edited record may carry.
func (c UserConfig) Normalize() UserConfig {
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = DefaultIntervalSeconds
	}
	if c.Destinations == nil {
		c.Destinations = []string{}
	}
	return c
}

// Clone returns a deep copy so callers can mutate without aliasing the
// stored slice.
func (c UserConfig) Clone() UserConfig {
	cp := c
	cp.Destinations = append([]string(nil), c.Destinations...)
	return cp
}

// AuditEntry records one operator action or broadcast cycle summary.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time
	ActorID int64
	Action  string
	Target  string
	Detail  string
	Error   string
}
