package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	MTProto  MTProtoConfig  `json:"mtproto"`

	// Admins is the allow-list of controlling user ids. Anyone else is
	// silently ignored by every entry point.
	Admins []int64 `json:"admins"`

	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
	Pprof       *PprofConfig       `json:"pprof,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// MTProtoConfig identifies the application against Telegram's MTProto API for
// the delegated user sessions that actually send the ads.
type MTProtoConfig struct {
	APIID   int    `json:"api_id"`
	APIHash string `json:"api_hash"`

	// SessionDir holds one session file per authenticated admin.
	SessionDir string `json:"session_dir,omitempty"`
}

type LoggingConfig struct {
	Level    string             `json:"level,omitempty"`
	Console  bool               `json:"console"`
	File     LogFileConfig      `json:"file,omitempty"`
	Operator *LogOperatorConfig `json:"operator,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// LogOperatorConfig mirrors WARN+ lines into a Telegram chat.
type LogOperatorConfig struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type StorageConfig struct {
	// Driver: "file" (default) or "sqlite".
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`

	// BusyTimeout is a Go duration string; sqlite only.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// PprofConfig controls the optional debug HTTP listener.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`

	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
}

type MaintenanceConfig struct {
	// Schedule is a cron expression for the nightly audit prune.
	// Empty disables maintenance.
	Schedule string `json:"schedule,omitempty"`

	// AuditRetention is a Go duration string; audit entries older than this
	// are pruned. Defaults to 720h.
	AuditRetention string `json:"audit_retention,omitempty"`
}

// Validate checks the fields the process cannot run without.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if c.MTProto.APIID == 0 || strings.TrimSpace(c.MTProto.APIHash) == "" {
		return errors.New("mtproto.api_id and mtproto.api_hash are required")
	}
	if len(c.Admins) == 0 {
		return errors.New("admins must list at least one user id")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	return nil
}

// AdminSet returns the allow-list as a set for O(1) checks.
func (c *Config) AdminSet() map[int64]struct{} {
	set := make(map[int64]struct{}, len(c.Admins))
	for _, id := range c.Admins {
		set[id] = struct{}{}
	}
	return set
}
