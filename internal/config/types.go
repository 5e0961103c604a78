package config

import "time"

type Config struct {
	Behavior BehaviorConfig `json:"behavior"`
	Bot      BotConfig      `json:"bot"`
	Logging  LoggingConfig  `json:"logging"`
	Database DatabaseConfig `json:"database"`
	Metrics  MetricsConfig  `json:"metrics,omitempty"`
}

// BehaviorConfig tunes the notification pipeline.
//
// All durations are Go duration strings (e.g. "30s", "2m").
type BehaviorConfig struct {
	// MaxKeywords caps the subscriptions one user may hold.
	MaxKeywords int `json:"max_keywords,omitempty"`

	// Patience is how long a watch waits for a disqualifying follow-up
	// before delivering.
	Patience string `json:"patience,omitempty"`
}

const (
	DefaultMaxKeywords = 100
	DefaultPatience    = 2 * time.Minute
)

// PatienceDuration resolves the patience window, defaulting to two minutes.
func (c BehaviorConfig) PatienceDuration() (time.Duration, error) {
	return ParseDurationOrDefault("behavior.patience", c.Patience, DefaultPatience)
}

type BotConfig struct {
	Token string `json:"token"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"` // default true
	File    FileConfig    `json:"file,omitempty"`
	Webhook WebhookConfig `json:"webhook,omitempty"`
}

func (c LoggingConfig) ConsoleEnabled() bool {
	return c.Console == nil || *c.Console
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// WebhookConfig controls the error-reporting webhook sink.
type WebhookConfig struct {
	URL        string `json:"url,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type DatabaseConfig struct {
	Path        string       `json:"path,omitempty"`
	BusyTimeout string       `json:"busy_timeout,omitempty"` // Go duration string
	Backup      BackupConfig `json:"backup,omitempty"`
}

const DefaultDatabasePath = "./data/keywatch.db"

func (c DatabaseConfig) ResolvedPath() string {
	if c.Path == "" {
		return DefaultDatabasePath
	}
	return c.Path
}

// BackupConfig schedules periodic database snapshots.
type BackupConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a standard five-field cron spec. Default: daily at 04:00.
	Schedule string `json:"schedule,omitempty"`
	Dir      string `json:"dir,omitempty"`
}

const DefaultBackupSchedule = "0 4 * * *"

func (c BackupConfig) ResolvedSchedule() string {
	if c.Schedule == "" {
		return DefaultBackupSchedule
	}
	return c.Schedule
}

func (c BackupConfig) ResolvedDir(databasePath string) string {
	if c.Dir != "" {
		return c.Dir
	}
	return databasePath + ".backups"
}

type MetricsConfig struct {
	// Addr is the prometheus listen address. Empty disables the server.
	Addr string `json:"addr,omitempty"`
	// PprofAddr is the pprof listen address (loopback only). Empty disables it.
	PprofAddr string `json:"pprof_addr,omitempty"`
}

func (c *Config) MaxKeywords() int {
	if c.Behavior.MaxKeywords <= 0 {
		return DefaultMaxKeywords
	}
	return c.Behavior.MaxKeywords
}
