package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{
		"behavior": {"max_keywords": 25, "patience": "90s"},
		"bot": {"token": "abc"},
		"logging": {"level": "debug"},
		"database": {"path": "/tmp/kw.db"}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.Token != "abc" {
		t.Fatalf("token = %q", cfg.Bot.Token)
	}
	if cfg.MaxKeywords() != 25 {
		t.Fatalf("max keywords = %d", cfg.MaxKeywords())
	}
	d, err := cfg.Behavior.PatienceDuration()
	if err != nil {
		t.Fatalf("patience: %v", err)
	}
	if d != 90*time.Second {
		t.Fatalf("patience = %v", d)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get returned a different config")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.yaml", `
behavior:
  patience: 30s
bot:
  token: xyz
database:
  backup:
    enabled: true
`)

	m := NewManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Bot.Token != "xyz" {
		t.Fatalf("token = %q", cfg.Bot.Token)
	}
	if !cfg.Database.Backup.Enabled {
		t.Fatalf("backup not enabled")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{"bot": {"token": "a", "tokne": "typo"}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("expected unknown-field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{"bot": {"token": "a"}} {"bot": {}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("expected trailing-data error")
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	if got := cfg.MaxKeywords(); got != DefaultMaxKeywords {
		t.Fatalf("max keywords = %d", got)
	}
	d, err := cfg.Behavior.PatienceDuration()
	if err != nil {
		t.Fatalf("patience: %v", err)
	}
	if d != DefaultPatience {
		t.Fatalf("patience = %v", d)
	}
	if got := cfg.Database.ResolvedPath(); got != DefaultDatabasePath {
		t.Fatalf("db path = %q", got)
	}
	if got := cfg.Database.Backup.ResolvedSchedule(); got != DefaultBackupSchedule {
		t.Fatalf("schedule = %q", got)
	}
	if got := cfg.Database.Backup.ResolvedDir("/srv/kw.db"); got != "/srv/kw.db.backups" {
		t.Fatalf("backup dir = %q", got)
	}
	if !cfg.Logging.ConsoleEnabled() {
		t.Fatalf("console should default on")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		want    time.Duration
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"seconds", "45s", 45 * time.Second, false},
		{"minutes", "2m", 2 * time.Minute, false},
		{"negative", "-5s", 0, true},
		{"garbage", "soon", 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDurationField("field", tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.value)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDurationField(%q): %v", tt.value, err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReloadKeepsPreviousOnBadConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{"bot": {"token": "first"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"bot": {`), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())
	if got := m.Get().Bot.Token; got != "first" {
		t.Fatalf("token = %q, want previous config retained", got)
	}
}

func TestReloadPublishesToSubscribers(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{"bot": {"token": "first"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if err := os.WriteFile(path, []byte(`{"bot": {"token": "second"}}`), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())

	select {
	case cfg := <-sub:
		if cfg.Bot.Token != "second" {
			t.Fatalf("token = %q", cfg.Bot.Token)
		}
	case <-time.After(time.Second):
		t.Fatalf("no config published")
	}

	// identical content must not publish again
	m.reload(context.Background())
	select {
	case cfg := <-sub:
		t.Fatalf("unexpected publish: %+v", cfg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestValidatorRejectsCommit(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{"bot": {"token": "first"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Bot.Token == "" {
			return errEmptyToken
		}
		return nil
	})

	if err := os.WriteFile(path, []byte(`{"bot": {"token": ""}}`), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())
	if got := m.Get().Bot.Token; got != "first" {
		t.Fatalf("token = %q, want rejected config not committed", got)
	}
}
