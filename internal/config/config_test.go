package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Timeout != 1*time.Second {
		t.Errorf("Database.Timeout = %v, want 1s", cfg.Database.Timeout)
	}

	// Queue defaults drive the drain algorithm
	if cfg.Queue.Concurrency != 2 {
		t.Errorf("Queue.Concurrency = %d, want 2", cfg.Queue.Concurrency)
	}
	if cfg.Queue.BatchSize != 100 {
		t.Errorf("Queue.BatchSize = %d, want 100", cfg.Queue.BatchSize)
	}
	if cfg.Queue.MaxRetries != 5 {
		t.Errorf("Queue.MaxRetries = %d, want 5", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.BackoffBase != time.Second || cfg.Queue.BackoffMax != 30*time.Second {
		t.Errorf("Queue backoff = %v/%v, want 1s/30s", cfg.Queue.BackoffBase, cfg.Queue.BackoffMax)
	}

	if cfg.Cache.KeepDays != 30 {
		t.Errorf("Cache.KeepDays = %d, want 30", cfg.Cache.KeepDays)
	}
	if cfg.Cache.PollMaxAge != 24*time.Hour {
		t.Errorf("Cache.PollMaxAge = %v, want 24h", cfg.Cache.PollMaxAge)
	}
	if cfg.API.UserAgent == "" {
		t.Error("API.UserAgent should not be empty")
	}
	if cfg.Sync.Listen != "127.0.0.1:7878" {
		t.Errorf("Sync.Listen = %s, want 127.0.0.1:7878", cfg.Sync.Listen)
	}
}

func TestLoad_DefaultConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}

	if cfg.Queue.Concurrency != 2 {
		t.Errorf("Queue.Concurrency = %d, want 2", cfg.Queue.Concurrency)
	}
	if cfg.Sync.ProbeInterval != 15*time.Second {
		t.Errorf("Sync.ProbeInterval = %v, want 15s", cfg.Sync.ProbeInterval)
	}
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "test-config.toml")
	configContent := `
[database]
path = "/tmp/test.db"
timeout = "10s"

[api]
base_url = "https://polls.example.com/api"
timeout = "60s"
user_agent = "test-agent"

[queue]
concurrency = 4

[cache]
keep_days = 7
`

	if writeErr := os.WriteFile(configPath, []byte(configContent), 0o644); writeErr != nil {
		t.Fatal(writeErr)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %s, want '/tmp/test.db'", cfg.Database.Path)
	}
	if cfg.Database.Timeout != 10*time.Second {
		t.Errorf("Database.Timeout = %v, want 10s", cfg.Database.Timeout)
	}
	if cfg.API.BaseURL != "https://polls.example.com/api" {
		t.Errorf("API.BaseURL = %s", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 60*time.Second {
		t.Errorf("API.Timeout = %v, want 60s", cfg.API.Timeout)
	}
	if cfg.Queue.Concurrency != 4 {
		t.Errorf("Queue.Concurrency = %d, want 4", cfg.Queue.Concurrency)
	}
	// untouched keys keep their defaults
	if cfg.Queue.MaxRetries != 5 {
		t.Errorf("Queue.MaxRetries = %d, want 5", cfg.Queue.MaxRetries)
	}
	if cfg.Cache.KeepDays != 7 {
		t.Errorf("Cache.KeepDays = %d, want 7", cfg.Cache.KeepDays)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := GenerateDefaultConfig(configPath); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POLLSYNC_QUEUE_CONCURRENCY", "8")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Queue.Concurrency != 8 {
		t.Errorf("Queue.Concurrency = %d, want 8 from environment", cfg.Queue.Concurrency)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(configPath, []byte("[queue]\nconcurrency = 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for zero concurrency")
	}
}

func TestValidate_RefreshPath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/auth/refresh", false},
		{"", false},
		{"auth/refresh", true},
	}
	for _, tt := range tests {
		cfg := defaultConfig()
		cfg.API.RefreshPath = tt.path
		if err := cfg.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("Validate() with refresh_path %q: err = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
	}
}

func TestLoad_EmptyRefreshPathDisablesRefresh(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[api]\nrefresh_path = \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.RefreshPath != "" {
		t.Errorf("API.RefreshPath = %q, want empty", cfg.API.RefreshPath)
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := defaultConfig()
	cfg.Database.Path = "/test/path.db"
	cfg.API.UserAgent = "test-save-agent"
	cfg.Queue.BackoffMax = 45 * time.Second
	cfg.Sync.RecheckSchedule = "@every 1m"

	savePath := filepath.Join(tmpDir, "nested", "saved-config.toml")
	if saveErr := Save(cfg, savePath); saveErr != nil {
		t.Fatalf("Save() error = %v", saveErr)
	}

	if _, statErr := os.Stat(savePath); os.IsNotExist(statErr) {
		t.Fatal("Save() did not create config file")
	}

	loaded, err := Load(savePath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if loaded.Database.Path != cfg.Database.Path {
		t.Errorf("Loaded Database.Path = %s, want %s", loaded.Database.Path, cfg.Database.Path)
	}
	if loaded.API.UserAgent != cfg.API.UserAgent {
		t.Errorf("Loaded API.UserAgent = %s, want %s", loaded.API.UserAgent, cfg.API.UserAgent)
	}
	if loaded.Queue.BackoffMax != 45*time.Second {
		t.Errorf("Loaded Queue.BackoffMax = %v, want 45s", loaded.Queue.BackoffMax)
	}
	if loaded.Sync.RecheckSchedule != "@every 1m" {
		t.Errorf("Loaded Sync.RecheckSchedule = %s", loaded.Sync.RecheckSchedule)
	}
}

func TestGenerateDefaultConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "generated.toml")
	if genErr := GenerateDefaultConfig(configPath); genErr != nil {
		t.Fatalf("GenerateDefaultConfig() error = %v", genErr)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}

	if cfg.Cache.ThumbnailWorkers != 4 {
		t.Errorf("Generated config has Cache.ThumbnailWorkers = %d, want 4", cfg.Cache.ThumbnailWorkers)
	}
}

func TestRender(t *testing.T) {
	out, err := Render(defaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	text := string(out)
	for _, want := range []string{"[queue]", "concurrency = 2", "backoff_max = ", "30s", "[sync]"} {
		if !strings.Contains(text, want) {
			t.Errorf("rendered config missing %q:\n%s", want, text)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := expandPath("~/x.db"); got != filepath.Join(home, "x.db") {
		t.Errorf("expandPath(~/x.db) = %s", got)
	}
	if got := expandPath(""); got != "" {
		t.Errorf("expandPath(\"\") = %q, want empty", got)
	}
	if got := expandPath("rel.db"); !filepath.IsAbs(got) {
		t.Errorf("expandPath(rel.db) = %s, want absolute", got)
	}
}

func TestTestConfig(t *testing.T) {
	cfg := TestConfig()

	if cfg == nil {
		t.Fatal("TestConfig() returned nil")
	}

	if cfg.Database.Path != ":memory:" {
		t.Errorf("TestConfig Database.Path = %s, want ':memory:'", cfg.Database.Path)
	}
	if cfg.API.UserAgent != "pollsync-test/1.0" {
		t.Errorf("TestConfig API.UserAgent = %s, want 'pollsync-test/1.0'", cfg.API.UserAgent)
	}
	if cfg.Queue.BackoffBase != 0 {
		t.Errorf("TestConfig should disable backoff, got %v", cfg.Queue.BackoffBase)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("TestConfig does not validate: %v", err)
	}
}
