package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	API      APIConfig      `mapstructure:"api"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SearchIndex string        `mapstructure:"search_index"`
}

type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	// AllowLocal permits loopback and private hosts for base_url and thumbnails.
	AllowLocal bool `mapstructure:"allow_local"`
	// SendRate caps submissions per second; 0 disables the cap.
	SendRate int `mapstructure:"send_rate"`
	// RefreshPath is the token refresh endpoint. Empty means the API has none.
	RefreshPath string `mapstructure:"refresh_path"`
}

type QueueConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	BatchSize   int           `mapstructure:"batch_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
	// PendingLimit bounds listings of pending items.
	PendingLimit int `mapstructure:"pending_limit"`
}

type CacheConfig struct {
	PollMaxAge       time.Duration `mapstructure:"poll_max_age"`
	DetailMaxAge     time.Duration `mapstructure:"detail_max_age"`
	KeepDays         int           `mapstructure:"keep_days"`
	ThumbnailWorkers int           `mapstructure:"thumbnail_workers"`
	NegativeTTL      time.Duration `mapstructure:"negative_ttl"`
}

type SyncConfig struct {
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	ProbeMaxInterval time.Duration `mapstructure:"probe_max_interval"`
	RecheckSchedule  string        `mapstructure:"recheck_schedule"`
	SweepSchedule    string        `mapstructure:"sweep_schedule"`
	Listen           string        `mapstructure:"listen"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// POLLSYNC_QUEUE_CONCURRENCY overrides queue.concurrency.
var envKeyReplacer = strings.NewReplacer(".", "_")

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dbPath := filepath.Join(homeDir, ".pollsync.db")
	searchIndexPath := filepath.Join(homeDir, ".pollsync", "index.bleve")

	return &Config{
		Database: DatabaseConfig{
			Path:        dbPath,
			Timeout:     1 * time.Second,
			SearchIndex: searchIndexPath,
		},
		API: APIConfig{
			BaseURL:     "http://localhost:3000/api",
			Timeout:     30 * time.Second,
			UserAgent:   "pollsync/1.0 (https://github.com/pders01/pollsync)",
			SendRate:    10,
			RefreshPath: "/auth/refresh",
		},
		Queue: QueueConfig{
			Concurrency:  2,
			BatchSize:    100,
			MaxRetries:   5,
			BackoffBase:  1 * time.Second,
			BackoffMax:   30 * time.Second,
			PendingLimit: 50,
		},
		Cache: CacheConfig{
			PollMaxAge:       24 * time.Hour,
			DetailMaxAge:     7 * 24 * time.Hour,
			KeepDays:         30,
			ThumbnailWorkers: 4,
			NegativeTTL:      10 * time.Minute,
		},
		Sync: SyncConfig{
			ProbeInterval:    15 * time.Second,
			ProbeMaxInterval: 2 * time.Minute,
			RecheckSchedule:  "@every 5m",
			SweepSchedule:    "@daily",
			Listen:           "127.0.0.1:7878",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config file (explicit path, or config.toml from
// ~/.config/pollsync and the working directory), then POLLSYNC_* variables,
// which may come from a .env file.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	cfg := defaultConfig()
	for section, value := range settings(cfg) {
		v.SetDefault(section, value)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		configDir := filepath.Join(homeDir, ".config", "pollsync")

		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	// A missing .env is the normal case.
	_ = godotenv.Load()

	v.SetEnvPrefix("POLLSYNC")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects values the sync core cannot run with.
func (c *Config) Validate() error {
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1, got %d", c.Queue.Concurrency)
	}
	if c.Queue.BatchSize < 1 {
		return fmt.Errorf("queue.batch_size must be at least 1, got %d", c.Queue.BatchSize)
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must not be negative, got %d", c.Queue.MaxRetries)
	}
	if c.Cache.KeepDays < 1 {
		return fmt.Errorf("cache.keep_days must be at least 1, got %d", c.Cache.KeepDays)
	}
	if c.API.SendRate < 0 {
		return fmt.Errorf("api.send_rate must not be negative, got %d", c.API.SendRate)
	}
	if p := c.API.RefreshPath; p != "" && !strings.HasPrefix(p, "/") {
		return fmt.Errorf("api.refresh_path must start with /, got %q", p)
	}
	return nil
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Database.SearchIndex = expandPath(cfg.Database.SearchIndex)
	if cfg.Log.File != "-" {
		cfg.Log.File = expandPath(cfg.Log.File)
	}
}

// settings flattens the config into per-section maps with durations as
// strings, the shape written to TOML files.
func settings(config *Config) map[string]any {
	return map[string]any{
		"database": map[string]any{
			"path":         config.Database.Path,
			"timeout":      config.Database.Timeout.String(),
			"search_index": config.Database.SearchIndex,
		},
		"api": map[string]any{
			"base_url":     config.API.BaseURL,
			"timeout":      config.API.Timeout.String(),
			"user_agent":   config.API.UserAgent,
			"allow_local":  config.API.AllowLocal,
			"send_rate":    config.API.SendRate,
			"refresh_path": config.API.RefreshPath,
		},
		"queue": map[string]any{
			"concurrency":   config.Queue.Concurrency,
			"batch_size":    config.Queue.BatchSize,
			"max_retries":   config.Queue.MaxRetries,
			"backoff_base":  config.Queue.BackoffBase.String(),
			"backoff_max":   config.Queue.BackoffMax.String(),
			"pending_limit": config.Queue.PendingLimit,
		},
		"cache": map[string]any{
			"poll_max_age":      config.Cache.PollMaxAge.String(),
			"detail_max_age":    config.Cache.DetailMaxAge.String(),
			"keep_days":         config.Cache.KeepDays,
			"thumbnail_workers": config.Cache.ThumbnailWorkers,
			"negative_ttl":      config.Cache.NegativeTTL.String(),
		},
		"sync": map[string]any{
			"probe_interval":     config.Sync.ProbeInterval.String(),
			"probe_max_interval": config.Sync.ProbeMaxInterval.String(),
			"recheck_schedule":   config.Sync.RecheckSchedule,
			"sweep_schedule":     config.Sync.SweepSchedule,
			"listen":             config.Sync.Listen,
		},
		"log": map[string]any{
			"level": config.Log.Level,
			"file":  config.Log.File,
		},
	}
}

func Save(config *Config, path string) error {
	v := viper.New()
	for section, value := range settings(config) {
		v.Set(section, value)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

// Render returns the effective configuration as TOML.
func Render(config *Config) ([]byte, error) {
	out, err := toml.Marshal(settings(config))
	if err != nil {
		return nil, fmt.Errorf("rendering config: %w", err)
	}
	return out, nil
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
