package config

import "time"

// TestConfig returns a config suitable for testing
func TestConfig() *Config {
	cfg := defaultConfig()
	cfg.Database = DatabaseConfig{
		Path:    ":memory:",
		Timeout: 1 * time.Second,
	}
	cfg.API = APIConfig{
		BaseURL:     "http://127.0.0.1:0",
		Timeout:     5 * time.Second,
		UserAgent:   "pollsync-test/1.0",
		AllowLocal:  true,
		RefreshPath: "/auth/refresh",
	}
	cfg.Queue.BackoffBase = 0
	cfg.Queue.BackoffMax = 0
	cfg.Sync.ProbeInterval = 10 * time.Millisecond
	cfg.Sync.ProbeMaxInterval = 50 * time.Millisecond
	cfg.Log = LogConfig{Level: "off"}
	return cfg
}
