package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/keyhaven/keybridge/internal/bridge/cache"
)

// clientConfig is everything bridgectl needs to reach a companion: how to
// obtain the stream and where cached reads live between runs.
type clientConfig struct {
	Addr          string
	CompanionPath string
	CompanionArgs []string
	CacheDir      string
	TTL           time.Duration
	CallTimeout   time.Duration
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		TTL:         cache.DefaultTTL,
		CallTimeout: 10 * time.Second,
	}
}

// bridgectl config.toml key mapping.
type fileConfig struct {
	Addr          string   `toml:"addr"`
	CompanionPath string   `toml:"companion_path"`
	CompanionArgs []string `toml:"companion_args"`
	CacheDir      string   `toml:"cache_dir"`
	TTLSeconds    int      `toml:"cache_ttl_seconds"`
	CallTimeoutMs int      `toml:"call_timeout_ms"`
}

// bridgectl loader for TOML config with default overlay.
func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load bridgectl config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("companion_path") {
		cfg.CompanionPath = strings.TrimSpace(raw.CompanionPath)
	}
	if meta.IsDefined("companion_args") {
		cfg.CompanionArgs = raw.CompanionArgs
	}
	if meta.IsDefined("cache_dir") {
		cfg.CacheDir = strings.TrimSpace(raw.CacheDir)
	}
	if meta.IsDefined("cache_ttl_seconds") {
		if raw.TTLSeconds < 1 {
			return clientConfig{}, fmt.Errorf("load bridgectl config: cache_ttl_seconds must be >= 1, got %d", raw.TTLSeconds)
		}
		cfg.TTL = time.Duration(raw.TTLSeconds) * time.Second
	}
	if meta.IsDefined("call_timeout_ms") {
		if raw.CallTimeoutMs < 1 {
			return clientConfig{}, fmt.Errorf("load bridgectl config: call_timeout_ms must be >= 1, got %d", raw.CallTimeoutMs)
		}
		cfg.CallTimeout = time.Duration(raw.CallTimeoutMs) * time.Millisecond
	}

	return cfg, nil
}
