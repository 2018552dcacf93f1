package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/keyhaven/keybridge/internal/companion"
)

// companiond config.toml key mapping to companion runtime settings.
type fileConfig struct {
	ID          string `toml:"id"`
	ListenAddr  string `toml:"listen_addr"`
	AdminListen string `toml:"admin_listen_addr"`
	Production  bool   `toml:"production"`
	Workers     int    `toml:"workers"`
}

// companiond loader for TOML config with default overlay.
func loadCompanionConfig(path string) (companion.Config, error) {
	cfg := companion.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return companion.Config{}, fmt.Errorf("load companiond config: %w", err)
	}

	if meta.IsDefined("id") {
		cfg.ID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminListen)
	}
	if meta.IsDefined("production") {
		cfg.Production = raw.Production
	}
	if meta.IsDefined("workers") {
		if raw.Workers < 1 {
			return companion.Config{}, fmt.Errorf("load companiond config: workers must be >= 1, got %d", raw.Workers)
		}
		cfg.Workers = raw.Workers
	}

	return cfg.WithDefaults(), nil
}
