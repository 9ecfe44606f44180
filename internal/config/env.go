package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Environment variable names for overrides.
const (
	EnvConfig     = "PHOTOFRAME_CONFIG"
	EnvDataDir    = "PHOTOFRAME_DATA_DIR"
	EnvCacheDir   = "PHOTOFRAME_CACHE_DIR"
	EnvListenAddr = "PHOTOFRAME_LISTEN_ADDR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string `env:"PHOTOFRAME_CONFIG"`
	DataDir    string `env:"PHOTOFRAME_DATA_DIR"`
	CacheDir   string `env:"PHOTOFRAME_CACHE_DIR"`
	ListenAddr string `env:"PHOTOFRAME_LISTEN_ADDR"`
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config; Resolve applies the fields.
func ReadEnvOverrides() (EnvOverrides, error) {
	overrides, err := env.ParseAs[EnvOverrides]()
	if err != nil {
		return EnvOverrides{}, fmt.Errorf("parse env: %w", err)
	}

	return overrides, nil
}
