package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "photoframe-go"

// File names inside the platform directories.
const (
	configFileName      = "config.toml"
	credentialsFileName = "credentials.json"
	tokenFileName       = "token.json"
	ledgerFileName      = "ledger.db"
	pidFileName         = "photoframe.pid"
	photosSubdir        = "photos"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/photoframe-go).
// On macOS, uses ~/Library/Application Support/photoframe-go.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", home, ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for application
// state (token, session, ledger).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", home, ".local", "share")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// DefaultCacheDir returns the platform-specific directory for downloaded
// photos.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CACHE_HOME", home, ".cache")
	case platformDarwin:
		return filepath.Join(home, "Library", "Caches", appName)
	default:
		return filepath.Join(home, ".cache", appName)
	}
}

// xdgDir honors an XDG base directory variable, falling back to the given
// path under home.
func xdgDir(envVar, home string, fallback ...string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	parts := append([]string{home}, fallback...)

	return filepath.Join(append(parts, appName)...)
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// ResolvePaths fills empty path settings from the platform directories and
// expands a leading "~/".
func ResolvePaths(cfg *Config) {
	p := &cfg.Paths

	if p.DataDir == "" {
		p.DataDir = DefaultDataDir()
	}

	if p.CacheDir == "" {
		if base := DefaultCacheDir(); base != "" {
			p.CacheDir = filepath.Join(base, photosSubdir)
		}
	}

	if p.CredentialsFile == "" {
		if dir := DefaultConfigDir(); dir != "" {
			p.CredentialsFile = filepath.Join(dir, credentialsFileName)
		}
	}

	if p.TokenFile == "" && p.DataDir != "" {
		p.TokenFile = filepath.Join(p.DataDir, tokenFileName)
	}

	p.DataDir = expandHome(p.DataDir)
	p.CacheDir = expandHome(p.CacheDir)
	p.CredentialsFile = expandHome(p.CredentialsFile)
	p.TokenFile = expandHome(p.TokenFile)
}

// LedgerPath returns the ledger database path.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.DataDir, ledgerFileName)
}

// PIDPath returns the serve command's PID file path.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, pidFileName)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
