// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for photoframe-go. It supports a
// four-layer override chain (defaults -> config file -> environment -> CLI
// flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Paths   PathsConfig   `toml:"paths"`
	Auth    AuthConfig    `toml:"auth"`
	Picker  PickerConfig  `toml:"picker"`
	Cache   CacheConfig   `toml:"cache"`
	Display DisplayConfig `toml:"display"`
	Refresh RefreshConfig `toml:"refresh"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// PathsConfig locates persistent state. Empty values are filled from the
// platform directories by ResolvePaths.
type PathsConfig struct {
	DataDir         string `toml:"data_dir"`
	CacheDir        string `toml:"cache_dir"`
	CredentialsFile string `toml:"credentials_file"`
	TokenFile       string `toml:"token_file"`
}

// AuthConfig controls access token handling.
type AuthConfig struct {
	SafetyMargin time.Duration `toml:"safety_margin"`
}

// PickerConfig controls the picker session lifecycle.
type PickerConfig struct {
	BaseURL       string        `toml:"base_url"`
	PollInterval  time.Duration `toml:"poll_interval"`
	MaxPolls      int           `toml:"max_polls"`
	MaxSessionAge time.Duration `toml:"max_session_age"`

	// RetainSession keeps the session after the first download so the
	// refresh loop can keep re-listing it. When false the session is
	// deleted once its photos are cached.
	RetainSession bool `toml:"retain_session"`
}

// CacheConfig controls the download cache.
type CacheConfig struct {
	ParallelDownloads int `toml:"parallel_downloads"`
}

// DisplayConfig controls the slideshow feed.
type DisplayConfig struct {
	ListenAddr     string        `toml:"listen_addr"`
	Sort           string        `toml:"sort"`
	UpdateInterval time.Duration `toml:"update_interval"`
	RefillWindow   time.Duration `toml:"refill_window"`
	ShowWidth      int           `toml:"show_width"`
	ShowHeight     int           `toml:"show_height"`
	AllowedOrigins []string      `toml:"allowed_origins"`
}

// RefreshConfig controls the background timers.
type RefreshConfig struct {
	Interval  time.Duration `toml:"interval"`
	InitRetry time.Duration `toml:"init_retry"`
}

// LoggingConfig controls log output behavior: level, format and file.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	DataTimeout    time.Duration `toml:"data_timeout"`
	UserAgent      string        `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish
// "not specified" (nil) from an explicit value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	ListenAddr *string // --listen flag
	LogLevel   *string // derived from --verbose / --quiet
}
