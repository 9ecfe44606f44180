package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Validation range constants.
const (
	minSafetyMargin      = 30 * time.Second
	maxSafetyMargin      = 30 * time.Minute
	minPickerPoll        = 2 * time.Second
	maxPickerPoll        = 30 * time.Second
	minMaxPolls          = 1
	maxMaxPolls          = 10_000
	minSessionAge        = time.Hour
	minParallelDownloads = 1
	maxParallelDownloads = 16
	minUpdateInterval    = 10 * time.Second
	minRefillWindow      = time.Minute
	minRefreshInterval   = time.Minute
	maxRefreshInterval   = 55 * time.Minute
	minInitRetry         = 10 * time.Second
	maxShowDimension     = 16_384
	minConnectTimeout    = 1 * time.Second
	minDataTimeout       = 5 * time.Second
)

// Validate checks all configuration values and returns every error found,
// so users can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validatePicker(&cfg.Picker)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateDisplay(&cfg.Display)...)
	errs = append(errs, validateRefresh(&cfg.Refresh)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateResolved checks the fully resolved config after env and CLI
// overrides and path defaults have been applied.
func ValidateResolved(cfg *Config) error {
	var errs []error

	paths := []struct {
		name, value string
	}{
		{"data_dir", cfg.Paths.DataDir},
		{"cache_dir", cfg.Paths.CacheDir},
		{"credentials_file", cfg.Paths.CredentialsFile},
		{"token_file", cfg.Paths.TokenFile},
	}

	for _, p := range paths {
		switch {
		case p.value == "":
			errs = append(errs, fmt.Errorf("paths.%s: could not be determined, set it explicitly", p.name))
		case !filepath.IsAbs(p.value):
			errs = append(errs, fmt.Errorf("paths.%s: must be absolute, got %q", p.name, p.value))
		}
	}

	errs = append(errs, validateListenAddr(cfg.Display.ListenAddr)...)

	return errors.Join(errs...)
}

func validateAuth(a *AuthConfig) []error {
	return checkDurationRange("auth.safety_margin", a.SafetyMargin, minSafetyMargin, maxSafetyMargin)
}

func validatePicker(p *PickerConfig) []error {
	var errs []error

	if p.BaseURL != "" {
		u, err := url.Parse(p.BaseURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs = append(errs, fmt.Errorf("picker.base_url: must be an http(s) URL, got %q", p.BaseURL))
		}
	}

	errs = append(errs, checkDurationRange("picker.poll_interval", p.PollInterval, minPickerPoll, maxPickerPoll)...)

	if p.MaxPolls < minMaxPolls || p.MaxPolls > maxMaxPolls {
		errs = append(errs, fmt.Errorf("picker.max_polls: must be between %d and %d, got %d",
			minMaxPolls, maxMaxPolls, p.MaxPolls))
	}

	if p.MaxSessionAge < minSessionAge {
		errs = append(errs, fmt.Errorf("picker.max_session_age: must be at least %s, got %s",
			minSessionAge, p.MaxSessionAge))
	}

	return errs
}

func validateCache(c *CacheConfig) []error {
	if c.ParallelDownloads < minParallelDownloads || c.ParallelDownloads > maxParallelDownloads {
		return []error{fmt.Errorf("cache.parallel_downloads: must be between %d and %d, got %d",
			minParallelDownloads, maxParallelDownloads, c.ParallelDownloads)}
	}

	return nil
}

func validateDisplay(d *DisplayConfig) []error {
	var errs []error

	switch d.Sort {
	case "new", "old", "random":
	default:
		errs = append(errs, fmt.Errorf("display.sort: must be one of new, old, random; got %q", d.Sort))
	}

	if d.UpdateInterval < minUpdateInterval {
		errs = append(errs, fmt.Errorf("display.update_interval: must be at least %s, got %s",
			minUpdateInterval, d.UpdateInterval))
	}

	if d.RefillWindow < minRefillWindow {
		errs = append(errs, fmt.Errorf("display.refill_window: must be at least %s, got %s",
			minRefillWindow, d.RefillWindow))
	}

	for _, dim := range []struct {
		name string
		v    int
	}{{"show_width", d.ShowWidth}, {"show_height", d.ShowHeight}} {
		if dim.v < 0 || dim.v > maxShowDimension {
			errs = append(errs, fmt.Errorf("display.%s: must be between 0 and %d, got %d",
				dim.name, maxShowDimension, dim.v))
		}
	}

	if (d.ShowWidth == 0) != (d.ShowHeight == 0) {
		errs = append(errs, errors.New("display.show_width and display.show_height: set both or neither"))
	}

	return errs
}

func validateRefresh(r *RefreshConfig) []error {
	var errs []error

	errs = append(errs, checkDurationRange("refresh.interval", r.Interval, minRefreshInterval, maxRefreshInterval)...)

	if r.InitRetry < minInitRetry {
		errs = append(errs, fmt.Errorf("refresh.init_retry: must be at least %s, got %s", minInitRetry, r.InitRetry))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if _, err := ParseLogLevel(l.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("logging.log_level: %w", err))
	}

	switch l.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if n.ConnectTimeout < minConnectTimeout {
		errs = append(errs, fmt.Errorf("network.connect_timeout: must be at least %s, got %s",
			minConnectTimeout, n.ConnectTimeout))
	}

	if n.DataTimeout < minDataTimeout {
		errs = append(errs, fmt.Errorf("network.data_timeout: must be at least %s, got %s",
			minDataTimeout, n.DataTimeout))
	}

	return errs
}

func validateListenAddr(addr string) []error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return []error{fmt.Errorf("display.listen_addr: %w", err)}
	}

	return nil
}

func checkDurationRange(name string, d, lo, hi time.Duration) []error {
	if d < lo || d > hi {
		return []error{fmt.Errorf("%s: must be between %s and %s, got %s", name, lo, hi, d)}
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error; got %q", s)
	}
}
