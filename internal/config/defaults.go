package config

import "time"

// Default values for configuration options. These are "layer 0" of the
// four-layer override chain.
const (
	defaultSafetyMargin      = 2 * time.Minute
	defaultPickerPoll        = 15 * time.Second
	defaultMaxPolls          = 360
	defaultMaxSessionAge     = 7 * 24 * time.Hour
	defaultParallelDownloads = 4
	defaultListenAddr        = "127.0.0.1:8080"
	defaultSort              = "new"
	defaultUpdateInterval    = 30 * time.Second
	defaultRefillWindow      = 20 * time.Minute
	defaultRefreshInterval   = 50 * time.Minute
	defaultInitRetry         = 3 * time.Minute
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultConnectTimeout    = 10 * time.Second
	defaultDataTimeout       = 60 * time.Second
)

// DefaultConfig returns a Config populated with all default values. It is
// both the starting point for TOML decoding (so unset fields keep their
// defaults) and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Auth: AuthConfig{
			SafetyMargin: defaultSafetyMargin,
		},
		Picker: PickerConfig{
			PollInterval:  defaultPickerPoll,
			MaxPolls:      defaultMaxPolls,
			MaxSessionAge: defaultMaxSessionAge,
			RetainSession: true,
		},
		Cache: CacheConfig{
			ParallelDownloads: defaultParallelDownloads,
		},
		Display: DisplayConfig{
			ListenAddr:     defaultListenAddr,
			Sort:           defaultSort,
			UpdateInterval: defaultUpdateInterval,
			RefillWindow:   defaultRefillWindow,
		},
		Refresh: RefreshConfig{
			Interval:  defaultRefreshInterval,
			InitRetry: defaultInitRetry,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
	}
}
