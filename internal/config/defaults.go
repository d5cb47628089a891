package config

import "time"

// Default values, chosen to match safe daemon behavior without a config file.
const (
	defaultWorkers          = 2
	defaultPollInterval     = "5m"
	defaultMaxAttempts      = 5
	defaultConflictStrategy = ConflictKeepBoth
	defaultProbeAddress     = "graph.microsoft.com:443"
	defaultProbeInterval    = "15s"
	defaultLogLevel         = "DEBUG"
	defaultLogFormat        = "auto"

	defaultPollDuration  = 5 * time.Minute
	defaultProbeDuration = 15 * time.Second
)

// DefaultConfig returns a Config populated with all default values. It is
// used as the starting point for TOML decoding so that unset fields keep
// their defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers:          defaultWorkers,
		PollInterval:     defaultPollInterval,
		MaxAttempts:      defaultMaxAttempts,
		ConflictStrategy: defaultConflictStrategy,
		Network: NetworkConfig{
			ProbeAddress:  defaultProbeAddress,
			ProbeInterval: defaultProbeInterval,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Drives: make(map[string]DriveConfig),
	}
}
