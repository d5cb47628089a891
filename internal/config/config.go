// Package config handles loading, validation, and defaulting of the
// onedrived configuration file. The daemon reads a single TOML file from
// the configuration directory; CLI flags override file values.
package config

import (
	"fmt"
	"time"
)

// Drive account types.
const (
	DriveTypePersonal = "personal"
	DriveTypeBusiness = "business"
)

// Conflict resolution strategies for files changed on both sides.
const (
	ConflictKeepBoth   = "keep_both"
	ConflictKeepLocal  = "keep_local"
	ConflictKeepRemote = "keep_remote"
)

// Config is the root configuration structure, decoded from onedrived.toml.
type Config struct {
	// Workers is the number of concurrent task workers.
	Workers int `toml:"workers"`

	// PollInterval is how often the scheduler re-seeds root sync tasks.
	PollInterval string `toml:"poll_interval"`

	// MaxAttempts bounds retryable task executions before terminal failure.
	MaxAttempts int `toml:"max_attempts"`

	// ConflictStrategy selects the policy for both-sides-changed files.
	ConflictStrategy string `toml:"conflict_strategy"`

	Network NetworkConfig `toml:"network"`
	Logging LoggingConfig `toml:"logging"`

	// Drives maps drive IDs to their local sync configuration.
	Drives map[string]DriveConfig `toml:"drives"`
}

// NetworkConfig controls the reachability monitor.
type NetworkConfig struct {
	// ProbeAddress is the host:port the monitor dials to test reachability.
	ProbeAddress string `toml:"probe_address"`

	// ProbeInterval is how often reachability is re-checked.
	ProbeInterval string `toml:"probe_interval"`
}

// LoggingConfig controls log output. CLI flags take precedence.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // "auto", "text", or "json"
}

// DriveConfig describes one remote drive to synchronize.
type DriveConfig struct {
	// Type is "personal" or "business".
	Type string `toml:"type"`

	// SyncRoot is the local directory mirrored against the drive root.
	SyncRoot string `toml:"sync_root"`
}

// PollDuration parses the scheduler interval. Validate guarantees it parses.
func (c *Config) PollDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return defaultPollDuration
	}

	return d
}

// ProbeDuration parses the network probe interval.
func (c *NetworkConfig) ProbeDuration() time.Duration {
	d, err := time.ParseDuration(c.ProbeInterval)
	if err != nil {
		return defaultProbeDuration
	}

	return d
}

// Validate checks a decoded Config for values the daemon cannot run with.
func Validate(cfg *Config) error {
	if cfg.Workers < 1 {
		return fmt.Errorf("config: workers must be >= 1, got %d", cfg.Workers)
	}

	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("config: max_attempts must be >= 1, got %d", cfg.MaxAttempts)
	}

	if _, err := time.ParseDuration(cfg.PollInterval); err != nil {
		return fmt.Errorf("config: invalid poll_interval %q: %w", cfg.PollInterval, err)
	}

	if _, err := time.ParseDuration(cfg.Network.ProbeInterval); err != nil {
		return fmt.Errorf("config: invalid network.probe_interval %q: %w", cfg.Network.ProbeInterval, err)
	}

	switch cfg.ConflictStrategy {
	case ConflictKeepBoth, ConflictKeepLocal, ConflictKeepRemote:
	default:
		return fmt.Errorf("config: unknown conflict_strategy %q", cfg.ConflictStrategy)
	}

	for id, d := range cfg.Drives {
		if err := validateDrive(id, d); err != nil {
			return err
		}
	}

	return nil
}

func validateDrive(id string, d DriveConfig) error {
	switch d.Type {
	case DriveTypePersonal, DriveTypeBusiness:
	default:
		return fmt.Errorf("config: drive %s: unknown type %q", id, d.Type)
	}

	if d.SyncRoot == "" {
		return fmt.Errorf("config: drive %s: sync_root is required", id)
	}

	return nil
}
