// Package config aggregates the per-subsystem configuration sections and
// loads them from file and environment in a single pass.
package config

import (
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/posting"
	"github.com/fnyamweya/caricash-nova-sub003/internal/server/api/rest"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/eventarchive"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// Config is the complete daemon configuration.
type Config struct {
	Server   rest.Config          `toml:"server" mapstructure:"server"`
	Database *relationaldb.Config `toml:"database" mapstructure:"database"`
	Archive  *eventarchive.Config `toml:"archive" mapstructure:"archive"`
	Posting  posting.Config       `toml:"posting" mapstructure:"posting"`
	Recon    ReconConfig          `toml:"reconciliation" mapstructure:"reconciliation"`
	Sweeps   SweepConfig          `toml:"sweeps" mapstructure:"sweeps"`

	// Internal field for configuration management.
	configPath string `toml:"-" mapstructure:"-"`
}

// ReconConfig tunes the reconciliation engine. The suspense threshold is a
// decimal string so operators write "250.00" rather than cents.
type ReconConfig struct {
	SuspenseThreshold string `toml:"suspense_threshold" mapstructure:"suspense_threshold"`
	Concurrency       int    `toml:"concurrency" mapstructure:"concurrency"`
}

// SweepConfig tunes the background maintenance loops: idempotency purge,
// approval expiry and stage escalation, statement escalation.
type SweepConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

// DefaultConfig returns the single-node defaults: embedded sqlite, pebble
// event archive, zero suspense tolerance.
func DefaultConfig() *Config {
	return &Config{
		Server:   rest.DefaultConfig(),
		Database: relationaldb.DefaultConfig(),
		Archive:  eventarchive.DefaultConfig(),
		Posting:  posting.DefaultConfig(),
		Recon:    ReconConfig{SuspenseThreshold: "0.00", Concurrency: 8},
		Sweeps:   SweepConfig{Interval: time.Minute},
	}
}

// GetConfigPath returns the path the configuration was loaded from, empty
// when running on pure defaults.
func (c *Config) GetConfigPath() string {
	return c.configPath
}
