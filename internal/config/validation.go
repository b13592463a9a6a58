package config

import (
	"fmt"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
)

// ValidateConfig checks the complete configuration for consistency.
func ValidateConfig(c *Config) error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	if c.Server.MaxQueueDepth < 0 {
		return fmt.Errorf("server.max_queue_depth cannot be negative")
	}
	if c.Database == nil {
		return fmt.Errorf("database section is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Archive == nil {
		return fmt.Errorf("archive section is required")
	}
	switch c.Archive.Backend {
	case "pebble", "memory":
	default:
		return fmt.Errorf("archive.backend must be pebble or memory, got %q", c.Archive.Backend)
	}
	if c.Archive.Backend == "pebble" && c.Archive.Path == "" {
		return fmt.Errorf("archive.path is required for the pebble backend")
	}
	if c.Posting.InboxDepth <= 0 {
		return fmt.Errorf("posting.inbox_depth must be positive")
	}
	if c.Posting.AccountCacheSize <= 0 {
		return fmt.Errorf("posting.account_cache_size must be positive")
	}
	if _, err := c.SuspenseThreshold(); err != nil {
		return fmt.Errorf("reconciliation.suspense_threshold: %w", err)
	}
	if c.Recon.Concurrency <= 0 {
		return fmt.Errorf("reconciliation.concurrency must be positive")
	}
	if c.Sweeps.Interval <= 0 {
		return fmt.Errorf("sweeps.interval must be positive")
	}
	return nil
}

// SuspenseThreshold parses the configured threshold string into an amount.
func (c *Config) SuspenseThreshold() (amount.Amount, error) {
	return amount.Parse(c.Recon.SuspenseThreshold)
}
