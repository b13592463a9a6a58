package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from multiple sources in priority order:
// 1. Default values
// 2. Configuration file (caricash.toml), optional
// 3. Environment variables (CARICASH_ prefix)
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configPath)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix("CARICASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.configPath = configPath

	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// setDefaults seeds viper with the DefaultConfig values so environment
// overrides work even for keys absent from the file.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.read_timeout", def.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", def.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", def.Server.ShutdownTimeout)
	v.SetDefault("server.max_queue_depth", def.Server.MaxQueueDepth)

	v.SetDefault("database.driver", def.Database.Driver)
	v.SetDefault("database.dsn", def.Database.DSN)
	v.SetDefault("database.max_open_conns", def.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", def.Database.MaxIdleConns)
	v.SetDefault("database.default_timeout", def.Database.DefaultTimeout)

	v.SetDefault("archive.backend", def.Archive.Backend)
	v.SetDefault("archive.path", def.Archive.Path)

	v.SetDefault("posting.inbox_depth", def.Posting.InboxDepth)
	v.SetDefault("posting.account_cache_size", def.Posting.AccountCacheSize)

	v.SetDefault("reconciliation.suspense_threshold", def.Recon.SuspenseThreshold)
	v.SetDefault("reconciliation.concurrency", def.Recon.Concurrency)

	v.SetDefault("sweeps.interval", def.Sweeps.Interval)
}
