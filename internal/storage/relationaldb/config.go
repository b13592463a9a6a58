package relationaldb

import (
	"fmt"
	"time"
)

// Supported drivers. SQLite is the embedded default; Postgres is the
// server deployment target.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds relational database configuration.
type Config struct {
	Driver string `mapstructure:"driver"`

	// DSN is used verbatim for sqlite (file path or :memory: URI). For
	// postgres it may be left empty and built from the fields below.
	DSN string `mapstructure:"dsn"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`
}

// DefaultConfig returns an embedded sqlite configuration suitable for a
// single-node deployment.
func DefaultConfig() *Config {
	return &Config{
		Driver:         DriverSQLite,
		DSN:            "caricash.db",
		MaxOpenConns:   1, // sqlite single writer
		MaxIdleConns:   1,
		DefaultTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.DSN == "" {
			return ErrMissingDSN
		}
	case DriverPostgres:
		if c.DSN == "" && (c.Host == "" || c.Database == "" || c.Username == "") {
			return ErrMissingDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.Driver)
	}
	if c.MaxOpenConns < 0 {
		return ErrInvalidMaxOpenConns
	}
	if c.MaxIdleConns < 0 {
		return ErrInvalidMaxIdleConns
	}
	if c.DefaultTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// BuildConnectionString produces the driver DSN. Postgres strings follow
// the lib/pq key/value format.
func (c *Config) BuildConnectionString() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	if c.Driver == DriverSQLite || c.DSN != "" {
		return c.DSN, nil
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s sslmode=%s",
		c.Host, port, c.Database, c.Username, sslMode)
	if c.Password != "" {
		dsn += fmt.Sprintf(" password=%s", c.Password)
	}
	return dsn, nil
}
