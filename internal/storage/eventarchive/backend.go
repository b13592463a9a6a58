// Package eventarchive is the append-only spool behind the outbound event
// queue. Committed events are archived under a monotonic sequence before
// delivery, giving at-least-once semantics across restarts. Backends are
// pluggable: pebble for persistence, memory for tests.
package eventarchive

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrArchiveClosed = errors.New("event archive is closed")
	ErrNotFound      = errors.New("archive record not found")
)

// Record is one archived event envelope.
type Record struct {
	Seq  uint64
	Data []byte
}

// Backend is the storage contract for the archive.
type Backend interface {
	Name() string
	Open() error
	Close() error
	// Append stores data under the next sequence and returns it.
	Append(data []byte) (uint64, error)
	// Get reads one record.
	Get(seq uint64) ([]byte, error)
	// Scan calls fn for records with seq >= from in ascending order until
	// fn returns false or the log is exhausted.
	Scan(from uint64, fn func(Record) bool) error
	// LastSeq returns the highest stored sequence, zero when empty.
	LastSeq() (uint64, error)
}

// BackendFactory creates a backend from configuration.
type BackendFactory func(config *Config) (Backend, error)

var (
	backendMu        sync.RWMutex
	backendFactories = make(map[string]BackendFactory)
)

// RegisterBackend registers a backend factory under a name.
func RegisterBackend(name string, factory BackendFactory) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendFactories[name] = factory
}

// CreateBackend instantiates a registered backend.
func CreateBackend(name string, config *Config) (Backend, error) {
	backendMu.RLock()
	factory, ok := backendFactories[name]
	backendMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown archive backend: %s", name)
	}
	return factory(config)
}

// Config holds archive configuration.
type Config struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// DefaultConfig returns a persistent pebble archive rooted at path.
func DefaultConfig() *Config {
	return &Config{Backend: "pebble", Path: "events.archive"}
}

func init() {
	RegisterBackend("pebble", NewPebbleBackendFromConfig)
	RegisterBackend("memory", NewMemoryBackendFromConfig)
}
