package eventarchive

import "sync"

// MemoryBackend is the in-memory archive used by tests and standalone mode.
type MemoryBackend struct {
	mu   sync.RWMutex
	open bool
	log  []Record
	next uint64
}

// NewMemoryBackend creates an in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{next: 1}
}

// NewMemoryBackendFromConfig satisfies BackendFactory; config is unused.
func NewMemoryBackendFromConfig(config *Config) (Backend, error) {
	return NewMemoryBackend(), nil
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	return nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

func (m *MemoryBackend) Append(data []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return 0, ErrArchiveClosed
	}
	seq := m.next
	cp := make([]byte, len(data))
	copy(cp, data)
	m.log = append(m.log, Record{Seq: seq, Data: cp})
	m.next++
	return seq, nil
}

func (m *MemoryBackend) Get(seq uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return nil, ErrArchiveClosed
	}
	for _, rec := range m.log {
		if rec.Seq == seq {
			return rec.Data, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) Scan(from uint64, fn func(Record) bool) error {
	m.mu.RLock()
	snapshot := make([]Record, len(m.log))
	copy(snapshot, m.log)
	open := m.open
	m.mu.RUnlock()
	if !open {
		return ErrArchiveClosed
	}
	for _, rec := range snapshot {
		if rec.Seq < from {
			continue
		}
		if !fn(rec) {
			break
		}
	}
	return nil
}

func (m *MemoryBackend) LastSeq() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return 0, ErrArchiveClosed
	}
	if len(m.log) == 0 {
		return 0, nil
	}
	return m.log[len(m.log)-1].Seq, nil
}
