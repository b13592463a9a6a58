package eventarchive

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleBackend stores archive records in a pebble LSM keyed by big-endian
// sequence, so iteration order is append order.
type PebbleBackend struct {
	mu     sync.Mutex
	db     *pebble.DB
	config *Config
	next   uint64
}

// NewPebbleBackendFromConfig satisfies BackendFactory.
func NewPebbleBackendFromConfig(config *Config) (Backend, error) {
	if config == nil {
		config = DefaultConfig()
	}
	return &PebbleBackend{config: config}, nil
}

func (p *PebbleBackend) Name() string { return "pebble" }

func (p *PebbleBackend) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return nil
	}
	db, err := pebble.Open(p.config.Path, &pebble.Options{})
	if err != nil {
		return err
	}
	p.db = db

	// Recover the next sequence from the tail.
	last, err := lastSeqLocked(db)
	if err != nil {
		db.Close()
		p.db = nil
		return err
	}
	p.next = last + 1
	return nil
}

func (p *PebbleBackend) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func seqKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}

func (p *PebbleBackend) Append(data []byte) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return 0, ErrArchiveClosed
	}
	seq := p.next
	if err := p.db.Set(seqKey(seq), data, pebble.Sync); err != nil {
		return 0, err
	}
	p.next++
	return seq, nil
}

func (p *PebbleBackend) Get(seq uint64) ([]byte, error) {
	p.mu.Lock()
	db := p.db
	p.mu.Unlock()
	if db == nil {
		return nil, ErrArchiveClosed
	}
	val, closer, err := db.Get(seqKey(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(val))
	copy(out, val)
	closer.Close()
	return out, nil
}

func (p *PebbleBackend) Scan(from uint64, fn func(Record) bool) error {
	p.mu.Lock()
	db := p.db
	p.mu.Unlock()
	if db == nil {
		return ErrArchiveClosed
	}
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: seqKey(from)})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		data := make([]byte, len(iter.Value()))
		copy(data, iter.Value())
		rec := Record{Seq: binary.BigEndian.Uint64(iter.Key()), Data: data}
		if !fn(rec) {
			break
		}
	}
	return iter.Error()
}

func (p *PebbleBackend) LastSeq() (uint64, error) {
	p.mu.Lock()
	db := p.db
	p.mu.Unlock()
	if db == nil {
		return 0, ErrArchiveClosed
	}
	return lastSeqLocked(db)
}

func lastSeqLocked(db *pebble.DB) (uint64, error) {
	iter, err := db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	return binary.BigEndian.Uint64(iter.Key()), nil
}
