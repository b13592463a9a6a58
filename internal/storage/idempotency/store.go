// Package idempotency implements the scope+key deduplication store: replay
// detection by payload hash, in-flight markers, and TTL buckets per request
// category.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// Category selects the retention bucket for a committed record.
type Category string

const (
	CategoryMoneyTx       Category = "MONEY_TX"
	CategoryBankTransfer  Category = "BANK_TRANSFER"
	CategoryWebhookDedupe Category = "WEBHOOK_DEDUPE"
	CategoryOpsConfig     Category = "OPS_CONFIG"
)

// TTL returns the retention window for the category.
func (c Category) TTL() time.Duration {
	switch c {
	case CategoryMoneyTx:
		return 30 * 24 * time.Hour
	case CategoryBankTransfer:
		return 90 * 24 * time.Hour
	case CategoryWebhookDedupe:
		return 180 * 24 * time.Hour
	case CategoryOpsConfig:
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// LookupStatus is the outcome of a store lookup.
type LookupStatus string

const (
	StatusMiss       LookupStatus = "MISS"
	StatusInProgress LookupStatus = "IN_PROGRESS"
	StatusCommitted  LookupStatus = "COMMITTED"
)

var (
	// ErrConflict is returned when the same (scope, key) arrives with a
	// different payload hash. The caller must not retry with the altered
	// payload.
	ErrConflict = errors.New("duplicate idempotency key with different payload")

	// ErrInProgress is returned when an in-flight marker exists. Pure
	// replays retry after backoff and coalesce on the committed result.
	ErrInProgress = errors.New("idempotent operation already in progress")
)

// Lookup is the result of Store.Lookup.
type Lookup struct {
	Status      LookupStatus
	PayloadHash string
	Result      []byte
}

// Store wraps the repository with the dedup policy. Methods take a Querier
// so in-progress markers and commits can join the posting transaction.
type Store struct {
	repo relationaldb.IdempotencyRepository
}

// NewStore creates a store over the given repository.
func NewStore(repo relationaldb.IdempotencyRepository) *Store {
	return &Store{repo: repo}
}

// Lookup resolves the record state for (scope, key). Expired committed
// records read as a miss.
func (s *Store) Lookup(ctx context.Context, q relationaldb.Querier, scopeHash, key string) (Lookup, error) {
	rec, err := s.repo.Get(ctx, q, scopeHash, key)
	if errors.Is(err, relationaldb.ErrRecordNotFound) {
		return Lookup{Status: StatusMiss}, nil
	}
	if err != nil {
		return Lookup{}, err
	}
	if rec.Status == relationaldb.IdempotencyCommitted && time.Now().After(rec.ExpiresAt) {
		return Lookup{Status: StatusMiss}, nil
	}
	out := Lookup{PayloadHash: rec.PayloadHash, Result: rec.ResultJSON}
	if rec.Status == relationaldb.IdempotencyInProgress {
		out.Status = StatusInProgress
	} else {
		out.Status = StatusCommitted
	}
	return out, nil
}

// PutInProgress writes the in-flight marker. Fails with ErrInProgress if any
// record already exists under the identity.
func (s *Store) PutInProgress(ctx context.Context, q relationaldb.Querier, scopeHash, key, payloadHash string, category Category) error {
	now := time.Now().UTC()
	err := s.repo.InsertInProgress(ctx, q, &relationaldb.IdempotencyRecord{
		ScopeHash:      scopeHash,
		IdempotencyKey: key,
		PayloadHash:    payloadHash,
		TTLCategory:    string(category),
		CreatedAt:      now,
		ExpiresAt:      now.Add(category.TTL()),
	})
	if errors.Is(err, relationaldb.ErrDuplicateIdempotency) {
		return ErrInProgress
	}
	return err
}

// PutCommitted upgrades the in-flight marker to COMMITTED with the stored
// result and the category TTL.
func (s *Store) PutCommitted(ctx context.Context, q relationaldb.Querier, scopeHash, key, payloadHash string, result []byte, category Category) error {
	return s.repo.Commit(ctx, q, scopeHash, key, payloadHash, result, time.Now().UTC().Add(category.TTL()))
}

// ConflictCheck compares payload hashes: equal means replay, unequal means
// the client reused a key for different content.
func ConflictCheck(existingHash, newHash string) error {
	if existingHash == newHash {
		return nil
	}
	return ErrConflict
}

// ClearStale removes an in-flight marker, used only by governed repair after
// a crash left the marker behind.
func (s *Store) ClearStale(ctx context.Context, q relationaldb.Querier, scopeHash, key string) error {
	rec, err := s.repo.Get(ctx, q, scopeHash, key)
	if errors.Is(err, relationaldb.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status != relationaldb.IdempotencyInProgress {
		return errors.New("record is committed; refusing to clear")
	}
	return s.repo.Delete(ctx, q, scopeHash, key)
}

// PurgeExpired drops committed records past their TTL.
func (s *Store) PurgeExpired(ctx context.Context, q relationaldb.Querier) (int64, error) {
	return s.repo.PurgeExpired(ctx, q, time.Now().UTC())
}
