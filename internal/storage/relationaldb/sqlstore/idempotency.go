package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

type idempotencyRepository struct {
	rebind rebindFunc
}

func (r *idempotencyRepository) Get(ctx context.Context, q relationaldb.Querier, scopeHash, key string) (*relationaldb.IdempotencyRecord, error) {
	row := q.QueryRowContext(ctx, r.rebind(
		`SELECT scope_hash, idempotency_key, payload_hash, status, result_json, ttl_category, created_at, expires_at
		 FROM idempotency_records WHERE scope_hash = ? AND idempotency_key = ?`), scopeHash, key)

	var rec relationaldb.IdempotencyRecord
	err := row.Scan(&rec.ScopeHash, &rec.IdempotencyKey, &rec.PayloadHash, &rec.Status,
		&rec.ResultJSON, &rec.TTLCategory, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relationaldb.ErrRecordNotFound
	}
	if err != nil {
		return nil, relationaldb.NewDataError("idempotency_get", "failed to scan record", err)
	}
	return &rec, nil
}

func (r *idempotencyRepository) InsertInProgress(ctx context.Context, q relationaldb.Querier, rec *relationaldb.IdempotencyRecord) error {
	res, err := exec(ctx, q, r.rebind,
		`INSERT INTO idempotency_records
		 (scope_hash, idempotency_key, payload_hash, status, result_json, ttl_category, created_at, expires_at)
		 VALUES (?, ?, ?, ?, NULL, ?, ?, ?)
		 ON CONFLICT (scope_hash, idempotency_key) DO NOTHING`,
		rec.ScopeHash, rec.IdempotencyKey, rec.PayloadHash, relationaldb.IdempotencyInProgress,
		rec.TTLCategory, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return relationaldb.NewDataError("idempotency_insert", "failed to insert marker", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return relationaldb.ErrDuplicateIdempotency
	}
	return nil
}

func (r *idempotencyRepository) Commit(ctx context.Context, q relationaldb.Querier, scopeHash, key, payloadHash string, resultJSON []byte, expiresAt time.Time) error {
	res, err := exec(ctx, q, r.rebind,
		`UPDATE idempotency_records
		 SET status = ?, result_json = ?, payload_hash = ?, expires_at = ?
		 WHERE scope_hash = ? AND idempotency_key = ? AND status = ?`,
		relationaldb.IdempotencyCommitted, resultJSON, payloadHash, expiresAt,
		scopeHash, key, relationaldb.IdempotencyInProgress)
	if err != nil {
		return relationaldb.NewDataError("idempotency_commit", "failed to commit record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return relationaldb.ErrStateConflict
	}
	return nil
}

func (r *idempotencyRepository) Delete(ctx context.Context, q relationaldb.Querier, scopeHash, key string) error {
	_, err := exec(ctx, q, r.rebind,
		`DELETE FROM idempotency_records WHERE scope_hash = ? AND idempotency_key = ?`, scopeHash, key)
	if err != nil {
		return relationaldb.NewDataError("idempotency_delete", "failed to delete record", err)
	}
	return nil
}

func (r *idempotencyRepository) PurgeExpired(ctx context.Context, q relationaldb.Querier, now time.Time) (int64, error) {
	res, err := exec(ctx, q, r.rebind,
		`DELETE FROM idempotency_records WHERE expires_at < ? AND status = ?`,
		now, relationaldb.IdempotencyCommitted)
	if err != nil {
		return 0, relationaldb.NewDataError("idempotency_purge", "failed to purge", err)
	}
	return res.RowsAffected()
}
