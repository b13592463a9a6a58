package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/statemachine"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

type statementRepository struct {
	rebind rebindFunc
}

func (r *statementRepository) InsertEntry(ctx context.Context, q relationaldb.Querier, e *relationaldb.StatementEntry) error {
	_, err := exec(ctx, q, r.rebind,
		`INSERT INTO statement_entries
		 (id, reference, description, amount_cents, currency, booked_at, state, match_method, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Reference, e.Description, e.Amount.Cents(), e.Currency, e.BookedAt, e.State, e.MatchMethod, e.CreatedAt)
	if err != nil {
		return relationaldb.NewDataError("statement_insert", "failed to insert entry", err)
	}
	return nil
}

func (r *statementRepository) GetEntry(ctx context.Context, q relationaldb.Querier, id string) (*relationaldb.StatementEntry, error) {
	row := q.QueryRowContext(ctx, r.rebind(
		`SELECT id, reference, description, amount_cents, currency, booked_at, state, match_method, created_at
		 FROM statement_entries WHERE id = ?`), id)
	return scanStatementEntry(row)
}

func scanStatementEntry(row interface{ Scan(...any) error }) (*relationaldb.StatementEntry, error) {
	var e relationaldb.StatementEntry
	var cents int64
	err := row.Scan(&e.ID, &e.Reference, &e.Description, &cents, &e.Currency,
		&e.BookedAt, &e.State, &e.MatchMethod, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relationaldb.ErrRecordNotFound
	}
	if err != nil {
		return nil, relationaldb.NewDataError("statement_scan", "failed to scan entry", err)
	}
	e.Amount = amount.FromCents(cents)
	return &e, nil
}

func (r *statementRepository) UpdateEntryState(ctx context.Context, q relationaldb.Querier, id, from, to, matchMethod string) error {
	if err := statemachine.StatementEntry.Validate(statemachine.State(from), statemachine.State(to)); err != nil {
		return err
	}
	res, err := exec(ctx, q, r.rebind,
		`UPDATE statement_entries SET state = ?, match_method = ? WHERE id = ? AND state = ?`,
		to, matchMethod, id, from)
	if err != nil {
		return relationaldb.NewDataError("statement_state", "failed to update state", err)
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

func (r *statementRepository) EntriesInState(ctx context.Context, q relationaldb.Querier, state string) ([]*relationaldb.StatementEntry, error) {
	rows, err := q.QueryContext(ctx, r.rebind(
		`SELECT id, reference, description, amount_cents, currency, booked_at, state, match_method, created_at
		 FROM statement_entries WHERE state = ? ORDER BY booked_at`), state)
	if err != nil {
		return nil, relationaldb.NewDataError("statement_list", "query failed", err)
	}
	defer rows.Close()

	var out []*relationaldb.StatementEntry
	for rows.Next() {
		e, err := scanStatementEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *statementRepository) InsertTransfer(ctx context.Context, q relationaldb.Querier, t *relationaldb.ExternalTransfer) error {
	_, err := exec(ctx, q, r.rebind,
		`INSERT INTO external_transfers
		 (id, provider_transfer_id, client_reference, amount_cents, currency, state, initiated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProviderTransferID, t.ClientReference, t.Amount.Cents(), t.Currency, t.State, t.InitiatedAt)
	if err != nil {
		return relationaldb.NewDataError("transfer_insert", "failed to insert transfer", err)
	}
	return nil
}

func (r *statementRepository) UpdateTransferState(ctx context.Context, q relationaldb.Querier, id, from, to string) error {
	if err := statemachine.ExternalTransfer.Validate(statemachine.State(from), statemachine.State(to)); err != nil {
		return err
	}
	res, err := exec(ctx, q, r.rebind,
		`UPDATE external_transfers SET state = ? WHERE id = ? AND state = ?`, to, id, from)
	if err != nil {
		return relationaldb.NewDataError("transfer_state", "failed to update state", err)
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

func (r *statementRepository) OpenTransfers(ctx context.Context, q relationaldb.Querier, currency amount.Currency) ([]*relationaldb.ExternalTransfer, error) {
	rows, err := q.QueryContext(ctx, r.rebind(
		`SELECT id, provider_transfer_id, client_reference, amount_cents, currency, state, initiated_at
		 FROM external_transfers
		 WHERE currency = ? AND state IN ('CREATED', 'PENDING', 'FAILED')
		 ORDER BY initiated_at`), currency)
	if err != nil {
		return nil, relationaldb.NewDataError("transfer_list", "query failed", err)
	}
	defer rows.Close()

	var out []*relationaldb.ExternalTransfer
	for rows.Next() {
		var t relationaldb.ExternalTransfer
		var cents int64
		if err := rows.Scan(&t.ID, &t.ProviderTransferID, &t.ClientReference, &cents,
			&t.Currency, &t.State, &t.InitiatedAt); err != nil {
			return nil, err
		}
		t.Amount = amount.FromCents(cents)
		out = append(out, &t)
	}
	return out, rows.Err()
}
