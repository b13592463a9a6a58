package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/statemachine"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// The only three statements permitted to touch the append-only tables.
const (
	insertJournalSQL = `INSERT INTO ledger_journals
		(id, txn_type, currency, domain_key, correlation_id, idempotency_key,
		 scope_hash, payload_hash, state, prev_hash, journal_hash, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertLineSQL = `INSERT INTO ledger_lines
		(id, journal_id, line_no, account_id, entry_type, amount_cents, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`

	updateJournalStateSQL = `UPDATE ledger_journals SET state = ? WHERE id = ? AND state = ?`
)

type journalRepository struct {
	rebind rebindFunc
}

func newJournalRepository(rebind rebindFunc) *journalRepository {
	relationaldb.RegisterLedgerStatement(insertJournalSQL)
	relationaldb.RegisterLedgerStatement(insertLineSQL)
	relationaldb.RegisterLedgerStatement(updateJournalStateSQL)
	return &journalRepository{rebind: rebind}
}

func (r *journalRepository) Append(ctx context.Context, q relationaldb.Querier, j *ledger.Journal, lines []ledger.Line) error {
	_, err := exec(ctx, q, r.rebind, insertJournalSQL,
		j.ID, j.TxnType, j.Currency, j.DomainKey, j.CorrelationID, j.IdempotencyKey,
		j.ScopeHash, j.PayloadHash, j.State, j.PrevHash, j.JournalHash, j.Description, j.CreatedAt)
	if err != nil {
		return relationaldb.NewDataError("journal_append", "failed to insert journal", err)
	}
	for i, l := range lines {
		_, err := exec(ctx, q, r.rebind, insertLineSQL,
			l.ID, j.ID, i, l.AccountID, l.EntryType, l.Amount.Cents(), l.Description)
		if err != nil {
			return relationaldb.NewDataError("journal_append", "failed to insert line", err)
		}
	}
	return nil
}

const journalColumns = `id, txn_type, currency, domain_key, correlation_id, idempotency_key,
	scope_hash, payload_hash, state, prev_hash, journal_hash, description, created_at`

func scanJournal(row interface{ Scan(...any) error }) (*ledger.Journal, error) {
	var j ledger.Journal
	err := row.Scan(&j.ID, &j.TxnType, &j.Currency, &j.DomainKey, &j.CorrelationID,
		&j.IdempotencyKey, &j.ScopeHash, &j.PayloadHash, &j.State, &j.PrevHash,
		&j.JournalHash, &j.Description, &j.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relationaldb.ErrJournalNotFound
	}
	if err != nil {
		return nil, relationaldb.NewDataError("journal_scan", "failed to scan journal", err)
	}
	return &j, nil
}

func (r *journalRepository) GetByID(ctx context.Context, q relationaldb.Querier, id string) (*ledger.Journal, error) {
	row := q.QueryRowContext(ctx, r.rebind(
		`SELECT `+journalColumns+` FROM ledger_journals WHERE id = ?`), id)
	return scanJournal(row)
}

func (r *journalRepository) GetByIdempotency(ctx context.Context, q relationaldb.Querier, scopeHash, idempotencyKey string) (*ledger.Journal, error) {
	row := q.QueryRowContext(ctx, r.rebind(
		`SELECT `+journalColumns+` FROM ledger_journals
		 WHERE scope_hash = ? AND idempotency_key = ?`), scopeHash, idempotencyKey)
	return scanJournal(row)
}

func (r *journalRepository) LastForDomainKey(ctx context.Context, q relationaldb.Querier, domainKey string) (*ledger.Journal, error) {
	// ULIDs are time-ordered, and appends per key are serialized, so max(id)
	// is the chain head.
	row := q.QueryRowContext(ctx, r.rebind(
		`SELECT `+journalColumns+` FROM ledger_journals
		 WHERE domain_key = ? ORDER BY id DESC LIMIT 1`), domainKey)
	j, err := scanJournal(row)
	if errors.Is(err, relationaldb.ErrJournalNotFound) {
		return nil, nil
	}
	return j, err
}

func (r *journalRepository) Lines(ctx context.Context, q relationaldb.Querier, journalID string) ([]ledger.Line, error) {
	rows, err := q.QueryContext(ctx, r.rebind(
		`SELECT id, journal_id, account_id, entry_type, amount_cents, description
		 FROM ledger_lines WHERE journal_id = ? ORDER BY line_no`), journalID)
	if err != nil {
		return nil, relationaldb.NewDataError("journal_lines", "query failed", err)
	}
	defer rows.Close()
	return scanLines(rows)
}

func scanLines(rows *sql.Rows) ([]ledger.Line, error) {
	var lines []ledger.Line
	for rows.Next() {
		var l ledger.Line
		var cents int64
		if err := rows.Scan(&l.ID, &l.JournalID, &l.AccountID, &l.EntryType, &cents, &l.Description); err != nil {
			return nil, err
		}
		l.Amount = amount.FromCents(cents)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *journalRepository) InWindow(ctx context.Context, q relationaldb.Querier, from, to time.Time) ([]*ledger.Journal, error) {
	rows, err := q.QueryContext(ctx, r.rebind(
		`SELECT `+journalColumns+` FROM ledger_journals
		 WHERE created_at >= ? AND created_at < ?
		 ORDER BY domain_key, id`), from, to)
	if err != nil {
		return nil, relationaldb.NewDataError("journals_in_window", "query failed", err)
	}
	defer rows.Close()

	var out []*ledger.Journal
	for rows.Next() {
		j, err := scanJournal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *journalRepository) UpdateState(ctx context.Context, q relationaldb.Querier, id string, from, to ledger.JournalState) error {
	if err := statemachine.Journal.Validate(statemachine.State(from), statemachine.State(to)); err != nil {
		return err
	}
	res, err := exec(ctx, q, r.rebind, updateJournalStateSQL, to, id, from)
	if err != nil {
		return relationaldb.NewDataError("journal_state", "failed to update state", err)
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

func (r *journalRepository) Statement(ctx context.Context, q relationaldb.Querier, accountID string, limit, offset int) ([]ledger.Line, error) {
	rows, err := q.QueryContext(ctx, r.rebind(
		`SELECT l.id, l.journal_id, l.account_id, l.entry_type, l.amount_cents, l.description
		 FROM ledger_lines l
		 JOIN ledger_journals j ON j.id = l.journal_id
		 WHERE l.account_id = ?
		 ORDER BY j.id DESC, l.line_no
		 LIMIT ? OFFSET ?`), accountID, limit, offset)
	if err != nil {
		return nil, relationaldb.NewDataError("journal_statement", "query failed", err)
	}
	defer rows.Close()
	return scanLines(rows)
}
