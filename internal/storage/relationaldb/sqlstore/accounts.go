package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

type accountRepository struct {
	rebind rebindFunc
}

func (r *accountRepository) GetOrCreate(ctx context.Context, q relationaldb.Querier, key ledger.AccountKey) (*ledger.Account, error) {
	acc, err := r.getByKey(ctx, q, key)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, relationaldb.ErrAccountNotFound) {
		return nil, err
	}

	acc = &ledger.Account{
		ID:         ledger.NewID(),
		AccountKey: key,
		CreatedAt:  time.Now().UTC(),
	}
	_, err = exec(ctx, q, r.rebind,
		`INSERT INTO ledger_accounts (id, owner_type, owner_id, account_type, currency, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		acc.ID, key.OwnerType, key.OwnerID, key.AccountType, key.Currency, acc.CreatedAt)
	if err != nil {
		// Concurrent creation of the same key loses the race; re-read.
		if existing, gerr := r.getByKey(ctx, q, key); gerr == nil {
			return existing, nil
		}
		return nil, relationaldb.NewDataError("account_create", "failed to create account", err)
	}
	return acc, nil
}

func (r *accountRepository) getByKey(ctx context.Context, q relationaldb.Querier, key ledger.AccountKey) (*ledger.Account, error) {
	row := q.QueryRowContext(ctx, r.rebind(
		`SELECT id, owner_type, owner_id, account_type, currency, created_at
		 FROM ledger_accounts
		 WHERE owner_type = ? AND owner_id = ? AND account_type = ? AND currency = ?`),
		key.OwnerType, key.OwnerID, key.AccountType, key.Currency)
	return scanAccount(row)
}

func (r *accountRepository) GetByID(ctx context.Context, q relationaldb.Querier, id string) (*ledger.Account, error) {
	row := q.QueryRowContext(ctx, r.rebind(
		`SELECT id, owner_type, owner_id, account_type, currency, created_at
		 FROM ledger_accounts WHERE id = ?`), id)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*ledger.Account, error) {
	var acc ledger.Account
	err := row.Scan(&acc.ID, &acc.OwnerType, &acc.OwnerID, &acc.AccountType, &acc.Currency, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relationaldb.ErrAccountNotFound
	}
	if err != nil {
		return nil, relationaldb.NewDataError("account_scan", "failed to scan account", err)
	}
	return &acc, nil
}

func (r *accountRepository) TouchedInWindow(ctx context.Context, q relationaldb.Querier, from, to time.Time) ([]string, error) {
	rows, err := q.QueryContext(ctx, r.rebind(
		`SELECT DISTINCT l.account_id
		 FROM ledger_lines l
		 JOIN ledger_journals j ON j.id = l.journal_id
		 WHERE j.created_at >= ? AND j.created_at < ?`), from, to)
	if err != nil {
		return nil, relationaldb.NewDataError("accounts_touched", "query failed", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *accountRepository) SuspenseAccounts(ctx context.Context, q relationaldb.Querier) ([]*ledger.Account, error) {
	rows, err := q.QueryContext(ctx, r.rebind(
		`SELECT id, owner_type, owner_id, account_type, currency, created_at
		 FROM ledger_accounts WHERE account_type = ?`), ledger.AccountSuspense)
	if err != nil {
		return nil, relationaldb.NewDataError("accounts_suspense", "query failed", err)
	}
	defer rows.Close()

	var out []*ledger.Account
	for rows.Next() {
		var acc ledger.Account
		if err := rows.Scan(&acc.ID, &acc.OwnerType, &acc.OwnerID, &acc.AccountType, &acc.Currency, &acc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &acc)
	}
	return out, rows.Err()
}
