package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

type balanceRepository struct {
	rebind rebindFunc
}

func (r *balanceRepository) Get(ctx context.Context, q relationaldb.Querier, accountID string) (*ledger.Balance, error) {
	row := q.QueryRowContext(ctx, r.rebind(
		`SELECT account_id, actual_cents, hold_cents, pending_cents, last_journal_id, currency, updated_at
		 FROM account_balances WHERE account_id = ?`), accountID)

	var b ledger.Balance
	var actual, hold, pending int64
	err := row.Scan(&b.AccountID, &actual, &hold, &pending, &b.LastJournalID, &b.Currency, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relationaldb.ErrBalanceNotFound
	}
	if err != nil {
		return nil, relationaldb.NewDataError("balance_get", "failed to scan balance", err)
	}
	b.ActualBalance = amount.FromCents(actual)
	b.HoldAmount = amount.FromCents(hold)
	b.PendingCredits = amount.FromCents(pending)
	return &b, nil
}

func (r *balanceRepository) Upsert(ctx context.Context, q relationaldb.Querier, b *ledger.Balance) error {
	_, err := exec(ctx, q, r.rebind,
		`INSERT INTO account_balances
		 (account_id, actual_cents, hold_cents, pending_cents, last_journal_id, currency, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (account_id) DO UPDATE SET
		   actual_cents = excluded.actual_cents,
		   hold_cents = excluded.hold_cents,
		   pending_cents = excluded.pending_cents,
		   last_journal_id = excluded.last_journal_id,
		   updated_at = excluded.updated_at`,
		b.AccountID, b.ActualBalance.Cents(), b.HoldAmount.Cents(), b.PendingCredits.Cents(),
		b.LastJournalID, b.Currency, b.UpdatedAt)
	if err != nil {
		return relationaldb.NewDataError("balance_upsert", "failed to upsert balance", err)
	}
	return nil
}

func (r *balanceRepository) ComputedBalance(ctx context.Context, q relationaldb.Querier, accountID string) (amount.Amount, error) {
	row := q.QueryRowContext(ctx, r.rebind(
		`SELECT
		   COALESCE(SUM(CASE WHEN entry_type = 'CR' THEN amount_cents ELSE 0 END), 0) -
		   COALESCE(SUM(CASE WHEN entry_type = 'DR' THEN amount_cents ELSE 0 END), 0)
		 FROM ledger_lines WHERE account_id = ?`), accountID)

	var cents int64
	if err := row.Scan(&cents); err != nil {
		return 0, relationaldb.NewDataError("balance_computed", "failed to fold lines", err)
	}
	return amount.FromCents(cents), nil
}
