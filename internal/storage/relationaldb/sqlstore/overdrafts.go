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

type overdraftRepository struct {
	rebind rebindFunc
}

func (r *overdraftRepository) Create(ctx context.Context, q relationaldb.Querier, f *ledger.OverdraftFacility) error {
	_, err := exec(ctx, q, r.rebind,
		`INSERT INTO overdraft_facilities
		 (id, account_id, limit_cents, state, requester_id, approver_id, approved_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.AccountID, f.LimitAmount.Cents(), f.State, f.RequesterID, f.ApproverID, f.ApprovedAt, f.CreatedAt)
	if err != nil {
		return relationaldb.NewDataError("overdraft_create", "failed to insert facility", err)
	}
	return nil
}

func (r *overdraftRepository) GetByID(ctx context.Context, q relationaldb.Querier, id string) (*ledger.OverdraftFacility, error) {
	row := q.QueryRowContext(ctx, r.rebind(
		`SELECT id, account_id, limit_cents, state, requester_id, approver_id, approved_at, created_at
		 FROM overdraft_facilities WHERE id = ?`), id)

	var f ledger.OverdraftFacility
	var cents int64
	var approvedAt sql.NullTime
	err := row.Scan(&f.ID, &f.AccountID, &cents, &f.State, &f.RequesterID, &f.ApproverID, &approvedAt, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relationaldb.ErrOverdraftNotFound
	}
	if err != nil {
		return nil, relationaldb.NewDataError("overdraft_get", "failed to scan facility", err)
	}
	f.LimitAmount = amount.FromCents(cents)
	if approvedAt.Valid {
		f.ApprovedAt = &approvedAt.Time
	}
	return &f, nil
}

func (r *overdraftRepository) ActiveLimit(ctx context.Context, q relationaldb.Querier, accountID string) (amount.Amount, error) {
	row := q.QueryRowContext(ctx, r.rebind(
		`SELECT COALESCE(MAX(limit_cents), 0) FROM overdraft_facilities
		 WHERE account_id = ? AND state = ?`), accountID, ledger.OverdraftActive)

	var cents int64
	if err := row.Scan(&cents); err != nil {
		return 0, relationaldb.NewDataError("overdraft_limit", "failed to read limit", err)
	}
	return amount.FromCents(cents), nil
}

func (r *overdraftRepository) UpdateState(ctx context.Context, q relationaldb.Querier, id string, from, to ledger.OverdraftState, approverID string) error {
	if err := statemachine.OverdraftFacility.Validate(statemachine.State(from), statemachine.State(to)); err != nil {
		return err
	}
	var res sql.Result
	var err error
	if to == ledger.OverdraftApproved {
		res, err = exec(ctx, q, r.rebind,
			`UPDATE overdraft_facilities SET state = ?, approver_id = ?, approved_at = ? WHERE id = ? AND state = ?`,
			to, approverID, time.Now().UTC(), id, from)
	} else {
		res, err = exec(ctx, q, r.rebind,
			`UPDATE overdraft_facilities SET state = ? WHERE id = ? AND state = ?`, to, id, from)
	}
	if err != nil {
		return relationaldb.NewDataError("overdraft_state", "failed to update state", err)
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
