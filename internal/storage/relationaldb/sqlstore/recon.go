package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/statemachine"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

type reconRepository struct {
	rebind rebindFunc
}

func (r *reconRepository) InsertRun(ctx context.Context, q relationaldb.Querier, run *relationaldb.ReconRun) error {
	_, err := exec(ctx, q, r.rebind,
		`INSERT INTO recon_runs (id, from_ts, to_ts, status, findings_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.From, run.To, run.Status, run.FindingsCount, run.CreatedAt)
	if err != nil {
		return relationaldb.NewDataError("recon_run_insert", "failed to insert run", err)
	}
	return nil
}

func (r *reconRepository) FinishRun(ctx context.Context, q relationaldb.Querier, id, status string, findings int) error {
	_, err := exec(ctx, q, r.rebind,
		`UPDATE recon_runs SET status = ?, findings_count = ? WHERE id = ?`, status, findings, id)
	if err != nil {
		return relationaldb.NewDataError("recon_run_finish", "failed to finish run", err)
	}
	return nil
}

func (r *reconRepository) GetRun(ctx context.Context, q relationaldb.Querier, id string) (*relationaldb.ReconRun, error) {
	row := q.QueryRowContext(ctx, r.rebind(
		`SELECT id, from_ts, to_ts, status, findings_count, created_at FROM recon_runs WHERE id = ?`), id)
	return scanRun(row)
}

func scanRun(row interface{ Scan(...any) error }) (*relationaldb.ReconRun, error) {
	var run relationaldb.ReconRun
	err := row.Scan(&run.ID, &run.From, &run.To, &run.Status, &run.FindingsCount, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relationaldb.ErrRecordNotFound
	}
	if err != nil {
		return nil, relationaldb.NewDataError("recon_run_scan", "failed to scan run", err)
	}
	return &run, nil
}

func (r *reconRepository) ListRuns(ctx context.Context, q relationaldb.Querier, limit int) ([]*relationaldb.ReconRun, error) {
	rows, err := q.QueryContext(ctx, r.rebind(
		`SELECT id, from_ts, to_ts, status, findings_count, created_at
		 FROM recon_runs ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, relationaldb.NewDataError("recon_run_list", "query failed", err)
	}
	defer rows.Close()

	var out []*relationaldb.ReconRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *reconRepository) InsertFinding(ctx context.Context, q relationaldb.Querier, f *relationaldb.ReconFinding) error {
	_, err := exec(ctx, q, r.rebind,
		`INSERT INTO recon_findings
		 (id, run_id, kind, account_id, journal_id, computed_cents, materialized_cents,
		  discrepancy_cents, severity, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.RunID, f.Kind, f.AccountID, f.JournalID, f.Computed.Cents(), f.Materialized.Cents(),
		f.Discrepancy.Cents(), f.Severity, f.Detail, f.CreatedAt)
	if err != nil {
		return relationaldb.NewDataError("recon_finding_insert", "failed to insert finding", err)
	}
	return nil
}

func (r *reconRepository) FindingsByRun(ctx context.Context, q relationaldb.Querier, runID string) ([]*relationaldb.ReconFinding, error) {
	rows, err := q.QueryContext(ctx, r.rebind(
		`SELECT id, run_id, kind, account_id, journal_id, computed_cents, materialized_cents,
		        discrepancy_cents, severity, detail, created_at
		 FROM recon_findings WHERE run_id = ? ORDER BY id`), runID)
	if err != nil {
		return nil, relationaldb.NewDataError("recon_finding_list", "query failed", err)
	}
	defer rows.Close()

	var out []*relationaldb.ReconFinding
	for rows.Next() {
		var f relationaldb.ReconFinding
		var computed, materialized, discrepancy int64
		if err := rows.Scan(&f.ID, &f.RunID, &f.Kind, &f.AccountID, &f.JournalID,
			&computed, &materialized, &discrepancy, &f.Severity, &f.Detail, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Computed = amount.FromCents(computed)
		f.Materialized = amount.FromCents(materialized)
		f.Discrepancy = amount.FromCents(discrepancy)
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (r *reconRepository) InsertCase(ctx context.Context, q relationaldb.Querier, c *relationaldb.ReconCase) error {
	_, err := exec(ctx, q, r.rebind,
		`INSERT INTO recon_cases
		 (id, case_type, status, match_method, finding_id, subject, detail, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Type, c.Status, c.MatchMethod, c.FindingID, c.Subject, c.Detail, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return relationaldb.NewDataError("recon_case_insert", "failed to insert case", err)
	}
	return nil
}

func (r *reconRepository) GetCase(ctx context.Context, q relationaldb.Querier, id string) (*relationaldb.ReconCase, error) {
	row := q.QueryRowContext(ctx, r.rebind(
		`SELECT id, case_type, status, match_method, finding_id, subject, detail, created_at, updated_at
		 FROM recon_cases WHERE id = ?`), id)
	return scanCase(row)
}

func scanCase(row interface{ Scan(...any) error }) (*relationaldb.ReconCase, error) {
	var c relationaldb.ReconCase
	err := row.Scan(&c.ID, &c.Type, &c.Status, &c.MatchMethod, &c.FindingID, &c.Subject,
		&c.Detail, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relationaldb.ErrRecordNotFound
	}
	if err != nil {
		return nil, relationaldb.NewDataError("recon_case_scan", "failed to scan case", err)
	}
	return &c, nil
}

func (r *reconRepository) OpenCaseFor(ctx context.Context, q relationaldb.Querier, caseType, subject string) (*relationaldb.ReconCase, error) {
	row := q.QueryRowContext(ctx, r.rebind(
		`SELECT id, case_type, status, match_method, finding_id, subject, detail, created_at, updated_at
		 FROM recon_cases
		 WHERE case_type = ? AND subject = ? AND status != 'RESOLVED'
		 ORDER BY id DESC LIMIT 1`), caseType, subject)
	c, err := scanCase(row)
	if errors.Is(err, relationaldb.ErrRecordNotFound) {
		return nil, nil
	}
	return c, err
}

func (r *reconRepository) TouchCase(ctx context.Context, q relationaldb.Querier, id string) error {
	_, err := exec(ctx, q, r.rebind,
		`UPDATE recon_cases SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return relationaldb.NewDataError("recon_case_touch", "failed to touch case", err)
	}
	return nil
}

func (r *reconRepository) UpdateCaseStatus(ctx context.Context, q relationaldb.Querier, id, from, to string) error {
	if err := statemachine.ReconciliationCase.Validate(statemachine.State(from), statemachine.State(to)); err != nil {
		return err
	}
	res, err := exec(ctx, q, r.rebind,
		`UPDATE recon_cases SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return relationaldb.NewDataError("recon_case_status", "failed to update status", err)
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
