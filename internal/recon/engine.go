// Package recon implements the reconciliation engine: balance diffing
// against the authoritative ledger, suspense sweeps, hash-chain
// verification, and bank-statement matching. Reconciliation observes and
// reports; it never modifies balances or ledger rows.
package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/events"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// Finding kinds.
const (
	FindingBalanceMismatch = "BALANCE_MISMATCH"
	FindingSuspenseNonzero = "SUSPENSE_NONZERO"
	FindingIntegrity       = "INTEGRITY"
)

// Severity buckets by absolute discrepancy in cents.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// severityFor buckets a discrepancy.
func severityFor(discrepancy amount.Amount) string {
	cents := discrepancy.Cents()
	if cents < 0 {
		cents = -cents
	}
	switch {
	case cents >= 100_000:
		return SeverityCritical
	case cents >= 10_000:
		return SeverityHigh
	case cents >= 100:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Config tunes the engine.
type Config struct {
	// SuspenseThreshold is the absolute suspense balance above which a
	// CRITICAL finding opens.
	SuspenseThreshold amount.Amount `mapstructure:"suspense_threshold"`
	// Concurrency bounds the per-account balance checks per run.
	Concurrency int `mapstructure:"concurrency"`
}

// DefaultConfig returns production defaults: any non-zero suspense balance
// is reportable.
func DefaultConfig() Config {
	return Config{SuspenseThreshold: 0, Concurrency: 8}
}

// Engine executes reconciliation runs.
type Engine struct {
	db     relationaldb.Database
	repos  *relationaldb.Repositories
	sink   *events.Sink
	config Config
}

// NewEngine creates an engine.
func NewEngine(db relationaldb.Database, sink *events.Sink, config Config) *Engine {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConfig().Concurrency
	}
	return &Engine{db: db, repos: db.Repositories(), sink: sink, config: config}
}

// Run reconciles the [from, to) window: per-account balance diffs, suspense
// sweep, chain verification. Every finding opens or refreshes a case.
func (e *Engine) Run(ctx context.Context, from, to time.Time) (*relationaldb.ReconRun, []*relationaldb.ReconFinding, error) {
	q := e.db.Handle()
	run := &relationaldb.ReconRun{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Status:    "RUNNING",
		CreatedAt: time.Now().UTC(),
	}
	if err := e.repos.Recon.InsertRun(ctx, q, run); err != nil {
		return nil, nil, err
	}

	findings, err := e.collectFindings(ctx, from, to)
	if err != nil {
		_ = e.repos.Recon.FinishRun(ctx, q, run.ID, "FAILED", 0)
		return nil, nil, err
	}

	for _, f := range findings {
		f.ID = uuid.NewString()
		f.RunID = run.ID
		f.CreatedAt = time.Now().UTC()
		if err := e.repos.Recon.InsertFinding(ctx, q, f); err != nil {
			return nil, nil, err
		}
		if err := e.openOrTouchCase(ctx, f); err != nil {
			return nil, nil, err
		}
		e.emitFinding(ctx, run.ID, f)
	}

	if err := e.repos.Recon.FinishRun(ctx, q, run.ID, "COMPLETED", len(findings)); err != nil {
		return nil, nil, err
	}
	run.Status = "COMPLETED"
	run.FindingsCount = len(findings)
	return run, findings, nil
}

func (e *Engine) collectFindings(ctx context.Context, from, to time.Time) ([]*relationaldb.ReconFinding, error) {
	q := e.db.Handle()
	touched, err := e.repos.Accounts.TouchedInWindow(ctx, q, from, to)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var findings []*relationaldb.ReconFinding

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)
	for _, accountID := range touched {
		accountID := accountID
		g.Go(func() error {
			f, err := e.checkAccount(gctx, accountID)
			if err != nil {
				return err
			}
			if f != nil {
				mu.Lock()
				findings = append(findings, f)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	suspense, err := e.checkSuspense(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, suspense...)

	report, err := VerifyChain(ctx, e.db, from, to)
	if err != nil {
		return nil, err
	}
	for _, failure := range report.Failures {
		findings = append(findings, &relationaldb.ReconFinding{
			Kind:      FindingIntegrity,
			JournalID: failure.JournalID,
			Severity:  SeverityCritical,
			Detail:    fmt.Sprintf("%s on %s", failure.Kind, failure.DomainKey),
		})
	}
	return findings, nil
}

// checkAccount diffs the authoritative folded balance against the
// materialized view; an absent row reads as zero.
func (e *Engine) checkAccount(ctx context.Context, accountID string) (*relationaldb.ReconFinding, error) {
	q := e.db.Handle()
	computed, err := e.repos.Balances.ComputedBalance(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	var materialized amount.Amount
	bal, err := e.repos.Balances.Get(ctx, q, accountID)
	if err != nil && !errors.Is(err, relationaldb.ErrBalanceNotFound) {
		return nil, err
	}
	if bal != nil {
		materialized = bal.ActualBalance
	}
	if computed == materialized {
		return nil, nil
	}
	discrepancy := computed - materialized
	return &relationaldb.ReconFinding{
		Kind:         FindingBalanceMismatch,
		AccountID:    accountID,
		Computed:     computed,
		Materialized: materialized,
		Discrepancy:  discrepancy,
		Severity:     severityFor(discrepancy),
	}, nil
}

func (e *Engine) checkSuspense(ctx context.Context) ([]*relationaldb.ReconFinding, error) {
	q := e.db.Handle()
	accounts, err := e.repos.Accounts.SuspenseAccounts(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []*relationaldb.ReconFinding
	for _, acct := range accounts {
		balance, err := e.repos.Balances.ComputedBalance(ctx, q, acct.ID)
		if err != nil {
			return nil, err
		}
		abs := balance
		if abs < 0 {
			abs = -abs
		}
		if abs <= e.config.SuspenseThreshold {
			continue
		}
		out = append(out, &relationaldb.ReconFinding{
			Kind:        FindingSuspenseNonzero,
			AccountID:   acct.ID,
			Computed:    balance,
			Discrepancy: balance,
			Severity:    SeverityCritical,
			Detail:      "suspense balance beyond threshold",
		})
	}
	return out, nil
}

// openOrTouchCase ensures a non-resolved case tracks the finding's subject;
// repeated runs refresh rather than duplicate.
func (e *Engine) openOrTouchCase(ctx context.Context, f *relationaldb.ReconFinding) error {
	q := e.db.Handle()
	subject := f.AccountID
	if subject == "" {
		subject = f.JournalID
	}
	existing, err := e.repos.Recon.OpenCaseFor(ctx, q, f.Kind, subject)
	if err != nil {
		return err
	}
	if existing != nil {
		return e.repos.Recon.TouchCase(ctx, q, existing.ID)
	}
	now := time.Now().UTC()
	return e.repos.Recon.InsertCase(ctx, q, &relationaldb.ReconCase{
		ID:        uuid.NewString(),
		Type:      f.Kind,
		Status:    "OPEN",
		FindingID: f.ID,
		Subject:   subject,
		Detail:    f.Detail,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (e *Engine) emitFinding(ctx context.Context, runID string, f *relationaldb.ReconFinding) {
	if e.sink == nil {
		return
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return
	}
	rec, err := e.sink.Event(ctx, e.db.Handle(), events.Emit{
		Name:          events.EventReconFindingRaised,
		EntityType:    "recon_finding",
		EntityID:      f.ID,
		CorrelationID: runID,
		ActorType:     "SYSTEM",
		ActorID:       "recon",
		Payload:       payload,
	})
	if err != nil {
		return
	}
	_ = e.sink.Spool(rec)
}
