// Package reversal builds compensating journals for posted transactions and
// the manual suspense-funding adjustment.
package reversal

import (
	"context"
	"errors"
	"fmt"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/posting"
	"github.com/fnyamweya/caricash-nova-sub003/internal/events"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// TxnReversal is the transaction type stamped on compensation journals.
const TxnReversal = "REVERSAL"

// TxnSuspenseFunding is the manual treasury-to-suspense adjustment type.
const TxnSuspenseFunding = "SUSPENSE_FUNDING"

var (
	// ErrAlreadyReversed rejects a second reversal of the same journal.
	ErrAlreadyReversed = errors.New("journal already reversed")

	// ErrNotReversible rejects reversal of a journal outside the posted
	// lifecycle.
	ErrNotReversible = errors.New("journal is not in a reversible state")
)

// Actor identifies who drives the reversal.
type Actor struct {
	Type string
	ID   string
}

// Pipeline posts compensation journals through the serialized engine.
type Pipeline struct {
	db     relationaldb.Database
	repos  *relationaldb.Repositories
	engine *posting.Engine
	sink   *events.Sink
}

// NewPipeline creates a pipeline.
func NewPipeline(db relationaldb.Database, engine *posting.Engine, sink *events.Sink) *Pipeline {
	return &Pipeline{db: db, repos: db.Repositories(), engine: engine, sink: sink}
}

// ReversalKey derives the compensation journal's idempotency key, so
// reversing the same journal twice replays instead of double-posting.
func ReversalKey(originalIdempotencyKey string) string {
	return "reversal:" + originalIdempotencyKey
}

// RequestVoid marks a posted journal as pending reversal.
func (p *Pipeline) RequestVoid(ctx context.Context, journalID string) error {
	return p.repos.Journals.UpdateState(ctx, p.db.Handle(), journalID, ledger.JournalPosted, ledger.JournalVoidRequested)
}

// Reverse posts the compensating journal for originalJournalID: every line
// swaps side with identical amounts, under the original's currency and
// domain key. The original moves to REVERSED.
func (p *Pipeline) Reverse(ctx context.Context, originalJournalID, correlationID string, actor Actor) (*posting.Result, error) {
	q := p.db.Handle()
	original, err := p.repos.Journals.GetByID(ctx, q, originalJournalID)
	if err != nil {
		return nil, err
	}
	switch original.State {
	case ledger.JournalPosted, ledger.JournalVoidRequested:
	case ledger.JournalReversed:
		return nil, ErrAlreadyReversed
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotReversible, original.State)
	}

	lines, err := p.repos.Journals.Lines(ctx, q, originalJournalID)
	if err != nil {
		return nil, err
	}
	entries := make([]ledger.Entry, 0, len(lines))
	for _, line := range lines {
		side := ledger.Debit
		if line.EntryType == ledger.Debit {
			side = ledger.Credit
		}
		entries = append(entries, ledger.Entry{
			AccountID:   line.AccountID,
			EntryType:   side,
			Amount:      line.Amount,
			Description: line.Description,
		})
	}

	result, err := p.engine.Post(ctx, original.DomainKey, &posting.Command{
		IdempotencyKey: ReversalKey(original.IdempotencyKey),
		CorrelationID:  correlationID,
		TxnType:        TxnReversal,
		Currency:       original.Currency,
		Entries:        entries,
		Description:    "reversal of " + originalJournalID,
		ActorType:      actor.Type,
		ActorID:        actor.ID,
	})
	if err != nil {
		return nil, err
	}

	if err := p.finalizeState(ctx, original); err != nil {
		return nil, err
	}

	if p.sink != nil && !result.Replayed {
		rec, err := p.sink.Event(ctx, q, events.Emit{
			Name:          events.EventReversalPosted,
			EntityType:    "journal",
			EntityID:      result.JournalID,
			CorrelationID: correlationID,
			CausationID:   originalJournalID,
			ActorType:     actor.Type,
			ActorID:       actor.ID,
		})
		if err != nil {
			return nil, err
		}
		if err := p.sink.AuditLog(ctx, q, events.Audit{
			Action:        "JOURNAL_REVERSED",
			Actor:         actor.Type + ":" + actor.ID,
			Target:        "journal:" + originalJournalID,
			CorrelationID: correlationID,
		}); err != nil {
			return nil, err
		}
		if err := p.sink.Spool(rec); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// finalizeState walks the original to REVERSED, tolerating a replay that
// already moved it.
func (p *Pipeline) finalizeState(ctx context.Context, original *ledger.Journal) error {
	q := p.db.Handle()
	if original.State == ledger.JournalPosted {
		err := p.repos.Journals.UpdateState(ctx, q, original.ID, ledger.JournalPosted, ledger.JournalVoidRequested)
		if err != nil && !errors.Is(err, relationaldb.ErrStateConflict) {
			return err
		}
	}
	err := p.repos.Journals.UpdateState(ctx, q, original.ID, ledger.JournalVoidRequested, ledger.JournalReversed)
	if err != nil && !errors.Is(err, relationaldb.ErrStateConflict) {
		return err
	}
	return nil
}

// FundSuspense posts the manual DR treasury-suspense / CR system-suspense
// pair. idempotencyKey is derived by the caller, typically from the approval
// request id.
func (p *Pipeline) FundSuspense(ctx context.Context, cur amount.Currency, amt amount.Amount, idempotencyKey, correlationID string, actor Actor) (*posting.Result, error) {
	return p.engine.Post(ctx, ledger.OpsKey("suspense", cur), &posting.Command{
		IdempotencyKey: idempotencyKey,
		CorrelationID:  correlationID,
		TxnType:        TxnSuspenseFunding,
		Currency:       cur,
		Entries: []ledger.Entry{
			{OwnerType: ledger.OwnerTreasury, OwnerID: "main", AccountType: ledger.AccountSuspense, EntryType: ledger.Debit, Amount: amt},
			{OwnerType: ledger.OwnerSystem, OwnerID: "main", AccountType: ledger.AccountSuspense, EntryType: ledger.Credit, Amount: amt},
		},
		Description: "manual suspense funding",
		ActorType:   actor.Type,
		ActorID:     actor.ID,
	})
}
