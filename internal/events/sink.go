// Package events records the append-only event log and audit trail, and
// drives at-least-once outbound delivery through the archive spool.
package events

import (
	"context"
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// Event names emitted by the platform.
const (
	EventTransactionPosted  = "TRANSACTION_POSTED"
	EventTransactionFailed  = "TRANSACTION_FAILED"
	EventReversalPosted     = "REVERSAL_POSTED"
	EventApprovalRequested  = "APPROVAL_REQUESTED"
	EventApprovalDecided    = "APPROVAL_DECIDED"
	EventApprovalExpired    = "APPROVAL_EXPIRED"
	EventPolicyChanged      = "POLICY_CHANGED"
	EventFraudRuleActivated = "FRAUD_RULE_ACTIVATED"
	EventReconFindingRaised = "RECON_FINDING_RAISED"
	EventReconCaseUpdated   = "RECON_CASE_UPDATED"
)

// SchemaVersion is stamped on every emitted event.
const SchemaVersion = 1

// Emit describes one event to record.
type Emit struct {
	Name          string
	EntityType    string
	EntityID      string
	CorrelationID string
	CausationID   string
	ActorType     string
	ActorID       string
	Payload       []byte
}

// Audit describes one audit trail entry.
type Audit struct {
	Action        string
	Actor         string
	Target        string
	Before        []byte
	After         []byte
	CorrelationID string
}

// Sink writes events and audit rows. Writes take a Querier so they join the
// caller's transaction; the queue hand-off happens after commit.
type Sink struct {
	repo  relationaldb.EventRepository
	queue *Queue
}

// NewSink creates a sink. queue may be nil when outbound delivery is
// disabled (verification tools, tests).
func NewSink(repo relationaldb.EventRepository, queue *Queue) *Sink {
	return &Sink{repo: repo, queue: queue}
}

// Event records one event row and returns the stored record for spooling.
func (s *Sink) Event(ctx context.Context, q relationaldb.Querier, e Emit) (*relationaldb.EventRecord, error) {
	rec := &relationaldb.EventRecord{
		ID:            ledger.NewID(),
		Name:          e.Name,
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
		ActorType:     e.ActorType,
		ActorID:       e.ActorID,
		SchemaVersion: SchemaVersion,
		PayloadJSON:   e.Payload,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.InsertEvent(ctx, q, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// AuditLog records one audit row. Audit is DB-only and never spooled.
func (s *Sink) AuditLog(ctx context.Context, q relationaldb.Querier, a Audit) error {
	return s.repo.InsertAudit(ctx, q, &relationaldb.AuditRecord{
		ID:            ledger.NewID(),
		Action:        a.Action,
		Actor:         a.Actor,
		Target:        a.Target,
		BeforeJSON:    a.Before,
		AfterJSON:     a.After,
		CorrelationID: a.CorrelationID,
		CreatedAt:     time.Now().UTC(),
	})
}

// Spool hands committed events to the outbound queue. Call only after the
// enclosing transaction committed; spool failures are delivery concerns and
// never unwind a posted journal.
func (s *Sink) Spool(recs ...*relationaldb.EventRecord) error {
	if s.queue == nil {
		return nil
	}
	for _, rec := range recs {
		if err := s.queue.Enqueue(rec); err != nil {
			return err
		}
	}
	return nil
}

// ByCorrelation returns every event sharing a correlation id, oldest first.
func (s *Sink) ByCorrelation(ctx context.Context, q relationaldb.Querier, correlationID string) ([]*relationaldb.EventRecord, error) {
	return s.repo.EventsByCorrelation(ctx, q, correlationID)
}
