package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/statemachine"
	"github.com/fnyamweya/caricash-nova-sub003/internal/events"
	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// TypeConfig gates one approval type.
type TypeConfig struct {
	Enabled       bool `json:"enabled"`
	RequireReason bool `json:"require_reason"`
}

// Workflow runs the staged maker-checker process. Requests live in memory
// behind one coarse lock; side-effect handlers run outside it.
type Workflow struct {
	policies *policy.Engine
	db       relationaldb.Database
	sink     *events.Sink
	now      func() time.Time

	mu       sync.RWMutex
	requests map[string]*Request
	handlers map[string]*Handler
	typeCfg  map[string]TypeConfig
}

// NewWorkflow creates a workflow. db and sink may be nil when event
// persistence is not wired (simulation, tests).
func NewWorkflow(policies *policy.Engine, db relationaldb.Database, sink *events.Sink) *Workflow {
	return &Workflow{
		policies: policies,
		db:       db,
		sink:     sink,
		now:      time.Now,
		requests: make(map[string]*Request),
		handlers: make(map[string]*Handler),
		typeCfg:  make(map[string]TypeConfig),
	}
}

// Register wires a handler to an approval type and enables it.
func (w *Workflow) Register(approvalType string, h *Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[approvalType] = h
	if _, ok := w.typeCfg[approvalType]; !ok {
		w.typeCfg[approvalType] = TypeConfig{Enabled: true}
	}
}

// SetTypeConfig overrides the config for an approval type.
func (w *Workflow) SetTypeConfig(approvalType string, cfg TypeConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.typeCfg[approvalType] = cfg
}

// TypeConfigFor reports the config for a type; unregistered types default
// to an enabled pure gate.
func (w *Workflow) TypeConfigFor(approvalType string) TypeConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if cfg, ok := w.typeCfg[approvalType]; ok {
		return cfg
	}
	return TypeConfig{Enabled: true}
}

// Load hydrates requests persisted by a previous process so pending
// approvals survive a restart.
func (w *Workflow) Load(ctx context.Context) error {
	if w.db == nil {
		return nil
	}
	docs, err := w.db.Repositories().Governance.Load(ctx, w.db.Handle(), relationaldb.GovernanceRequest)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, d := range docs {
		var r Request
		if err := json.Unmarshal(d.Document, &r); err != nil {
			return fmt.Errorf("approval request %s: %w", d.ID, err)
		}
		w.requests[r.ID] = &r
	}
	return nil
}

// persist writes one request snapshot through to the governance tables. It
// is deliberately not tied to a request context: once a decision is taken
// in memory, cancelling the write halfway would desync memory from disk.
func (w *Workflow) persist(r *Request) error {
	if w.db == nil {
		return nil
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return w.db.Repositories().Governance.Save(context.Background(), w.db.Handle(), relationaldb.GovernanceRequest, &relationaldb.GovernanceDoc{
		ID:        r.ID,
		State:     string(r.State),
		Document:  doc,
		UpdatedAt: w.now().UTC(),
	})
}

// CreateInput describes a new approval request.
type CreateInput struct {
	Type          string
	Payload       map[string]any
	MakerType     string
	MakerID       string
	MakerRole     string
	Reason        string
	CorrelationID string
}

// Create evaluates policy for the request and opens it at stage 1.
func (w *Workflow) Create(ctx context.Context, in CreateInput) (*Request, error) {
	if w.TypeConfigFor(in.Type).RequireReason && in.Reason == "" {
		return nil, ErrReasonRequired
	}

	currency, _ := in.Payload["currency"].(string)
	match := w.policies.Match(policy.Request{
		ApprovalType: in.Type,
		ActorType:    in.MakerType,
		ActorID:      in.MakerID,
		StaffRole:    in.MakerRole,
		Currency:     currency,
		Payload:      in.Payload,
	})

	now := w.now().UTC()
	r := &Request{
		ID:            uuid.NewString(),
		Type:          in.Type,
		Payload:       in.Payload,
		MakerID:       in.MakerID,
		MakerType:     in.MakerType,
		MakerRole:     in.MakerRole,
		Reason:        in.Reason,
		State:         StatePending,
		CurrentStage:  1,
		TotalStages:   len(match.Stages),
		WorkflowState: StagePending,
		Stages:        match.Stages,
		CorrelationID: in.CorrelationID,
		CreatedAt:     now,
		StageStartAt:  now,
	}
	if match.Policy != nil {
		r.PolicyID = match.Policy.ID
		if match.Policy.ExpiryMinutes > 0 {
			exp := now.Add(time.Duration(match.Policy.ExpiryMinutes) * time.Minute)
			r.ExpiresAt = &exp
		}
	}

	if err := w.persist(r); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.requests[r.ID] = r
	snapshot := cloneRequest(r)
	w.mu.Unlock()

	w.emit(ctx, events.EventApprovalRequested, snapshot, "APPROVAL_REQUEST_CREATED", in.MakerType+":"+in.MakerID)
	return snapshot, nil
}

// Get returns a request snapshot.
func (w *Workflow) Get(id string) (*Request, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return cloneRequest(r), nil
}

// List returns requests, newest first, optionally filtered by state.
func (w *Workflow) List(state RequestState) []*Request {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []*Request
	for _, r := range w.requests {
		if state != "" && r.State != state {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Approve records an APPROVE decision by decider at the current stage,
// advancing or finalizing the request when the stage quorum is met. The
// registered handler runs after finalization; its failure is reported but
// the approval itself stands, and the handler's idempotent derived keys
// make a retry safe.
func (w *Workflow) Approve(ctx context.Context, id string, decider policy.Decider, reason string) (*Request, error) {
	snapshot, finalized, err := w.decide(id, decider, DecisionApprove, reason)
	if err != nil {
		return nil, err
	}
	w.emit(ctx, events.EventApprovalDecided, snapshot, "APPROVAL_STAGE_APPROVED", "STAFF:"+decider.ID)

	if finalized {
		if h := w.handlerFor(snapshot.Type); h != nil && h.OnApprove != nil {
			if err := h.OnApprove(ctx, HandlerContext{Request: snapshot, Decider: decider}); err != nil {
				return snapshot, fmt.Errorf("%w: %v", ErrHandlerFailed, err)
			}
		}
	}
	return snapshot, nil
}

// Reject terminates the request with a single rejection.
func (w *Workflow) Reject(ctx context.Context, id string, decider policy.Decider, reason string) (*Request, error) {
	snapshot, _, err := w.decide(id, decider, DecisionReject, reason)
	if err != nil {
		return nil, err
	}
	w.emit(ctx, events.EventApprovalDecided, snapshot, "APPROVAL_REJECTED", "STAFF:"+decider.ID)

	if h := w.handlerFor(snapshot.Type); h != nil && h.OnReject != nil {
		if err := h.OnReject(ctx, HandlerContext{Request: snapshot, Decider: decider}); err != nil {
			return snapshot, fmt.Errorf("%w: %v", ErrHandlerFailed, err)
		}
	}
	return snapshot, nil
}

func (w *Workflow) decide(id string, decider policy.Decider, decision Decision, reason string) (*Request, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.requests[id]
	if !ok {
		return nil, false, ErrRequestNotFound
	}
	if r.State != StatePending {
		return nil, false, ErrRequestNotPending
	}
	now := w.now().UTC()
	if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		if err := w.transition(r, StateExpired); err != nil {
			return nil, false, err
		}
		if err := w.persist(cloneRequest(r)); err != nil {
			return nil, false, err
		}
		return nil, false, ErrRequestExpired
	}

	stage := r.stage()
	if h := w.handlers[r.Type]; h != nil && len(h.AllowedCheckerRoles) > 0 && !contains(h.AllowedCheckerRoles, decider.Role) {
		return nil, false, policy.ErrForbidden
	}
	if err := w.policies.AuthorizeStage(decider, r.MakerID, r.Type, stage, r.previousApprovers()); err != nil {
		return nil, false, err
	}
	for _, d := range r.Decisions {
		if d.StageNo == r.CurrentStage && d.DeciderID == decider.ID {
			return nil, false, ErrAlreadyDecidedStage
		}
	}

	r.Decisions = append(r.Decisions, StageDecision{
		StageNo:     r.CurrentStage,
		Decision:    decision,
		DeciderID:   decider.ID,
		DeciderRole: decider.Role,
		Reason:      reason,
		DecidedAt:   now,
	})

	finalized := false
	if decision == DecisionReject {
		if err := w.transition(r, StateRejected); err != nil {
			return nil, false, err
		}
		r.DecidedAt = &now
		r.WorkflowState = WorkflowDone
	} else if r.approvalsAtStage(r.CurrentStage) >= stage.MinApprovals {
		if r.CurrentStage < r.TotalStages {
			r.CurrentStage++
			r.StageStartAt = now
			r.WorkflowState = StagePending
		} else {
			if err := w.transition(r, StateApproved); err != nil {
				return nil, false, err
			}
			r.DecidedAt = &now
			r.WorkflowState = WorkflowDone
			finalized = true
		}
	}
	snapshot := cloneRequest(r)
	if err := w.persist(snapshot); err != nil {
		return nil, false, err
	}
	return snapshot, finalized, nil
}

// ExpireOverdue moves PENDING requests past their expiry to EXPIRED and
// returns them.
func (w *Workflow) ExpireOverdue(ctx context.Context) ([]*Request, error) {
	now := w.now().UTC()
	var expired []*Request

	w.mu.Lock()
	for _, r := range w.requests {
		if r.State != StatePending || r.ExpiresAt == nil || now.Before(*r.ExpiresAt) {
			continue
		}
		if err := w.transition(r, StateExpired); err != nil {
			w.mu.Unlock()
			return nil, err
		}
		r.WorkflowState = WorkflowDone
		expired = append(expired, cloneRequest(r))
	}
	w.mu.Unlock()

	for _, r := range expired {
		if err := w.persist(r); err != nil {
			return nil, err
		}
		w.emit(ctx, events.EventApprovalExpired, r, "APPROVAL_EXPIRED", "SYSTEM:workflow")
	}
	return expired, nil
}

// EscalateOverdueStages flags stages whose timeout elapsed without quorum
// and returns the affected requests; the escalation targets come from the
// stage spec.
func (w *Workflow) EscalateOverdueStages(ctx context.Context) ([]*Request, error) {
	now := w.now().UTC()
	var escalated []*Request

	w.mu.Lock()
	for _, r := range w.requests {
		if r.State != StatePending || r.WorkflowState != StagePending {
			continue
		}
		stage := r.stage()
		if stage.TimeoutMinutes <= 0 {
			continue
		}
		if now.After(r.StageStartAt.Add(time.Duration(stage.TimeoutMinutes) * time.Minute)) {
			r.WorkflowState = StageEscalated
			escalated = append(escalated, cloneRequest(r))
		}
	}
	w.mu.Unlock()

	for _, r := range escalated {
		if err := w.persist(r); err != nil {
			return nil, err
		}
		w.emit(ctx, events.EventApprovalDecided, r, "APPROVAL_STAGE_ESCALATED", "SYSTEM:workflow")
	}
	return escalated, nil
}

func (w *Workflow) transition(r *Request, to RequestState) error {
	if err := statemachine.Validate(statemachine.ApprovalRequest.Entity, statemachine.State(r.State), statemachine.State(to)); err != nil {
		return err
	}
	r.State = to
	return nil
}

func (w *Workflow) handlerFor(approvalType string) *Handler {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.handlers[approvalType]
}

func (w *Workflow) emit(ctx context.Context, name string, r *Request, auditAction, actor string) {
	if w.sink == nil || w.db == nil {
		return
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return
	}
	q := w.db.Handle()
	rec, err := w.sink.Event(ctx, q, events.Emit{
		Name:          name,
		EntityType:    "approval_request",
		EntityID:      r.ID,
		CorrelationID: r.CorrelationID,
		ActorType:     r.MakerType,
		ActorID:       r.MakerID,
		Payload:       payload,
	})
	if err != nil {
		return
	}
	_ = w.sink.AuditLog(ctx, q, events.Audit{
		Action:        auditAction,
		Actor:         actor,
		Target:        "approval_request:" + r.ID,
		After:         payload,
		CorrelationID: r.CorrelationID,
	})
	_ = w.sink.Spool(rec)
}

func cloneRequest(r *Request) *Request {
	cp := *r
	cp.Stages = append([]policy.Stage(nil), r.Stages...)
	cp.Decisions = append([]StageDecision(nil), r.Decisions...)
	if r.ExpiresAt != nil {
		exp := *r.ExpiresAt
		cp.ExpiresAt = &exp
	}
	if r.DecidedAt != nil {
		dec := *r.DecidedAt
		cp.DecidedAt = &dec
	}
	return &cp
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
