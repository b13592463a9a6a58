// Package approval implements the maker-checker workflow: request creation
// from policy evaluation, staged decisions, expiry and escalation, and the
// handler registry that executes side effects on final approval.
package approval

import (
	"context"
	"errors"
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
)

// RequestState is the approval request lifecycle.
type RequestState string

const (
	StatePending  RequestState = "PENDING"
	StateApproved RequestState = "APPROVED"
	StateRejected RequestState = "REJECTED"
	StateExpired  RequestState = "EXPIRED"
)

// WorkflowState tracks progress within the staged workflow.
type WorkflowState string

const (
	StagePending   WorkflowState = "STAGE_PENDING"
	StageEscalated WorkflowState = "STAGE_ESCALATED"
	WorkflowDone   WorkflowState = "DONE"
)

// Decision is one stage verdict.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// StageDecision records one decider's verdict at a stage.
type StageDecision struct {
	StageNo     int       `json:"stage_no"`
	Decision    Decision  `json:"decision"`
	DeciderID   string    `json:"decider_id"`
	DeciderRole string    `json:"decider_role,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
}

// Request is one approval request with its stage snapshot. Stages are
// copied from the matched policy at creation so later policy edits cannot
// change an in-flight workflow.
type Request struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       map[string]any  `json:"payload,omitempty"`
	MakerID       string          `json:"maker_id"`
	MakerType     string          `json:"maker_type,omitempty"`
	MakerRole     string          `json:"maker_role,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	State         RequestState    `json:"state"`
	PolicyID      string          `json:"policy_id,omitempty"`
	CurrentStage  int             `json:"current_stage"`
	TotalStages   int             `json:"total_stages"`
	WorkflowState WorkflowState   `json:"workflow_state"`
	Stages        []policy.Stage  `json:"stages"`
	Decisions     []StageDecision `json:"decisions"`
	CorrelationID string          `json:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at"`
	StageStartAt  time.Time       `json:"stage_start_at"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
}

// stage returns the current stage spec.
func (r *Request) stage() policy.Stage {
	return r.Stages[r.CurrentStage-1]
}

// approvalsAtStage counts APPROVE decisions recorded for a stage.
func (r *Request) approvalsAtStage(stageNo int) int {
	n := 0
	for _, d := range r.Decisions {
		if d.StageNo == stageNo && d.Decision == DecisionApprove {
			n++
		}
	}
	return n
}

// previousApprovers lists decider ids that approved earlier stages.
func (r *Request) previousApprovers() []string {
	var out []string
	for _, d := range r.Decisions {
		if d.Decision == DecisionApprove && d.StageNo < r.CurrentStage {
			out = append(out, d.DeciderID)
		}
	}
	return out
}

// HandlerContext carries the approved request into a side-effect handler.
type HandlerContext struct {
	Request *Request
	// Decider is the actor whose decision finalized the request.
	Decider policy.Decider
}

// Handler wires an approval type to its side effects. A nil OnApprove means
// the type is a pure approval gate.
type Handler struct {
	Label               string
	AllowedCheckerRoles []string
	OnApprove           func(ctx context.Context, hc HandlerContext) error
	OnReject            func(ctx context.Context, hc HandlerContext) error
	EventNames          []string
	AuditActions        []string
}

var (
	// ErrRequestNotFound is returned for unknown request ids.
	ErrRequestNotFound = errors.New("approval request not found")

	// ErrRequestNotPending rejects decisions on finished requests.
	ErrRequestNotPending = errors.New("approval request is not pending")

	// ErrRequestExpired is returned when a decision arrives after expiry.
	ErrRequestExpired = errors.New("approval request expired")

	// ErrAlreadyDecidedStage rejects a second decision by the same actor at
	// the same stage.
	ErrAlreadyDecidedStage = errors.New("decider already decided this stage")

	// ErrReasonRequired is returned when the approval type demands a reason
	// and none was supplied.
	ErrReasonRequired = errors.New("reason is required for this approval type")

	// ErrHandlerFailed wraps a side-effect handler error after the request
	// was finalized; the handler can be retried idempotently.
	ErrHandlerFailed = errors.New("approval handler failed")
)
