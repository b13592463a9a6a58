// Package policy implements approval policy management and evaluation:
// which requests need approval, how many stages, and who may decide each
// stage, including delegations.
package policy

import (
	"errors"
	"time"
)

// PolicyState is the policy lifecycle.
type PolicyState string

const (
	PolicyDraft    PolicyState = "DRAFT"
	PolicyActive   PolicyState = "ACTIVE"
	PolicyInactive PolicyState = "INACTIVE"
	PolicyArchived PolicyState = "ARCHIVED"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpNotIn    Operator = "not_in"
	OpContains Operator = "contains"
	OpRegex    Operator = "regex"
	OpBetween  Operator = "between"
	OpExists   Operator = "exists"
)

// Condition is one (field, operator, value) predicate. Fields resolve
// against the request's top-level keys or payload.<path>.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// Stage is one approval stage specification.
type Stage struct {
	StageNo                  int      `json:"stage_no"`
	MinApprovals             int      `json:"min_approvals"`
	AllowedRoles             []string `json:"allowed_roles,omitempty"`
	AllowedActorIDs          []string `json:"allowed_actor_ids,omitempty"`
	ExcludeMaker             bool     `json:"exclude_maker"`
	ExcludePreviousApprovers bool     `json:"exclude_previous_approvers"`
	TimeoutMinutes           int      `json:"timeout_minutes,omitempty"`
	EscalationRoles          []string `json:"escalation_roles,omitempty"`
	EscalationActorIDs       []string `json:"escalation_actor_ids,omitempty"`
}

// BindingType selects what a policy binding matches on.
type BindingType string

const (
	BindAll          BindingType = "all"
	BindActor        BindingType = "actor"
	BindActorType    BindingType = "actor_type"
	BindRole         BindingType = "role"
	BindCurrency     BindingType = "currency"
	BindHierarchy    BindingType = "hierarchy"
	BindBusinessUnit BindingType = "business_unit"
)

// Binding scopes a policy to a population. Bindings OR together.
type Binding struct {
	Type  BindingType `json:"type"`
	Value string      `json:"value,omitempty"`
}

// TimeConstraints gates a policy by wall-clock rules, all in UTC.
type TimeConstraints struct {
	Weekdays       []int    `json:"weekdays,omitempty"`         // ISO 1=Mon .. 7=Sun
	ActiveFromTime string   `json:"active_from_time,omitempty"` // HH:MM
	ActiveToTime   string   `json:"active_to_time,omitempty"`   // HH:MM
	BlackoutDates  []string `json:"blackout_dates,omitempty"`   // YYYY-MM-DD
}

// Policy is one approval policy with its child sets.
type Policy struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	ApprovalType      string           `json:"approval_type,omitempty"` // empty matches every type
	Priority          int              `json:"priority"`                // lower wins
	State             PolicyState      `json:"state"`
	Version           int              `json:"version"`
	ValidFrom         *time.Time       `json:"valid_from,omitempty"`
	ValidTo           *time.Time       `json:"valid_to,omitempty"`
	TimeConstraints   *TimeConstraints `json:"time_constraints,omitempty"`
	ExpiryMinutes     int              `json:"expiry_minutes,omitempty"`
	EscalationMinutes int              `json:"escalation_minutes,omitempty"`
	Conditions        []Condition      `json:"conditions,omitempty"`
	Stages            []Stage          `json:"stages,omitempty"`
	Bindings          []Binding        `json:"bindings,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// DelegationState is the delegation lifecycle.
type DelegationState string

const (
	DelegationActive  DelegationState = "ACTIVE"
	DelegationRevoked DelegationState = "REVOKED"
	DelegationExpired DelegationState = "EXPIRED"
)

// Delegation grants the delegate the delegator's approval authorization for
// matching types inside the window. DelegatorRole is captured at creation so
// role-based stages can honor the grant without a directory lookup.
type Delegation struct {
	ID            string          `json:"id"`
	DelegatorID   string          `json:"delegator_id"`
	DelegatorRole string          `json:"delegator_role,omitempty"`
	DelegateID    string          `json:"delegate_id"`
	ApprovalType  string          `json:"approval_type,omitempty"` // empty covers all types
	ValidFrom     time.Time       `json:"valid_from"`
	ValidTo       time.Time       `json:"valid_to"`
	State         DelegationState `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
}

// EndpointBinding routes an HTTP operation into the approval workflow.
type EndpointBinding struct {
	ID           string    `json:"id"`
	RoutePattern string    `json:"route_pattern"`
	HTTPMethod   string    `json:"http_method"`
	ApprovalType string    `json:"approval_type"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

var (
	// ErrPolicyNotFound is returned for unknown policy ids.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrDelegationNotFound is returned for unknown delegation ids.
	ErrDelegationNotFound = errors.New("delegation not found")

	// ErrInvalidPolicyState rejects lifecycle moves the policy state
	// machine does not allow.
	ErrInvalidPolicyState = errors.New("invalid policy state transition")

	// ErrMakerCheckerRequired denies a maker deciding their own request.
	ErrMakerCheckerRequired = errors.New("maker cannot decide own request")

	// ErrForbidden denies a decider the stage does not authorize.
	ErrForbidden = errors.New("decider not authorized for stage")
)
