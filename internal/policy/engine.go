package policy

import (
	"fmt"
	"time"
)

// Trace records why one policy matched or was skipped.
type Trace struct {
	PolicyID   string `json:"policy_id"`
	PolicyName string `json:"policy_name"`
	Matched    bool   `json:"matched"`
	Reason     string `json:"reason,omitempty"`
}

// MatchResult is the outcome of policy evaluation. With no explicit match
// the implicit single-checker policy applies and Implicit is set.
type MatchResult struct {
	Policy   *Policy `json:"policy,omitempty"`
	Implicit bool    `json:"implicit"`
	Stages   []Stage `json:"stages"`
	Trace    []Trace `json:"trace"`
}

// Engine evaluates policies and stage authorization against the store.
type Engine struct {
	store *Store
	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates an engine over the store.
func NewEngine(store *Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// implicitStages is the fallback when no policy matches: one checker,
// maker excluded.
func implicitStages() []Stage {
	return []Stage{{StageNo: 1, MinApprovals: 1, ExcludeMaker: true}}
}

// Match evaluates every candidate ACTIVE policy in priority order and
// returns the first match plus the full evaluation trace.
func (e *Engine) Match(req Request) MatchResult {
	now := e.now().UTC()
	result := MatchResult{}
	for _, p := range e.store.ActivePoliciesFor(req.ApprovalType) {
		matched, reason := e.evalPolicy(p, req, now)
		result.Trace = append(result.Trace, Trace{PolicyID: p.ID, PolicyName: p.Name, Matched: matched, Reason: reason})
		if matched && result.Policy == nil {
			result.Policy = p
			result.Stages = append([]Stage(nil), p.Stages...)
		}
	}
	if result.Policy == nil {
		result.Implicit = true
		result.Stages = implicitStages()
	}
	if len(result.Stages) == 0 {
		result.Stages = implicitStages()
	}
	return result
}

// Simulate is Match with no side effects; evaluation itself is pure, so
// this exists for API symmetry with the dry-run endpoint.
func (e *Engine) Simulate(req Request) MatchResult {
	return e.Match(req)
}

// evalPolicy runs the short-circuiting match pipeline: type, time window,
// bindings (OR), conditions (AND).
func (e *Engine) evalPolicy(p *Policy, req Request, now time.Time) (bool, string) {
	if p.ApprovalType != "" && p.ApprovalType != req.ApprovalType {
		return false, "approval type mismatch"
	}
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return false, "before valid_from"
	}
	if p.ValidTo != nil && now.After(*p.ValidTo) {
		return false, "after valid_to"
	}
	if reason := checkTimeConstraints(p.TimeConstraints, now); reason != "" {
		return false, reason
	}
	if len(p.Bindings) > 0 && !anyBindingMatches(p.Bindings, req) {
		return false, "no binding matched"
	}
	for _, c := range p.Conditions {
		ok, err := evalCondition(req, c)
		if err != nil {
			return false, fmt.Sprintf("condition %s: %v", c.Field, err)
		}
		if !ok {
			return false, fmt.Sprintf("condition %s %s failed", c.Field, c.Operator)
		}
	}
	return true, ""
}

func checkTimeConstraints(tc *TimeConstraints, now time.Time) string {
	if tc == nil {
		return ""
	}
	if len(tc.Weekdays) > 0 {
		iso := int(now.Weekday())
		if iso == 0 {
			iso = 7
		}
		ok := false
		for _, d := range tc.Weekdays {
			if d == iso {
				ok = true
				break
			}
		}
		if !ok {
			return "weekday not active"
		}
	}
	hhmm := now.Format("15:04")
	if tc.ActiveFromTime != "" && hhmm < tc.ActiveFromTime {
		return "before active window"
	}
	if tc.ActiveToTime != "" && hhmm > tc.ActiveToTime {
		return "after active window"
	}
	day := now.Format("2006-01-02")
	for _, blackout := range tc.BlackoutDates {
		if blackout == day {
			return "blackout date"
		}
	}
	return ""
}

func anyBindingMatches(bindings []Binding, req Request) bool {
	for _, b := range bindings {
		switch b.Type {
		case BindAll:
			return true
		case BindActor:
			if b.Value == req.ActorID {
				return true
			}
		case BindActorType:
			if b.Value == req.ActorType {
				return true
			}
		case BindRole:
			if b.Value == req.StaffRole {
				return true
			}
		case BindCurrency:
			if b.Value == req.Currency {
				return true
			}
		case BindHierarchy:
			if payloadEquals(req.Payload, "parent_id", b.Value) || payloadEquals(req.Payload, "merchant_id", b.Value) {
				return true
			}
		case BindBusinessUnit:
			if payloadEquals(req.Payload, "business_unit", b.Value) {
				return true
			}
		}
	}
	return false
}

func payloadEquals(payload map[string]any, key, want string) bool {
	v, ok := payload[key]
	return ok && asString(v) == want
}

// Decider identifies who is attempting a stage decision.
type Decider struct {
	ID   string
	Role string
}

// AuthorizeStage decides whether decider may decide the stage of a request
// made by makerID, given the ids of previous approvers. Delegations extend
// the allowed set: an active delegation lets the delegate stand in for the
// delegator's id and role. The maker-checker and repeat-approver exclusions
// are absolute and apply to delegated authority too.
func (e *Engine) AuthorizeStage(decider Decider, makerID, approvalType string, stage Stage, previousApprovers []string) error {
	if stage.ExcludeMaker && decider.ID == makerID {
		return ErrMakerCheckerRequired
	}
	if stage.ExcludePreviousApprovers {
		for _, prev := range previousApprovers {
			if prev == decider.ID {
				return ErrForbidden
			}
		}
	}
	if stageAllows(stage, decider.ID, decider.Role) {
		return nil
	}
	for _, d := range e.store.ActiveDelegationsFor(decider.ID, approvalType, e.now().UTC()) {
		if stage.ExcludeMaker && d.DelegatorID == makerID {
			continue
		}
		if stageAllows(stage, d.DelegatorID, d.DelegatorRole) {
			return nil
		}
	}
	return ErrForbidden
}

func stageAllows(stage Stage, actorID, role string) bool {
	roleOK := len(stage.AllowedRoles) == 0
	for _, r := range stage.AllowedRoles {
		if r == role {
			roleOK = true
			break
		}
	}
	actorOK := len(stage.AllowedActorIDs) == 0
	for _, id := range stage.AllowedActorIDs {
		if id == actorID {
			actorOK = true
			break
		}
	}
	return roleOK && actorOK
}
