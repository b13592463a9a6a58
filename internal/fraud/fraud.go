// Package fraud evaluates versioned fraud rules against transaction
// contexts. Exactly one rules version is ACTIVE at a time; activation is a
// governed maker-checker action.
package fraud

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// Action is a rule's verdict when it matches.
type Action string

const (
	ActionAllow  Action = "ALLOW"
	ActionReview Action = "REVIEW"
	ActionBlock  Action = "BLOCK"
)

// Rule is one fraud rule inside a version.
type Rule struct {
	ID               string             `json:"id"`
	AppliesToContext string             `json:"applies_to_context"` // TXN, BANK_DEPOSIT, PAYOUT, ...
	Severity         string             `json:"severity"`
	Action           Action             `json:"action"`
	Conditions       []policy.Condition `json:"conditions"`
	Priority         int                `json:"priority"`
	ReasonCode       string             `json:"reason_code"`
	CreateCase       bool               `json:"create_case"`
}

// VersionState is the rules-version lifecycle.
type VersionState string

const (
	VersionDraft    VersionState = "DRAFT"
	VersionActive   VersionState = "ACTIVE"
	VersionInactive VersionState = "INACTIVE"
)

// Version is one immutable set of rules.
type Version struct {
	ID          string       `json:"id"`
	Rules       []Rule       `json:"rules"`
	State       VersionState `json:"state"`
	CreatedBy   string       `json:"created_by"`
	ApprovedBy  string       `json:"approved_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	ActivatedAt *time.Time   `json:"activated_at,omitempty"`
}

// Case is an investigation opened by a matched rule.
type Case struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"rule_id"`
	ReasonCode  string    `json:"reason_code"`
	Severity    string    `json:"severity"`
	ContextType string    `json:"context_type"`
	ActorType   string    `json:"actor_type"`
	ActorID     string    `json:"actor_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

var (
	// ErrVersionNotFound is returned for unknown version ids.
	ErrVersionNotFound = errors.New("fraud rules version not found")

	// ErrSelfApproval rejects activation approved by the version's creator.
	ErrSelfApproval = errors.New("rules version approver must differ from creator")

	// ErrVersionNotActivatable rejects activating an already-active or
	// retired version.
	ErrVersionNotActivatable = errors.New("rules version cannot be activated")
)

// Store holds rule versions and fraud cases in memory. With a database
// attached every mutation writes through to the governance tables before the
// in-memory snapshot moves.
type Store struct {
	mu       sync.RWMutex
	db       relationaldb.Database
	versions map[string]*Version
	activeID string
	cases    []*Case
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{versions: make(map[string]*Version)}
}

// CreateVersion stores a DRAFT version.
func (s *Store) CreateVersion(rules []Rule, createdBy string) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := &Version{
		ID:        uuid.NewString(),
		Rules:     append([]Rule(nil), rules...),
		State:     VersionDraft,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	for i := range v.Rules {
		if v.Rules[i].ID == "" {
			v.Rules[i].ID = uuid.NewString()
		}
	}
	if err := s.saveVersion(v); err != nil {
		return nil, err
	}
	s.versions[v.ID] = v
	return cloneVersion(v), nil
}

// Activate promotes a version to ACTIVE, atomically demoting the previous
// ACTIVE version. The approver must differ from the creator.
func (s *Store) Activate(versionID, approvedBy string) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[versionID]
	if !ok {
		return nil, ErrVersionNotFound
	}
	if v.State != VersionDraft && v.State != VersionInactive {
		return nil, ErrVersionNotActivatable
	}
	if approvedBy == "" || approvedBy == v.CreatedBy {
		return nil, ErrSelfApproval
	}
	now := time.Now().UTC()
	next := cloneVersion(v)
	next.State = VersionActive
	next.ApprovedBy = approvedBy
	next.ActivatedAt = &now
	var demoted *Version
	if s.activeID != "" && s.activeID != v.ID {
		demoted = cloneVersion(s.versions[s.activeID])
		demoted.State = VersionInactive
	}
	if demoted != nil {
		if err := s.saveVersion(demoted); err != nil {
			return nil, err
		}
	}
	if err := s.saveVersion(next); err != nil {
		return nil, err
	}
	if demoted != nil {
		s.versions[demoted.ID] = demoted
	}
	s.versions[next.ID] = next
	s.activeID = next.ID
	return cloneVersion(next), nil
}

// Active returns the ACTIVE version, nil when none.
func (s *Store) Active() *Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeID == "" {
		return nil
	}
	return cloneVersion(s.versions[s.activeID])
}

// GetVersion returns a version by id.
func (s *Store) GetVersion(id string) (*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[id]
	if !ok {
		return nil, ErrVersionNotFound
	}
	return cloneVersion(v), nil
}

func (s *Store) openCase(c *Case) (*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = uuid.NewString()
	c.Status = "OPEN"
	c.CreatedAt = time.Now().UTC()
	if err := s.saveCase(c); err != nil {
		return nil, err
	}
	s.cases = append(s.cases, c)
	cp := *c
	return &cp, nil
}

// Cases returns every fraud case, oldest first.
func (s *Store) Cases() []*Case {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Case, 0, len(s.cases))
	for _, c := range s.cases {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

func cloneVersion(v *Version) *Version {
	cp := *v
	cp.Rules = append([]Rule(nil), v.Rules...)
	if v.ActivatedAt != nil {
		t := *v.ActivatedAt
		cp.ActivatedAt = &t
	}
	return &cp
}

// resolveField maps a condition field to the context value. Signals nest
// under signals.<path>.
func resolveField(ctx Context, score *ScoreResult, field string) (any, bool) {
	switch field {
	case "context_type":
		return ctx.ContextType, true
	case "actor_type":
		return ctx.ActorType, true
	case "actor_id":
		return ctx.ActorID, true
	case "amount":
		return float64(ctx.Amount.Cents()), true
	case "currency":
		return string(ctx.Currency), true
	case "score":
		if score == nil {
			return nil, false
		}
		return score.Score, true
	}
	if rest, ok := strings.CutPrefix(field, "signals."); ok {
		var cur any = ctx.Signals
		for _, part := range strings.Split(rest, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = m[part]
			if !ok {
				return nil, false
			}
		}
		return cur, true
	}
	return nil, false
}

// Context is one evaluation subject.
type Context struct {
	ContextType string          `json:"context_type"`
	ActorType   string          `json:"actor_type"`
	ActorID     string          `json:"actor_id"`
	Amount      amount.Amount   `json:"amount"`
	Currency    amount.Currency `json:"currency"`
	Signals     map[string]any  `json:"signals,omitempty"`
}
