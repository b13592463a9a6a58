package policy

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// Store holds policies, delegations and endpoint bindings in memory behind
// one coarse lock per entity set. Admin writes are rare; evaluation reads a
// consistent snapshot. With a database attached every mutation writes
// through to the governance tables before the snapshot moves.
type Store struct {
	mu          sync.RWMutex
	db          relationaldb.Database
	policies    map[string]*Policy
	delegations map[string]*Delegation
	bindings    map[string]*EndpointBinding
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		policies:    make(map[string]*Policy),
		delegations: make(map[string]*Delegation),
		bindings:    make(map[string]*EndpointBinding),
	}
}

func clonePolicy(p *Policy) *Policy {
	cp := *p
	cp.Conditions = append([]Condition(nil), p.Conditions...)
	cp.Stages = append([]Stage(nil), p.Stages...)
	cp.Bindings = append([]Binding(nil), p.Bindings...)
	return &cp
}

// CreatePolicy stores a new policy in DRAFT unless a state is preset.
func (s *Store) CreatePolicy(p *Policy) (*Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.State == "" {
		p.State = PolicyDraft
	}
	p.Version = 1
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.saveDoc(relationaldb.GovernancePolicy, p.ID, string(p.State), p); err != nil {
		return nil, err
	}
	s.policies[p.ID] = clonePolicy(p)
	return clonePolicy(p), nil
}

// UpdatePolicy replaces the mutable parts of a policy and bumps its version.
func (s *Store) UpdatePolicy(p *Policy) (*Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.policies[p.ID]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	next := clonePolicy(p)
	next.State = cur.State
	next.Version = cur.Version + 1
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	if err := s.saveDoc(relationaldb.GovernancePolicy, next.ID, string(next.State), next); err != nil {
		return nil, err
	}
	s.policies[p.ID] = next
	return clonePolicy(next), nil
}

// GetPolicy returns a policy by id.
func (s *Store) GetPolicy(id string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return clonePolicy(p), nil
}

// ListPolicies returns all policies, optionally filtered by approval type.
func (s *Store) ListPolicies(approvalType string) []*Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Policy
	for _, p := range s.policies {
		if approvalType != "" && p.ApprovalType != approvalType {
			continue
		}
		out = append(out, clonePolicy(p))
	}
	sortPolicies(out)
	return out
}

// policy lifecycle: DRAFT -> ACTIVE <-> INACTIVE, anything -> ARCHIVED.
func validPolicyMove(from, to PolicyState) bool {
	switch to {
	case PolicyActive:
		return from == PolicyDraft || from == PolicyInactive
	case PolicyInactive:
		return from == PolicyActive
	case PolicyArchived:
		return from != PolicyArchived
	}
	return false
}

func (s *Store) movePolicy(id string, to PolicyState) (*Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	if !validPolicyMove(p.State, to) {
		return nil, ErrInvalidPolicyState
	}
	next := clonePolicy(p)
	next.State = to
	next.UpdatedAt = time.Now().UTC()
	if err := s.saveDoc(relationaldb.GovernancePolicy, next.ID, string(next.State), next); err != nil {
		return nil, err
	}
	s.policies[id] = next
	return clonePolicy(next), nil
}

// ActivatePolicy moves a policy to ACTIVE.
func (s *Store) ActivatePolicy(id string) (*Policy, error) {
	return s.movePolicy(id, PolicyActive)
}

// DeactivatePolicy moves a policy to INACTIVE.
func (s *Store) DeactivatePolicy(id string) (*Policy, error) {
	return s.movePolicy(id, PolicyInactive)
}

// ArchivePolicy retires a policy permanently.
func (s *Store) ArchivePolicy(id string) (*Policy, error) {
	return s.movePolicy(id, PolicyArchived)
}

// ActivePoliciesFor returns ACTIVE policies matching the approval type,
// typeless policies included, ordered by priority then created_at then id.
func (s *Store) ActivePoliciesFor(approvalType string) []*Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Policy
	for _, p := range s.policies {
		if p.State != PolicyActive {
			continue
		}
		if p.ApprovalType != "" && p.ApprovalType != approvalType {
			continue
		}
		out = append(out, clonePolicy(p))
	}
	sortPolicies(out)
	return out
}

func sortPolicies(ps []*Policy) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Priority != ps[j].Priority {
			return ps[i].Priority < ps[j].Priority
		}
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

// CreateDelegation stores an ACTIVE delegation.
func (s *Store) CreateDelegation(d *Delegation) (*Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.State = DelegationActive
	d.CreatedAt = time.Now().UTC()
	if err := s.saveDoc(relationaldb.GovernanceDelegation, d.ID, string(d.State), d); err != nil {
		return nil, err
	}
	cp := *d
	s.delegations[d.ID] = &cp
	out := cp
	return &out, nil
}

// RevokeDelegation marks a delegation REVOKED.
func (s *Store) RevokeDelegation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.delegations[id]
	if !ok {
		return ErrDelegationNotFound
	}
	cp := *d
	cp.State = DelegationRevoked
	if err := s.saveDoc(relationaldb.GovernanceDelegation, cp.ID, string(cp.State), &cp); err != nil {
		return err
	}
	d.State = DelegationRevoked
	return nil
}

// ListDelegations returns every delegation.
func (s *Store) ListDelegations() []*Delegation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Delegation, 0, len(s.delegations))
	for _, d := range s.delegations {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActiveDelegationsFor returns delegations granting delegateID authority for
// approvalType at instant now.
func (s *Store) ActiveDelegationsFor(delegateID, approvalType string, now time.Time) []*Delegation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Delegation
	for _, d := range s.delegations {
		if d.State != DelegationActive || d.DelegateID != delegateID {
			continue
		}
		if d.ApprovalType != "" && d.ApprovalType != approvalType {
			continue
		}
		if now.Before(d.ValidFrom) || now.After(d.ValidTo) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out
}

// UpsertEndpointBinding stores a binding keyed by (pattern, method).
func (s *Store) UpsertEndpointBinding(b *EndpointBinding) (*EndpointBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bindingKey(b.RoutePattern, b.HTTPMethod)
	if existing, ok := s.bindings[key]; ok {
		b.ID = existing.ID
		b.CreatedAt = existing.CreatedAt
	} else {
		b.ID = uuid.NewString()
		b.CreatedAt = time.Now().UTC()
	}
	if err := s.saveDoc(relationaldb.GovernanceBinding, b.ID, bindingState(b), b); err != nil {
		return nil, err
	}
	cp := *b
	s.bindings[key] = &cp
	out := cp
	return &out, nil
}

// LookupEndpointBinding finds the active binding for a route, if any.
func (s *Store) LookupEndpointBinding(routePattern, method string) (*EndpointBinding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[bindingKey(routePattern, method)]
	if !ok || !b.Active {
		return nil, false
	}
	cp := *b
	return &cp, true
}

// ListEndpointBindings returns every binding.
func (s *Store) ListEndpointBindings() []*EndpointBinding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*EndpointBinding, 0, len(s.bindings))
	for _, b := range s.bindings {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoutePattern < out[j].RoutePattern })
	return out
}

func bindingKey(pattern, method string) string {
	return strings.ToUpper(method) + " " + pattern
}
