package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// NewPersistentStore creates a store backed by the governance tables. The
// maps remain the read snapshot; every mutation writes through before it is
// applied, and existing rows are loaded here so a restart resumes with the
// same policies, delegations and bindings.
func NewPersistentStore(ctx context.Context, db relationaldb.Database) (*Store, error) {
	s := NewStore()
	s.db = db
	repo := db.Repositories().Governance
	q := db.Handle()

	docs, err := repo.Load(ctx, q, relationaldb.GovernancePolicy)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		var p Policy
		if err := json.Unmarshal(d.Document, &p); err != nil {
			return nil, fmt.Errorf("policy %s: %w", d.ID, err)
		}
		s.policies[p.ID] = &p
	}

	docs, err = repo.Load(ctx, q, relationaldb.GovernanceDelegation)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		var del Delegation
		if err := json.Unmarshal(d.Document, &del); err != nil {
			return nil, fmt.Errorf("delegation %s: %w", d.ID, err)
		}
		s.delegations[del.ID] = &del
	}

	docs, err = repo.Load(ctx, q, relationaldb.GovernanceBinding)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		var b EndpointBinding
		if err := json.Unmarshal(d.Document, &b); err != nil {
			return nil, fmt.Errorf("binding %s: %w", d.ID, err)
		}
		s.bindings[bindingKey(b.RoutePattern, b.HTTPMethod)] = &b
	}
	return s, nil
}

// saveDoc writes one governance document through to the database. It runs
// before the in-memory map is touched so a failed write leaves both layers
// on the prior version. The write is deliberately not tied to a request
// context: once the decision to mutate is made, cancelling halfway would
// desync memory from disk.
func (s *Store) saveDoc(kind relationaldb.GovernanceKind, id, state string, v any) error {
	if s.db == nil {
		return nil
	}
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Repositories().Governance.Save(context.Background(), s.db.Handle(), kind, &relationaldb.GovernanceDoc{
		ID:        id,
		State:     state,
		Document:  doc,
		UpdatedAt: time.Now().UTC(),
	})
}

func bindingState(b *EndpointBinding) string {
	if b.Active {
		return "ACTIVE"
	}
	return "INACTIVE"
}
