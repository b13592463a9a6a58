package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// NewPersistentStore creates a store backed by the governance tables. Rule
// versions and cases are loaded on startup; the ACTIVE version is recovered
// from the persisted states.
func NewPersistentStore(ctx context.Context, db relationaldb.Database) (*Store, error) {
	s := NewStore()
	s.db = db
	repo := db.Repositories().Governance
	q := db.Handle()

	docs, err := repo.Load(ctx, q, relationaldb.GovernanceFraudVersion)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		var v Version
		if err := json.Unmarshal(d.Document, &v); err != nil {
			return nil, fmt.Errorf("fraud version %s: %w", d.ID, err)
		}
		s.versions[v.ID] = &v
		if v.State == VersionActive {
			s.activeID = v.ID
		}
	}

	docs, err = repo.Load(ctx, q, relationaldb.GovernanceFraudCase)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		var c Case
		if err := json.Unmarshal(d.Document, &c); err != nil {
			return nil, fmt.Errorf("fraud case %s: %w", d.ID, err)
		}
		s.cases = append(s.cases, &c)
	}
	sort.Slice(s.cases, func(i, j int) bool { return s.cases[i].CreatedAt.Before(s.cases[j].CreatedAt) })
	return s, nil
}

// Write-through runs before the in-memory state moves, so a failed write
// leaves both layers on the prior version. Not tied to a request context:
// once the decision to mutate is made, cancelling halfway would desync
// memory from disk.

func (s *Store) saveVersion(v *Version) error {
	return s.saveDoc(relationaldb.GovernanceFraudVersion, v.ID, string(v.State), v)
}

func (s *Store) saveCase(c *Case) error {
	return s.saveDoc(relationaldb.GovernanceFraudCase, c.ID, c.Status, c)
}

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
