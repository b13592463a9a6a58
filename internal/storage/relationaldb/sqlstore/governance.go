package sqlstore

import (
	"context"

	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

type governanceRepository struct {
	rebind rebindFunc
}

var governanceTables = map[relationaldb.GovernanceKind]bool{
	relationaldb.GovernancePolicy:       true,
	relationaldb.GovernanceDelegation:   true,
	relationaldb.GovernanceBinding:      true,
	relationaldb.GovernanceRequest:      true,
	relationaldb.GovernanceFraudVersion: true,
	relationaldb.GovernanceFraudCase:    true,
}

func (r *governanceRepository) Save(ctx context.Context, q relationaldb.Querier, kind relationaldb.GovernanceKind, doc *relationaldb.GovernanceDoc) error {
	if !governanceTables[kind] {
		return relationaldb.NewDataError("governance_save", "unknown governance kind "+string(kind), nil)
	}
	// Upsert keyed by id; works on both sqlite and postgres.
	_, err := exec(ctx, q, r.rebind,
		`INSERT INTO `+string(kind)+` (id, state, document, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   state = excluded.state,
		   document = excluded.document,
		   updated_at = excluded.updated_at`,
		doc.ID, doc.State, doc.Document, doc.UpdatedAt)
	if err != nil {
		return relationaldb.NewDataError("governance_save", "failed to upsert "+string(kind), err)
	}
	return nil
}

func (r *governanceRepository) Load(ctx context.Context, q relationaldb.Querier, kind relationaldb.GovernanceKind) ([]*relationaldb.GovernanceDoc, error) {
	if !governanceTables[kind] {
		return nil, relationaldb.NewDataError("governance_load", "unknown governance kind "+string(kind), nil)
	}
	rows, err := q.QueryContext(ctx, r.rebind(
		`SELECT id, state, document, updated_at FROM `+string(kind)+` ORDER BY id`))
	if err != nil {
		return nil, relationaldb.NewDataError("governance_load", "failed to query "+string(kind), err)
	}
	defer rows.Close()

	var docs []*relationaldb.GovernanceDoc
	for rows.Next() {
		var d relationaldb.GovernanceDoc
		if err := rows.Scan(&d.ID, &d.State, &d.Document, &d.UpdatedAt); err != nil {
			return nil, relationaldb.NewDataError("governance_load", "failed to scan "+string(kind), err)
		}
		docs = append(docs, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, relationaldb.NewDataError("governance_load", "failed to iterate "+string(kind), err)
	}
	return docs, nil
}
