package sqlstore

import (
	"context"

	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

type eventRepository struct {
	rebind rebindFunc
}

func (r *eventRepository) InsertEvent(ctx context.Context, q relationaldb.Querier, e *relationaldb.EventRecord) error {
	_, err := exec(ctx, q, r.rebind,
		`INSERT INTO event_log
		 (id, name, entity_type, entity_id, correlation_id, causation_id,
		  actor_type, actor_id, schema_version, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.EntityType, e.EntityID, e.CorrelationID, e.CausationID,
		e.ActorType, e.ActorID, e.SchemaVersion, e.PayloadJSON, e.CreatedAt)
	if err != nil {
		return relationaldb.NewDataError("event_insert", "failed to insert event", err)
	}
	return nil
}

func (r *eventRepository) InsertAudit(ctx context.Context, q relationaldb.Querier, a *relationaldb.AuditRecord) error {
	_, err := exec(ctx, q, r.rebind,
		`INSERT INTO audit_log
		 (id, action, actor, target, before_json, after_json, correlation_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Action, a.Actor, a.Target, a.BeforeJSON, a.AfterJSON, a.CorrelationID, a.CreatedAt)
	if err != nil {
		return relationaldb.NewDataError("audit_insert", "failed to insert audit row", err)
	}
	return nil
}

func (r *eventRepository) EventsByCorrelation(ctx context.Context, q relationaldb.Querier, correlationID string) ([]*relationaldb.EventRecord, error) {
	rows, err := q.QueryContext(ctx, r.rebind(
		`SELECT id, name, entity_type, entity_id, correlation_id, causation_id,
		        actor_type, actor_id, schema_version, payload_json, created_at
		 FROM event_log WHERE correlation_id = ? ORDER BY id`), correlationID)
	if err != nil {
		return nil, relationaldb.NewDataError("events_by_correlation", "query failed", err)
	}
	defer rows.Close()

	var out []*relationaldb.EventRecord
	for rows.Next() {
		var e relationaldb.EventRecord
		if err := rows.Scan(&e.ID, &e.Name, &e.EntityType, &e.EntityID, &e.CorrelationID,
			&e.CausationID, &e.ActorType, &e.ActorID, &e.SchemaVersion, &e.PayloadJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
