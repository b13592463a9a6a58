package fraud

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb/sqlstore"
)

func newTestDB(t *testing.T) relationaldb.Database {
	t.Helper()
	cfg := relationaldb.DefaultConfig()
	cfg.DSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := sqlstore.NewDatabase(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Open(context.Background()))
	t.Cleanup(func() { db.Close(context.Background()) })
	return db
}

func TestPersistentStoreReloadsActiveVersionAndCases(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	s, err := NewPersistentStore(ctx, db)
	require.NoError(t, err)

	rules := []Rule{{
		AppliesToContext: "TXN",
		Severity:         "HIGH",
		Action:           ActionReview,
		ReasonCode:       "LARGE_TXN",
		CreateCase:       true,
		Conditions: []policy.Condition{
			{Field: "amount", Operator: policy.OpGte, Value: float64(500_00)},
		},
	}}
	v1 := activeRules(t, s, rules)
	v2, err := s.CreateVersion(nil, "maker")
	require.NoError(t, err)

	// A matched CreateCase rule persists the opened case too.
	eval := NewEvaluator(s, nil)
	decision, err := eval.Evaluate(ctx, txnContext(900_00))
	require.NoError(t, err)
	require.Len(t, decision.Matches, 1)

	reloaded, err := NewPersistentStore(ctx, db)
	require.NoError(t, err)

	active := reloaded.Active()
	require.NotNil(t, active)
	assert.Equal(t, v1.ID, active.ID)
	require.Len(t, active.Rules, 1)
	assert.Equal(t, "LARGE_TXN", active.Rules[0].ReasonCode)

	draft, err := reloaded.GetVersion(v2.ID)
	require.NoError(t, err)
	assert.Equal(t, VersionDraft, draft.State)

	cases := reloaded.Cases()
	require.Len(t, cases, 1)
	assert.Equal(t, "LARGE_TXN", cases[0].ReasonCode)
	assert.Equal(t, "OPEN", cases[0].Status)

	// Activating the draft on the reloaded store demotes the survivor.
	_, err = reloaded.Activate(v2.ID, "checker")
	require.NoError(t, err)
	again, err := NewPersistentStore(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, again.Active().ID)
	old, err := again.GetVersion(v1.ID)
	require.NoError(t, err)
	assert.Equal(t, VersionInactive, old.State)
}
