package fraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
)

func activeRules(t *testing.T, s *Store, rules []Rule) *Version {
	t.Helper()
	v, err := s.CreateVersion(rules, "maker")
	require.NoError(t, err)
	activated, err := s.Activate(v.ID, "checker")
	require.NoError(t, err)
	return activated
}

func TestSingleActiveVersion(t *testing.T) {
	s := NewStore()
	v1 := activeRules(t, s, nil)
	v2, err := s.CreateVersion(nil, "maker")
	require.NoError(t, err)

	activated, err := s.Activate(v2.ID, "checker")
	require.NoError(t, err)
	assert.Equal(t, VersionActive, activated.State)

	old, err := s.GetVersion(v1.ID)
	require.NoError(t, err)
	assert.Equal(t, VersionInactive, old.State)
	assert.Equal(t, v2.ID, s.Active().ID)
}

func TestActivationRequiresDistinctApprover(t *testing.T) {
	s := NewStore()
	v, err := s.CreateVersion(nil, "maker")
	require.NoError(t, err)
	_, err = s.Activate(v.ID, "maker")
	assert.ErrorIs(t, err, ErrSelfApproval)
	_, err = s.Activate(v.ID, "")
	assert.ErrorIs(t, err, ErrSelfApproval)
}

func TestReactivatingActiveVersionRejected(t *testing.T) {
	s := NewStore()
	v := activeRules(t, s, nil)
	_, err := s.Activate(v.ID, "checker2")
	assert.ErrorIs(t, err, ErrVersionNotActivatable)
}

func txnContext(cents int64) Context {
	return Context{
		ContextType: "TXN",
		ActorType:   "CUSTOMER",
		ActorID:     "alice",
		Amount:      amount.FromCents(cents),
		Currency:    amount.BBD,
		Signals:     map[string]any{"velocity": map[string]any{"tx_per_hour": float64(12)}},
	}
}

func TestEvaluateAggregation(t *testing.T) {
	s := NewStore()
	activeRules(t, s, []Rule{
		{
			AppliesToContext: "TXN", Action: ActionReview, Priority: 2, ReasonCode: "HIGH_VALUE",
			Conditions: []policy.Condition{{Field: "amount", Operator: policy.OpGte, Value: 100_000}},
		},
		{
			AppliesToContext: "TXN", Action: ActionBlock, Priority: 1, ReasonCode: "VELOCITY", CreateCase: true,
			Conditions: []policy.Condition{{Field: "signals.velocity.tx_per_hour", Operator: policy.OpGt, Value: 10}},
		},
		{
			AppliesToContext: "PAYOUT", Action: ActionBlock, Priority: 0, ReasonCode: "WRONG_CONTEXT",
		},
	})

	e := NewEvaluator(s, nil)
	decision, err := e.Evaluate(context.Background(), txnContext(200_000))
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, decision.Outcome)
	require.Len(t, decision.Matches, 2)
	// Ascending priority: the velocity block comes first.
	assert.Equal(t, "VELOCITY", decision.Matches[0].Rule.ReasonCode)
	assert.NotEmpty(t, decision.Matches[0].CaseID)
	assert.Empty(t, decision.Matches[1].CaseID)

	cases := s.Cases()
	require.Len(t, cases, 1)
	assert.Equal(t, "OPEN", cases[0].Status)
	assert.Equal(t, "alice", cases[0].ActorID)
}

func TestEvaluateReviewWhenNoBlock(t *testing.T) {
	s := NewStore()
	activeRules(t, s, []Rule{{
		AppliesToContext: "TXN", Action: ActionReview, Priority: 1,
		Conditions: []policy.Condition{{Field: "amount", Operator: policy.OpGte, Value: 100_000}},
	}})
	e := NewEvaluator(s, nil)

	decision, err := e.Evaluate(context.Background(), txnContext(200_000))
	require.NoError(t, err)
	assert.Equal(t, ActionReview, decision.Outcome)

	decision, err = e.Evaluate(context.Background(), txnContext(50))
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, decision.Outcome)
	assert.Empty(t, decision.Matches)
}

func TestEvaluateWithoutActiveVersionAllows(t *testing.T) {
	e := NewEvaluator(NewStore(), nil)
	decision, err := e.Evaluate(context.Background(), txnContext(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, decision.Outcome)
}

type flakyProvider struct {
	failures int
	calls    int
}

func (p *flakyProvider) Score(ctx context.Context, c Context) (ScoreResult, error) {
	p.calls++
	if p.calls <= p.failures {
		return ScoreResult{}, errors.New("timeout")
	}
	return ScoreResult{Score: 0.91, ModelVersion: "m-7"}, nil
}

func TestScoreConditionAndProviderRetry(t *testing.T) {
	s := NewStore()
	activeRules(t, s, []Rule{{
		AppliesToContext: "TXN", Action: ActionReview, Priority: 1, ReasonCode: "MODEL",
		Conditions: []policy.Condition{{Field: "score", Operator: policy.OpGte, Value: 0.9}},
	}})

	provider := &flakyProvider{failures: 2}
	e := NewEvaluator(s, provider)
	e.baseDelay = time.Millisecond

	decision, err := e.Evaluate(context.Background(), txnContext(100))
	require.NoError(t, err)
	assert.Equal(t, ActionReview, decision.Outcome)
	require.NotNil(t, decision.Score)
	assert.Equal(t, "m-7", decision.Score.ModelVersion)
	assert.Equal(t, 3, provider.calls)
}

func TestScoreUnavailableSkipsScoreRules(t *testing.T) {
	s := NewStore()
	activeRules(t, s, []Rule{{
		AppliesToContext: "TXN", Action: ActionBlock, Priority: 1,
		Conditions: []policy.Condition{{Field: "score", Operator: policy.OpGte, Value: 0.5}},
	}})

	provider := &flakyProvider{failures: 100}
	e := NewEvaluator(s, provider)
	e.baseDelay = time.Millisecond

	decision, err := e.Evaluate(context.Background(), txnContext(100))
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, decision.Outcome)
	assert.Nil(t, decision.Score)
}
