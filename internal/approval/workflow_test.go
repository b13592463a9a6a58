package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb/sqlstore"
)

func newWorkflow(t *testing.T) (*Workflow, *policy.Store) {
	t.Helper()
	store := policy.NewStore()
	return NewWorkflow(policy.NewEngine(store), nil, nil), store
}

func twoStagePolicy(t *testing.T, store *policy.Store, approvalType string) {
	t.Helper()
	p, err := store.CreatePolicy(&policy.Policy{
		Name: "two-stage", ApprovalType: approvalType, Priority: 1,
		Bindings:      []policy.Binding{{Type: policy.BindAll}},
		ExpiryMinutes: 60,
		Stages: []policy.Stage{
			{StageNo: 1, MinApprovals: 2, ExcludeMaker: true},
			{StageNo: 2, MinApprovals: 1, ExcludeMaker: true, ExcludePreviousApprovers: true, TimeoutMinutes: 30},
		},
	})
	require.NoError(t, err)
	_, err = store.ActivatePolicy(p.ID)
	require.NoError(t, err)
}

func TestCreateUsesImplicitPolicyWhenNoneMatch(t *testing.T) {
	w, _ := newWorkflow(t)
	r, err := w.Create(context.Background(), CreateInput{
		Type: "MANUAL_ADJUSTMENT", MakerType: "STAFF", MakerID: "maker",
	})
	require.NoError(t, err)
	assert.Equal(t, StatePending, r.State)
	assert.Equal(t, 1, r.TotalStages)
	assert.Empty(t, r.PolicyID)
	assert.Nil(t, r.ExpiresAt)
}

func TestMultiStageQuorumAndFinalize(t *testing.T) {
	w, store := newWorkflow(t)
	twoStagePolicy(t, store, "REVERSAL_REQUESTED")

	var handled []string
	w.Register("REVERSAL_REQUESTED", &Handler{
		Label: "Reversal",
		OnApprove: func(ctx context.Context, hc HandlerContext) error {
			handled = append(handled, hc.Request.ID)
			return nil
		},
	})

	ctx := context.Background()
	r, err := w.Create(ctx, CreateInput{Type: "REVERSAL_REQUESTED", MakerType: "STAFF", MakerID: "maker"})
	require.NoError(t, err)
	assert.Equal(t, 2, r.TotalStages)
	assert.NotNil(t, r.ExpiresAt)

	// Stage 1 needs two approvals.
	r, err = w.Approve(ctx, r.ID, policy.Decider{ID: "a1", Role: "ops"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, r.CurrentStage)

	r, err = w.Approve(ctx, r.ID, policy.Decider{ID: "a2", Role: "ops"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, r.CurrentStage)
	assert.Equal(t, StatePending, r.State)
	assert.Empty(t, handled)

	// Stage 2 excludes previous approvers.
	_, err = w.Approve(ctx, r.ID, policy.Decider{ID: "a1", Role: "ops"}, "")
	assert.ErrorIs(t, err, policy.ErrForbidden)

	r, err = w.Approve(ctx, r.ID, policy.Decider{ID: "a3", Role: "ops"}, "looks right")
	require.NoError(t, err)
	assert.Equal(t, StateApproved, r.State)
	assert.NotNil(t, r.DecidedAt)
	assert.Equal(t, []string{r.ID}, handled)

	// No decisions after a terminal state.
	_, err = w.Approve(ctx, r.ID, policy.Decider{ID: "a4", Role: "ops"}, "")
	assert.ErrorIs(t, err, ErrRequestNotPending)
}

func TestMakerCannotDecide(t *testing.T) {
	w, _ := newWorkflow(t)
	ctx := context.Background()
	r, err := w.Create(ctx, CreateInput{Type: "PAYOUT", MakerType: "STAFF", MakerID: "maker"})
	require.NoError(t, err)
	_, err = w.Approve(ctx, r.ID, policy.Decider{ID: "maker", Role: "ops"}, "")
	assert.ErrorIs(t, err, policy.ErrMakerCheckerRequired)
}

func TestRejectTerminatesImmediately(t *testing.T) {
	w, store := newWorkflow(t)
	twoStagePolicy(t, store, "PAYOUT")

	rejected := false
	w.Register("PAYOUT", &Handler{
		OnReject: func(ctx context.Context, hc HandlerContext) error {
			rejected = true
			return nil
		},
	})

	ctx := context.Background()
	r, err := w.Create(ctx, CreateInput{Type: "PAYOUT", MakerType: "STAFF", MakerID: "maker"})
	require.NoError(t, err)

	r, err = w.Reject(ctx, r.ID, policy.Decider{ID: "a1", Role: "ops"}, "bad payee")
	require.NoError(t, err)
	assert.Equal(t, StateRejected, r.State)
	assert.True(t, rejected)
}

func TestDuplicateStageDecisionRejected(t *testing.T) {
	w, store := newWorkflow(t)
	twoStagePolicy(t, store, "PAYOUT")
	ctx := context.Background()
	r, err := w.Create(ctx, CreateInput{Type: "PAYOUT", MakerType: "STAFF", MakerID: "maker"})
	require.NoError(t, err)

	_, err = w.Approve(ctx, r.ID, policy.Decider{ID: "a1", Role: "ops"}, "")
	require.NoError(t, err)
	_, err = w.Approve(ctx, r.ID, policy.Decider{ID: "a1", Role: "ops"}, "")
	assert.ErrorIs(t, err, ErrAlreadyDecidedStage)
}

func TestHandlerRolesGateDeciders(t *testing.T) {
	w, _ := newWorkflow(t)
	w.Register("OVERDRAFT_APPROVAL", &Handler{AllowedCheckerRoles: []string{"credit_officer"}})
	ctx := context.Background()
	r, err := w.Create(ctx, CreateInput{Type: "OVERDRAFT_APPROVAL", MakerType: "STAFF", MakerID: "maker"})
	require.NoError(t, err)

	_, err = w.Approve(ctx, r.ID, policy.Decider{ID: "a1", Role: "ops"}, "")
	assert.ErrorIs(t, err, policy.ErrForbidden)
	got, err := w.Approve(ctx, r.ID, policy.Decider{ID: "a2", Role: "credit_officer"}, "")
	require.NoError(t, err)
	assert.Equal(t, StateApproved, got.State)
}

func TestHandlerFailureKeepsApproval(t *testing.T) {
	w, _ := newWorkflow(t)
	w.Register("MANUAL_ADJUSTMENT", &Handler{
		OnApprove: func(ctx context.Context, hc HandlerContext) error {
			return errors.New("engine unavailable")
		},
	})
	ctx := context.Background()
	r, err := w.Create(ctx, CreateInput{Type: "MANUAL_ADJUSTMENT", MakerType: "STAFF", MakerID: "maker"})
	require.NoError(t, err)

	got, err := w.Approve(ctx, r.ID, policy.Decider{ID: "a1", Role: "ops"}, "")
	assert.ErrorIs(t, err, ErrHandlerFailed)
	assert.Equal(t, StateApproved, got.State)
}

func TestExpiry(t *testing.T) {
	w, store := newWorkflow(t)
	twoStagePolicy(t, store, "PAYOUT")
	ctx := context.Background()
	r, err := w.Create(ctx, CreateInput{Type: "PAYOUT", MakerType: "STAFF", MakerID: "maker"})
	require.NoError(t, err)

	w.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = w.Approve(ctx, r.ID, policy.Decider{ID: "a1", Role: "ops"}, "")
	assert.ErrorIs(t, err, ErrRequestExpired)

	got, err := w.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, got.State)
}

func TestExpireOverdueSweep(t *testing.T) {
	w, store := newWorkflow(t)
	twoStagePolicy(t, store, "PAYOUT")
	ctx := context.Background()
	r, err := w.Create(ctx, CreateInput{Type: "PAYOUT", MakerType: "STAFF", MakerID: "maker"})
	require.NoError(t, err)

	w.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	expired, err := w.ExpireOverdue(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, r.ID, expired[0].ID)
	assert.Equal(t, StateExpired, expired[0].State)
}

func TestEscalateOverdueStages(t *testing.T) {
	w, store := newWorkflow(t)
	twoStagePolicy(t, store, "PAYOUT")
	ctx := context.Background()
	r, err := w.Create(ctx, CreateInput{Type: "PAYOUT", MakerType: "STAFF", MakerID: "maker"})
	require.NoError(t, err)

	// Move to stage 2, which carries a 30 minute timeout.
	_, err = w.Approve(ctx, r.ID, policy.Decider{ID: "a1", Role: "ops"}, "")
	require.NoError(t, err)
	_, err = w.Approve(ctx, r.ID, policy.Decider{ID: "a2", Role: "ops"}, "")
	require.NoError(t, err)

	w.now = func() time.Time { return time.Now().Add(45 * time.Minute) }
	escalated, err := w.EscalateOverdueStages(ctx)
	require.NoError(t, err)
	require.Len(t, escalated, 1)
	assert.Equal(t, StageEscalated, escalated[0].WorkflowState)
}

func TestRequireReason(t *testing.T) {
	w, _ := newWorkflow(t)
	w.SetTypeConfig("REVERSAL_REQUESTED", TypeConfig{Enabled: true, RequireReason: true})
	_, err := w.Create(context.Background(), CreateInput{Type: "REVERSAL_REQUESTED", MakerType: "STAFF", MakerID: "maker"})
	assert.ErrorIs(t, err, ErrReasonRequired)

	_, err = w.Create(context.Background(), CreateInput{Type: "REVERSAL_REQUESTED", MakerType: "STAFF", MakerID: "maker", Reason: "customer dispute"})
	assert.NoError(t, err)
}

func TestInterceptor(t *testing.T) {
	w, store := newWorkflow(t)
	i := NewInterceptor(store, w)
	ctx := context.Background()
	in := CreateInput{MakerType: "STAFF", MakerID: "maker"}

	// Unbound route executes normally.
	_, intercepted, err := i.Intercept(ctx, "/tx/reversal/request", "POST", in)
	require.NoError(t, err)
	assert.False(t, intercepted)

	_, err = store.UpsertEndpointBinding(&policy.EndpointBinding{
		RoutePattern: "/tx/reversal/request", HTTPMethod: "POST",
		ApprovalType: "REVERSAL_REQUESTED", Active: true,
	})
	require.NoError(t, err)
	res, intercepted, err := i.Intercept(ctx, "/tx/reversal/request", "POST", in)
	require.NoError(t, err)
	require.True(t, intercepted)
	assert.True(t, res.ApprovalRequired)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, 1, res.TotalStages)

	// Disabling the type bypasses the binding.
	w.SetTypeConfig("REVERSAL_REQUESTED", TypeConfig{Enabled: false})
	_, intercepted, err = i.Intercept(ctx, "/tx/reversal/request", "POST", in)
	require.NoError(t, err)
	assert.False(t, intercepted)
}

func TestRequestsSurviveRestart(t *testing.T) {
	cfg := relationaldb.DefaultConfig()
	cfg.DSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := sqlstore.NewDatabase(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Open(context.Background()))
	t.Cleanup(func() { db.Close(context.Background()) })

	store := policy.NewStore()
	twoStagePolicy(t, store, "REVERSAL_REQUESTED")
	w := NewWorkflow(policy.NewEngine(store), db, nil)

	ctx := context.Background()
	r, err := w.Create(ctx, CreateInput{Type: "REVERSAL_REQUESTED", MakerType: "STAFF", MakerID: "maker"})
	require.NoError(t, err)
	_, err = w.Approve(ctx, r.ID, policy.Decider{ID: "a1", Role: "ops"}, "")
	require.NoError(t, err)

	// A fresh workflow over the same database resumes mid-stage.
	w2 := NewWorkflow(policy.NewEngine(store), db, nil)
	require.NoError(t, w2.Load(ctx))

	got, err := w2.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	assert.Equal(t, 1, got.CurrentStage)
	require.Len(t, got.Decisions, 1)
	assert.Equal(t, "a1", got.Decisions[0].DeciderID)

	got, err = w2.Approve(ctx, r.ID, policy.Decider{ID: "a2", Role: "ops"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStage)
	assert.Equal(t, StatePending, got.State)
}
