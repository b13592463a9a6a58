package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnyamweya/caricash-nova-sub003/internal/approval"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/posting"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/reversal"
	"github.com/fnyamweya/caricash-nova-sub003/internal/events"
	"github.com/fnyamweya/caricash-nova-sub003/internal/fraud"
	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
	"github.com/fnyamweya/caricash-nova-sub003/internal/recon"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/idempotency"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb/sqlstore"
)

var (
	staffA = Actor{Type: "STAFF", ID: "staff-a", Role: "OPS"}
	staffB = Actor{Type: "STAFF", ID: "staff-b", Role: "OPS"}
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := relationaldb.DefaultConfig()
	cfg.DSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := sqlstore.NewDatabase(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Open(context.Background()))
	t.Cleanup(func() { db.Close(context.Background()) })

	sink := events.NewSink(db.Repositories().Events, nil)
	engine, err := posting.NewEngine(db, sink, posting.NewMetrics(prometheus.NewRegistry()), posting.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	pipeline := reversal.NewPipeline(db, engine, sink)
	policies := policy.NewStore()
	policyEval := policy.NewEngine(policies)
	workflow := approval.NewWorkflow(policyEval, db, sink)
	workflow.Register(reversal.ApprovalTypeReversal, reversal.ApprovalHandler(pipeline))
	workflow.Register(reversal.ApprovalTypeSuspenseFunding, reversal.SuspenseFundingHandler(pipeline))

	fraudStore := fraud.NewStore()
	srv := NewServer(DefaultConfig(), Deps{
		DB:          db,
		Engine:      engine,
		Reversals:   pipeline,
		Policies:    policies,
		PolicyEval:  policyEval,
		Workflow:    workflow,
		Interceptor: approval.NewInterceptor(policies, workflow),
		Fraud:       fraudStore,
		Evaluator:   fraud.NewEvaluator(fraudStore, nil),
		Recon:       recon.NewEngine(db, sink, recon.DefaultConfig()),
		Matcher:     recon.NewMatcher(db),
		Idem:        idempotency.NewStore(db.Repositories().Idempotency),
		Sink:        sink,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path string, actor Actor, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if actor.ID != "" {
		req.Header.Set("X-Actor-Type", actor.Type)
		req.Header.Set("X-Actor-Id", actor.ID)
		req.Header.Set("X-Actor-Role", actor.Role)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func deposit(owner, key, amt, fee, tax string) map[string]any {
	return map[string]any{
		"idempotency_key": key,
		"owner_id":        owner,
		"currency":        "BBD",
		"amount":          amt,
		"fee":             fee,
		"tax":             tax,
	}
}

func TestDepositWithFeeAndBalance(t *testing.T) {
	ts := newTestServer(t)

	status, body := call(t, ts, http.MethodPost, "/tx/deposit", staffA, deposit("alice", "d1", "1000.00", "10.00", "1.50"))
	require.Equal(t, http.StatusOK, status, "%v", body)
	assert.NotEmpty(t, body["journal_id"])
	assert.NotEmpty(t, body["journal_hash"])

	status, bal := call(t, ts, http.MethodGet, "/wallets/CUSTOMER/alice/BBD/balance", Actor{}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "988.50", bal["actual_balance"])
	assert.Equal(t, "988.50", bal["available_balance"])

	status, stmt := call(t, ts, http.MethodGet, "/wallets/CUSTOMER/alice/BBD/statement", Actor{}, nil)
	require.Equal(t, http.StatusOK, status)
	lines, _ := stmt["lines"].([]any)
	require.Len(t, lines, 1)
}

func TestDepositReplayAndConflict(t *testing.T) {
	ts := newTestServer(t)

	_, first := call(t, ts, http.MethodPost, "/tx/deposit", staffA, deposit("alice", "d1", "100.00", "0.00", "0.00"))
	status, replay := call(t, ts, http.MethodPost, "/tx/deposit", staffA, deposit("alice", "d1", "100.00", "0.00", "0.00"))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first["journal_id"], replay["journal_id"])

	status, conflict := call(t, ts, http.MethodPost, "/tx/deposit", staffA, deposit("alice", "d1", "999.00", "0.00", "0.00"))
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, CodeIdempotencyConflict, conflict["code"])
	assert.NotEmpty(t, conflict["correlation_id"])
}

func TestWithdrawalInsufficientFunds(t *testing.T) {
	ts := newTestServer(t)
	call(t, ts, http.MethodPost, "/tx/deposit", staffA, deposit("alice", "d1", "50.00", "0.00", "0.00"))

	status, body := call(t, ts, http.MethodPost, "/tx/withdrawal", staffA, map[string]any{
		"idempotency_key": "w1",
		"owner_id":        "alice",
		"currency":        "BBD",
		"amount":          "80.00",
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, CodeInsufficientFunds, body["code"])
	details, _ := body["details"].(map[string]any)
	require.NotNil(t, details)
	assert.Equal(t, "50.00", details["available"])
}

func TestActorHeadersRequired(t *testing.T) {
	ts := newTestServer(t)
	status, body := call(t, ts, http.MethodPost, "/tx/deposit", Actor{}, deposit("alice", "d1", "10.00", "0.00", "0.00"))
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, CodeUnauthorized, body["code"])
}

func TestP2PTransferThroughClearing(t *testing.T) {
	ts := newTestServer(t)
	call(t, ts, http.MethodPost, "/tx/deposit", staffA, deposit("alice", "d1", "100.00", "0.00", "0.00"))

	status, body := call(t, ts, http.MethodPost, "/tx/p2p", staffA, map[string]any{
		"idempotency_key": "p1",
		"from":            map[string]any{"owner_type": "CUSTOMER", "owner_id": "alice"},
		"to":              map[string]any{"owner_type": "CUSTOMER", "owner_id": "bob"},
		"currency":        "BBD",
		"amount":          "40.00",
	})
	require.Equal(t, http.StatusOK, status, "%v", body)

	_, aliceBal := call(t, ts, http.MethodGet, "/wallets/CUSTOMER/alice/BBD/balance", Actor{}, nil)
	_, bobBal := call(t, ts, http.MethodGet, "/wallets/CUSTOMER/bob/BBD/balance", Actor{}, nil)
	assert.Equal(t, "60.00", aliceBal["actual_balance"])
	assert.Equal(t, "40.00", bobBal["actual_balance"])
}

func TestReversalMakerChecker(t *testing.T) {
	ts := newTestServer(t)
	_, posted := call(t, ts, http.MethodPost, "/tx/deposit", staffA, deposit("alice", "d1", "100.00", "0.00", "0.00"))
	journalID := posted["journal_id"].(string)

	status, accepted := call(t, ts, http.MethodPost, "/tx/reversal/request", staffA, map[string]any{
		"journal_id": journalID,
		"reason":     "duplicate posting",
	})
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, true, accepted["approval_required"])
	requestID := accepted["request_id"].(string)

	// The maker cannot check their own request.
	status, denied := call(t, ts, http.MethodPost, "/approvals/"+requestID+"/approve", staffA, nil)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, CodeMakerCheckerRequired, denied["code"])

	status, approved := call(t, ts, http.MethodPost, "/approvals/"+requestID+"/approve", staffB, nil)
	require.Equal(t, http.StatusOK, status, "%v", approved)
	assert.Equal(t, "APPROVED", approved["state"])

	_, bal := call(t, ts, http.MethodGet, "/wallets/CUSTOMER/alice/BBD/balance", Actor{}, nil)
	assert.Equal(t, "0.00", bal["actual_balance"])

	status, journal := call(t, ts, http.MethodGet, "/ops/ledger/journal/"+journalID, Actor{}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "REVERSED", journal["journal"].(map[string]any)["state"])

	// A second approval attempt finds the request finished.
	status, again := call(t, ts, http.MethodPost, "/approvals/"+requestID+"/approve", staffB, nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, CodeInvalidTransition, again["code"])
}

func TestEndpointBindingIntercepts(t *testing.T) {
	ts := newTestServer(t)
	call(t, ts, http.MethodPost, "/tx/deposit", staffA, deposit("alice", "d1", "100.00", "0.00", "0.00"))

	status, bound := call(t, ts, http.MethodPost, "/approvals/endpoint-bindings", staffA, map[string]any{
		"route_pattern": "/tx/withdrawal",
		"http_method":   "POST",
		"approval_type": "LARGE_WITHDRAWAL",
		"active":        true,
	})
	require.Equal(t, http.StatusOK, status, "%v", bound)

	status, body := call(t, ts, http.MethodPost, "/tx/withdrawal", staffA, map[string]any{
		"idempotency_key": "w1",
		"owner_id":        "alice",
		"currency":        "BBD",
		"amount":          "80.00",
	})
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, true, body["approval_required"])
	assert.NotEmpty(t, body["request_id"])

	// No journal was posted; the balance is untouched.
	_, bal := call(t, ts, http.MethodGet, "/wallets/CUSTOMER/alice/BBD/balance", Actor{}, nil)
	assert.Equal(t, "100.00", bal["actual_balance"])
}

func TestVerifyChainEndpoint(t *testing.T) {
	ts := newTestServer(t)
	call(t, ts, http.MethodPost, "/tx/deposit", staffA, deposit("alice", "d1", "100.00", "0.00", "0.00"))
	call(t, ts, http.MethodPost, "/tx/deposit", staffA, deposit("alice", "d2", "25.00", "0.00", "0.00"))

	status, report := call(t, ts, http.MethodGet, "/ops/ledger/verify", Actor{}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, report["ok"])
	assert.Equal(t, float64(2), report["checked"])
}

func TestReconciliationRunEndpoint(t *testing.T) {
	ts := newTestServer(t)
	call(t, ts, http.MethodPost, "/tx/deposit", staffA, deposit("alice", "d1", "100.00", "0.00", "0.00"))

	status, body := call(t, ts, http.MethodPost, "/ops/reconciliation/run", staffA, nil)
	require.Equal(t, http.StatusOK, status)
	run, _ := body["run"].(map[string]any)
	require.NotNil(t, run)
	assert.Equal(t, "COMPLETED", run["status"])

	status, runs := call(t, ts, http.MethodGet, "/ops/reconciliation/runs", Actor{}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, runs["runs"])
}

func TestOverdraftLifecycleAndSpend(t *testing.T) {
	ts := newTestServer(t)
	call(t, ts, http.MethodPost, "/tx/deposit", staffA, deposit("alice", "d1", "50.00", "0.00", "0.00"))

	status, facility := call(t, ts, http.MethodPost, "/ops/overdraft/request", staffA, map[string]any{
		"owner_type":   "CUSTOMER",
		"owner_id":     "alice",
		"currency":     "BBD",
		"limit_amount": "100.00",
	})
	require.Equal(t, http.StatusCreated, status)
	facilityID := facility["id"].(string)

	// Requester cannot approve their own facility.
	status, denied := call(t, ts, http.MethodPost, "/ops/overdraft/"+facilityID+"/approve", staffA, nil)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, CodeMakerCheckerRequired, denied["code"])

	status, active := call(t, ts, http.MethodPost, "/ops/overdraft/"+facilityID+"/approve", staffB, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ACTIVE", active["state"])

	// The facility extends the spendable floor.
	status, body := call(t, ts, http.MethodPost, "/tx/withdrawal", staffA, map[string]any{
		"idempotency_key": "w1",
		"owner_id":        "alice",
		"currency":        "BBD",
		"amount":          "120.00",
	})
	require.Equal(t, http.StatusOK, status, "%v", body)

	_, bal := call(t, ts, http.MethodGet, "/wallets/CUSTOMER/alice/BBD/balance", Actor{}, nil)
	assert.Equal(t, "-70.00", bal["actual_balance"])
}

func TestPolicySimulateReturnsTrace(t *testing.T) {
	ts := newTestServer(t)

	status, created := call(t, ts, http.MethodPost, "/approvals/policies", staffA, map[string]any{
		"name":          "large withdrawals",
		"approval_type": "LARGE_WITHDRAWAL",
		"priority":      10,
		"bindings":      []map[string]any{{"type": "all"}},
		"stages":        []map[string]any{{"stage_no": 1, "min_approvals": 1, "exclude_maker": true}},
	})
	require.Equal(t, http.StatusCreated, status)
	policyID := created["id"].(string)

	status, _ = call(t, ts, http.MethodPost, "/approvals/policies/"+policyID+"/activate", staffA, nil)
	require.Equal(t, http.StatusOK, status)

	status, sim := call(t, ts, http.MethodPost, "/approvals/policies/simulate", Actor{}, map[string]any{
		"approval_type": "LARGE_WITHDRAWAL",
		"actor_type":    "STAFF",
		"actor_id":      "staff-a",
	})
	require.Equal(t, http.StatusOK, status)
	matched, _ := sim["policy"].(map[string]any)
	require.NotNil(t, matched)
	assert.Equal(t, policyID, matched["id"])
	assert.NotEmpty(t, sim["trace"])

	// Unknown type falls back to the implicit single-stage policy.
	status, implicit := call(t, ts, http.MethodPost, "/approvals/policies/simulate", Actor{}, map[string]any{
		"approval_type": "NO_SUCH_TYPE",
		"actor_type":    "STAFF",
		"actor_id":      "staff-a",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, implicit["implicit"])
}

func TestFraudRulesOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	status, version := call(t, ts, http.MethodPost, "/ops/fraud/rules", staffA, map[string]any{
		"rules": []map[string]any{{
			"applies_to_context": "TXN",
			"action":             "BLOCK",
			"priority":           1,
			"reason_code":        "HIGH_VALUE",
			"conditions":         []map[string]any{{"field": "amount", "operator": "gte", "value": 100000}},
		}},
	})
	require.Equal(t, http.StatusCreated, status)
	versionID := version["id"].(string)

	// Creator cannot activate their own version.
	status, denied := call(t, ts, http.MethodPost, "/ops/fraud/rules/"+versionID+"/activate", staffA, nil)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, CodeMakerCheckerRequired, denied["code"])

	status, _ = call(t, ts, http.MethodPost, "/ops/fraud/rules/"+versionID+"/activate", staffB, nil)
	require.Equal(t, http.StatusOK, status)

	status, decision := call(t, ts, http.MethodPost, "/ops/fraud/evaluate", Actor{}, map[string]any{
		"context_type": "TXN",
		"actor_type":   "CUSTOMER",
		"actor_id":     "alice",
		"amount":       "2000.00",
		"currency":     "BBD",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "BLOCK", decision["outcome"])
}

func TestRepairStateWalksJournalLifecycle(t *testing.T) {
	ts := newTestServer(t)
	_, posted := call(t, ts, http.MethodPost, "/tx/deposit", staffA, deposit("alice", "d1", "100.00", "0.00", "0.00"))
	journalID := posted["journal_id"].(string)

	status, moved := call(t, ts, http.MethodPost, "/ops/repair/state/"+journalID, staffA, map[string]any{"to": "VOID_REQUESTED"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "VOID_REQUESTED", moved["to"])

	// Walking back to POSTED is not a declared transition.
	status, body := call(t, ts, http.MethodPost, "/ops/repair/state/"+journalID, staffA, map[string]any{"to": "POSTED"})
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, CodeInvalidTransition, body["code"])
}
