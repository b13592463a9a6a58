// Package rest exposes the platform's HTTP JSON surface: transaction
// posting, wallet reads, the approval workflow, policy administration and
// operational tooling. Authentication happens upstream; the auth layer
// injects the actor identity headers consumed here.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fnyamweya/caricash-nova-sub003/internal/approval"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/posting"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/reversal"
	"github.com/fnyamweya/caricash-nova-sub003/internal/events"
	"github.com/fnyamweya/caricash-nova-sub003/internal/fraud"
	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
	"github.com/fnyamweya/caricash-nova-sub003/internal/recon"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/idempotency"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// Config tunes the HTTP listener.
type Config struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxQueueDepth is the global posting queue depth beyond which new
	// transaction requests are refused before validation.
	MaxQueueDepth int64 `mapstructure:"max_queue_depth"`
}

// DefaultConfig returns production listener defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxQueueDepth:   1024,
	}
}

// Deps bundles everything the handlers call into.
type Deps struct {
	DB          relationaldb.Database
	Engine      *posting.Engine
	Reversals   *reversal.Pipeline
	Policies    *policy.Store
	PolicyEval  *policy.Engine
	Workflow    *approval.Workflow
	Interceptor *approval.Interceptor
	Fraud       *fraud.Store
	Evaluator   *fraud.Evaluator
	Recon       *recon.Engine
	Matcher     *recon.Matcher
	Idem        *idempotency.Store
	Sink        *events.Sink
	Registry    *prometheus.Registry
}

// Server is the REST front end.
type Server struct {
	config Config
	deps   Deps
	router *mux.Router
	http   *http.Server
}

// NewServer builds the router and listener.
func NewServer(config Config, deps Deps) *Server {
	s := &Server{config: config, deps: deps, router: mux.NewRouter()}
	s.routes()
	s.http = &http.Server{
		Addr:         config.Addr,
		Handler:      withRequestContext(s.router),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return withRequestContext(s.router)
}

func (s *Server) routes() {
	r := s.router

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// Transactions.
	r.HandleFunc("/tx/deposit", s.handleDeposit).Methods(http.MethodPost)
	r.HandleFunc("/tx/withdrawal", s.handleWithdrawal).Methods(http.MethodPost)
	r.HandleFunc("/tx/p2p", s.handleP2P).Methods(http.MethodPost)
	r.HandleFunc("/tx/payment", s.handlePayment).Methods(http.MethodPost)
	r.HandleFunc("/tx/b2b", s.handleB2B).Methods(http.MethodPost)
	r.HandleFunc("/tx/reversal/request", s.handleReversalRequest).Methods(http.MethodPost)

	// Wallet reads.
	r.HandleFunc("/wallets/{owner_type}/{owner_id}/{currency}/balance", s.handleBalance).Methods(http.MethodGet)
	r.HandleFunc("/wallets/{owner_type}/{owner_id}/{currency}/statement", s.handleStatement).Methods(http.MethodGet)

	// Approvals.
	r.HandleFunc("/approvals/{id}/approve", s.handleApprove).Methods(http.MethodPost)
	r.HandleFunc("/approvals/{id}/reject", s.handleReject).Methods(http.MethodPost)
	r.HandleFunc("/approvals/{id}", s.handleGetApproval).Methods(http.MethodGet)
	r.HandleFunc("/approvals", s.handleListApprovals).Methods(http.MethodGet)

	// Policy administration.
	r.HandleFunc("/approvals/policies", s.handleCreatePolicy).Methods(http.MethodPost)
	r.HandleFunc("/approvals/policies", s.handleListPolicies).Methods(http.MethodGet)
	r.HandleFunc("/approvals/policies/simulate", s.handleSimulatePolicy).Methods(http.MethodPost)
	r.HandleFunc("/approvals/policies/{id}", s.handleGetPolicy).Methods(http.MethodGet)
	r.HandleFunc("/approvals/policies/{id}", s.handleUpdatePolicy).Methods(http.MethodPatch)
	r.HandleFunc("/approvals/policies/{id}", s.handleArchivePolicy).Methods(http.MethodDelete)
	r.HandleFunc("/approvals/policies/{id}/activate", s.handleActivatePolicy).Methods(http.MethodPost)
	r.HandleFunc("/approvals/policies/{id}/deactivate", s.handleDeactivatePolicy).Methods(http.MethodPost)

	// Delegations.
	r.HandleFunc("/approvals/delegations", s.handleCreateDelegation).Methods(http.MethodPost)
	r.HandleFunc("/approvals/delegations", s.handleListDelegations).Methods(http.MethodGet)
	r.HandleFunc("/approvals/delegations/{id}/revoke", s.handleRevokeDelegation).Methods(http.MethodPost)

	// Endpoint bindings.
	r.HandleFunc("/approvals/endpoint-bindings", s.handleListBindings).Methods(http.MethodGet)
	r.HandleFunc("/approvals/endpoint-bindings", s.handleUpsertBinding).Methods(http.MethodPost)

	// Fraud rules.
	r.HandleFunc("/ops/fraud/rules", s.handleCreateFraudVersion).Methods(http.MethodPost)
	r.HandleFunc("/ops/fraud/rules/{id}/activate", s.handleActivateFraudVersion).Methods(http.MethodPost)
	r.HandleFunc("/ops/fraud/evaluate", s.handleEvaluateFraud).Methods(http.MethodPost)

	// Operations.
	r.HandleFunc("/ops/ledger/journal/{id}", s.handleGetJournal).Methods(http.MethodGet)
	r.HandleFunc("/ops/ledger/verify", s.handleVerifyChain).Methods(http.MethodGet)
	r.HandleFunc("/ops/reconciliation/run", s.handleReconRun).Methods(http.MethodPost)
	r.HandleFunc("/ops/reconciliation/runs", s.handleReconRuns).Methods(http.MethodGet)
	r.HandleFunc("/ops/reconciliation/findings", s.handleReconFindings).Methods(http.MethodGet)
	r.HandleFunc("/ops/repair/idempotency/{journalId}", s.handleRepairIdempotency).Methods(http.MethodPost)
	r.HandleFunc("/ops/repair/state/{journalId}", s.handleRepairState).Methods(http.MethodPost)
	r.HandleFunc("/ops/overdraft/request", s.handleOverdraftRequest).Methods(http.MethodPost)
	r.HandleFunc("/ops/overdraft/{id}/approve", s.handleOverdraftApprove).Methods(http.MethodPost)
	r.HandleFunc("/ops/overdraft/{id}/reject", s.handleOverdraftReject).Methods(http.MethodPost)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.DB.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.deps.Engine.QueueDepth(),
	})
}

// admitted applies the global admission-control signal before any
// transaction work happens.
func (s *Server) admitted(w http.ResponseWriter, r *http.Request) bool {
	if s.config.MaxQueueDepth > 0 && s.deps.Engine.QueueDepth() >= s.config.MaxQueueDepth {
		writeJSON(w, http.StatusServiceUnavailable, errorEnvelope{
			Error:         "posting queue saturated, retry with backoff",
			Code:          CodeInternal,
			CorrelationID: correlationID(r),
		})
		return false
	}
	return true
}
