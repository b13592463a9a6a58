package rest

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/statemachine"
	"github.com/fnyamweya/caricash-nova-sub003/internal/events"
	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
	"github.com/fnyamweya/caricash-nova-sub003/internal/recon"
)

func (s *Server) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	q := s.deps.DB.Handle()
	repos := s.deps.DB.Repositories()
	j, err := repos.Journals.GetByID(r.Context(), q, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	lines, err := repos.Journals.Lines(r.Context(), q, j.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"journal": j, "lines": lines})
}

// window parses from/to query params, defaulting to the last 24 hours.
func window(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, to := now.Add(-24*time.Hour), now
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}
	return from, to, nil
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	from, to, err := window(r)
	if err != nil {
		writeValidationError(w, r, "from/to must be RFC3339 timestamps")
		return
	}
	report, err := recon.VerifyChain(r.Context(), s.deps.DB, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReconRun(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	from, to, err := window(r)
	if err != nil {
		writeValidationError(w, r, "from/to must be RFC3339 timestamps")
		return
	}
	run, findings, err := s.deps.Recon.Run(r.Context(), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "findings": findings})
}

func (s *Server) handleReconRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.deps.DB.Repositories().Recon.ListRuns(r.Context(), s.deps.DB.Handle(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleReconFindings(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		writeValidationError(w, r, "run_id is required")
		return
	}
	findings, err := s.deps.DB.Repositories().Recon.FindingsByRun(r.Context(), s.deps.DB.Handle(), runID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"findings": findings})
}

// handleRepairIdempotency clears a stale in-progress marker left by a crash
// between marker write and commit. The ledger itself is never touched.
func (s *Server) handleRepairIdempotency(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	journalID := mux.Vars(r)["journalId"]
	if s.intercept(w, r, "/ops/repair/idempotency/{journalId}", actor, map[string]any{"journal_id": journalID}, "") {
		return
	}
	q := s.deps.DB.Handle()
	j, err := s.deps.DB.Repositories().Journals.GetByID(r.Context(), q, journalID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Idem.ClearStale(r.Context(), q, j.ScopeHash, j.IdempotencyKey); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "journal_id": journalID})
}

// handleRepairState walks a journal's state along the journal lifecycle.
// This is the only sanctioned journal mutation and it never touches lines
// or hashes.
func (s *Server) handleRepairState(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var in struct {
		To string `json:"to"`
	}
	if err := decode(r, &in); err != nil || in.To == "" {
		writeValidationError(w, r, "target state is required")
		return
	}
	journalID := mux.Vars(r)["journalId"]
	if s.intercept(w, r, "/ops/repair/state/{journalId}", actor, map[string]any{"journal_id": journalID, "to": in.To}, "") {
		return
	}
	q := s.deps.DB.Handle()
	j, err := s.deps.DB.Repositories().Journals.GetByID(r.Context(), q, journalID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	to := ledger.JournalState(in.To)
	if err := statemachine.Journal.Validate(statemachine.State(j.State), statemachine.State(to)); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.DB.Repositories().Journals.UpdateState(r.Context(), q, j.ID, j.State, to); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"journal_id": j.ID, "from": j.State, "to": to})
}

func (s *Server) handleOverdraftRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var in struct {
		OwnerType   string `json:"owner_type"`
		OwnerID     string `json:"owner_id"`
		Currency    string `json:"currency"`
		LimitAmount string `json:"limit_amount"`
	}
	if err := decode(r, &in); err != nil {
		writeValidationError(w, r, "malformed request body")
		return
	}
	cur, err := amount.ParseCurrency(in.Currency)
	if err != nil {
		writeValidationError(w, r, err.Error())
		return
	}
	limit, err := amount.Parse(in.LimitAmount)
	if err != nil || !limit.IsPositive() {
		writeValidationError(w, r, "limit_amount must be a positive amount")
		return
	}
	if s.intercept(w, r, "/ops/overdraft/request", actor, map[string]any{
		"owner_type": in.OwnerType, "owner_id": in.OwnerID,
		"currency": in.Currency, "limit_amount": in.LimitAmount,
	}, "") {
		return
	}

	q := s.deps.DB.Handle()
	repos := s.deps.DB.Repositories()
	acct, err := repos.Accounts.GetOrCreate(r.Context(), q, ledger.AccountKey{
		OwnerType:   ledger.OwnerType(in.OwnerType),
		OwnerID:     in.OwnerID,
		AccountType: ledger.AccountWallet,
		Currency:    cur,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	facility := &ledger.OverdraftFacility{
		ID:          uuid.NewString(),
		AccountID:   acct.ID,
		LimitAmount: limit,
		State:       ledger.OverdraftPending,
		RequesterID: actor.ID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repos.Overdrafts.Create(r.Context(), q, facility); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, facility)
}

// handleOverdraftApprove activates a pending facility. Maker-checker holds:
// the requester cannot approve their own facility.
func (s *Server) handleOverdraftApprove(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	q := s.deps.DB.Handle()
	repos := s.deps.DB.Repositories()
	f, err := repos.Overdrafts.GetByID(r.Context(), q, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if f.RequesterID == actor.ID {
		writeError(w, r, policy.ErrMakerCheckerRequired)
		return
	}
	if err := repos.Overdrafts.UpdateState(r.Context(), q, f.ID, ledger.OverdraftPending, ledger.OverdraftApproved, actor.ID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := repos.Overdrafts.UpdateState(r.Context(), q, f.ID, ledger.OverdraftApproved, ledger.OverdraftActive, actor.ID); err != nil {
		writeError(w, r, err)
		return
	}
	f, err = repos.Overdrafts.GetByID(r.Context(), q, f.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.auditConfigChange(r, "OVERDRAFT_ACTIVATED", actor, f.ID)
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleOverdraftReject(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	q := s.deps.DB.Handle()
	repos := s.deps.DB.Repositories()
	f, err := repos.Overdrafts.GetByID(r.Context(), q, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if f.RequesterID == actor.ID {
		writeError(w, r, policy.ErrMakerCheckerRequired)
		return
	}
	if err := repos.Overdrafts.UpdateState(r.Context(), q, f.ID, ledger.OverdraftPending, ledger.OverdraftRejected, actor.ID); err != nil {
		writeError(w, r, err)
		return
	}
	f, err = repos.Overdrafts.GetByID(r.Context(), q, f.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.auditConfigChange(r, "OVERDRAFT_REJECTED", actor, f.ID)
	writeJSON(w, http.StatusOK, f)
}

// auditConfigChange records a governed configuration change. Best effort:
// the operation already committed, so a failed audit write is logged by the
// sink rather than surfaced.
func (s *Server) auditConfigChange(r *http.Request, action string, actor Actor, target string) {
	if s.deps.Sink == nil {
		return
	}
	_ = s.deps.Sink.AuditLog(r.Context(), s.deps.DB.Handle(), events.Audit{
		Action:        action,
		Actor:         actor.Type + ":" + actor.ID,
		Target:        target,
		CorrelationID: correlationID(r),
	})
}
