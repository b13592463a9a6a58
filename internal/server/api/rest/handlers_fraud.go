package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/fraud"
)

func (s *Server) handleCreateFraudVersion(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var in struct {
		Rules []fraud.Rule `json:"rules"`
	}
	if err := decode(r, &in); err != nil {
		writeValidationError(w, r, "malformed rules body")
		return
	}
	v, err := s.deps.Fraud.CreateVersion(in.Rules, actor.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// handleActivateFraudVersion promotes a draft rules version. Activation is
// maker-checker: the creator cannot activate their own version.
func (s *Server) handleActivateFraudVersion(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	v, err := s.deps.Fraud.Activate(mux.Vars(r)["id"], actor.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.auditConfigChange(r, "FRAUD_RULES_ACTIVATED", actor, v.ID)
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleEvaluateFraud(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ContextType string         `json:"context_type"`
		ActorType   string         `json:"actor_type"`
		ActorID     string         `json:"actor_id"`
		Amount      string         `json:"amount,omitempty"`
		Currency    string         `json:"currency,omitempty"`
		Signals     map[string]any `json:"signals,omitempty"`
	}
	if err := decode(r, &in); err != nil {
		writeValidationError(w, r, "malformed context body")
		return
	}
	var amt amount.Amount
	if in.Amount != "" {
		parsed, err := amount.Parse(in.Amount)
		if err != nil {
			writeValidationError(w, r, err.Error())
			return
		}
		amt = parsed
	}
	decision, err := s.deps.Evaluator.Evaluate(r.Context(), fraud.Context{
		ContextType: in.ContextType,
		ActorType:   in.ActorType,
		ActorID:     in.ActorID,
		Amount:      amt,
		Currency:    amount.Currency(in.Currency),
		Signals:     in.Signals,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
