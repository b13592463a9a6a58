package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fnyamweya/caricash-nova-sub003/internal/approval"
	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
)

type decisionRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var in decisionRequest
	_ = decode(r, &in)
	req, err := s.deps.Workflow.Approve(r.Context(), mux.Vars(r)["id"], actor.decider(), in.Reason)
	if err != nil {
		// The request finalized even when its side-effect handler failed;
		// surface both.
		if req != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"request":        req,
				"handler_error":  err.Error(),
				"correlation_id": correlationID(r),
			})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var in decisionRequest
	_ = decode(r, &in)
	req, err := s.deps.Workflow.Reject(r.Context(), mux.Vars(r)["id"], actor.decider(), in.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	req, err := s.deps.Workflow.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	state := approval.RequestState(r.URL.Query().Get("state"))
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": s.deps.Workflow.List(state),
	})
}

// Policy administration. Policies are configuration, not ledger data, so
// they live in the in-memory store and mutate under its coarse lock.

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var p policy.Policy
	if err := decode(r, &p); err != nil {
		writeValidationError(w, r, "malformed policy body")
		return
	}
	if p.Name == "" {
		writeValidationError(w, r, "policy name is required")
		return
	}
	created, err := s.deps.Policies.CreatePolicy(&p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"policies": s.deps.Policies.ListPolicies(r.URL.Query().Get("approval_type")),
	})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Policies.GetPolicy(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var p policy.Policy
	if err := decode(r, &p); err != nil {
		writeValidationError(w, r, "malformed policy body")
		return
	}
	p.ID = mux.Vars(r)["id"]
	updated, err := s.deps.Policies.UpdatePolicy(&p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleArchivePolicy(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	p, err := s.deps.Policies.ArchivePolicy(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleActivatePolicy(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	p, err := s.deps.Policies.ActivatePolicy(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeactivatePolicy(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	p, err := s.deps.Policies.DeactivatePolicy(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleSimulatePolicy dry-runs policy matching and returns the stages a
// request would get plus the full per-policy trace.
func (s *Server) handleSimulatePolicy(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ApprovalType string         `json:"approval_type"`
		ActorType    string         `json:"actor_type"`
		ActorID      string         `json:"actor_id"`
		StaffRole    string         `json:"staff_role,omitempty"`
		Currency     string         `json:"currency,omitempty"`
		Payload      map[string]any `json:"payload,omitempty"`
	}
	if err := decode(r, &in); err != nil {
		writeValidationError(w, r, "malformed simulation body")
		return
	}
	result := s.deps.PolicyEval.Simulate(policy.Request{
		ApprovalType: in.ApprovalType,
		ActorType:    in.ActorType,
		ActorID:      in.ActorID,
		StaffRole:    in.StaffRole,
		Currency:     in.Currency,
		Payload:      in.Payload,
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateDelegation(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var d policy.Delegation
	if err := decode(r, &d); err != nil {
		writeValidationError(w, r, "malformed delegation body")
		return
	}
	if d.DelegatorID == "" || d.DelegateID == "" {
		writeValidationError(w, r, "delegator_id and delegate_id are required")
		return
	}
	created, err := s.deps.Policies.CreateDelegation(&d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListDelegations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"delegations": s.deps.Policies.ListDelegations(),
	})
}

func (s *Server) handleRevokeDelegation(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	if err := s.deps.Policies.RevokeDelegation(mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleListBindings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"bindings": s.deps.Policies.ListEndpointBindings(),
	})
}

func (s *Server) handleUpsertBinding(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var b policy.EndpointBinding
	if err := decode(r, &b); err != nil {
		writeValidationError(w, r, "malformed binding body")
		return
	}
	if b.RoutePattern == "" || b.HTTPMethod == "" || b.ApprovalType == "" {
		writeValidationError(w, r, "route_pattern, http_method and approval_type are required")
		return
	}
	saved, err := s.deps.Policies.UpsertEndpointBinding(&b)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
