package rest

import (
	"context"
	"net/http"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
)

type contextKey int

const (
	correlationKey contextKey = iota
	actorKey
)

// Actor is the authenticated caller, injected by the upstream auth layer as
// X-Actor-Type / X-Actor-Id / X-Actor-Role headers.
type Actor struct {
	Type string
	ID   string
	Role string
}

func (a Actor) decider() policy.Decider {
	return policy.Decider{ID: a.ID, Role: a.Role}
}

// withRequestContext attaches the correlation id and actor identity to the
// request context. A missing correlation id gets a server-generated ULID.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get("X-Correlation-Id")
		if cid == "" {
			cid = ledger.NewID()
		}
		actor := Actor{
			Type: r.Header.Get("X-Actor-Type"),
			ID:   r.Header.Get("X-Actor-Id"),
			Role: r.Header.Get("X-Actor-Role"),
		}
		ctx := context.WithValue(r.Context(), correlationKey, cid)
		ctx = context.WithValue(ctx, actorKey, actor)
		w.Header().Set("X-Correlation-Id", cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func correlationID(r *http.Request) string {
	if cid, ok := r.Context().Value(correlationKey).(string); ok {
		return cid
	}
	return ""
}

func requestActor(r *http.Request) Actor {
	if a, ok := r.Context().Value(actorKey).(Actor); ok {
		return a
	}
	return Actor{}
}

// requireActor rejects requests with no authenticated actor identity.
func requireActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	a := requestActor(r)
	if a.Type == "" || a.ID == "" {
		writeJSON(w, http.StatusUnauthorized, errorEnvelope{
			Error:         "missing actor identity headers",
			Code:          CodeUnauthorized,
			CorrelationID: correlationID(r),
		})
		return Actor{}, false
	}
	return a, true
}
