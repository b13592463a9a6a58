package approval

import (
	"context"

	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
)

// Interceptor converts bound HTTP operations into approval requests instead
// of executing them directly.
type Interceptor struct {
	store    *policy.Store
	workflow *Workflow
}

// NewInterceptor creates an interceptor over the binding store and workflow.
func NewInterceptor(store *policy.Store, workflow *Workflow) *Interceptor {
	return &Interceptor{store: store, workflow: workflow}
}

// Intercepted is the deferred-execution response for a bound route.
type Intercepted struct {
	ApprovalRequired bool   `json:"approval_required"`
	RequestID        string `json:"request_id"`
	TotalStages      int    `json:"total_stages"`
}

// Intercept checks (routePattern, method) against the active endpoint
// bindings. When a binding applies and its approval type is enabled, the
// operation becomes an ApprovalRequest and ok is true; otherwise the caller
// proceeds with normal execution.
func (i *Interceptor) Intercept(ctx context.Context, routePattern, method string, in CreateInput) (*Intercepted, bool, error) {
	binding, found := i.store.LookupEndpointBinding(routePattern, method)
	if !found {
		return nil, false, nil
	}
	if !i.workflow.TypeConfigFor(binding.ApprovalType).Enabled {
		return nil, false, nil
	}
	in.Type = binding.ApprovalType
	req, err := i.workflow.Create(ctx, in)
	if err != nil {
		return nil, true, err
	}
	return &Intercepted{
		ApprovalRequired: true,
		RequestID:        req.ID,
		TotalStages:      req.TotalStages,
	}, true, nil
}
