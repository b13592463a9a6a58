package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fnyamweya/caricash-nova-sub003/internal/approval"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/posting"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/reversal"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/statemachine"
	"github.com/fnyamweya/caricash-nova-sub003/internal/fraud"
	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/idempotency"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// Canonical error codes surfaced in the error envelope.
const (
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeValidation           = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeInsufficientFunds    = "INSUFFICIENT_FUNDS"
	CodeCrossCurrency        = "CROSS_CURRENCY_NOT_ALLOWED"
	CodeIdempotencyConflict  = "DUPLICATE_IDEMPOTENCY_CONFLICT"
	CodeIdempotencyInFlight  = "IDEMPOTENCY_IN_PROGRESS"
	CodeMakerCheckerRequired = "MAKER_CHECKER_REQUIRED"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeInternal             = "INTERNAL_ERROR"
)

// errorEnvelope is the wire shape of every error response.
type errorEnvelope struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	CorrelationID string `json:"correlation_id"`
	Details       any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, details := classify(err)
	writeJSON(w, status, errorEnvelope{
		Error:         err.Error(),
		Code:          code,
		CorrelationID: correlationID(r),
		Details:       details,
	})
}

func writeValidationError(w http.ResponseWriter, r *http.Request, msg string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{
		Error:         msg,
		Code:          CodeValidation,
		CorrelationID: correlationID(r),
	})
}

// classify maps a domain error to an HTTP status, canonical code and
// optional structured details.
func classify(err error) (int, string, any) {
	var funds *posting.InsufficientFundsError
	if errors.As(err, &funds) {
		return http.StatusUnprocessableEntity, CodeInsufficientFunds, map[string]any{
			"account_id":      funds.AccountID,
			"available":       funds.Available,
			"overdraft_limit": funds.OverdraftLimit,
			"requested":       funds.Requested,
		}
	}
	var transition *statemachine.InvalidTransitionError
	if errors.As(err, &transition) {
		return http.StatusConflict, CodeInvalidTransition, nil
	}

	switch {
	case errors.Is(err, idempotency.ErrConflict):
		return http.StatusConflict, CodeIdempotencyConflict, nil
	case errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict, CodeIdempotencyInFlight, nil
	case errors.Is(err, ledger.ErrCrossCurrency):
		return http.StatusUnprocessableEntity, CodeCrossCurrency, nil
	case errors.Is(err, ledger.ErrUnbalanced),
		errors.Is(err, ledger.ErrNonPositiveAmount),
		errors.Is(err, ledger.ErrUnresolvedAccount),
		errors.Is(err, posting.ErrMissingIdempotencyKey),
		errors.Is(err, posting.ErrMissingTxnType),
		errors.Is(err, approval.ErrReasonRequired):
		return http.StatusBadRequest, CodeValidation, nil
	case errors.Is(err, policy.ErrMakerCheckerRequired),
		errors.Is(err, fraud.ErrSelfApproval):
		return http.StatusForbidden, CodeMakerCheckerRequired, nil
	case errors.Is(err, policy.ErrForbidden):
		return http.StatusForbidden, CodeForbidden, nil
	case errors.Is(err, approval.ErrRequestNotFound),
		errors.Is(err, policy.ErrPolicyNotFound),
		errors.Is(err, policy.ErrDelegationNotFound),
		errors.Is(err, fraud.ErrVersionNotFound),
		errors.Is(err, relationaldb.ErrJournalNotFound),
		errors.Is(err, relationaldb.ErrAccountNotFound),
		errors.Is(err, relationaldb.ErrBalanceNotFound),
		errors.Is(err, relationaldb.ErrOverdraftNotFound),
		errors.Is(err, relationaldb.ErrRecordNotFound):
		return http.StatusNotFound, CodeNotFound, nil
	case errors.Is(err, approval.ErrRequestNotPending),
		errors.Is(err, approval.ErrRequestExpired),
		errors.Is(err, approval.ErrAlreadyDecidedStage),
		errors.Is(err, policy.ErrInvalidPolicyState),
		errors.Is(err, fraud.ErrVersionNotActivatable),
		errors.Is(err, reversal.ErrAlreadyReversed),
		errors.Is(err, reversal.ErrNotReversible),
		errors.Is(err, relationaldb.ErrStateConflict):
		return http.StatusConflict, CodeInvalidTransition, nil
	case errors.Is(err, posting.ErrQueueFull):
		// Admission control: retryable, back off.
		return http.StatusServiceUnavailable, CodeInternal, nil
	default:
		return http.StatusInternalServerError, CodeInternal, nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
