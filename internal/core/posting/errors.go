package posting

import (
	"errors"
	"fmt"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
)

var (
	// ErrQueueFull signals the domain key's inbox is at capacity. Retryable.
	ErrQueueFull = errors.New("posting queue full")

	// ErrEngineClosed is returned once Close has been called.
	ErrEngineClosed = errors.New("posting engine closed")

	// ErrMissingIdempotencyKey rejects commands without a dedup identity.
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")

	// ErrMissingTxnType rejects commands without a transaction type.
	ErrMissingTxnType = errors.New("txn_type is required")
)

// InsufficientFundsError reports a wallet debit that would breach the
// account's overdraft floor.
type InsufficientFundsError struct {
	AccountID      string
	Available      amount.Amount
	OverdraftLimit amount.Amount
	Requested      amount.Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on account %s: available %s, overdraft limit %s, requested %s",
		e.AccountID, e.Available, e.OverdraftLimit, e.Requested)
}
