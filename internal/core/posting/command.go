package posting

import (
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/idempotency"
)

// Command is one posting request. Entries reference accounts by id or by
// the (owner, account type) triple for lazy creation under the command
// currency.
type Command struct {
	IdempotencyKey      string                `json:"idempotency_key"`
	CorrelationID       string                `json:"correlation_id"`
	TxnType             string                `json:"txn_type"`
	Currency            amount.Currency       `json:"currency"`
	Entries             []ledger.Entry        `json:"entries"`
	Description         string                `json:"description,omitempty"`
	ActorType           string                `json:"actor_type"`
	ActorID             string                `json:"actor_id"`
	FeeVersionID        string                `json:"fee_version_id,omitempty"`
	CommissionVersionID string                `json:"commission_version_id,omitempty"`
	Category            idempotency.Category  `json:"-"`
}

func (c *Command) validate() error {
	if c.IdempotencyKey == "" {
		return ErrMissingIdempotencyKey
	}
	if c.TxnType == "" {
		return ErrMissingTxnType
	}
	if _, err := amount.ParseCurrency(string(c.Currency)); err != nil {
		return err
	}
	return ledger.ValidateEntries(c.Entries)
}

func (c *Command) category() idempotency.Category {
	if c.Category == "" {
		return idempotency.CategoryMoneyTx
	}
	return c.Category
}

// hashable is the command identity for the payload hash. CorrelationID is
// excluded: retries carry fresh correlation ids but must still replay.
func (c *Command) hashable() any {
	return struct {
		IdempotencyKey      string          `json:"idempotency_key"`
		TxnType             string          `json:"txn_type"`
		Currency            amount.Currency `json:"currency"`
		Entries             []ledger.Entry  `json:"entries"`
		Description         string          `json:"description"`
		ActorType           string          `json:"actor_type"`
		ActorID             string          `json:"actor_id"`
		FeeVersionID        string          `json:"fee_version_id"`
		CommissionVersionID string          `json:"commission_version_id"`
	}{c.IdempotencyKey, c.TxnType, c.Currency, c.Entries, c.Description,
		c.ActorType, c.ActorID, c.FeeVersionID, c.CommissionVersionID}
}

// AccountBalance is one post-posting balance snapshot.
type AccountBalance struct {
	AccountID string        `json:"account_id"`
	Balance   amount.Amount `json:"balance"`
}

// Result is the committed outcome of a posting. Replays return the stored
// result byte-for-byte with Replayed set.
type Result struct {
	JournalID   string           `json:"journal_id"`
	JournalHash string           `json:"journal_hash"`
	CreatedAt   time.Time        `json:"created_at"`
	Balances    []AccountBalance `json:"balances"`
	Replayed    bool             `json:"-"`
}
