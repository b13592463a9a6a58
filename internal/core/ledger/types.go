// Package ledger defines the double-entry ledger data model: accounts,
// hash-chained journals, lines, materialized balances, and the domain keys
// that partition the posting engine's serialized writers.
package ledger

import (
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
)

// OwnerType classifies the party an account belongs to.
type OwnerType string

const (
	OwnerCustomer OwnerType = "CUSTOMER"
	OwnerAgent    OwnerType = "AGENT"
	OwnerMerchant OwnerType = "MERCHANT"
	OwnerStaff    OwnerType = "STAFF"
	OwnerStore    OwnerType = "STORE"
	OwnerSystem   OwnerType = "SYSTEM"
	OwnerTreasury OwnerType = "TREASURY"
)

// AccountType classifies the ledger role of an account.
type AccountType string

const (
	AccountWallet             AccountType = "WALLET"
	AccountFee                AccountType = "FEE"
	AccountSuspense           AccountType = "SUSPENSE"
	AccountCommissionsPayable AccountType = "COMMISSIONS_PAYABLE"
	AccountTaxPayable         AccountType = "TAX_PAYABLE"
	AccountHoldbackReserve    AccountType = "HOLDBACK_RESERVE"
	AccountClearing           AccountType = "CLEARING"
	AccountBankPool           AccountType = "BANK_POOL"
)

// AccountKey is the natural unique key of a ledger account. Accounts are
// created lazily on first reference and never deleted.
type AccountKey struct {
	OwnerType   OwnerType       `json:"owner_type"`
	OwnerID     string          `json:"owner_id"`
	AccountType AccountType     `json:"account_type"`
	Currency    amount.Currency `json:"currency"`
}

// Account is a ledger account row.
type Account struct {
	ID string `json:"id"`
	AccountKey
	CreatedAt time.Time `json:"created_at"`
}

// EntryType is the side of a ledger line.
type EntryType string

const (
	Debit  EntryType = "DR"
	Credit EntryType = "CR"
)

// JournalState is the journal lifecycle state. POSTED rows are immutable
// apart from this field, which only moves POSTED -> VOID_REQUESTED -> REVERSED.
type JournalState string

const (
	JournalPosted        JournalState = "POSTED"
	JournalVoidRequested JournalState = "VOID_REQUESTED"
	JournalReversed      JournalState = "REVERSED"
)

// Journal is a posted double-entry journal header. Currency lives here,
// never on individual lines.
type Journal struct {
	ID             string          `json:"id"`
	TxnType        string          `json:"txn_type"`
	Currency       amount.Currency `json:"currency"`
	DomainKey      string          `json:"domain_key"`
	CorrelationID  string          `json:"correlation_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	ScopeHash      string          `json:"scope_hash"`
	PayloadHash    string          `json:"payload_hash"`
	State          JournalState    `json:"state"`
	PrevHash       string          `json:"prev_hash"`
	JournalHash    string          `json:"journal_hash"`
	Description    string          `json:"description"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Line is one leg of a journal. Amount is always positive; the side is
// carried by EntryType.
type Line struct {
	ID          string        `json:"id"`
	JournalID   string        `json:"journal_id"`
	AccountID   string        `json:"account_id"`
	EntryType   EntryType     `json:"entry_type"`
	Amount      amount.Amount `json:"amount"`
	Description string        `json:"description"`
}

// Balance is the materialized per-account view. It is never authoritative;
// reconciliation diffs it against the journal store.
type Balance struct {
	AccountID        string          `json:"account_id"`
	ActualBalance    amount.Amount   `json:"actual_balance"`
	HoldAmount       amount.Amount   `json:"hold_amount"`
	PendingCredits   amount.Amount   `json:"pending_credits"`
	LastJournalID    string          `json:"last_journal_id"`
	Currency         amount.Currency `json:"currency"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Available returns actual minus holds.
func (b Balance) Available() amount.Amount {
	return b.ActualBalance - b.HoldAmount
}

// OverdraftState is the overdraft facility lifecycle state.
type OverdraftState string

const (
	OverdraftPending  OverdraftState = "PENDING"
	OverdraftApproved OverdraftState = "APPROVED"
	OverdraftActive   OverdraftState = "ACTIVE"
	OverdraftRejected OverdraftState = "REJECTED"
	OverdraftClosed   OverdraftState = "CLOSED"
)

// OverdraftFacility permits available balance down to -LimitAmount while ACTIVE.
type OverdraftFacility struct {
	ID          string         `json:"id"`
	AccountID   string         `json:"account_id"`
	LimitAmount amount.Amount  `json:"limit_amount"`
	State       OverdraftState `json:"state"`
	RequesterID string         `json:"requester_id"`
	ApproverID  string         `json:"approver_id,omitempty"`
	ApprovedAt  *time.Time     `json:"approved_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Entry is one requested leg of a posting command. Either AccountID or the
// (Owner, AccountType) triple is set; the latter resolves or lazily creates
// the account under the command currency.
type Entry struct {
	AccountID   string        `json:"account_id,omitempty"`
	OwnerType   OwnerType     `json:"owner_type,omitempty"`
	OwnerID     string        `json:"owner_id,omitempty"`
	AccountType AccountType   `json:"account_type,omitempty"`
	EntryType   EntryType     `json:"entry_type"`
	Amount      amount.Amount `json:"amount"`
	Description string        `json:"description,omitempty"`
}
