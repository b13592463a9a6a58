// Package relationaldb declares the relational persistence contracts for the
// ledger core: row types, repository interfaces, configuration and the
// append-only write guard. Driver implementations live in subpackages.
package relationaldb

import (
	"context"
	"database/sql"
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repository methods that must join a posting transaction take one.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Database is the lifecycle contract a driver implements.
type Database interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Ping(ctx context.Context) error
	BeginTx(ctx context.Context) (*sql.Tx, error)
	Handle() Querier
	Repositories() *Repositories
}

// Repositories bundles every repository a driver provides.
type Repositories struct {
	Accounts    AccountRepository
	Journals    JournalRepository
	Balances    BalanceRepository
	Overdrafts  OverdraftRepository
	Idempotency IdempotencyRepository
	Events      EventRepository
	Statements  StatementRepository
	Recon       ReconRepository
	Governance  GovernanceRepository
}

// AccountRepository manages lazily-created, never-deleted ledger accounts.
type AccountRepository interface {
	GetOrCreate(ctx context.Context, q Querier, key ledger.AccountKey) (*ledger.Account, error)
	GetByID(ctx context.Context, q Querier, id string) (*ledger.Account, error)
	// TouchedInWindow lists account ids referenced by any line of a journal
	// created inside [from, to).
	TouchedInWindow(ctx context.Context, q Querier, from, to time.Time) ([]string, error)
	// SuspenseAccounts lists all accounts of type SUSPENSE.
	SuspenseAccounts(ctx context.Context, q Querier) ([]*ledger.Account, error)
}

// JournalRepository is the append-only hash-chained journal store. Only the
// posting engine appends; the state column alone may move, and only along
// the journal lifecycle.
type JournalRepository interface {
	Append(ctx context.Context, q Querier, j *ledger.Journal, lines []ledger.Line) error
	GetByID(ctx context.Context, q Querier, id string) (*ledger.Journal, error)
	GetByIdempotency(ctx context.Context, q Querier, scopeHash, idempotencyKey string) (*ledger.Journal, error)
	// LastForDomainKey returns the newest journal on a domain key, or nil
	// for a key with no history (genesis).
	LastForDomainKey(ctx context.Context, q Querier, domainKey string) (*ledger.Journal, error)
	Lines(ctx context.Context, q Querier, journalID string) ([]ledger.Line, error)
	// InWindow returns journals created in [from, to) ordered by domain key
	// then creation order, for chain verification.
	InWindow(ctx context.Context, q Querier, from, to time.Time) ([]*ledger.Journal, error)
	// UpdateState is the single sanctioned mutation of a journal row. The
	// transition must already have passed the journal state machine.
	UpdateState(ctx context.Context, q Querier, id string, from, to ledger.JournalState) error
	// Statement pages an account's lines newest-first.
	Statement(ctx context.Context, q Querier, accountID string, limit, offset int) ([]ledger.Line, error)
}

// BalanceRepository maintains the materialized balance view. The view is
// never authoritative; ComputedBalance is the ledger truth it is checked
// against.
type BalanceRepository interface {
	Get(ctx context.Context, q Querier, accountID string) (*ledger.Balance, error)
	Upsert(ctx context.Context, q Querier, b *ledger.Balance) error
	// ComputedBalance folds the account's lines: sum(CR) - sum(DR).
	ComputedBalance(ctx context.Context, q Querier, accountID string) (amount.Amount, error)
}

// OverdraftRepository manages overdraft facilities.
type OverdraftRepository interface {
	Create(ctx context.Context, q Querier, f *ledger.OverdraftFacility) error
	GetByID(ctx context.Context, q Querier, id string) (*ledger.OverdraftFacility, error)
	// ActiveLimit returns the ACTIVE facility limit for an account, zero if none.
	ActiveLimit(ctx context.Context, q Querier, accountID string) (amount.Amount, error)
	UpdateState(ctx context.Context, q Querier, id string, from, to ledger.OverdraftState, approverID string) error
}

// IdempotencyStatus is the lifecycle of an idempotency record.
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyCommitted  IdempotencyStatus = "COMMITTED"
)

// IdempotencyRecord deduplicates replayed commands per (scope_hash, key).
type IdempotencyRecord struct {
	ScopeHash      string            `json:"scope_hash"`
	IdempotencyKey string            `json:"idempotency_key"`
	PayloadHash    string            `json:"payload_hash"`
	Status         IdempotencyStatus `json:"status"`
	ResultJSON     []byte            `json:"result_json,omitempty"`
	TTLCategory    string            `json:"ttl_category"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

// IdempotencyRepository persists idempotency records.
type IdempotencyRepository interface {
	Get(ctx context.Context, q Querier, scopeHash, key string) (*IdempotencyRecord, error)
	// InsertInProgress fails with ErrDuplicateIdempotency if any record exists.
	InsertInProgress(ctx context.Context, q Querier, rec *IdempotencyRecord) error
	// Commit upgrades IN_PROGRESS to COMMITTED with result and expiry.
	Commit(ctx context.Context, q Querier, scopeHash, key, payloadHash string, resultJSON []byte, expiresAt time.Time) error
	// Delete clears a record; used only by governed repair of stale markers.
	Delete(ctx context.Context, q Querier, scopeHash, key string) error
	PurgeExpired(ctx context.Context, q Querier, now time.Time) (int64, error)
}

// EventRecord is one append-only platform event.
type EventRecord struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id,omitempty"`
	ActorType     string    `json:"actor_type"`
	ActorID       string    `json:"actor_id"`
	SchemaVersion int       `json:"schema_version"`
	PayloadJSON   []byte    `json:"payload_json"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditRecord is one append-only audit trail row.
type AuditRecord struct {
	ID            string    `json:"id"`
	Action        string    `json:"action"`
	Actor         string    `json:"actor"`
	Target        string    `json:"target"`
	BeforeJSON    []byte    `json:"before_json,omitempty"`
	AfterJSON     []byte    `json:"after_json,omitempty"`
	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// EventRepository persists events and audit rows. Neither is ever updated
// or deleted.
type EventRepository interface {
	InsertEvent(ctx context.Context, q Querier, e *EventRecord) error
	InsertAudit(ctx context.Context, q Querier, a *AuditRecord) error
	EventsByCorrelation(ctx context.Context, q Querier, correlationID string) ([]*EventRecord, error)
}

// StatementEntry is one ingested bank-statement line.
type StatementEntry struct {
	ID          string          `json:"id"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
	Amount      amount.Amount   `json:"amount"`
	Currency    amount.Currency `json:"currency"`
	BookedAt    time.Time       `json:"booked_at"`
	State       string          `json:"state"`
	MatchMethod string          `json:"match_method,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ExternalTransfer is an outbound transfer tracked against the statement.
type ExternalTransfer struct {
	ID                 string          `json:"id"`
	ProviderTransferID string          `json:"provider_transfer_id"`
	ClientReference    string          `json:"client_reference"`
	Amount             amount.Amount   `json:"amount"`
	Currency           amount.Currency `json:"currency"`
	State              string          `json:"state"`
	InitiatedAt        time.Time       `json:"initiated_at"`
}

// StatementRepository persists statement entries and external transfers.
type StatementRepository interface {
	InsertEntry(ctx context.Context, q Querier, e *StatementEntry) error
	GetEntry(ctx context.Context, q Querier, id string) (*StatementEntry, error)
	UpdateEntryState(ctx context.Context, q Querier, id, from, to, matchMethod string) error
	EntriesInState(ctx context.Context, q Querier, state string) ([]*StatementEntry, error)
	InsertTransfer(ctx context.Context, q Querier, t *ExternalTransfer) error
	UpdateTransferState(ctx context.Context, q Querier, id, from, to string) error
	// OpenTransfers lists transfers not yet in a terminal state.
	OpenTransfers(ctx context.Context, q Querier, currency amount.Currency) ([]*ExternalTransfer, error)
}

// ReconRun is one reconciliation execution over a wall-clock window.
type ReconRun struct {
	ID            string    `json:"id"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	Status        string    `json:"status"`
	FindingsCount int       `json:"findings_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// ReconFinding is one discrepancy discovered by a run.
type ReconFinding struct {
	ID           string        `json:"id"`
	RunID        string        `json:"run_id"`
	Kind         string        `json:"kind"`
	AccountID    string        `json:"account_id,omitempty"`
	JournalID    string        `json:"journal_id,omitempty"`
	Computed     amount.Amount `json:"computed_balance"`
	Materialized amount.Amount `json:"materialized_balance"`
	Discrepancy  amount.Amount `json:"discrepancy"`
	Severity     string        `json:"severity"`
	Detail       string        `json:"detail,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ReconCase tracks the investigation of findings. Cases are never
// auto-resolved by the engine.
type ReconCase struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	MatchMethod string    `json:"match_method,omitempty"`
	FindingID   string    `json:"finding_id,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GovernanceKind names a governance document table.
type GovernanceKind string

const (
	GovernancePolicy       GovernanceKind = "approval_policies"
	GovernanceDelegation   GovernanceKind = "approval_delegations"
	GovernanceBinding      GovernanceKind = "endpoint_bindings"
	GovernanceRequest      GovernanceKind = "approval_requests"
	GovernanceFraudVersion GovernanceKind = "fraud_rule_versions"
	GovernanceFraudCase    GovernanceKind = "fraud_cases"
)

// GovernanceDoc is one governance row. Approval policies, delegations,
// endpoint bindings, approval requests, fraud rule versions and fraud cases
// all persist as canonical-JSON documents keyed by id, with the lifecycle
// state lifted into its own column for querying.
type GovernanceDoc struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Document  []byte    `json:"document"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GovernanceRepository persists governance documents. Save is an idempotent
// upsert: the in-memory stores stay authoritative for reads and write
// through on every mutation, reloading via Load at startup.
type GovernanceRepository interface {
	Save(ctx context.Context, q Querier, kind GovernanceKind, doc *GovernanceDoc) error
	Load(ctx context.Context, q Querier, kind GovernanceKind) ([]*GovernanceDoc, error)
}

// ReconRepository persists runs, findings and cases.
type ReconRepository interface {
	InsertRun(ctx context.Context, q Querier, r *ReconRun) error
	FinishRun(ctx context.Context, q Querier, id, status string, findings int) error
	GetRun(ctx context.Context, q Querier, id string) (*ReconRun, error)
	ListRuns(ctx context.Context, q Querier, limit int) ([]*ReconRun, error)
	InsertFinding(ctx context.Context, q Querier, f *ReconFinding) error
	FindingsByRun(ctx context.Context, q Querier, runID string) ([]*ReconFinding, error)
	InsertCase(ctx context.Context, q Querier, c *ReconCase) error
	GetCase(ctx context.Context, q Querier, id string) (*ReconCase, error)
	// OpenCaseFor returns an existing non-resolved case for the subject
	// (account or journal id) so repeated runs update instead of duplicating.
	OpenCaseFor(ctx context.Context, q Querier, caseType, subject string) (*ReconCase, error)
	TouchCase(ctx context.Context, q Querier, id string) error
	UpdateCaseStatus(ctx context.Context, q Querier, id, from, to string) error
}
