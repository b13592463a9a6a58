// Package sqlstore implements the relationaldb contracts over database/sql.
// It runs against the embedded sqlite driver by default and against
// PostgreSQL (lib/pq) in server deployments; queries are written once with
// '?' placeholders and rebound for postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"       // postgres driver
	_ "modernc.org/sqlite"      // embedded sqlite driver

	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// Database implements relationaldb.Database.
type Database struct {
	db     *sql.DB
	config *relationaldb.Config
	repos  *relationaldb.Repositories
}

// NewDatabase creates a database instance from validated configuration.
func NewDatabase(config *relationaldb.Config) (*Database, error) {
	if err := config.Validate(); err != nil {
		return nil, relationaldb.NewConfigurationError("new_database", "invalid configuration", err)
	}
	return &Database{config: config}, nil
}

// Open opens the connection, configures pooling and initializes the schema.
func (d *Database) Open(ctx context.Context) error {
	dsn, err := d.config.BuildConnectionString()
	if err != nil {
		return relationaldb.NewConfigurationError("open", "failed to build connection string", err)
	}

	db, err := sql.Open(d.config.Driver, dsn)
	if err != nil {
		return relationaldb.NewConnectionError("open", "failed to open database", err)
	}

	db.SetMaxOpenConns(d.config.MaxOpenConns)
	db.SetMaxIdleConns(d.config.MaxIdleConns)
	db.SetConnMaxLifetime(d.config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, d.config.DefaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return relationaldb.NewConnectionError("open", "failed to ping database", err)
	}

	d.db = db
	if err := d.initSchema(ctx); err != nil {
		d.db.Close()
		d.db = nil
		return relationaldb.NewConnectionError("open", "failed to initialize schema", err)
	}

	rebinder := identityRebind
	if d.config.Driver == relationaldb.DriverPostgres {
		rebinder = postgresRebind
	}
	d.repos = &relationaldb.Repositories{
		Accounts:    &accountRepository{rebind: rebinder},
		Journals:    newJournalRepository(rebinder),
		Balances:    &balanceRepository{rebind: rebinder},
		Overdrafts:  &overdraftRepository{rebind: rebinder},
		Idempotency: &idempotencyRepository{rebind: rebinder},
		Events:      &eventRepository{rebind: rebinder},
		Statements:  &statementRepository{rebind: rebinder},
		Recon:       &reconRepository{rebind: rebinder},
		Governance:  &governanceRepository{rebind: rebinder},
	}
	return nil
}

// Close closes the connection.
func (d *Database) Close(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	if err != nil {
		return relationaldb.NewConnectionError("close", "failed to close database", err)
	}
	return nil
}

// Ping tests the connection.
func (d *Database) Ping(ctx context.Context) error {
	if d.db == nil {
		return relationaldb.ErrDatabaseClosed
	}
	return d.db.PingContext(ctx)
}

// BeginTx starts a transaction; the posting engine wraps one around each
// journal append so marker, journal, lines and balance writes commit as one.
func (d *Database) BeginTx(ctx context.Context) (*sql.Tx, error) {
	if d.db == nil {
		return nil, relationaldb.ErrDatabaseClosed
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, relationaldb.NewTransactionError("begin", "failed to begin transaction", err)
	}
	return tx, nil
}

// Handle exposes the non-transactional querier.
func (d *Database) Handle() relationaldb.Querier { return d.db }

// Repositories returns the repository set; valid after Open.
func (d *Database) Repositories() *relationaldb.Repositories { return d.repos }

// rebindFunc adapts '?' placeholders for the active driver.
type rebindFunc func(string) string

func identityRebind(q string) string { return q }

func postgresRebind(q string) string {
	var b strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// exec routes every write through the append-only guard before execution.
func exec(ctx context.Context, q relationaldb.Querier, rebind rebindFunc, query string, args ...any) (sql.Result, error) {
	if err := relationaldb.CheckLedgerWrite(query); err != nil {
		return nil, err
	}
	return q.ExecContext(ctx, rebind(query), args...)
}

func (d *Database) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ledger_accounts (
		id            TEXT PRIMARY KEY,
		owner_type    TEXT NOT NULL,
		owner_id      TEXT NOT NULL,
		account_type  TEXT NOT NULL,
		currency      TEXT NOT NULL,
		created_at    TIMESTAMP NOT NULL,
		UNIQUE (owner_type, owner_id, account_type, currency)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_journals (
		id              TEXT PRIMARY KEY,
		txn_type        TEXT NOT NULL,
		currency        TEXT NOT NULL,
		domain_key      TEXT NOT NULL,
		correlation_id  TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		scope_hash      TEXT NOT NULL,
		payload_hash    TEXT NOT NULL,
		state           TEXT NOT NULL,
		prev_hash       TEXT NOT NULL,
		journal_hash    TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_journals_domain_key ON ledger_journals (domain_key, id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_journals_scope ON ledger_journals (scope_hash, idempotency_key)`,
	`CREATE TABLE IF NOT EXISTS ledger_lines (
		id           TEXT PRIMARY KEY,
		journal_id   TEXT NOT NULL REFERENCES ledger_journals (id),
		line_no      INTEGER NOT NULL,
		account_id   TEXT NOT NULL REFERENCES ledger_accounts (id),
		entry_type   TEXT NOT NULL CHECK (entry_type IN ('DR','CR')),
		amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
		description  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lines_journal ON ledger_lines (journal_id, line_no)`,
	`CREATE INDEX IF NOT EXISTS idx_lines_account ON ledger_lines (account_id)`,
	`CREATE TABLE IF NOT EXISTS account_balances (
		account_id      TEXT PRIMARY KEY REFERENCES ledger_accounts (id),
		actual_cents    BIGINT NOT NULL DEFAULT 0,
		hold_cents      BIGINT NOT NULL DEFAULT 0,
		pending_cents   BIGINT NOT NULL DEFAULT 0,
		last_journal_id TEXT NOT NULL DEFAULT '',
		currency        TEXT NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS overdraft_facilities (
		id           TEXT PRIMARY KEY,
		account_id   TEXT NOT NULL REFERENCES ledger_accounts (id),
		limit_cents  BIGINT NOT NULL CHECK (limit_cents >= 0),
		state        TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		approver_id  TEXT NOT NULL DEFAULT '',
		approved_at  TIMESTAMP,
		created_at   TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_records (
		scope_hash      TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		payload_hash    TEXT NOT NULL,
		status          TEXT NOT NULL,
		result_json     BLOB,
		ttl_category    TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMP NOT NULL,
		expires_at      TIMESTAMP NOT NULL,
		PRIMARY KEY (scope_hash, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS event_log (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		entity_type    TEXT NOT NULL,
		entity_id      TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		causation_id   TEXT NOT NULL DEFAULT '',
		actor_type     TEXT NOT NULL,
		actor_id       TEXT NOT NULL,
		schema_version INTEGER NOT NULL DEFAULT 1,
		payload_json   BLOB NOT NULL,
		created_at     TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_correlation ON event_log (correlation_id)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id             TEXT PRIMARY KEY,
		action         TEXT NOT NULL,
		actor          TEXT NOT NULL,
		target         TEXT NOT NULL,
		before_json    BLOB,
		after_json     BLOB,
		correlation_id TEXT NOT NULL,
		created_at     TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS statement_entries (
		id           TEXT PRIMARY KEY,
		reference    TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		amount_cents BIGINT NOT NULL,
		currency     TEXT NOT NULL,
		booked_at    TIMESTAMP NOT NULL,
		state        TEXT NOT NULL,
		match_method TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS external_transfers (
		id                   TEXT PRIMARY KEY,
		provider_transfer_id TEXT NOT NULL DEFAULT '',
		client_reference     TEXT NOT NULL DEFAULT '',
		amount_cents         BIGINT NOT NULL,
		currency             TEXT NOT NULL,
		state                TEXT NOT NULL,
		initiated_at         TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS recon_runs (
		id             TEXT PRIMARY KEY,
		from_ts        TIMESTAMP NOT NULL,
		to_ts          TIMESTAMP NOT NULL,
		status         TEXT NOT NULL,
		findings_count INTEGER NOT NULL DEFAULT 0,
		created_at     TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS recon_findings (
		id                 TEXT PRIMARY KEY,
		run_id             TEXT NOT NULL REFERENCES recon_runs (id),
		kind               TEXT NOT NULL,
		account_id         TEXT NOT NULL DEFAULT '',
		journal_id         TEXT NOT NULL DEFAULT '',
		computed_cents     BIGINT NOT NULL DEFAULT 0,
		materialized_cents BIGINT NOT NULL DEFAULT 0,
		discrepancy_cents  BIGINT NOT NULL DEFAULT 0,
		severity           TEXT NOT NULL,
		detail             TEXT NOT NULL DEFAULT '',
		created_at         TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS recon_cases (
		id           TEXT PRIMARY KEY,
		case_type    TEXT NOT NULL,
		status       TEXT NOT NULL,
		match_method TEXT NOT NULL DEFAULT '',
		finding_id   TEXT NOT NULL DEFAULT '',
		subject      TEXT NOT NULL DEFAULT '',
		detail       TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMP NOT NULL,
		updated_at   TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cases_subject ON recon_cases (case_type, subject, status)`,
	`CREATE TABLE IF NOT EXISTS approval_policies (
		id         TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		document   BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS approval_delegations (
		id         TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		document   BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS endpoint_bindings (
		id         TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		document   BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS approval_requests (
		id         TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		document   BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_approval_requests_state ON approval_requests (state)`,
	`CREATE TABLE IF NOT EXISTS fraud_rule_versions (
		id         TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		document   BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fraud_cases (
		id         TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		document   BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}
