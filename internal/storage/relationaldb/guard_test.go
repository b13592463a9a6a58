package relationaldb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardRefusesUnsanctionedLedgerWrites(t *testing.T) {
	assert.Error(t, CheckLedgerWrite(`UPDATE ledger_journals SET description = 'x'`))
	assert.Error(t, CheckLedgerWrite(`DELETE FROM ledger_lines WHERE id = ?`))
	assert.Error(t, CheckLedgerWrite(`INSERT INTO ledger_lines (id) VALUES (?)`))
}

func TestGuardAllowsRegisteredStatement(t *testing.T) {
	stmt := `INSERT INTO ledger_journals (id) VALUES (?)`
	RegisterLedgerStatement(stmt)
	assert.NoError(t, CheckLedgerWrite(stmt))
	// Whitespace and case differences normalize to the same statement.
	assert.NoError(t, CheckLedgerWrite("insert into  ledger_journals (id)\n values (?)"))
}

func TestGuardIgnoresOtherTables(t *testing.T) {
	assert.NoError(t, CheckLedgerWrite(`UPDATE account_balances SET actual_cents = 1`))
	assert.NoError(t, CheckLedgerWrite(`DELETE FROM idempotency_records WHERE expires_at < ?`))
	assert.NoError(t, CheckLedgerWrite(`SELECT * FROM ledger_journals`))
	assert.NoError(t, CheckLedgerWrite(`CREATE TABLE IF NOT EXISTS ledger_journals (id TEXT)`))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Driver = "oracle"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidDriver)

	cfg = DefaultConfig()
	cfg.DSN = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingDSN)
}

func TestBuildConnectionStringPostgres(t *testing.T) {
	cfg := &Config{
		Driver: DriverPostgres, Host: "db", Database: "caricash",
		Username: "svc", MaxOpenConns: 4, MaxIdleConns: 2,
		DefaultTimeout: DefaultConfig().DefaultTimeout,
	}
	dsn, err := cfg.BuildConnectionString()
	assert.NoError(t, err)
	assert.Contains(t, dsn, "host=db")
	assert.Contains(t, dsn, "dbname=caricash")
	assert.Contains(t, dsn, "sslmode=disable")
}
