package recon

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/posting"
	"github.com/fnyamweya/caricash-nova-sub003/internal/events"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb/sqlstore"
)

func openDB(t *testing.T) relationaldb.Database {
	t.Helper()
	cfg := relationaldb.DefaultConfig()
	cfg.DSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := sqlstore.NewDatabase(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Open(context.Background()))
	t.Cleanup(func() { db.Close(context.Background()) })
	return db
}

func newPoster(t *testing.T, db relationaldb.Database) *posting.Engine {
	t.Helper()
	sink := events.NewSink(db.Repositories().Events, nil)
	engine, err := posting.NewEngine(db, sink, posting.NewMetrics(prometheus.NewRegistry()), posting.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func post(t *testing.T, engine *posting.Engine, key, idem string, entries []ledger.Entry) *posting.Result {
	t.Helper()
	res, err := engine.Post(context.Background(), key, &posting.Command{
		IdempotencyKey: idem,
		CorrelationID:  ledger.NewID(),
		TxnType:        "DEPOSIT",
		Currency:       amount.BBD,
		ActorType:      "CUSTOMER",
		ActorID:        "alice",
		Entries:        entries,
	})
	require.NoError(t, err)
	return res
}

func depositEntries(owner string, cents int64) []ledger.Entry {
	return []ledger.Entry{
		{OwnerType: ledger.OwnerTreasury, OwnerID: "main", AccountType: ledger.AccountBankPool, EntryType: ledger.Debit, Amount: amount.FromCents(cents)},
		{OwnerType: ledger.OwnerCustomer, OwnerID: owner, AccountType: ledger.AccountWallet, EntryType: ledger.Credit, Amount: amount.FromCents(cents)},
	}
}

func window() (time.Time, time.Time) {
	return time.Now().Add(-time.Hour), time.Now().Add(time.Hour)
}

func TestSeverityBuckets(t *testing.T) {
	assert.Equal(t, SeverityLow, severityFor(amount.FromCents(99)))
	assert.Equal(t, SeverityMedium, severityFor(amount.FromCents(100)))
	assert.Equal(t, SeverityHigh, severityFor(amount.FromCents(10_000)))
	assert.Equal(t, SeverityCritical, severityFor(amount.FromCents(-100_000)))
}

func TestRunCleanLedgerHasNoFindings(t *testing.T) {
	db := openDB(t)
	engine := newPoster(t, db)
	key := ledger.WalletKey(ledger.OwnerCustomer, "alice", amount.BBD)
	post(t, engine, key, "d1", depositEntries("alice", 10_00))

	recon := NewEngine(db, nil, DefaultConfig())
	from, to := window()
	run, findings, err := recon.Run(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", run.Status)
	assert.Empty(t, findings)
}

func TestRunDetectsBalanceMismatch(t *testing.T) {
	db := openDB(t)
	engine := newPoster(t, db)
	ctx := context.Background()
	key := ledger.WalletKey(ledger.OwnerCustomer, "alice", amount.BBD)
	post(t, engine, key, "d1", depositEntries("alice", 10_00))

	wallet, err := db.Repositories().Accounts.GetOrCreate(ctx, db.Handle(), ledger.AccountKey{
		OwnerType: ledger.OwnerCustomer, OwnerID: "alice", AccountType: ledger.AccountWallet, Currency: amount.BBD,
	})
	require.NoError(t, err)

	// Corrupt the materialized view out of band.
	bal, err := db.Repositories().Balances.Get(ctx, db.Handle(), wallet.ID)
	require.NoError(t, err)
	bal.ActualBalance = amount.FromCents(999_99)
	require.NoError(t, db.Repositories().Balances.Upsert(ctx, db.Handle(), bal))

	recon := NewEngine(db, nil, DefaultConfig())
	from, to := window()
	run, findings, err := recon.Run(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, FindingBalanceMismatch, findings[0].Kind)
	assert.Equal(t, wallet.ID, findings[0].AccountID)
	assert.Equal(t, amount.FromCents(10_00), findings[0].Computed)
	assert.Equal(t, amount.FromCents(999_99), findings[0].Materialized)
	assert.Equal(t, SeverityHigh, findings[0].Severity)
	assert.Equal(t, 1, run.FindingsCount)

	// Repeated runs refresh the open case instead of duplicating it.
	_, _, err = recon.Run(ctx, from, to)
	require.NoError(t, err)
	c, err := db.Repositories().Recon.OpenCaseFor(ctx, db.Handle(), FindingBalanceMismatch, wallet.ID)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "OPEN", c.Status)
}

func TestRunDetectsSuspenseBeyondThreshold(t *testing.T) {
	db := openDB(t)
	engine := newPoster(t, db)
	ctx := context.Background()

	post(t, engine, ledger.OpsKey("suspense", amount.BBD), "s1", []ledger.Entry{
		{OwnerType: ledger.OwnerTreasury, OwnerID: "main", AccountType: ledger.AccountSuspense, EntryType: ledger.Debit, Amount: amount.FromCents(50_00)},
		{OwnerType: ledger.OwnerSystem, OwnerID: "main", AccountType: ledger.AccountSuspense, EntryType: ledger.Credit, Amount: amount.FromCents(50_00)},
	})

	recon := NewEngine(db, nil, Config{SuspenseThreshold: amount.FromCents(10_00)})
	from, to := window()
	_, findings, err := recon.Run(ctx, from, to)
	require.NoError(t, err)

	suspense := 0
	for _, f := range findings {
		if f.Kind == FindingSuspenseNonzero {
			suspense++
			assert.Equal(t, SeverityCritical, f.Severity)
		}
	}
	assert.Equal(t, 2, suspense)

	// A generous threshold silences the sweep.
	quiet := NewEngine(db, nil, Config{SuspenseThreshold: amount.FromCents(100_00)})
	_, findings, err = quiet.Run(ctx, from, to)
	require.NoError(t, err)
	for _, f := range findings {
		assert.NotEqual(t, FindingSuspenseNonzero, f.Kind)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	db := openDB(t)
	engine := newPoster(t, db)
	ctx := context.Background()
	key := ledger.WalletKey(ledger.OwnerCustomer, "alice", amount.BBD)
	first := post(t, engine, key, "d1", depositEntries("alice", 10_00))
	second := post(t, engine, key, "d2", depositEntries("alice", 5_00))

	from, to := window()
	report, err := VerifyChain(ctx, db, from, to)
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Equal(t, 2, report.Checked)

	// Tamper with a line amount out of band: content mismatch.
	_, err = db.Handle().ExecContext(ctx,
		"UPDATE ledger_lines SET amount_cents = 99999 WHERE journal_id = ? AND entry_type = 'CR'", first.JournalID)
	require.NoError(t, err)

	report, err = VerifyChain(ctx, db, from, to)
	require.NoError(t, err)
	assert.False(t, report.OK)
	require.NotEmpty(t, report.Failures)
	assert.Equal(t, ChainContentMismatch, report.Failures[0].Kind)
	assert.Equal(t, first.JournalID, report.Failures[0].JournalID)

	// Break linkage on the second journal.
	_, err = db.Handle().ExecContext(ctx,
		"UPDATE ledger_journals SET prev_hash = 'bogus' WHERE id = ?", second.JournalID)
	require.NoError(t, err)

	report, err = VerifyChain(ctx, db, from, to)
	require.NoError(t, err)
	kinds := map[string]bool{}
	for _, f := range report.Failures {
		kinds[f.Kind] = true
	}
	assert.True(t, kinds[ChainPrevHashMismatch])

	// The run surfaces integrity findings as CRITICAL.
	recon := NewEngine(db, nil, DefaultConfig())
	_, findings, err := recon.Run(ctx, from, to)
	require.NoError(t, err)
	integrity := 0
	for _, f := range findings {
		if f.Kind == FindingIntegrity {
			integrity++
			assert.Equal(t, SeverityCritical, f.Severity)
		}
	}
	assert.NotZero(t, integrity)
}
