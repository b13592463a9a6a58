package posting

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/events"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/idempotency"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb/sqlstore"
)

func newEngine(t *testing.T) (*Engine, relationaldb.Database) {
	t.Helper()
	cfg := relationaldb.DefaultConfig()
	cfg.DSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := sqlstore.NewDatabase(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Open(context.Background()))
	t.Cleanup(func() { db.Close(context.Background()) })

	sink := events.NewSink(db.Repositories().Events, nil)
	engine, err := NewEngine(db, sink, NewMetrics(prometheus.NewRegistry()), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine, db
}

func depositCmd(key, owner string, gross int64) *Command {
	return &Command{
		IdempotencyKey: key,
		CorrelationID:  ledger.NewID(),
		TxnType:        "DEPOSIT",
		Currency:       amount.BBD,
		ActorType:      "CUSTOMER",
		ActorID:        owner,
		Entries: []ledger.Entry{
			{OwnerType: ledger.OwnerTreasury, OwnerID: "main", AccountType: ledger.AccountBankPool, EntryType: ledger.Debit, Amount: amount.FromCents(gross)},
			{OwnerType: ledger.OwnerCustomer, OwnerID: owner, AccountType: ledger.AccountWallet, EntryType: ledger.Credit, Amount: amount.FromCents(gross)},
		},
	}
}

func withdrawCmd(key, owner string, amt int64) *Command {
	return &Command{
		IdempotencyKey: key,
		CorrelationID:  ledger.NewID(),
		TxnType:        "WITHDRAWAL",
		Currency:       amount.BBD,
		ActorType:      "CUSTOMER",
		ActorID:        owner,
		Entries: []ledger.Entry{
			{OwnerType: ledger.OwnerCustomer, OwnerID: owner, AccountType: ledger.AccountWallet, EntryType: ledger.Debit, Amount: amount.FromCents(amt)},
			{OwnerType: ledger.OwnerTreasury, OwnerID: "main", AccountType: ledger.AccountBankPool, EntryType: ledger.Credit, Amount: amount.FromCents(amt)},
		},
	}
}

func TestPostDepositCreatesAccountsAndBalances(t *testing.T) {
	engine, db := newEngine(t)
	ctx := context.Background()
	key := ledger.WalletKey(ledger.OwnerCustomer, "alice", amount.BBD)

	cmd := depositCmd("dep-1", "alice", 10_00)
	res, err := engine.Post(ctx, key, cmd)
	require.NoError(t, err)
	assert.NotEmpty(t, res.JournalID)
	assert.NotEmpty(t, res.JournalHash)
	assert.False(t, res.Replayed)
	require.Len(t, res.Balances, 2)

	wallet, err := db.Repositories().Accounts.GetOrCreate(ctx, db.Handle(), ledger.AccountKey{
		OwnerType: ledger.OwnerCustomer, OwnerID: "alice", AccountType: ledger.AccountWallet, Currency: amount.BBD,
	})
	require.NoError(t, err)
	bal, err := db.Repositories().Balances.Get(ctx, db.Handle(), wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, amount.FromCents(10_00), bal.ActualBalance)

	// Materialized view agrees with the folded ledger.
	computed, err := db.Repositories().Balances.ComputedBalance(ctx, db.Handle(), wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, bal.ActualBalance, computed)

	evs, err := db.Repositories().Events.EventsByCorrelation(ctx, db.Handle(), cmd.CorrelationID)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventTransactionPosted, evs[0].Name)
	assert.Equal(t, res.JournalID, evs[0].EntityID)
}

func TestPostReplayReturnsStoredResult(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	key := ledger.WalletKey(ledger.OwnerCustomer, "bob", amount.BBD)

	first, err := engine.Post(ctx, key, depositCmd("dep-r", "bob", 5_00))
	require.NoError(t, err)
	second, err := engine.Post(ctx, key, depositCmd("dep-r", "bob", 5_00))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.JournalID, second.JournalID)
	assert.Equal(t, first.JournalHash, second.JournalHash)
}

func TestPostDuplicateKeyDifferentPayloadConflicts(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	key := ledger.WalletKey(ledger.OwnerCustomer, "carol", amount.BBD)

	_, err := engine.Post(ctx, key, depositCmd("dep-c", "carol", 5_00))
	require.NoError(t, err)
	_, err = engine.Post(ctx, key, depositCmd("dep-c", "carol", 7_00))
	assert.ErrorIs(t, err, idempotency.ErrConflict)
}

func TestPostInsufficientFunds(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()
	key := ledger.WalletKey(ledger.OwnerCustomer, "dave", amount.BBD)

	_, err := engine.Post(ctx, key, depositCmd("dep-d", "dave", 3_00))
	require.NoError(t, err)

	_, err = engine.Post(ctx, key, withdrawCmd("wd-d", "dave", 5_00))
	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, amount.FromCents(3_00), insufficient.Available)
	assert.Equal(t, amount.FromCents(5_00), insufficient.Requested)

	// The failed attempt left no idempotency residue; a retry with funds works.
	_, err = engine.Post(ctx, key, depositCmd("dep-d2", "dave", 10_00))
	require.NoError(t, err)
	_, err = engine.Post(ctx, key, withdrawCmd("wd-d", "dave", 5_00))
	require.NoError(t, err)
}

func TestPostOverdraftExtendsFloor(t *testing.T) {
	engine, db := newEngine(t)
	ctx := context.Background()
	key := ledger.WalletKey(ledger.OwnerCustomer, "erin", amount.BBD)

	_, err := engine.Post(ctx, key, depositCmd("dep-e", "erin", 2_00))
	require.NoError(t, err)

	wallet, err := db.Repositories().Accounts.GetOrCreate(ctx, db.Handle(), ledger.AccountKey{
		OwnerType: ledger.OwnerCustomer, OwnerID: "erin", AccountType: ledger.AccountWallet, Currency: amount.BBD,
	})
	require.NoError(t, err)
	require.NoError(t, db.Repositories().Overdrafts.Create(ctx, db.Handle(), &ledger.OverdraftFacility{
		ID: ledger.NewID(), AccountID: wallet.ID, LimitAmount: amount.FromCents(5_00),
		State: ledger.OverdraftActive, RequesterID: "erin",
	}))

	_, err = engine.Post(ctx, key, withdrawCmd("wd-e", "erin", 6_00))
	require.NoError(t, err)

	bal, err := db.Repositories().Balances.Get(ctx, db.Handle(), wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, amount.FromCents(-4_00), bal.ActualBalance)

	// The floor still holds.
	_, err = engine.Post(ctx, key, withdrawCmd("wd-e2", "erin", 2_00))
	var insufficient *InsufficientFundsError
	assert.ErrorAs(t, err, &insufficient)
}

func TestPostUnbalancedRejectedBeforeQueue(t *testing.T) {
	engine, _ := newEngine(t)
	cmd := depositCmd("dep-u", "frank", 5_00)
	cmd.Entries[1].Amount = amount.FromCents(4_00)
	_, err := engine.Post(context.Background(), "singleton", cmd)
	assert.ErrorIs(t, err, ledger.ErrUnbalanced)
}

func TestPostSerializesPerKeyAndChainsHashes(t *testing.T) {
	engine, db := newEngine(t)
	ctx := context.Background()
	key := ledger.WalletKey(ledger.OwnerCustomer, "grace", amount.BBD)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Post(ctx, key, depositCmd(fmt.Sprintf("dep-g-%d", i), "grace", 1_00))
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "post %d", i)
	}

	wallet, err := db.Repositories().Accounts.GetOrCreate(ctx, db.Handle(), ledger.AccountKey{
		OwnerType: ledger.OwnerCustomer, OwnerID: "grace", AccountType: ledger.AccountWallet, Currency: amount.BBD,
	})
	require.NoError(t, err)
	bal, err := db.Repositories().Balances.Get(ctx, db.Handle(), wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, amount.FromCents(int64(n)*1_00), bal.ActualBalance)

	// Every journal links to its predecessor's hash, genesis excepted.
	all, err := db.Repositories().Journals.InWindow(ctx, db.Handle(), time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	var chain []*ledger.Journal
	for _, j := range all {
		if j.DomainKey == key {
			chain = append(chain, j)
		}
	}
	require.Len(t, chain, n)
	assert.Empty(t, chain[0].PrevHash)
	for i := 1; i < len(chain); i++ {
		assert.Equal(t, chain[i-1].JournalHash, chain[i].PrevHash)
	}
}

func TestConcurrentWithdrawalsExactlyOneFails(t *testing.T) {
	engine, db := newEngine(t)
	ctx := context.Background()
	key := ledger.WalletKey(ledger.OwnerCustomer, "hana", amount.BBD)

	_, err := engine.Post(ctx, key, depositCmd("dep-h", "hana", 100_00))
	require.NoError(t, err)

	// Two 80.00 withdrawals race on the same key; serialization admits one
	// and rejects the other against the post-withdrawal balance.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Post(ctx, key, withdrawCmd(fmt.Sprintf("wd-h-%d", i), "hana", 80_00))
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err == nil {
			continue
		}
		var insufficient *InsufficientFundsError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, amount.FromCents(20_00), insufficient.Available)
		assert.Equal(t, amount.FromCents(80_00), insufficient.Requested)
		failures++
	}
	assert.Equal(t, 1, failures)

	wallet, err := db.Repositories().Accounts.GetOrCreate(ctx, db.Handle(), ledger.AccountKey{
		OwnerType: ledger.OwnerCustomer, OwnerID: "hana", AccountType: ledger.AccountWallet, Currency: amount.BBD,
	})
	require.NoError(t, err)
	bal, err := db.Repositories().Balances.Get(ctx, db.Handle(), wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, amount.FromCents(20_00), bal.ActualBalance)

	computed, err := db.Repositories().Balances.ComputedBalance(ctx, db.Handle(), wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, amount.FromCents(20_00), computed)
}

func TestEngineCloseRejectsNewWork(t *testing.T) {
	engine, _ := newEngine(t)
	engine.Close()
	_, err := engine.Post(context.Background(), "singleton", depositCmd("dep-x", "x", 1_00))
	assert.ErrorIs(t, err, ErrEngineClosed)
}
