package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	cfg := relationaldb.DefaultConfig()
	cfg.DSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := NewDatabase(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Open(context.Background()))
	t.Cleanup(func() { db.Close(context.Background()) })
	return db
}

func TestAccountGetOrCreateIsLazyAndStable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repos := db.Repositories()

	key := ledger.AccountKey{
		OwnerType: ledger.OwnerCustomer, OwnerID: "c-1",
		AccountType: ledger.AccountWallet, Currency: amount.BBD,
	}
	a1, err := repos.Accounts.GetOrCreate(ctx, db.Handle(), key)
	require.NoError(t, err)
	a2, err := repos.Accounts.GetOrCreate(ctx, db.Handle(), key)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a2.ID)

	got, err := repos.Accounts.GetByID(ctx, db.Handle(), a1.ID)
	require.NoError(t, err)
	assert.Equal(t, key, got.AccountKey)
}

func postJournal(t *testing.T, db *Database, domainKey, prevHash string, drAcc, crAcc string, amt amount.Amount) *ledger.Journal {
	t.Helper()
	ctx := context.Background()
	j := &ledger.Journal{
		ID: ledger.NewID(), TxnType: "TEST", Currency: amount.BBD,
		DomainKey: domainKey, CorrelationID: ledger.NewID(), IdempotencyKey: ledger.NewID(),
		ScopeHash: ledger.NewID(), PayloadHash: "ph", State: ledger.JournalPosted,
		PrevHash: prevHash, CreatedAt: time.Now().UTC(),
	}
	lines := []ledger.Line{
		{ID: ledger.NewID(), JournalID: j.ID, AccountID: drAcc, EntryType: ledger.Debit, Amount: amt},
		{ID: ledger.NewID(), JournalID: j.ID, AccountID: crAcc, EntryType: ledger.Credit, Amount: amt},
	}
	var err error
	j.JournalHash, err = ledger.ComputeJournalHash(prevHash, j, lines)
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Repositories().Journals.Append(ctx, tx, j, lines))
	require.NoError(t, tx.Commit())
	return j
}

func mkAccount(t *testing.T, db *Database, ownerID string, at ledger.AccountType) string {
	t.Helper()
	acc, err := db.Repositories().Accounts.GetOrCreate(context.Background(), db.Handle(), ledger.AccountKey{
		OwnerType: ledger.OwnerCustomer, OwnerID: ownerID, AccountType: at, Currency: amount.BBD,
	})
	require.NoError(t, err)
	return acc.ID
}

func TestJournalAppendAndChainHead(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repos := db.Repositories()

	a := mkAccount(t, db, "a", ledger.AccountWallet)
	b := mkAccount(t, db, "b", ledger.AccountWallet)

	key := ledger.WalletKey(ledger.OwnerCustomer, "a", amount.BBD)
	head, err := repos.Journals.LastForDomainKey(ctx, db.Handle(), key)
	require.NoError(t, err)
	assert.Nil(t, head, "genesis key has no head")

	j1 := postJournal(t, db, key, "", a, b, amount.MustParse("10.00"))
	j2 := postJournal(t, db, key, j1.JournalHash, a, b, amount.MustParse("5.00"))

	head, err = repos.Journals.LastForDomainKey(ctx, db.Handle(), key)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, j2.ID, head.ID)
	assert.Equal(t, j1.JournalHash, head.PrevHash)

	lines, err := repos.Journals.Lines(ctx, db.Handle(), j1.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, ledger.Debit, lines[0].EntryType)

	computed, err := repos.Balances.ComputedBalance(ctx, db.Handle(), b)
	require.NoError(t, err)
	assert.Equal(t, amount.MustParse("15.00"), computed)

	computed, err = repos.Balances.ComputedBalance(ctx, db.Handle(), a)
	require.NoError(t, err)
	assert.Equal(t, amount.MustParse("-15.00"), computed)
}

func TestJournalStateFollowsLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repos := db.Repositories()

	a := mkAccount(t, db, "a", ledger.AccountWallet)
	b := mkAccount(t, db, "b", ledger.AccountWallet)
	j := postJournal(t, db, "singleton", "", a, b, amount.MustParse("1.00"))

	// POSTED -> REVERSED skips VOID_REQUESTED and must be refused.
	err := repos.Journals.UpdateState(ctx, db.Handle(), j.ID, ledger.JournalPosted, ledger.JournalReversed)
	require.Error(t, err)

	require.NoError(t, repos.Journals.UpdateState(ctx, db.Handle(), j.ID, ledger.JournalPosted, ledger.JournalVoidRequested))
	require.NoError(t, repos.Journals.UpdateState(ctx, db.Handle(), j.ID, ledger.JournalVoidRequested, ledger.JournalReversed))

	// Lost update: the row already moved on.
	err = repos.Journals.UpdateState(ctx, db.Handle(), j.ID, ledger.JournalPosted, ledger.JournalVoidRequested)
	assert.ErrorIs(t, err, relationaldb.ErrStateConflict)
}

func TestIdempotencyLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := db.Repositories().Idempotency
	now := time.Now().UTC()

	rec := &relationaldb.IdempotencyRecord{
		ScopeHash: "scope", IdempotencyKey: "key", PayloadHash: "ph1",
		TTLCategory: "MONEY_TX", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, repo.InsertInProgress(ctx, db.Handle(), rec))

	// Second insert under the same identity is refused.
	err := repo.InsertInProgress(ctx, db.Handle(), rec)
	assert.ErrorIs(t, err, relationaldb.ErrDuplicateIdempotency)

	got, err := repo.Get(ctx, db.Handle(), "scope", "key")
	require.NoError(t, err)
	assert.Equal(t, relationaldb.IdempotencyInProgress, got.Status)

	require.NoError(t, repo.Commit(ctx, db.Handle(), "scope", "key", "ph1", []byte(`{"ok":true}`), now.Add(time.Hour)))
	got, err = repo.Get(ctx, db.Handle(), "scope", "key")
	require.NoError(t, err)
	assert.Equal(t, relationaldb.IdempotencyCommitted, got.Status)
	assert.JSONEq(t, `{"ok":true}`, string(got.ResultJSON))

	// Commit is IN_PROGRESS -> COMMITTED only.
	err = repo.Commit(ctx, db.Handle(), "scope", "key", "ph1", nil, now)
	assert.ErrorIs(t, err, relationaldb.ErrStateConflict)
}

func TestOverdraftActiveLimit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repos := db.Repositories()

	acc := mkAccount(t, db, "od", ledger.AccountWallet)
	limit, err := repos.Overdrafts.ActiveLimit(ctx, db.Handle(), acc)
	require.NoError(t, err)
	assert.True(t, limit.IsZero())

	f := &ledger.OverdraftFacility{
		ID: ledger.NewID(), AccountID: acc, LimitAmount: amount.MustParse("50.00"),
		State: ledger.OverdraftPending, RequesterID: "s-1", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repos.Overdrafts.Create(ctx, db.Handle(), f))
	require.NoError(t, repos.Overdrafts.UpdateState(ctx, db.Handle(), f.ID, ledger.OverdraftPending, ledger.OverdraftApproved, "s-2"))
	require.NoError(t, repos.Overdrafts.UpdateState(ctx, db.Handle(), f.ID, ledger.OverdraftApproved, ledger.OverdraftActive, ""))

	limit, err = repos.Overdrafts.ActiveLimit(ctx, db.Handle(), acc)
	require.NoError(t, err)
	assert.Equal(t, amount.MustParse("50.00"), limit)
}

func TestStatementEntryStateGuarded(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := db.Repositories().Statements

	e := &relationaldb.StatementEntry{
		ID: ledger.NewID(), Reference: "ref-1", Amount: amount.MustParse("100.00"),
		Currency: amount.BBD, BookedAt: time.Now().UTC(), State: "NEW", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.InsertEntry(ctx, db.Handle(), e))

	// NEW -> MATCHED is not in the table.
	require.Error(t, repo.UpdateEntryState(ctx, db.Handle(), e.ID, "NEW", "MATCHED", ""))
	require.NoError(t, repo.UpdateEntryState(ctx, db.Handle(), e.ID, "NEW", "CANDIDATE_MATCHED", "PROVIDER_ID"))
	require.NoError(t, repo.UpdateEntryState(ctx, db.Handle(), e.ID, "CANDIDATE_MATCHED", "MATCHED", "PROVIDER_ID"))
}

func TestGovernanceSaveIsUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := db.Repositories().Governance

	doc := &relationaldb.GovernanceDoc{
		ID: "pol-1", State: "DRAFT", Document: []byte(`{"v":1}`), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Save(ctx, db.Handle(), relationaldb.GovernancePolicy, doc))

	doc.State = "ACTIVE"
	doc.Document = []byte(`{"v":2}`)
	require.NoError(t, repo.Save(ctx, db.Handle(), relationaldb.GovernancePolicy, doc))

	docs, err := repo.Load(ctx, db.Handle(), relationaldb.GovernancePolicy)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "ACTIVE", docs[0].State)
	assert.Equal(t, []byte(`{"v":2}`), docs[0].Document)

	// Tables are independent per kind.
	other, err := repo.Load(ctx, db.Handle(), relationaldb.GovernanceFraudVersion)
	require.NoError(t, err)
	assert.Empty(t, other)

	err = repo.Save(ctx, db.Handle(), relationaldb.GovernanceKind("ledger_journals"), doc)
	require.Error(t, err)
}

func TestPostgresRebind(t *testing.T) {
	assert.Equal(t, "SELECT $1, $2", postgresRebind("SELECT ?, ?"))
	assert.Equal(t, "no params", postgresRebind("no params"))
}
