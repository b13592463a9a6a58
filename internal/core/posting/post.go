package posting

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/canonjson"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/events"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/idempotency"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// execute runs the posting sequence inside one transaction. Any failure
// rolls the whole unit back, in-flight idempotency marker included.
func (e *Engine) execute(ctx context.Context, domainKey string, cmd *Command) (*Result, error) {
	scopeHash := canonjson.ScopeHash(cmd.ActorType, cmd.ActorID, cmd.TxnType, cmd.IdempotencyKey)
	payloadHash, err := canonjson.PayloadHash(cmd.hashable())
	if err != nil {
		return nil, err
	}

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	look, err := e.idem.Lookup(ctx, tx, scopeHash, cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	switch look.Status {
	case idempotency.StatusCommitted:
		if err := idempotency.ConflictCheck(look.PayloadHash, payloadHash); err != nil {
			return nil, err
		}
		var result Result
		if err := json.Unmarshal(look.Result, &result); err != nil {
			return nil, err
		}
		result.Replayed = true
		return &result, nil
	case idempotency.StatusInProgress:
		return nil, idempotency.ErrInProgress
	}

	if err := e.idem.PutInProgress(ctx, tx, scopeHash, cmd.IdempotencyKey, payloadHash, cmd.category()); err != nil {
		return nil, err
	}

	lines, accounts, fresh, err := e.resolveLines(ctx, tx, cmd)
	if err != nil {
		return nil, err
	}

	balances, err := e.applyBalances(ctx, tx, cmd, lines, accounts)
	if err != nil {
		return nil, err
	}

	prevHash := ""
	last, err := e.repos.Journals.LastForDomainKey(ctx, tx, domainKey)
	if err != nil {
		return nil, err
	}
	if last != nil {
		prevHash = last.JournalHash
	}

	now := time.Now().UTC()
	journal := &ledger.Journal{
		ID:             ledger.NewID(),
		TxnType:        cmd.TxnType,
		Currency:       cmd.Currency,
		DomainKey:      domainKey,
		CorrelationID:  cmd.CorrelationID,
		IdempotencyKey: cmd.IdempotencyKey,
		ScopeHash:      scopeHash,
		PayloadHash:    payloadHash,
		State:          ledger.JournalPosted,
		PrevHash:       prevHash,
		Description:    cmd.Description,
		CreatedAt:      now,
	}
	for i := range lines {
		lines[i].ID = ledger.NewID()
		lines[i].JournalID = journal.ID
	}
	journal.JournalHash, err = ledger.ComputeJournalHash(prevHash, journal, lines)
	if err != nil {
		return nil, err
	}
	if err := e.repos.Journals.Append(ctx, tx, journal, lines); err != nil {
		return nil, err
	}

	for _, b := range balances {
		b.LastJournalID = journal.ID
		b.UpdatedAt = now
		if err := e.repos.Balances.Upsert(ctx, tx, b); err != nil {
			return nil, err
		}
	}

	result := &Result{JournalID: journal.ID, JournalHash: journal.JournalHash, CreatedAt: now}
	for _, b := range balances {
		result.Balances = append(result.Balances, AccountBalance{AccountID: b.AccountID, Balance: b.ActualBalance})
	}
	sort.Slice(result.Balances, func(i, j int) bool {
		return result.Balances[i].AccountID < result.Balances[j].AccountID
	})
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if err := e.idem.PutCommitted(ctx, tx, scopeHash, cmd.IdempotencyKey, payloadHash, resultJSON, cmd.category()); err != nil {
		return nil, err
	}

	var eventRec *relationaldb.EventRecord
	if e.sink != nil {
		eventRec, err = e.sink.Event(ctx, tx, events.Emit{
			Name:          events.EventTransactionPosted,
			EntityType:    "journal",
			EntityID:      journal.ID,
			CorrelationID: cmd.CorrelationID,
			ActorType:     cmd.ActorType,
			ActorID:       cmd.ActorID,
			Payload:       resultJSON,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	for _, acct := range fresh {
		e.cacheAccount(acct)
	}
	if e.sink != nil && eventRec != nil {
		if err := e.sink.Spool(eventRec); err != nil {
			// The journal is final; delivery catches up out of band.
			log.Printf("[posting] spool %s: %v", eventRec.ID, err)
		}
	}
	return result, nil
}

// resolveLines turns command entries into journal lines, resolving or lazily
// creating accounts and enforcing the single-currency rule. fresh holds
// accounts read inside the transaction, cacheable only after commit.
func (e *Engine) resolveLines(ctx context.Context, q relationaldb.Querier, cmd *Command) ([]ledger.Line, map[string]*ledger.Account, []*ledger.Account, error) {
	lines := make([]ledger.Line, 0, len(cmd.Entries))
	accounts := make(map[string]*ledger.Account, len(cmd.Entries))
	currencies := make(map[string]amount.Currency, len(cmd.Entries))
	var fresh []*ledger.Account

	for _, entry := range cmd.Entries {
		acct, cached := e.cachedAccount(entry, cmd.Currency)
		if acct == nil {
			var err error
			if entry.AccountID != "" {
				acct, err = e.repos.Accounts.GetByID(ctx, q, entry.AccountID)
			} else {
				acct, err = e.repos.Accounts.GetOrCreate(ctx, q, ledger.AccountKey{
					OwnerType:   entry.OwnerType,
					OwnerID:     entry.OwnerID,
					AccountType: entry.AccountType,
					Currency:    cmd.Currency,
				})
			}
			if err != nil {
				return nil, nil, nil, err
			}
		}
		if !cached {
			fresh = append(fresh, acct)
		}
		accounts[acct.ID] = acct
		currencies[acct.ID] = acct.Currency
		lines = append(lines, ledger.Line{
			AccountID:   acct.ID,
			EntryType:   entry.EntryType,
			Amount:      entry.Amount,
			Description: entry.Description,
		})
	}
	if err := ledger.ValidateLines(lines, currencies, cmd.Currency); err != nil {
		return nil, nil, nil, err
	}
	return lines, accounts, fresh, nil
}

// applyBalances nets the lines per account, enforces the overdraft floor on
// wallet debits, and returns the updated materialized rows.
func (e *Engine) applyBalances(ctx context.Context, q relationaldb.Querier, cmd *Command, lines []ledger.Line, accounts map[string]*ledger.Account) ([]*ledger.Balance, error) {
	deltas := make(map[string]amount.Amount, len(accounts))
	for _, line := range lines {
		if line.EntryType == ledger.Credit {
			deltas[line.AccountID] += line.Amount
		} else {
			deltas[line.AccountID] -= line.Amount
		}
	}

	out := make([]*ledger.Balance, 0, len(deltas))
	for accountID, delta := range deltas {
		bal, err := e.repos.Balances.Get(ctx, q, accountID)
		if errors.Is(err, relationaldb.ErrBalanceNotFound) {
			bal = &ledger.Balance{AccountID: accountID, Currency: cmd.Currency}
		} else if err != nil {
			return nil, err
		}

		if delta < 0 && accounts[accountID].AccountType == ledger.AccountWallet {
			limit, err := e.repos.Overdrafts.ActiveLimit(ctx, q, accountID)
			if err != nil {
				return nil, err
			}
			if bal.Available()+delta < -limit {
				return nil, &InsufficientFundsError{
					AccountID:      accountID,
					Available:      bal.Available(),
					OverdraftLimit: limit,
					Requested:      -delta,
				}
			}
		}
		bal.ActualBalance += delta
		out = append(out, bal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func accountCacheKey(k ledger.AccountKey) string {
	return "key:" + string(k.OwnerType) + "|" + k.OwnerID + "|" + string(k.AccountType) + "|" + string(k.Currency)
}

func (e *Engine) cachedAccount(entry ledger.Entry, cur amount.Currency) (*ledger.Account, bool) {
	if entry.AccountID != "" {
		if acct, ok := e.accounts.Get("id:" + entry.AccountID); ok {
			return acct, true
		}
		return nil, false
	}
	key := ledger.AccountKey{OwnerType: entry.OwnerType, OwnerID: entry.OwnerID, AccountType: entry.AccountType, Currency: cur}
	if acct, ok := e.accounts.Get(accountCacheKey(key)); ok {
		return acct, true
	}
	return nil, false
}

func (e *Engine) cacheAccount(acct *ledger.Account) {
	e.accounts.Add("id:"+acct.ID, acct)
	e.accounts.Add(accountCacheKey(acct.AccountKey), acct)
}
