package rest

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
)

// walletAccount resolves the wallet account addressed by the path. Accounts
// are created lazily on first reference, reads included.
func (s *Server) walletAccount(r *http.Request) (*ledger.Account, amount.Currency, error) {
	vars := mux.Vars(r)
	cur, err := amount.ParseCurrency(vars["currency"])
	if err != nil {
		return nil, "", err
	}
	acct, err := s.deps.DB.Repositories().Accounts.GetOrCreate(r.Context(), s.deps.DB.Handle(), ledger.AccountKey{
		OwnerType:   ledger.OwnerType(vars["owner_type"]),
		OwnerID:     vars["owner_id"],
		AccountType: ledger.AccountWallet,
		Currency:    cur,
	})
	if err != nil {
		return nil, "", err
	}
	return acct, cur, nil
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	acct, cur, err := s.walletAccount(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	bal, err := s.deps.DB.Repositories().Balances.Get(r.Context(), s.deps.DB.Handle(), acct.ID)
	if err != nil {
		// A wallet with no postings reads as zero.
		bal = &ledger.Balance{AccountID: acct.ID, Currency: cur}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":        acct.ID,
		"currency":          cur,
		"actual_balance":    bal.ActualBalance,
		"available_balance": bal.Available(),
		"hold_amount":       bal.HoldAmount,
		"pending_credits":   bal.PendingCredits,
		"last_journal_id":   bal.LastJournalID,
		"updated_at":        bal.UpdatedAt,
	})
}

func (s *Server) handleStatement(w http.ResponseWriter, r *http.Request) {
	acct, cur, err := s.walletAccount(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit > 500 {
		limit = 500
	}
	offset := queryInt(r, "offset", 0)
	lines, err := s.deps.DB.Repositories().Journals.Statement(r.Context(), s.deps.DB.Handle(), acct.ID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": acct.ID,
		"currency":   cur,
		"limit":      limit,
		"offset":     offset,
		"lines":      lines,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
