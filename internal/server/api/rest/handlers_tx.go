package rest

import (
	"encoding/json"
	"net/http"

	"github.com/fnyamweya/caricash-nova-sub003/internal/approval"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger/templates"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/posting"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/reversal"
)

// party identifies one wallet side of a transfer.
type party struct {
	OwnerType string `json:"owner_type"`
	OwnerID   string `json:"owner_id"`
}

type txRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Currency       string `json:"currency"`
	Amount         string `json:"amount"`
	Fee            string `json:"fee,omitempty"`
	Tax            string `json:"tax,omitempty"`
	OwnerType      string `json:"owner_type,omitempty"`
	OwnerID        string `json:"owner_id,omitempty"`
	From           party  `json:"from,omitempty"`
	To             party  `json:"to,omitempty"`
	Description    string `json:"description,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (t *txRequest) parse() (cur amount.Currency, amt, fee, tax amount.Amount, err error) {
	if cur, err = amount.ParseCurrency(t.Currency); err != nil {
		return
	}
	if amt, err = amount.Parse(t.Amount); err != nil {
		return
	}
	if t.Fee != "" {
		if fee, err = amount.Parse(t.Fee); err != nil {
			return
		}
	}
	if t.Tax != "" {
		if tax, err = amount.Parse(t.Tax); err != nil {
			return
		}
	}
	return
}

// intercept runs the endpoint-binding check for a route. When a binding
// fires, the operation is converted to an approval request and the caller
// gets a 202 instead of execution.
func (s *Server) intercept(w http.ResponseWriter, r *http.Request, routePattern string, actor Actor, payload map[string]any, reason string) bool {
	deferred, bound, err := s.deps.Interceptor.Intercept(r.Context(), routePattern, r.Method, approval.CreateInput{
		Payload:       payload,
		MakerType:     actor.Type,
		MakerID:       actor.ID,
		MakerRole:     actor.Role,
		Reason:        reason,
		CorrelationID: correlationID(r),
	})
	if err != nil {
		writeError(w, r, err)
		return true
	}
	if bound {
		writeJSON(w, http.StatusAccepted, deferred)
		return true
	}
	return false
}

func (s *Server) post(w http.ResponseWriter, r *http.Request, domainKey string, cmd *posting.Command) {
	cmd.CorrelationID = correlationID(r)
	res, err := s.deps.Engine.Post(r.Context(), domainKey, cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"journal_id":      res.JournalID,
		"journal_hash":    res.JournalHash,
		"created_at":      res.CreatedAt,
		"balances":        res.Balances,
		"correlation_id":  cmd.CorrelationID,
		"idempotency_key": cmd.IdempotencyKey,
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok || !s.admitted(w, r) {
		return
	}
	var in txRequest
	if err := decode(r, &in); err != nil {
		writeValidationError(w, r, "malformed request body")
		return
	}
	cur, amt, fee, tax, err := in.parse()
	if err != nil {
		writeValidationError(w, r, err.Error())
		return
	}
	ownerType := ledger.OwnerType(in.OwnerType)
	if ownerType == "" {
		ownerType = ledger.OwnerCustomer
	}
	if s.intercept(w, r, "/tx/deposit", actor, map[string]any{
		"owner_type": string(ownerType), "owner_id": in.OwnerID,
		"currency": in.Currency, "amount": in.Amount,
	}, in.Reason) {
		return
	}

	tpl, err := templates.DepositWithFee(ownerType, in.OwnerID, amt, fee, tax)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.post(w, r, ledger.WalletKey(ownerType, in.OwnerID, cur), &posting.Command{
		IdempotencyKey: in.IdempotencyKey,
		TxnType:        tpl.TxnType,
		Currency:       cur,
		Entries:        tpl.Entries,
		Description:    in.Description,
		ActorType:      actor.Type,
		ActorID:        actor.ID,
	})
}

func (s *Server) handleWithdrawal(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok || !s.admitted(w, r) {
		return
	}
	var in txRequest
	if err := decode(r, &in); err != nil {
		writeValidationError(w, r, "malformed request body")
		return
	}
	cur, amt, _, _, err := in.parse()
	if err != nil {
		writeValidationError(w, r, err.Error())
		return
	}
	ownerType := ledger.OwnerType(in.OwnerType)
	if ownerType == "" {
		ownerType = ledger.OwnerCustomer
	}
	if s.intercept(w, r, "/tx/withdrawal", actor, map[string]any{
		"owner_type": string(ownerType), "owner_id": in.OwnerID,
		"currency": in.Currency, "amount": in.Amount,
	}, in.Reason) {
		return
	}

	s.post(w, r, ledger.WalletKey(ownerType, in.OwnerID, cur), &posting.Command{
		IdempotencyKey: in.IdempotencyKey,
		TxnType:        "WITHDRAWAL",
		Currency:       cur,
		Entries: []ledger.Entry{
			{OwnerType: ownerType, OwnerID: in.OwnerID, AccountType: ledger.AccountWallet, EntryType: ledger.Debit, Amount: amt},
			{OwnerType: ledger.OwnerTreasury, OwnerID: "main", AccountType: ledger.AccountBankPool, EntryType: ledger.Credit, Amount: amt},
		},
		Description: in.Description,
		ActorType:   actor.Type,
		ActorID:     actor.ID,
	})
}

// transferEntries routes a cross-wallet transfer through the system clearing
// account so both wallets subordinate to one domain key.
func transferEntries(from, to party, fromType, toType ledger.OwnerType, amt amount.Amount) []ledger.Entry {
	return []ledger.Entry{
		{OwnerType: fromType, OwnerID: from.OwnerID, AccountType: ledger.AccountWallet, EntryType: ledger.Debit, Amount: amt},
		{OwnerType: ledger.OwnerSystem, OwnerID: "main", AccountType: ledger.AccountClearing, EntryType: ledger.Credit, Amount: amt},
		{OwnerType: ledger.OwnerSystem, OwnerID: "main", AccountType: ledger.AccountClearing, EntryType: ledger.Debit, Amount: amt},
		{OwnerType: toType, OwnerID: to.OwnerID, AccountType: ledger.AccountWallet, EntryType: ledger.Credit, Amount: amt},
	}
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, route, txnType string, fromType, toType ledger.OwnerType) {
	actor, ok := requireActor(w, r)
	if !ok || !s.admitted(w, r) {
		return
	}
	var in txRequest
	if err := decode(r, &in); err != nil {
		writeValidationError(w, r, "malformed request body")
		return
	}
	cur, amt, _, _, err := in.parse()
	if err != nil {
		writeValidationError(w, r, err.Error())
		return
	}
	if in.From.OwnerType != "" {
		fromType = ledger.OwnerType(in.From.OwnerType)
	}
	if in.To.OwnerType != "" {
		toType = ledger.OwnerType(in.To.OwnerType)
	}
	if s.intercept(w, r, route, actor, map[string]any{
		"from": in.From, "to": in.To, "currency": in.Currency, "amount": in.Amount,
	}, in.Reason) {
		return
	}

	s.post(w, r, ledger.SingletonKey, &posting.Command{
		IdempotencyKey: in.IdempotencyKey,
		TxnType:        txnType,
		Currency:       cur,
		Entries:        transferEntries(in.From, in.To, fromType, toType, amt),
		Description:    in.Description,
		ActorType:      actor.Type,
		ActorID:        actor.ID,
	})
}

func (s *Server) handleP2P(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, "/tx/p2p", "P2P_TRANSFER", ledger.OwnerCustomer, ledger.OwnerCustomer)
}

func (s *Server) handleB2B(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, "/tx/b2b", "B2B_TRANSFER", ledger.OwnerMerchant, ledger.OwnerMerchant)
}

// handlePayment moves customer funds to a merchant, with an optional fee leg
// to platform fee revenue.
func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok || !s.admitted(w, r) {
		return
	}
	var in txRequest
	if err := decode(r, &in); err != nil {
		writeValidationError(w, r, "malformed request body")
		return
	}
	cur, amt, fee, _, err := in.parse()
	if err != nil {
		writeValidationError(w, r, err.Error())
		return
	}
	if fee > amt {
		writeValidationError(w, r, "fee exceeds payment amount")
		return
	}
	if s.intercept(w, r, "/tx/payment", actor, map[string]any{
		"from": in.From, "to": in.To, "currency": in.Currency, "amount": in.Amount,
	}, in.Reason) {
		return
	}

	entries := []ledger.Entry{
		{OwnerType: ledger.OwnerCustomer, OwnerID: in.From.OwnerID, AccountType: ledger.AccountWallet, EntryType: ledger.Debit, Amount: amt},
		{OwnerType: ledger.OwnerMerchant, OwnerID: in.To.OwnerID, AccountType: ledger.AccountWallet, EntryType: ledger.Credit, Amount: amt - fee},
	}
	if fee > 0 {
		entries = append(entries, ledger.Entry{
			OwnerType: ledger.OwnerSystem, OwnerID: "main", AccountType: ledger.AccountFee, EntryType: ledger.Credit, Amount: fee,
		})
	}
	s.post(w, r, ledger.SingletonKey, &posting.Command{
		IdempotencyKey: in.IdempotencyKey,
		TxnType:        "PAYMENT",
		Currency:       cur,
		Entries:        entries,
		Description:    in.Description,
		ActorType:      actor.Type,
		ActorID:        actor.ID,
	})
}

// handleReversalRequest opens the maker-checker workflow for a journal
// reversal. The journal moves to VOID_REQUESTED immediately; the posting of
// the compensating journal waits for final approval.
func (s *Server) handleReversalRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var in struct {
		JournalID string `json:"journal_id"`
		Reason    string `json:"reason,omitempty"`
	}
	if err := decode(r, &in); err != nil || in.JournalID == "" {
		writeValidationError(w, r, "journal_id is required")
		return
	}
	if err := s.deps.Reversals.RequestVoid(r.Context(), in.JournalID); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := s.deps.Workflow.Create(r.Context(), approval.CreateInput{
		Type:          reversal.ApprovalTypeReversal,
		Payload:       map[string]any{"journal_id": in.JournalID},
		MakerType:     actor.Type,
		MakerID:       actor.ID,
		MakerRole:     actor.Role,
		Reason:        in.Reason,
		CorrelationID: correlationID(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, approval.Intercepted{
		ApprovalRequired: true,
		RequestID:        req.ID,
		TotalStages:      req.TotalStages,
	})
}
