// Package templates composes ready-to-post journal entry sets for the
// recurring transaction shapes. Every template is self-balancing by
// construction and re-validated before returning, so a template can never
// hand the posting engine an unbalanced journal.
package templates

import (
	"errors"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
)

// Txn types produced by the templates.
const (
	TxnDepositWithFee     = "DEPOSIT_WITH_FEE"
	TxnSettlementFee      = "SETTLEMENT_FEE"
	TxnCommissionSplit    = "COMMISSION_SPLIT"
	TxnTaxWithholding     = "TAX_WITHHOLDING"
	TxnHoldbackReserve    = "HOLDBACK_RESERVE"
	TxnHoldbackRelease    = "HOLDBACK_RELEASE"
	TxnRoundingAdjustment = "ROUNDING_ADJUSTMENT"
)

var (
	ErrDeductionsExceedGross = errors.New("fee plus tax exceeds gross amount")
	ErrSplitMismatch         = errors.New("commission shares do not sum to total")
)

// Result is a composed entry set plus its transaction type, ready for the
// posting engine.
type Result struct {
	TxnType string
	Entries []ledger.Entry
}

func finish(txnType string, entries []ledger.Entry) (Result, error) {
	if err := ledger.ValidateEntries(entries); err != nil {
		return Result{}, err
	}
	return Result{TxnType: txnType, Entries: entries}, nil
}

// DepositWithFee books a customer deposit: the bank pool is debited the
// gross amount; the customer wallet is credited net of fee and tax, with
// fee revenue and tax payable picking up the remainder.
func DepositWithFee(customer ledger.OwnerType, customerID string, gross, fee, tax amount.Amount) (Result, error) {
	net, err := gross.Sub(fee)
	if err != nil {
		return Result{}, err
	}
	if net, err = net.Sub(tax); err != nil {
		return Result{}, err
	}
	if !net.IsPositive() {
		return Result{}, ErrDeductionsExceedGross
	}
	entries := []ledger.Entry{
		{OwnerType: ledger.OwnerTreasury, OwnerID: "treasury", AccountType: ledger.AccountBankPool,
			EntryType: ledger.Debit, Amount: gross, Description: "deposit gross"},
		{OwnerType: customer, OwnerID: customerID, AccountType: ledger.AccountWallet,
			EntryType: ledger.Credit, Amount: net, Description: "deposit net of fee and tax"},
	}
	if fee.IsPositive() {
		entries = append(entries, ledger.Entry{
			OwnerType: ledger.OwnerSystem, OwnerID: "platform", AccountType: ledger.AccountFee,
			EntryType: ledger.Credit, Amount: fee, Description: "deposit fee"})
	}
	if tax.IsPositive() {
		entries = append(entries, ledger.Entry{
			OwnerType: ledger.OwnerSystem, OwnerID: "platform", AccountType: ledger.AccountTaxPayable,
			EntryType: ledger.Credit, Amount: tax, Description: "deposit tax"})
	}
	return finish(TxnDepositWithFee, entries)
}

// SettlementFee moves a merchant's settlement to the outbound clearing
// account, retaining the fee as revenue.
func SettlementFee(merchantID string, gross, fee amount.Amount) (Result, error) {
	net, err := gross.Sub(fee)
	if err != nil {
		return Result{}, err
	}
	if !net.IsPositive() {
		return Result{}, ErrDeductionsExceedGross
	}
	entries := []ledger.Entry{
		{OwnerType: ledger.OwnerMerchant, OwnerID: merchantID, AccountType: ledger.AccountWallet,
			EntryType: ledger.Debit, Amount: gross, Description: "settlement gross"},
		{OwnerType: ledger.OwnerSystem, OwnerID: "clearing-outbound", AccountType: ledger.AccountClearing,
			EntryType: ledger.Credit, Amount: net, Description: "settlement net"},
	}
	if fee.IsPositive() {
		entries = append(entries, ledger.Entry{
			OwnerType: ledger.OwnerSystem, OwnerID: "platform", AccountType: ledger.AccountFee,
			EntryType: ledger.Credit, Amount: fee, Description: "settlement fee"})
	}
	return finish(TxnSettlementFee, entries)
}

// CommissionSplit releases accrued commissions: the agent's share plus the
// platform's share must reproduce the total exactly.
func CommissionSplit(agentID string, total, agentShare, platformShare amount.Amount) (Result, error) {
	sum, err := agentShare.Add(platformShare)
	if err != nil {
		return Result{}, err
	}
	if sum != total {
		return Result{}, ErrSplitMismatch
	}
	entries := []ledger.Entry{
		{OwnerType: ledger.OwnerSystem, OwnerID: "platform", AccountType: ledger.AccountCommissionsPayable,
			EntryType: ledger.Debit, Amount: total, Description: "commission release"},
		{OwnerType: ledger.OwnerAgent, OwnerID: agentID, AccountType: ledger.AccountWallet,
			EntryType: ledger.Credit, Amount: agentShare, Description: "agent commission"},
		{OwnerType: ledger.OwnerSystem, OwnerID: "platform-pool", AccountType: ledger.AccountWallet,
			EntryType: ledger.Credit, Amount: platformShare, Description: "platform commission"},
	}
	return finish(TxnCommissionSplit, entries)
}

// TaxWithholding withholds tax from a merchant wallet into tax payable.
func TaxWithholding(merchantID string, tax amount.Amount) (Result, error) {
	entries := []ledger.Entry{
		{OwnerType: ledger.OwnerMerchant, OwnerID: merchantID, AccountType: ledger.AccountWallet,
			EntryType: ledger.Debit, Amount: tax, Description: "tax withholding"},
		{OwnerType: ledger.OwnerSystem, OwnerID: "platform", AccountType: ledger.AccountTaxPayable,
			EntryType: ledger.Credit, Amount: tax, Description: "tax payable"},
	}
	return finish(TxnTaxWithholding, entries)
}

// HoldbackReserve moves funds from a merchant wallet into its holdback
// reserve; HoldbackRelease is its symmetric inverse.
func HoldbackReserve(merchantID string, amt amount.Amount) (Result, error) {
	entries := []ledger.Entry{
		{OwnerType: ledger.OwnerMerchant, OwnerID: merchantID, AccountType: ledger.AccountWallet,
			EntryType: ledger.Debit, Amount: amt, Description: "holdback reserve"},
		{OwnerType: ledger.OwnerMerchant, OwnerID: merchantID, AccountType: ledger.AccountHoldbackReserve,
			EntryType: ledger.Credit, Amount: amt, Description: "holdback reserve"},
	}
	return finish(TxnHoldbackReserve, entries)
}

// HoldbackRelease returns reserved funds to the merchant wallet.
func HoldbackRelease(merchantID string, amt amount.Amount) (Result, error) {
	entries := []ledger.Entry{
		{OwnerType: ledger.OwnerMerchant, OwnerID: merchantID, AccountType: ledger.AccountHoldbackReserve,
			EntryType: ledger.Debit, Amount: amt, Description: "holdback release"},
		{OwnerType: ledger.OwnerMerchant, OwnerID: merchantID, AccountType: ledger.AccountWallet,
			EntryType: ledger.Credit, Amount: amt, Description: "holdback release"},
	}
	return finish(TxnHoldbackRelease, entries)
}

// RoundingAdjustment books a single DR/CR pair between two accounts to
// absorb a rounding residue. A zero residue returns an empty entry set,
// which the caller treats as a no-op rather than posting.
func RoundingAdjustment(debit, credit ledger.AccountKey, residue amount.Amount) (Result, error) {
	if residue.IsZero() {
		return Result{TxnType: TxnRoundingAdjustment}, nil
	}
	if residue.IsNegative() {
		debit, credit = credit, debit
		residue = residue.Neg()
	}
	entries := []ledger.Entry{
		{OwnerType: debit.OwnerType, OwnerID: debit.OwnerID, AccountType: debit.AccountType,
			EntryType: ledger.Debit, Amount: residue, Description: "rounding adjustment"},
		{OwnerType: credit.OwnerType, OwnerID: credit.OwnerID, AccountType: credit.AccountType,
			EntryType: ledger.Credit, Amount: residue, Description: "rounding adjustment"},
	}
	return finish(TxnRoundingAdjustment, entries)
}
