package ledger

import (
	"errors"
	"fmt"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
)

var (
	ErrUnbalanced        = errors.New("journal debits and credits do not balance")
	ErrNoEntries         = errors.New("journal requires at least two entries")
	ErrNonPositiveAmount = errors.New("entry amount must be positive")
	ErrCrossCurrency     = errors.New("cross-currency legs are not allowed")
	ErrBadEntryType      = errors.New("entry type must be DR or CR")
	ErrUnresolvedAccount = errors.New("entry references neither account id nor owner triple")
)

// ValidateEntries enforces the journal invariants that hold before any
// account resolution: at least two entries, every amount positive and in
// range, both sides present, and debits equal to credits exactly.
func ValidateEntries(entries []Entry) error {
	if len(entries) < 2 {
		return ErrNoEntries
	}
	var dr, cr amount.Amount
	var err error
	for i, e := range entries {
		if !e.Amount.IsPositive() || !e.Amount.InRange() {
			return fmt.Errorf("entry %d: %w", i, ErrNonPositiveAmount)
		}
		if e.AccountID == "" && (e.OwnerID == "" || e.OwnerType == "" || e.AccountType == "") {
			return fmt.Errorf("entry %d: %w", i, ErrUnresolvedAccount)
		}
		switch e.EntryType {
		case Debit:
			if dr, err = dr.Add(e.Amount); err != nil {
				return err
			}
		case Credit:
			if cr, err = cr.Add(e.Amount); err != nil {
				return err
			}
		default:
			return fmt.Errorf("entry %d: %w", i, ErrBadEntryType)
		}
	}
	if dr != cr {
		return fmt.Errorf("%w: DR=%s CR=%s", ErrUnbalanced, dr, cr)
	}
	return nil
}

// ValidateLines enforces the same invariants on resolved lines plus the
// single-currency rule against the journal currency of each account.
func ValidateLines(lines []Line, accountCurrency map[string]amount.Currency, journalCurrency amount.Currency) error {
	if len(lines) < 2 {
		return ErrNoEntries
	}
	var dr, cr amount.Amount
	var err error
	for i, l := range lines {
		if !l.Amount.IsPositive() {
			return fmt.Errorf("line %d: %w", i, ErrNonPositiveAmount)
		}
		if cur, ok := accountCurrency[l.AccountID]; ok && cur != journalCurrency {
			return fmt.Errorf("line %d account %s (%s vs journal %s): %w",
				i, l.AccountID, cur, journalCurrency, ErrCrossCurrency)
		}
		switch l.EntryType {
		case Debit:
			if dr, err = dr.Add(l.Amount); err != nil {
				return err
			}
		case Credit:
			if cr, err = cr.Add(l.Amount); err != nil {
				return err
			}
		default:
			return fmt.Errorf("line %d: %w", i, ErrBadEntryType)
		}
	}
	if dr != cr {
		return fmt.Errorf("%w: DR=%s CR=%s", ErrUnbalanced, dr, cr)
	}
	return nil
}
