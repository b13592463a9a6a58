package relationaldb

import (
	"strings"
	"sync"
)

// The ledger tables are append-only. Every write a driver issues goes
// through CheckLedgerWrite first; UPDATE and DELETE against these tables are
// refused outright, and INSERT plus the single sanctioned state update are
// admitted only for statements the journal repository registered at init.
// This is the runtime half of the write guard; CI greps for direct
// ExecContext calls against ledger tables as the static half.

var ledgerTables = []string{"ledger_journals", "ledger_lines"}

var (
	guardMu      sync.RWMutex
	sanctionedMu = map[string]struct{}{}
)

// RegisterLedgerStatement allowlists one exact statement for ledger-table
// writes. Only the journal repository calls this.
func RegisterLedgerStatement(query string) {
	guardMu.Lock()
	defer guardMu.Unlock()
	sanctionedMu[normalizeSQL(query)] = struct{}{}
}

// CheckLedgerWrite refuses unsanctioned mutations of append-only tables.
// Reads and writes to other tables pass through untouched.
func CheckLedgerWrite(query string) error {
	norm := normalizeSQL(query)
	if !touchesLedgerTable(norm) {
		return nil
	}
	verb := firstWord(norm)
	switch verb {
	case "select":
		return nil
	case "insert", "update", "delete":
		guardMu.RLock()
		_, ok := sanctionedMu[norm]
		guardMu.RUnlock()
		if ok {
			return nil
		}
		return NewGuardError("check_ledger_write", verb+" on ledger table is not sanctioned")
	default:
		// DDL during schema init is allowed.
		return nil
	}
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func touchesLedgerTable(norm string) bool {
	for _, t := range ledgerTables {
		if strings.Contains(norm, t) {
			return true
		}
	}
	return false
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return s
}
