package ledger

import (
	"sort"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/canonjson"
)

// hashLine is the line projection that enters the journal hash. Line ids and
// free-text descriptions stay out so the hash covers only financial content.
type hashLine struct {
	AccountID string        `json:"account_id"`
	EntryType EntryType     `json:"entry_type"`
	Amount    amount.Amount `json:"amount"`
}

type hashBody struct {
	ID          string          `json:"id"`
	Currency    amount.Currency `json:"currency"`
	TxnType     string          `json:"txn_type"`
	LedgerLines []hashLine      `json:"ledger_lines"`
}

// SortLinesForHash orders lines by (account_id asc, entry_type asc) so the
// journal hash is deterministic regardless of input ordering. The input is
// not mutated.
func SortLinesForHash(lines []Line) []Line {
	sorted := make([]Line, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].AccountID != sorted[j].AccountID {
			return sorted[i].AccountID < sorted[j].AccountID
		}
		return sorted[i].EntryType < sorted[j].EntryType
	})
	return sorted
}

// ComputeJournalHash computes SHA256(prev_hash || canonical_json(body)).
// prevHash is the predecessor's journal hash on the same domain key, empty
// for the genesis journal of a key.
func ComputeJournalHash(prevHash string, j *Journal, lines []Line) (string, error) {
	sorted := SortLinesForHash(lines)
	body := hashBody{
		ID:          j.ID,
		Currency:    j.Currency,
		TxnType:     j.TxnType,
		LedgerLines: make([]hashLine, 0, len(sorted)),
	}
	for _, l := range sorted {
		body.LedgerLines = append(body.LedgerLines, hashLine{
			AccountID: l.AccountID,
			EntryType: l.EntryType,
			Amount:    l.Amount,
		})
	}
	canon, err := canonjson.Canonicalize(body)
	if err != nil {
		return "", err
	}
	return canonjson.HashHex(append([]byte(prevHash), canon...)), nil
}
