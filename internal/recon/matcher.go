package recon

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// Match methods in priority order.
const (
	MethodProviderID = "PROVIDER_ID"
	MethodClientRef  = "CLIENT_REF"
	MethodAmountTime = "AMOUNT_TIME"
	MethodBatch      = "BATCH"
)

// Match confidences.
const (
	ConfidenceHigh       = "HIGH"
	ConfidenceMediumHigh = "MEDIUM_HIGH"
	ConfidenceMedium     = "MEDIUM"
)

// amountTimeWindow is the timestamp tolerance for amount-based matching.
const amountTimeWindow = 15 * time.Minute

// escalateAfter is how long an entry may stay unmatched before escalation.
const escalateAfter = 24 * time.Hour

// maxBatchCandidates bounds the subset-sum search.
const maxBatchCandidates = 20

// MatchResult is the outcome for one statement entry.
type MatchResult struct {
	EntryID     string   `json:"entry_id"`
	Method      string   `json:"method,omitempty"`
	Confidence  string   `json:"confidence,omitempty"`
	TransferIDs []string `json:"transfer_ids,omitempty"`
	FinalState  string   `json:"final_state"`
}

// Matcher pairs ingested bank-statement entries with external transfers.
type Matcher struct {
	db    relationaldb.Database
	repos *relationaldb.Repositories
	now   func() time.Time
}

// NewMatcher creates a matcher.
func NewMatcher(db relationaldb.Database) *Matcher {
	return &Matcher{db: db, repos: db.Repositories(), now: time.Now}
}

// MatchNewEntries processes every NEW statement entry through the match
// ladder: provider id, client reference, amount+time, then batch subset.
func (m *Matcher) MatchNewEntries(ctx context.Context) ([]MatchResult, error) {
	q := m.db.Handle()
	entries, err := m.repos.Statements.EntriesInState(ctx, q, "NEW")
	if err != nil {
		return nil, err
	}
	var out []MatchResult
	for _, entry := range entries {
		result, err := m.matchEntry(ctx, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}

func (m *Matcher) matchEntry(ctx context.Context, entry *relationaldb.StatementEntry) (MatchResult, error) {
	q := m.db.Handle()

	// A reference hit in another currency is an unconditional anomaly.
	if err := m.flagCurrencyAnomalies(ctx, entry); err != nil {
		return MatchResult{}, err
	}

	candidates, err := m.repos.Statements.OpenTransfers(ctx, q, entry.Currency)
	if err != nil {
		return MatchResult{}, err
	}

	if t := findByProviderID(candidates, entry.Reference); t != nil {
		return m.settleSingle(ctx, entry, t, MethodProviderID, ConfidenceHigh)
	}
	if t := findByClientRef(candidates, entry.Description); t != nil {
		return m.settleSingle(ctx, entry, t, MethodClientRef, ConfidenceMediumHigh)
	}
	if t := findByAmountTime(candidates, entry); t != nil {
		return m.settleSingle(ctx, entry, t, MethodAmountTime, ConfidenceMedium)
	}

	if len(candidates) > 0 {
		if subset := subsetSum(candidates, entry.Amount); subset != nil {
			return m.settleBatch(ctx, entry, subset)
		}
		var total amount.Amount
		for _, t := range candidates {
			total += t.Amount
		}
		if total < entry.Amount {
			if err := m.moveEntry(ctx, entry.ID, "NEW", "CANDIDATE_MATCHED", ""); err != nil {
				return MatchResult{}, err
			}
			if err := m.moveEntry(ctx, entry.ID, "CANDIDATE_MATCHED", "PARTIAL_MATCHED", MethodBatch); err != nil {
				return MatchResult{}, err
			}
			return MatchResult{EntryID: entry.ID, Method: MethodBatch, FinalState: "PARTIAL_MATCHED"}, nil
		}
		// Candidates oversupply the entry amount with no exact subset.
		if err := m.moveEntry(ctx, entry.ID, "NEW", "UNMATCHED", ""); err != nil {
			return MatchResult{}, err
		}
		if err := m.moveEntry(ctx, entry.ID, "UNMATCHED", "DISPUTED", ""); err != nil {
			return MatchResult{}, err
		}
		if err := m.openEntryCase(ctx, entry, "STATEMENT_DISPUTE", ""); err != nil {
			return MatchResult{}, err
		}
		return MatchResult{EntryID: entry.ID, FinalState: "DISPUTED"}, nil
	}

	if m.now().UTC().Sub(entry.BookedAt) > escalateAfter {
		if err := m.moveEntry(ctx, entry.ID, "NEW", "ESCALATED", ""); err != nil {
			return MatchResult{}, err
		}
		if err := m.openEntryCase(ctx, entry, "STATEMENT_ESCALATION", ""); err != nil {
			return MatchResult{}, err
		}
		return MatchResult{EntryID: entry.ID, FinalState: "ESCALATED"}, nil
	}
	if err := m.moveEntry(ctx, entry.ID, "NEW", "UNMATCHED", ""); err != nil {
		return MatchResult{}, err
	}
	return MatchResult{EntryID: entry.ID, FinalState: "UNMATCHED"}, nil
}

// EscalateStale moves UNMATCHED entries older than 24 hours to ESCALATED.
func (m *Matcher) EscalateStale(ctx context.Context) ([]MatchResult, error) {
	q := m.db.Handle()
	entries, err := m.repos.Statements.EntriesInState(ctx, q, "UNMATCHED")
	if err != nil {
		return nil, err
	}
	cutoff := m.now().UTC().Add(-escalateAfter)
	var out []MatchResult
	for _, entry := range entries {
		if entry.BookedAt.After(cutoff) {
			continue
		}
		if err := m.moveEntry(ctx, entry.ID, "UNMATCHED", "ESCALATED", ""); err != nil {
			return nil, err
		}
		if err := m.openEntryCase(ctx, entry, "STATEMENT_ESCALATION", ""); err != nil {
			return nil, err
		}
		out = append(out, MatchResult{EntryID: entry.ID, FinalState: "ESCALATED"})
	}
	return out, nil
}

func (m *Matcher) flagCurrencyAnomalies(ctx context.Context, entry *relationaldb.StatementEntry) error {
	q := m.db.Handle()
	for _, cur := range []amount.Currency{amount.BBD, amount.USD} {
		if cur == entry.Currency {
			continue
		}
		others, err := m.repos.Statements.OpenTransfers(ctx, q, cur)
		if err != nil {
			return err
		}
		for _, t := range others {
			if t.ProviderTransferID == entry.Reference ||
				(t.ClientReference != "" && strings.Contains(entry.Description, t.ClientReference)) {
				if err := m.advanceTransfer(ctx, t, "ANOMALY_CURRENCY"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (m *Matcher) settleSingle(ctx context.Context, entry *relationaldb.StatementEntry, t *relationaldb.ExternalTransfer, method, confidence string) (MatchResult, error) {
	if err := m.moveEntry(ctx, entry.ID, "NEW", "CANDIDATE_MATCHED", ""); err != nil {
		return MatchResult{}, err
	}
	if err := m.moveEntry(ctx, entry.ID, "CANDIDATE_MATCHED", "MATCHED", method); err != nil {
		return MatchResult{}, err
	}
	if err := m.advanceTransfer(ctx, t, "SETTLED"); err != nil {
		return MatchResult{}, err
	}
	return MatchResult{
		EntryID:     entry.ID,
		Method:      method,
		Confidence:  confidence,
		TransferIDs: []string{t.ID},
		FinalState:  "MATCHED",
	}, nil
}

func (m *Matcher) settleBatch(ctx context.Context, entry *relationaldb.StatementEntry, subset []*relationaldb.ExternalTransfer) (MatchResult, error) {
	if err := m.moveEntry(ctx, entry.ID, "NEW", "CANDIDATE_MATCHED", ""); err != nil {
		return MatchResult{}, err
	}
	if err := m.moveEntry(ctx, entry.ID, "CANDIDATE_MATCHED", "MATCHED", MethodBatch); err != nil {
		return MatchResult{}, err
	}
	ids := make([]string, 0, len(subset))
	for _, t := range subset {
		if err := m.advanceTransfer(ctx, t, "SETTLED"); err != nil {
			return MatchResult{}, err
		}
		ids = append(ids, t.ID)
	}
	return MatchResult{
		EntryID:     entry.ID,
		Method:      MethodBatch,
		Confidence:  ConfidenceHigh,
		TransferIDs: ids,
		FinalState:  "MATCHED",
	}, nil
}

func (m *Matcher) moveEntry(ctx context.Context, id, from, to, method string) error {
	return m.repos.Statements.UpdateEntryState(ctx, m.db.Handle(), id, from, to, method)
}

// advanceTransfer walks the transfer lifecycle to the target state.
func (m *Matcher) advanceTransfer(ctx context.Context, t *relationaldb.ExternalTransfer, target string) error {
	q := m.db.Handle()
	state := t.State
	for state != target {
		var next string
		switch state {
		case "FAILED":
			next = "CREATED"
		case "CREATED":
			next = "PENDING"
		case "PENDING":
			next = target
		default:
			return relationaldb.ErrStateConflict
		}
		if err := m.repos.Statements.UpdateTransferState(ctx, q, t.ID, state, next); err != nil {
			return err
		}
		state = next
	}
	t.State = state
	return nil
}

func (m *Matcher) openEntryCase(ctx context.Context, entry *relationaldb.StatementEntry, caseType, method string) error {
	q := m.db.Handle()
	existing, err := m.repos.Recon.OpenCaseFor(ctx, q, caseType, entry.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return m.repos.Recon.TouchCase(ctx, q, existing.ID)
	}
	now := m.now().UTC()
	return m.repos.Recon.InsertCase(ctx, q, &relationaldb.ReconCase{
		ID:          uuid.NewString(),
		Type:        caseType,
		Status:      "OPEN",
		MatchMethod: method,
		Subject:     entry.ID,
		Detail:      "statement entry " + entry.Reference,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func findByProviderID(candidates []*relationaldb.ExternalTransfer, reference string) *relationaldb.ExternalTransfer {
	if reference == "" {
		return nil
	}
	for _, t := range candidates {
		if t.ProviderTransferID == reference {
			return t
		}
	}
	return nil
}

func findByClientRef(candidates []*relationaldb.ExternalTransfer, description string) *relationaldb.ExternalTransfer {
	for _, t := range candidates {
		if t.ClientReference != "" && strings.Contains(description, t.ClientReference) {
			return t
		}
	}
	return nil
}

func findByAmountTime(candidates []*relationaldb.ExternalTransfer, entry *relationaldb.StatementEntry) *relationaldb.ExternalTransfer {
	for _, t := range candidates {
		if t.Amount != entry.Amount {
			continue
		}
		delta := entry.BookedAt.Sub(t.InitiatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= amountTimeWindow {
			return t
		}
	}
	return nil
}

// subsetSum finds a subset of candidates whose amounts total target, or nil.
// The search is exact and bounded; oversized candidate sets fall through to
// the partial/disputed classification.
func subsetSum(candidates []*relationaldb.ExternalTransfer, target amount.Amount) []*relationaldb.ExternalTransfer {
	if len(candidates) > maxBatchCandidates {
		return nil
	}
	var pick func(i int, remaining amount.Amount, acc []*relationaldb.ExternalTransfer) []*relationaldb.ExternalTransfer
	pick = func(i int, remaining amount.Amount, acc []*relationaldb.ExternalTransfer) []*relationaldb.ExternalTransfer {
		if remaining == 0 {
			if len(acc) == 0 {
				return nil
			}
			out := make([]*relationaldb.ExternalTransfer, len(acc))
			copy(out, acc)
			return out
		}
		if i == len(candidates) || remaining < 0 {
			return nil
		}
		if found := pick(i+1, remaining-candidates[i].Amount, append(acc, candidates[i])); found != nil {
			return found
		}
		return pick(i+1, remaining, acc)
	}
	return pick(0, target, nil)
}
