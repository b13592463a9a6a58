package reversal

import (
	"context"
	"errors"
	"fmt"

	"github.com/fnyamweya/caricash-nova-sub003/internal/approval"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
	"github.com/fnyamweya/caricash-nova-sub003/internal/events"
)

// Approval types handled by the pipeline.
const (
	ApprovalTypeReversal        = "REVERSAL_REQUESTED"
	ApprovalTypeSuspenseFunding = "SUSPENSE_FUNDING"
)

// ApprovalHandler executes an approved reversal request. The derived
// idempotency key makes handler retries safe: a replay after a partial
// failure lands on the already-posted reversal.
func ApprovalHandler(p *Pipeline) *approval.Handler {
	return &approval.Handler{
		Label: "Journal reversal",
		OnApprove: func(ctx context.Context, hc approval.HandlerContext) error {
			journalID, _ := hc.Request.Payload["journal_id"].(string)
			if journalID == "" {
				return errors.New("reversal payload missing journal_id")
			}
			_, err := p.Reverse(ctx, journalID, hc.Request.CorrelationID, Actor{
				Type: "STAFF",
				ID:   hc.Decider.ID,
			})
			if errors.Is(err, ErrAlreadyReversed) {
				return nil
			}
			return err
		},
		EventNames:   []string{events.EventReversalPosted},
		AuditActions: []string{"JOURNAL_REVERSED"},
	}
}

// SuspenseFundingHandler posts the treasury/system suspense pair on final
// approval. The idempotency key derives from the request id so repeated
// handler invocations replay.
func SuspenseFundingHandler(p *Pipeline) *approval.Handler {
	return &approval.Handler{
		Label: "Manual suspense funding",
		OnApprove: func(ctx context.Context, hc approval.HandlerContext) error {
			curRaw, _ := hc.Request.Payload["currency"].(string)
			cur, err := amount.ParseCurrency(curRaw)
			if err != nil {
				return err
			}
			amtRaw, _ := hc.Request.Payload["amount"].(string)
			amt, err := amount.Parse(amtRaw)
			if err != nil {
				return fmt.Errorf("suspense funding amount: %w", err)
			}
			_, err = p.FundSuspense(ctx, cur, amt,
				"suspense:"+hc.Request.ID, hc.Request.CorrelationID,
				Actor{Type: "STAFF", ID: hc.Decider.ID})
			return err
		},
		EventNames:   []string{events.EventTransactionPosted},
		AuditActions: []string{"SUSPENSE_FUNDED"},
	}
}
