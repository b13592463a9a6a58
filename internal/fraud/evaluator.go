package fraud

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
)

// ScoreResult is a scoring provider's verdict.
type ScoreResult struct {
	Score        float64 `json:"score"`
	ModelVersion string  `json:"model_version"`
	Explanation  []byte  `json:"explanation_json,omitempty"`
}

// ScoringProvider plugs an external model in front of rule evaluation.
type ScoringProvider interface {
	Score(ctx context.Context, c Context) (ScoreResult, error)
}

// RuleMatch is one matched rule in a decision.
type RuleMatch struct {
	Rule   Rule    `json:"rule"`
	CaseID string  `json:"case_id,omitempty"`
}

// Decision is the aggregated outcome: any BLOCK wins, then any REVIEW,
// else ALLOW.
type Decision struct {
	Outcome Action       `json:"outcome"`
	Matches []RuleMatch  `json:"matches,omitempty"`
	Score   *ScoreResult `json:"score,omitempty"`
}

// Scoring retry policy for transient provider faults.
const (
	scoreBaseDelay  = 100 * time.Millisecond
	scoreMaxDelay   = 4 * time.Second
	scoreMaxAttempt = 5
)

// Evaluator evaluates the ACTIVE rules version.
type Evaluator struct {
	store    *Store
	provider ScoringProvider

	baseDelay time.Duration
}

// NewEvaluator creates an evaluator. provider may be nil.
func NewEvaluator(store *Store, provider ScoringProvider) *Evaluator {
	return &Evaluator{store: store, provider: provider, baseDelay: scoreBaseDelay}
}

// Evaluate scores the context, then runs matching rules of the ACTIVE
// version in ascending priority, collecting every match. With no ACTIVE
// version the decision is ALLOW.
func (e *Evaluator) Evaluate(ctx context.Context, c Context) (Decision, error) {
	decision := Decision{Outcome: ActionAllow}

	score := e.score(ctx, c)
	decision.Score = score

	version := e.store.Active()
	if version == nil {
		return decision, nil
	}

	rules := make([]Rule, 0, len(version.Rules))
	for _, r := range version.Rules {
		if r.AppliesToContext == "" || r.AppliesToContext == c.ContextType {
			rules = append(rules, r)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	for _, rule := range rules {
		matched, err := e.ruleMatches(rule, c, score)
		if err != nil {
			return Decision{}, err
		}
		if !matched {
			continue
		}
		match := RuleMatch{Rule: rule}
		if rule.CreateCase {
			opened, err := e.store.openCase(&Case{
				RuleID:      rule.ID,
				ReasonCode:  rule.ReasonCode,
				Severity:    rule.Severity,
				ContextType: c.ContextType,
				ActorType:   c.ActorType,
				ActorID:     c.ActorID,
			})
			if err != nil {
				return Decision{}, err
			}
			match.CaseID = opened.ID
		}
		decision.Matches = append(decision.Matches, match)

		switch rule.Action {
		case ActionBlock:
			decision.Outcome = ActionBlock
		case ActionReview:
			if decision.Outcome != ActionBlock {
				decision.Outcome = ActionReview
			}
		}
	}
	return decision, nil
}

func (e *Evaluator) ruleMatches(rule Rule, c Context, score *ScoreResult) (bool, error) {
	for _, cond := range rule.Conditions {
		val, present := resolveField(c, score, cond.Field)
		ok, err := policy.EvalOperator(val, present, cond)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// score invokes the provider with capped backoff. Scoring is advisory: if
// every attempt fails the evaluation proceeds without a score and rules
// referencing it simply do not match.
func (e *Evaluator) score(ctx context.Context, c Context) *ScoreResult {
	if e.provider == nil {
		return nil
	}
	delay := e.baseDelay
	for attempt := 1; attempt <= scoreMaxAttempt; attempt++ {
		result, err := e.provider.Score(ctx, c)
		if err == nil {
			return &result
		}
		if attempt == scoreMaxAttempt || ctx.Err() != nil {
			log.Printf("[fraud] scoring provider unavailable: %v", err)
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > scoreMaxDelay {
			delay = scoreMaxDelay
		}
	}
	return nil
}
