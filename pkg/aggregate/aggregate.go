// Package aggregate implements the conservative-veto cascade that turns a
// SemanticVerdict and a set of validator verdicts into one gate decision: DENY
// dominates ESCALATE dominates ALLOW. Ordering follows validator registry
// order, not completion order, so the same inputs always produce the same
// reason string regardless of goroutine scheduling.
package aggregate

import (
	"fmt"

	"sentrygate/pkg/models"
)

// Verdict is the outcome of aggregating one action's evaluation.
type Verdict struct {
	Decision models.Decision
	Reason   string
}

// Aggregate applies the five-step cascade from spec.md §4.4. results must
// already be in registry order; Aggregate does not sort them.
func Aggregate(semantic models.SemanticVerdict, results []models.ValidatorVerdict, coverageFloor float64) Verdict {
	if semantic.Decision == models.Deny {
		return Verdict{Decision: models.Deny, Reason: semantic.Reason}
	}
	if v, ok := firstMatch(results, models.Deny); ok {
		return Verdict{Decision: models.Deny, Reason: denyReason(v)}
	}
	if v, ok := firstMatch(results, models.Escalate); ok {
		return Verdict{Decision: models.Escalate, Reason: fmt.Sprintf("%s: %s", v.ValidatorName, v.Rationale)}
	}
	if semantic.Coverage < coverageFloor {
		return Verdict{Decision: models.Escalate, Reason: models.ReasonLowCoverage}
	}
	return Verdict{Decision: models.Allow, Reason: models.ReasonAllValidatorsOK}
}

func firstMatch(results []models.ValidatorVerdict, d models.Decision) (models.ValidatorVerdict, bool) {
	for _, r := range results {
		if r.Decision == d {
			return r, true
		}
	}
	return models.ValidatorVerdict{}, false
}

func denyReason(v models.ValidatorVerdict) string {
	if v.RuleID != "" {
		return fmt.Sprintf("%s: %s", v.RuleID, v.Rationale)
	}
	return fmt.Sprintf("%s: %s", v.ValidatorName, v.Rationale)
}
