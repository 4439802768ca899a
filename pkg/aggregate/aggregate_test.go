package aggregate

import (
	"testing"

	"sentrygate/pkg/models"
)

func verdict(name, ruleID string, d models.Decision) models.ValidatorVerdict {
	return models.ValidatorVerdict{ValidatorName: name, Decision: d, Rationale: "r", RuleID: ruleID}
}

var okSemantic = models.SemanticVerdict{Decision: models.Allow, Coverage: 1.0, Reason: "SEMANTIC_OK"}

func TestAggregate_SemanticDenyDominates(t *testing.T) {
	semantic := models.SemanticVerdict{Decision: models.Deny, Reason: "UNKNOWN_VERB"}
	v := Aggregate(semantic, []models.ValidatorVerdict{verdict("A", "R1", models.Allow)}, 0.8)
	if v.Decision != models.Deny || v.Reason != "UNKNOWN_VERB" {
		t.Fatalf("expected semantic DENY to dominate, got %+v", v)
	}
}

func TestAggregate_NoValidatorsAllowsWhenSemanticOK(t *testing.T) {
	v := Aggregate(okSemantic, nil, 0.8)
	if v.Decision != models.Allow || v.Reason != models.ReasonAllValidatorsOK {
		t.Fatalf("expected ALLOW, got %+v", v)
	}
}

func TestAggregate_DenyDominatesEscalate(t *testing.T) {
	v := Aggregate(okSemantic, []models.ValidatorVerdict{
		verdict("A", "R1", models.Escalate),
		verdict("B", "R2", models.Deny),
		verdict("C", "R3", models.Allow),
	}, 0.8)
	if v.Decision != models.Deny {
		t.Fatalf("expected DENY to dominate, got %+v", v)
	}
}

func TestAggregate_EscalateDominatesAllow(t *testing.T) {
	v := Aggregate(okSemantic, []models.ValidatorVerdict{
		verdict("A", "R1", models.Allow),
		verdict("B", "R2", models.Escalate),
	}, 0.8)
	if v.Decision != models.Escalate {
		t.Fatalf("expected ESCALATE to dominate ALLOW, got %+v", v)
	}
}

func TestAggregate_LowCoverageEscalates(t *testing.T) {
	semantic := models.SemanticVerdict{Decision: models.Allow, Coverage: 0.5, Reason: "SEMANTIC_OK"}
	v := Aggregate(semantic, []models.ValidatorVerdict{verdict("A", "R1", models.Allow)}, 0.8)
	if v.Decision != models.Escalate || v.Reason != models.ReasonLowCoverage {
		t.Fatalf("expected LOW_SEMANTIC_COVERAGE escalation, got %+v", v)
	}
}

func TestAggregate_OrderDeterminesReasonNotCompletionOrder(t *testing.T) {
	first := Aggregate(okSemantic, []models.ValidatorVerdict{verdict("A", "RA", models.Deny), verdict("B", "RB", models.Deny)}, 0.8)
	second := Aggregate(okSemantic, []models.ValidatorVerdict{verdict("B", "RB", models.Deny), verdict("A", "RA", models.Deny)}, 0.8)
	if first.Reason == second.Reason {
		t.Fatalf("expected registry-order-dependent reason, got identical: %q", first.Reason)
	}
	if first.Reason[:2] != "RA" || second.Reason[:2] != "RB" {
		t.Fatalf("expected first-in-order validator's rule to win the reason string, got %q / %q", first.Reason, second.Reason)
	}
}
