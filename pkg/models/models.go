package models

import (
	"encoding/json"
	"time"
)

// ActionPrimitive is a structured intent produced by an upstream intent-normalization
// front-end. It is immutable after construction: nothing downstream of the gate may
// mutate it.
type ActionPrimitive struct {
	Verb       string          `json:"verb"`
	Resource   string          `json:"resource"`
	Domain     string          `json:"domain"`
	Parameters json.RawMessage `json:"parameters"`
}

// ParametersMap decodes Parameters into a generic map. An empty or absent
// Parameters field decodes to an empty, non-nil map.
func (a ActionPrimitive) ParametersMap() (map[string]interface{}, error) {
	if len(a.Parameters) == 0 {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(a.Parameters, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]interface{}{}
	}
	return m, nil
}

// AgentContext carries the caller identity and request metadata for one evaluation.
type AgentContext struct {
	AgentID        string    `json:"agent_id,omitempty"`
	MaturityLevel  int       `json:"maturity_level"`
	TraceID        string    `json:"trace_id"`
	SubmissionTime time.Time `json:"submission_time"`
}

// Decision is the closed set of verdicts the gate ever produces.
type Decision string

const (
	Allow    Decision = "ALLOW"
	Deny     Decision = "DENY"
	Escalate Decision = "ESCALATE"
)

// SemanticVerdict is the result of the ontology client's authority check.
type SemanticVerdict struct {
	Decision            Decision `json:"decision"`
	OntologyMatch       bool     `json:"ontology_match"`
	MaturityAuthorized  bool     `json:"maturity_authorized"`
	Coverage            float64  `json:"coverage"`
	Reason              string   `json:"reason"`
	// RequiresValidation classifies the verb per the ontology's own record: an
	// informational verb (false) is safe to ALLOW with no validators; a
	// governed verb (true) with no registered validators is a configuration
	// gap and must DENY NO_VALIDATORS rather than fail open.
	RequiresValidation bool `json:"requires_validation"`
}

// ValidatorVerdict is the result of one domain validator.
type ValidatorVerdict struct {
	ValidatorName string   `json:"validator_name"`
	Decision      Decision `json:"decision"`
	RuleID        string   `json:"rule_id"`
	Rationale     string   `json:"rationale"`
	LatencyMS     float64  `json:"latency_ms"`
	Confidence    float64  `json:"confidence"`
}

// ComponentTimings breaks total governance latency down by pipeline stage.
type ComponentTimings struct {
	HealthMS     float64 `json:"health"`
	SemanticMS   float64 `json:"semantic"`
	ValidatorsMS float64 `json:"validators"`
	SignMS       float64 `json:"sign"`
	PersistMS    float64 `json:"persist"`
}

// Verdict is the immutable final object emitted by the Validation Gate for one
// ActionPrimitive. Once emitted, any downstream mutation breaks signature
// verification (see pkg/auth).
type Verdict struct {
	TraceID           string             `json:"trace_id"`
	Decision          Decision           `json:"decision"`
	Reason            string             `json:"reason"`
	Action            ActionPrimitive    `json:"action"`
	AgentID           string             `json:"agent_id,omitempty"`
	AgentMaturity     int                `json:"agent_maturity"`
	Semantic          SemanticVerdict    `json:"semantic"`
	ValidatorResults  []ValidatorVerdict `json:"validator_results"`
	GovernanceLatency float64            `json:"governance_latency_ms"`
	ComponentTimings  ComponentTimings   `json:"component_timings"`
	Certifiable       bool               `json:"certifiable"`
	Signature         string             `json:"signature"`
	EmittedAt         time.Time          `json:"emitted_at"`
}

// Reason codes for local-recovery failures. These are Verdict-visible; callers see
// only the reason string, never an internal exception type.
const (
	ReasonValidatorUnhealthy = "VALIDATOR_UNHEALTHY"
	ReasonSemanticTimeout    = "SEMANTIC_TIMEOUT"
	ReasonSemanticError      = "SEMANTIC_ERROR"
	ReasonUnknownVerb        = "UNKNOWN_VERB"
	ReasonNoValidators       = "NO_VALIDATORS"
	ReasonValidatorTimeout   = "TIMEOUT"
	ReasonValidatorException = "EXCEPTION"
	ReasonSignatureError     = "SIGNATURE_ERROR"
	ReasonLedgerError        = "LEDGER_ERROR"
	ReasonGateTimeout        = "GATE_TIMEOUT"
	ReasonGateInternalError  = "GATE_INTERNAL_ERROR"
	ReasonOverload           = "OVERLOAD"
	ReasonLowCoverage        = "LOW_SEMANTIC_COVERAGE"
	ReasonAllValidatorsOK    = "ALL_VALIDATORS_PASSED"
)
