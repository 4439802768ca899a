// Package validators implements the fixed set of domain rule-checkers the gate
// dispatches an action to once the ontology has confirmed semantic authority.
// Each validator is a pure function of (action, agent context) to a
// models.ValidatorVerdict: no shared mutable state, no I/O, so a validator can
// never itself be the reason a request stalls or a decision becomes
// non-reproducible.
package validators

import (
	"sentrygate/pkg/models"
)

// Validator is the uniform contract every domain rule-checker satisfies.
type Validator interface {
	// Name identifies the validator in verdicts and the ontology's
	// action_validators table.
	Name() string
	// Validate evaluates action under ctx and returns a verdict. It must not
	// block on I/O or exceed a few microseconds of CPU time; the gate applies
	// its own per-validator wall-clock timeout around the call, but a validator
	// that can only decide by calling out to a network exceeds this contract's
	// intent.
	Validate(action models.ActionPrimitive, ctx models.AgentContext) models.ValidatorVerdict
}

// Registry resolves validator names to validator instances. Which validators
// govern a (domain, verb), and in what order, is not kept here: the gate's
// primary source of truth is the ontology store's action_validators
// table; this in-process registry exists so validators can be instantiated by
// name and so unit tests and the seed data agree on what "FuelReserveValidator"
// actually means.
type Registry struct {
	byName map[string]Validator
}

// NewRegistry constructs a Registry from the fixed validator set.
func NewRegistry() *Registry {
	r := &Registry{byName: map[string]Validator{}}
	for _, v := range []Validator{
		FuelReserveValidator{},
		CrewRestValidator{},
		AirspaceValidator{},
		StrongCustomerAuthValidator{},
		AMLThresholdValidator{},
		AMLSanctionsValidator{},
	} {
		r.byName[v.Name()] = v
	}
	return r
}

// NewRegistryFrom builds a Registry from an explicit validator set, bypassing
// the fixed domain list. Exists for tests that need to exercise the gate
// against a validator double (a panicking or slow stand-in) without adding it
// to the production registry.
func NewRegistryFrom(vs ...Validator) *Registry {
	r := &Registry{byName: map[string]Validator{}}
	for _, v := range vs {
		r.byName[v.Name()] = v
	}
	return r
}

// Resolve looks up validators by name, in the order given, silently skipping
// any name the registry doesn't recognize (the ontology and the code are
// expected to agree, but a stale ontology row must not crash the gate).
func (r *Registry) Resolve(names []string) []Validator {
	out := make([]Validator, 0, len(names))
	for _, n := range names {
		if v, ok := r.byName[n]; ok {
			out = append(out, v)
		}
	}
	return out
}

// escalate/deny/allow are small constructors shared by the concrete validators
// below, keeping the "which fields does a verdict carry" decision in one place.

func allow(name, ruleID, rationale string) models.ValidatorVerdict {
	return models.ValidatorVerdict{ValidatorName: name, Decision: models.Allow, RuleID: ruleID, Rationale: rationale, Confidence: 1.0}
}

func deny(name, ruleID, rationale string) models.ValidatorVerdict {
	return models.ValidatorVerdict{ValidatorName: name, Decision: models.Deny, RuleID: ruleID, Rationale: rationale, Confidence: 1.0}
}

func escalate(name, ruleID, rationale string) models.ValidatorVerdict {
	return models.ValidatorVerdict{ValidatorName: name, Decision: models.Escalate, RuleID: ruleID, Rationale: rationale, Confidence: 1.0}
}

// missingParams escalates with INSUFFICIENT_CONTEXT: the spec's boundary policy
// for parameters a validator needs but the action didn't carry.
func missingParams(name string, missing ...string) models.ValidatorVerdict {
	rationale := "missing required parameters: " + joinComma(missing)
	return escalate(name, "INSUFFICIENT_CONTEXT", rationale)
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// floatParam extracts a float64 parameter, reporting whether it was present and
// numeric. JSON numbers decode to float64 via encoding/json's default map
// decoding, which is what ActionPrimitive.ParametersMap uses.
func floatParam(params map[string]interface{}, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func boolParam(params map[string]interface{}, key string) (bool, bool) {
	v, ok := params[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
