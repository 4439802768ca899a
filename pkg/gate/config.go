package gate

import "time"

// Config carries the stage deadlines and policy knobs enumerated in spec.md
// §6's configuration table. Every field maps to one environment variable read
// once at startup by cmd/gateway; the gate itself never re-reads the
// environment.
type Config struct {
	// THealth bounds the (cached) ontology liveness probe.
	THealth time.Duration
	// TSem bounds the ontology's semantic-authority call.
	TSem time.Duration
	// TVal bounds each individual validator invocation.
	TVal time.Duration
	// TPersist bounds the ledger append.
	TPersist time.Duration
	// TCache is how long a health probe result is trusted before re-checking.
	TCache time.Duration
	// TTotal bounds the whole evaluate() call.
	TTotal time.Duration
	// CoverageFloor: semantic coverage below this downgrades ALLOW to ESCALATE.
	CoverageFloor float64
	// CompleteFailClosed: if true, a ledger-write failure should cause the
	// HTTP layer to answer 5xx instead of 200; the gate itself still returns a
	// DENY Verdict either way (see Gate.LastPersistFailed).
	CompleteFailClosed bool
	// MaxInFlight is the number of evaluations the Limiter admits per rate-limit
	// window under the single key "gate:inflight"; once it is reached the gate
	// answers OVERLOAD until the window resets. It counts admissions, not
	// evaluations currently running: finished evaluations do not free a slot.
	MaxInFlight int
}

// DefaultConfig returns spec.md §4's stated defaults.
func DefaultConfig() Config {
	return Config{
		THealth:       50 * time.Millisecond,
		TSem:          500 * time.Millisecond,
		TVal:          150 * time.Millisecond,
		TPersist:      50 * time.Millisecond,
		TCache:        30 * time.Second,
		TTotal:        200 * time.Millisecond,
		CoverageFloor: 0.8,
		MaxInFlight:   512,
	}
}
