// Package audit implements the append-only, time-partitioned ledger the gate
// writes every emitted Verdict to, plus a best-effort fan-out of the same
// verdicts onto a Kafka topic for downstream analytics and SIEM consumption.
// The ledger write is on the gate's fail-closed hot path; the Kafka publish is
// not, and never blocks or fails a request.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"sentrygate/pkg/models"
)

// Ledger is the append/read contract the gate and any operator tooling depend on.
type Ledger interface {
	// Append persists one verdict. It must complete or fail within the caller's
	// context deadline (T_persist); Append never retries internally.
	Append(ctx context.Context, v models.Verdict) error
	// Stats reads aggregate metrics over a time range for analytical queries;
	// this is not on any request's decision path.
	Stats(ctx context.Context, sinceHours int) (Stats, error)
}

// Stats summarizes ledger contents for the ops surface (GET /metrics/prometheus
// derives its counters from the process's in-memory metrics package instead;
// Stats is for ad hoc analytical queries against durable history).
type Stats struct {
	Total          int64
	AllowCount     int64
	DenyCount      int64
	EscalateCount  int64
	AvgLatencyMS   float64
	P99LatencyMS   float64
}

// PostgresLedger implements Ledger against a time-partitioned Postgres table
// matching spec.md §6's wire-stable row schema.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger wraps an existing pgx pool. The caller owns pool lifecycle.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

const insertVerdict = `
INSERT INTO verdict_ledger (
	emitted_at, trace_id, decision, reason,
	agent_id, maturity_level,
	action_verb, action_resource, action_domain, action_parameters,
	semantic_ontology_match, semantic_maturity_authorized, semantic_coverage,
	validator_results,
	total_latency_ms, certifiable, signature
) VALUES (
	$1, $2, $3, $4,
	$5, $6,
	$7, $8, $9, $10,
	$11, $12, $13,
	$14,
	$15, $16, $17
)
`

// Append writes v as one ledger row. The row's surrogate id and partition are
// store-generated; the gate never assigns them.
func (l *PostgresLedger) Append(ctx context.Context, v models.Verdict) error {
	validatorResults, err := json.Marshal(v.ValidatorResults)
	if err != nil {
		return fmt.Errorf("marshal validator_results: %w", err)
	}
	action := v.Action
	if action.Parameters == nil {
		action.Parameters = json.RawMessage("{}")
	}
	_, err = l.pool.Exec(ctx, insertVerdict,
		v.EmittedAt, v.TraceID, string(v.Decision), v.Reason,
		nullableString(v.AgentID), v.AgentMaturity,
		action.Verb, action.Resource, action.Domain, []byte(action.Parameters),
		v.Semantic.OntologyMatch, v.Semantic.MaturityAuthorized, v.Semantic.Coverage,
		validatorResults,
		v.GovernanceLatency, v.Certifiable, nullableString(v.Signature),
	)
	if err != nil {
		return fmt.Errorf("append verdict: %w", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

const statsQuery = `
SELECT
	count(*),
	count(*) FILTER (WHERE decision = 'ALLOW'),
	count(*) FILTER (WHERE decision = 'DENY'),
	count(*) FILTER (WHERE decision = 'ESCALATE'),
	coalesce(avg(total_latency_ms), 0),
	coalesce(percentile_cont(0.99) WITHIN GROUP (ORDER BY total_latency_ms), 0)
FROM verdict_ledger
WHERE emitted_at > now() - ($1 || ' hours')::interval
`

// Stats aggregates ledger rows over the trailing sinceHours window.
func (l *PostgresLedger) Stats(ctx context.Context, sinceHours int) (Stats, error) {
	var s Stats
	row := l.pool.QueryRow(ctx, statsQuery, sinceHours)
	if err := row.Scan(&s.Total, &s.AllowCount, &s.DenyCount, &s.EscalateCount, &s.AvgLatencyMS, &s.P99LatencyMS); err != nil {
		return Stats{}, fmt.Errorf("ledger stats: %w", err)
	}
	return s, nil
}
