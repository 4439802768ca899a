// Package gate implements the Validation Gate orchestrator: the single
// evaluate(action, agent_context) → Verdict entry point that never throws and
// never blocks past its total governance budget. Every stage runs under its
// own deadline and failure boundary; any failure anywhere in the pipeline
// converts to a signed DENY Verdict rather than propagating an error to the
// caller.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sentrygate/pkg/aggregate"
	"sentrygate/pkg/audit"
	"sentrygate/pkg/metrics"
	"sentrygate/pkg/models"
	"sentrygate/pkg/notify"
	"sentrygate/pkg/ontology"
	"sentrygate/pkg/ratelimit"
	"sentrygate/pkg/store"
	"sentrygate/pkg/stream"
	"sentrygate/pkg/validators"
)

var tracer = otel.Tracer("sentrygate/pkg/gate")

const healthCacheKey = "ontology:health"

// Gate wires the ontology client, validator registry, signer, ledger, and
// supporting infrastructure into one evaluate() entry point. Every field is
// initialized once at process startup (see cmd/gateway) and never reassigned;
// Gate itself carries no other mutable state beyond the persist-failure flag
// used for the COMPLETE_FAIL_CLOSED escalation.
type Gate struct {
	Ontology  ontology.Client
	Registry  *validators.Registry
	Signer    Signer
	Ledger    audit.Ledger
	Publisher audit.Publisher
	Notifier  notify.Notifier
	Cache     store.Cache
	Stream    *stream.Hub
	Metrics   *metrics.Registry
	Limiter   ratelimit.Limiter
	Log       *slog.Logger
	Config    Config

	lastPersistFailed atomic.Bool
}

// Signer is the narrow interface Gate depends on, satisfied by
// sentrygate/pkg/auth.Signer.
type Signer interface {
	Sign(v models.Verdict) (string, error)
}

// LastPersistFailed reports whether the most recently completed Evaluate call
// failed to write its ledger row. cmd/gateway consults this after Evaluate
// returns, under CompleteFailClosed, to decide whether to answer 5xx.
func (g *Gate) LastPersistFailed() bool {
	return g.lastPersistFailed.Load()
}

// Evaluate is the gate's one contract. It never panics past this boundary and
// never returns an error: every exit path is a Verdict.
func (g *Gate) Evaluate(ctx context.Context, action models.ActionPrimitive, agent models.AgentContext) (verdict models.Verdict) {
	start := time.Now()
	traceID := agent.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	ctx, span := tracer.Start(ctx, "gate.evaluate", trace.WithAttributes(
		attribute.String("trace_id", traceID),
		attribute.String("action.domain", action.Domain),
		attribute.String("action.verb", action.Verb),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			g.Log.Error("gate panic recovered", "trace_id", traceID, "panic", r)
			span.SetStatus(codes.Error, "panic")
			verdict = g.finalize(ctx, traceID, action, agent, models.SemanticVerdict{}, nil,
				models.Deny, models.ReasonGateInternalError, models.ComponentTimings{}, start)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, g.total())
	defer cancel()

	var timings models.ComponentTimings

	if g.Limiter != nil {
		dec := g.Limiter.Allow("gate:inflight", g.maxInFlight())
		if !dec.Allowed {
			return g.finalize(ctx, traceID, action, agent, models.SemanticVerdict{}, nil,
				models.Deny, models.ReasonOverload, timings, start)
		}
	}

	healthStart := time.Now()
	healthy := g.healthy(ctx)
	timings.HealthMS = elapsedMS(healthStart)
	if !healthy {
		return g.finalize(ctx, traceID, action, agent, models.SemanticVerdict{}, nil,
			models.Deny, models.ReasonValidatorUnhealthy, timings, start)
	}

	semStart := time.Now()
	semantic, semErr := g.semanticCheck(ctx, action, agent.MaturityLevel)
	timings.SemanticMS = elapsedMS(semStart)
	if semErr != nil {
		reason := models.ReasonSemanticError
		if errors.Is(semErr, context.DeadlineExceeded) {
			reason = models.ReasonSemanticTimeout
		}
		span.RecordError(semErr)
		return g.finalize(ctx, traceID, action, agent, models.SemanticVerdict{}, nil,
			models.Deny, reason, timings, start)
	}

	var results []models.ValidatorVerdict
	if semantic.Decision != models.Deny {
		valStart := time.Now()
		results = g.runValidators(ctx, action, agent, semantic, &timings)
		timings.ValidatorsMS = elapsedMS(valStart)

		if len(results) == 0 && semantic.RequiresValidation {
			return g.finalize(ctx, traceID, action, agent, semantic, nil,
				models.Deny, models.ReasonNoValidators, timings, start)
		}
	}

	agg := aggregate.Aggregate(semantic, results, g.Config.CoverageFloor)
	decision, reason := agg.Decision, agg.Reason
	if ctx.Err() != nil {
		decision, reason = models.Deny, models.ReasonGateTimeout
	}
	return g.finalize(ctx, traceID, action, agent, semantic, results, decision, reason, timings, start)
}

func (g *Gate) total() time.Duration {
	if g.Config.TTotal <= 0 {
		return DefaultConfig().TTotal
	}
	return g.Config.TTotal
}

func (g *Gate) maxInFlight() int {
	if g.Config.MaxInFlight <= 0 {
		return DefaultConfig().MaxInFlight
	}
	return g.Config.MaxInFlight
}

// OntologyReachable reports the same cached ontology-liveness probe used to
// gate /validate, exposed for the /health endpoint.
func (g *Gate) OntologyReachable(ctx context.Context) bool {
	return g.healthy(ctx)
}

// healthy checks ontology liveness, caching the result for TCache to keep the
// probe off the hot path of every request.
func (g *Gate) healthy(ctx context.Context) bool {
	if g.Cache != nil {
		if v, err := g.Cache.Get(ctx, healthCacheKey); err == nil {
			return v == "up"
		}
	}
	hctx, cancel := context.WithTimeout(ctx, g.healthTimeout())
	defer cancel()
	err := g.Ontology.Ping(hctx)
	status := "up"
	if err != nil {
		status = "down"
	}
	if g.Cache != nil {
		_ = g.Cache.Set(ctx, healthCacheKey, status, g.cacheTTL())
	}
	return err == nil
}

func (g *Gate) healthTimeout() time.Duration {
	if g.Config.THealth <= 0 {
		return DefaultConfig().THealth
	}
	return g.Config.THealth
}

func (g *Gate) cacheTTL() time.Duration {
	if g.Config.TCache <= 0 {
		return DefaultConfig().TCache
	}
	return g.Config.TCache
}

func (g *Gate) semanticCheck(ctx context.Context, action models.ActionPrimitive, maturity int) (models.SemanticVerdict, error) {
	timeout := g.Config.TSem
	if timeout <= 0 {
		timeout = DefaultConfig().TSem
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return g.Ontology.ValidateSemanticAuthority(sctx, action, maturity)
}

// runValidators dispatches every governing validator concurrently, joins
// under the per-validator timeout, and returns results in fixed registry
// order regardless of completion order: each goroutine writes to its own
// pre-assigned slice index, so no re-sort is needed.
func (g *Gate) runValidators(ctx context.Context, action models.ActionPrimitive, agent models.AgentContext, semantic models.SemanticVerdict, timings *models.ComponentTimings) []models.ValidatorVerdict {
	names, err := g.Ontology.RequiredValidators(ctx, action)
	if err != nil {
		g.Log.Warn("validator lookup failed", "trace_id", agent.TraceID, "error", err)
		return nil
	}
	vs := g.Registry.Resolve(names)
	if len(vs) == 0 {
		return nil
	}

	timeout := g.Config.TVal
	if timeout <= 0 {
		timeout = DefaultConfig().TVal
	}

	results := make([]models.ValidatorVerdict, len(vs))
	var wg sync.WaitGroup
	for i, v := range vs {
		wg.Add(1)
		go func(i int, v validators.Validator) {
			defer wg.Done()
			results[i] = g.runOneValidator(v, action, agent, timeout)
		}(i, v)
	}
	wg.Wait()
	return results
}

// runOneValidator isolates one validator's execution: a panic becomes a
// DENY/EXCEPTION verdict, and a validator that outruns its declared timeout is
// forcibly abandoned and recorded as DENY/TIMEOUT. The abandoned goroutine
// itself is left to finish or leak; validators are documented as pure
// functions with no I/O, so in practice it always finishes quickly, but the
// gate must not wait for it past the deadline.
func (g *Gate) runOneValidator(v validators.Validator, action models.ActionPrimitive, agent models.AgentContext, timeout time.Duration) models.ValidatorVerdict {
	done := make(chan models.ValidatorVerdict, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- models.ValidatorVerdict{
					ValidatorName: v.Name(),
					Decision:      models.Deny,
					RuleID:        models.ReasonValidatorException,
					Rationale:     fmt.Sprintf("%v", r),
				}
			}
		}()
		start := time.Now()
		result := v.Validate(action, agent)
		result.LatencyMS = elapsedMS(start)
		done <- result
	}()

	select {
	case result := <-done:
		return result
	case <-time.After(timeout):
		return models.ValidatorVerdict{
			ValidatorName: v.Name(),
			Decision:      models.Deny,
			RuleID:        models.ReasonValidatorTimeout,
			Rationale:     fmt.Sprintf("%s exceeded %dms", v.Name(), timeout.Milliseconds()),
			LatencyMS:     float64(timeout.Milliseconds()),
		}
	}
}

// finalize builds, signs, persists, and publishes the final Verdict. It is the
// single exit path for Evaluate: every stage above, including every
// short-circuit, routes through here so signing and persistence are never
// skipped, even for a DENY produced before any validator ran.
func (g *Gate) finalize(
	ctx context.Context,
	traceID string,
	action models.ActionPrimitive,
	agent models.AgentContext,
	semantic models.SemanticVerdict,
	results []models.ValidatorVerdict,
	decision models.Decision,
	reason string,
	timings models.ComponentTimings,
	start time.Time,
) models.Verdict {
	v := models.Verdict{
		TraceID:          traceID,
		Decision:         decision,
		Reason:           reason,
		Action:           action,
		AgentID:          agent.AgentID,
		AgentMaturity:    agent.MaturityLevel,
		Semantic:         semantic,
		ValidatorResults: results,
		EmittedAt:        time.Now().UTC(),
	}

	signStart := time.Now()
	sig, err := g.Signer.Sign(v)
	timings.SignMS = elapsedMS(signStart)
	if g.Metrics != nil {
		g.Metrics.ObserveSignLatency(time.Since(signStart))
	}
	if err != nil {
		v.Decision = models.Deny
		v.Reason = models.ReasonSignatureError
		v.Signature = ""
	} else {
		v.Signature = sig
	}

	persistCtx, cancel := context.WithTimeout(ctx, g.persistTimeout())
	persistStart := time.Now()
	persistErr := g.Ledger.Append(persistCtx, v)
	cancel()
	timings.PersistMS = elapsedMS(persistStart)

	v.ComponentTimings = timings
	v.GovernanceLatency = timings.HealthMS + timings.SemanticMS + timings.ValidatorsMS + timings.SignMS + timings.PersistMS

	if persistErr != nil {
		g.Log.Error("ledger append failed", "trace_id", traceID, "error", persistErr)
		g.lastPersistFailed.Store(true)
		v.Certifiable = false
		if v.Decision != models.Deny {
			v.Decision = models.Deny
			v.Reason = models.ReasonLedgerError
		}
	} else {
		g.lastPersistFailed.Store(false)
		v.Certifiable = v.Signature != "" &&
			v.GovernanceLatency <= float64(g.total().Milliseconds()) &&
			semantic.Decision == models.Allow &&
			!anyValidatorMissedDeadline(v.ValidatorResults)
	}

	if g.Metrics != nil {
		g.Metrics.IncVerdict(string(v.Decision))
		g.Metrics.IncReason(v.Reason)
		g.Metrics.IncVerdictReason(string(v.Decision), v.Reason)
	}
	if g.Publisher != nil {
		g.Publisher.Publish(ctx, v)
	}
	if g.Stream != nil {
		g.Stream.Publish(stream.NewEvent("verdict", v))
	}
	if g.Notifier != nil && v.Decision == models.Escalate {
		g.Notifier.NotifyEscalation(ctx, v)
	}

	return v
}

func (g *Gate) persistTimeout() time.Duration {
	if g.Config.TPersist <= 0 {
		return DefaultConfig().TPersist
	}
	return g.Config.TPersist
}

func elapsedMS(since time.Time) float64 {
	return float64(time.Since(since).Microseconds()) / 1000.0
}

// anyValidatorMissedDeadline reports whether any validator result came from
// runOneValidator's timeout branch or its panic-recovery branch, per spec.md
// §3 invariant 2: certifiable requires every validator to have returned
// within its declared timeout, not merely that the overall governance
// latency stayed under budget.
func anyValidatorMissedDeadline(results []models.ValidatorVerdict) bool {
	for _, r := range results {
		if r.RuleID == models.ReasonValidatorTimeout || r.RuleID == models.ReasonValidatorException {
			return true
		}
	}
	return false
}
