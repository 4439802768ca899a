// Package notify pushes ESCALATE verdicts to an external human-review
// system over HTTP. It is strictly observability: a delivery failure is
// logged and dropped, never returned to the caller, and never affects
// governance_latency_ms or the verdict itself.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"sentrygate/pkg/httpx"
	"sentrygate/pkg/models"
)

// Notifier is the narrow contract Gate depends on. NotifyEscalation is
// called at most once per ESCALATE verdict, after signing and ledger
// persistence, so the payload it sends already carries a signature.
type Notifier interface {
	NotifyEscalation(ctx context.Context, v models.Verdict)
}

// WebhookNotifier POSTs escalated verdicts to a configured endpoint,
// grounded on the teacher's outbound-call shape for its verifier and ABAC
// attribute-provider integrations (an endpoint, optional auth header, and a
// bounded retry budget over httpx.RequestJSON).
type WebhookNotifier struct {
	Client     *http.Client
	Endpoint   string
	Headers    map[string]string
	Retries    int
	RetryDelay time.Duration
	Log        *slog.Logger
}

// NotifyEscalation serializes v and POSTs it to Endpoint. A non-2xx response
// or transport error is logged as a warning; sentrygate's fail-closed
// contract is already satisfied by the ledger write, so a notification
// failure cannot become a decision-path failure.
func (n WebhookNotifier) NotifyEscalation(ctx context.Context, v models.Verdict) {
	if n.Endpoint == "" {
		return
	}
	logger := n.Log
	if logger == nil {
		logger = slog.Default()
	}
	body, err := json.Marshal(v)
	if err != nil {
		logger.Warn("escalation notify marshal failed", "trace_id", v.TraceID, "error", err)
		return
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	status, _, err := httpx.RequestJSON(ctx, client, http.MethodPost, n.Endpoint, body, n.Headers, n.Retries, n.RetryDelay)
	if err != nil {
		logger.Warn("escalation notify failed", "trace_id", v.TraceID, "error", err)
		return
	}
	if status >= 300 {
		logger.Warn("escalation notify rejected", "trace_id", v.TraceID, "status", status, "error", errors.New("non-2xx response"))
	}
}

// NoopNotifier discards every escalation; used when no webhook endpoint is
// configured, so Gate never conditions its wiring on whether the human-
// review integration is enabled.
type NoopNotifier struct{}

func (NoopNotifier) NotifyEscalation(context.Context, models.Verdict) {}
