package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sentrygate/pkg/audit"
	"sentrygate/pkg/gate"
	"sentrygate/pkg/metrics"
	"sentrygate/pkg/models"
	"sentrygate/pkg/validators"
)

type fakeOntology struct{ pingErr error }

func (fakeOntology) ValidateSemanticAuthority(ctx context.Context, action models.ActionPrimitive, maturity int) (models.SemanticVerdict, error) {
	return models.SemanticVerdict{Decision: models.Allow, Coverage: 1.0, Reason: "SEMANTIC_OK"}, nil
}
func (fakeOntology) RequiredValidators(ctx context.Context, action models.ActionPrimitive) ([]string, error) {
	return nil, nil
}
func (f fakeOntology) Ping(context.Context) error { return f.pingErr }

type fakeSigner struct{}

func (fakeSigner) Sign(v models.Verdict) (string, error) { return "sig", nil }

type fakeLedger struct{ failNext bool }

func (l *fakeLedger) Append(ctx context.Context, v models.Verdict) error {
	if l.failNext {
		return context.DeadlineExceeded
	}
	return nil
}
func (l *fakeLedger) Stats(ctx context.Context, sinceHours int) (audit.Stats, error) {
	return audit.Stats{}, nil
}

func newTestServer(t *testing.T, ledger *fakeLedger, failClosed bool) *Server {
	t.Helper()
	g := &gate.Gate{
		Ontology:  fakeOntology{},
		Registry:  validators.NewRegistry(),
		Signer:    fakeSigner{},
		Ledger:    ledger,
		Publisher: audit.NoopPublisher{},
		Log:       slog.Default(),
		Config:    gate.DefaultConfig(),
	}
	return &Server{
		Gate:                g,
		Metrics:             metrics.NewRegistry(),
		CompleteFailClosed:  failClosed,
		MaxRequestBodyBytes: 1 << 20,
	}
}

func TestHandleValidate_ReturnsAllow(t *testing.T) {
	s := newTestServer(t, &fakeLedger{}, false)
	body := `{"action":{"verb":"get_status","domain":"aviation"},"maturity_level":3}`
	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.handleValidate(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var v models.Verdict
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Decision != models.Allow {
		t.Fatalf("expected ALLOW, got %+v", v)
	}
}

func TestHandleValidate_RejectsMissingVerb(t *testing.T) {
	s := newTestServer(t, &fakeLedger{}, false)
	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(`{"action":{"domain":"aviation"}}`))
	rr := httptest.NewRecorder()
	s.handleValidate(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleValidate_CompleteFailClosedReturns503OnLedgerFailure(t *testing.T) {
	s := newTestServer(t, &fakeLedger{failNext: true}, true)
	body := `{"action":{"verb":"get_status","domain":"aviation"},"maturity_level":3}`
	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.handleValidate(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandleValidate_NotFailClosedStillReturns200OnLedgerFailure(t *testing.T) {
	s := newTestServer(t, &fakeLedger{failNext: true}, false)
	body := `{"action":{"verb":"get_status","domain":"aviation"},"maturity_level":3}`
	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.handleValidate(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHandleHealth_OntologyReachable(t *testing.T) {
	s := newTestServer(t, &fakeLedger{}, false)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.handleHealth(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if reachable, ok := body["ontology_reachable"].(bool); !ok || !reachable {
		t.Fatalf("expected ontology_reachable true, got %v", body["ontology_reachable"])
	}
}

func TestHandleHealth_OntologyUnreachableReportsDegraded(t *testing.T) {
	s := newTestServer(t, &fakeLedger{}, false)
	s.Gate.Ontology = fakeOntology{pingErr: context.DeadlineExceeded}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.handleHealth(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "degraded" {
		t.Fatalf("expected status degraded, got %v", body["status"])
	}
	if reachable, ok := body["ontology_reachable"].(bool); !ok || reachable {
		t.Fatalf("expected ontology_reachable false, got %v", body["ontology_reachable"])
	}
}

func TestLimitRequestBodyMiddleware(t *testing.T) {
	s := newTestServer(t, &fakeLedger{}, false)
	s.MaxRequestBodyBytes = 4
	called := false
	h := s.limitRequestBodyMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, _ = io.ReadAll(r.Body)
	}))
	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader("way too long body"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if !called {
		t.Fatal("expected handler to be invoked")
	}
}

func TestEnvHelpers(t *testing.T) {
	if got := env("SENTRYGATE_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := envInt("SENTRYGATE_TEST_UNSET", 7); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	if got := envFloat("SENTRYGATE_TEST_UNSET", 0.8); got != 0.8 {
		t.Fatalf("expected 0.8, got %v", got)
	}
}
