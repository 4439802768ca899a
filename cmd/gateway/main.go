// Command gateway runs the Validation Gate HTTP service: it wires the
// ontology store, validator registry, signer, ledger, cache, rate limiter,
// and live verdict stream into one process and exposes POST /validate,
// GET /health, GET /metrics, GET /metrics/prometheus, and GET /stream.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sentrygate/pkg/audit"
	"sentrygate/pkg/auth"
	"sentrygate/pkg/gate"
	"sentrygate/pkg/hardening"
	"sentrygate/pkg/httpx"
	"sentrygate/pkg/metrics"
	"sentrygate/pkg/models"
	"sentrygate/pkg/notify"
	"sentrygate/pkg/ontology"
	"sentrygate/pkg/ratelimit"
	"sentrygate/pkg/store"
	"sentrygate/pkg/stream"
	"sentrygate/pkg/telemetry"
	"sentrygate/pkg/validators"
)

// Server holds the gate plus the HTTP-layer concerns (streaming, admin
// endpoints) that sit around it. Every field is set once at startup.
type Server struct {
	Gate                *gate.Gate
	Events              *stream.Hub
	Metrics             *metrics.Registry
	CompleteFailClosed  bool
	MaxRequestBodyBytes int64
}

// Testable indirections for main(), following the teacher's pattern of
// swapping these in tests rather than spinning up real infrastructure.
var (
	logFatalf     = log.Fatalf
	initTelemetryG = telemetry.Init
	listenFnG      = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	if err := run(context.Background(), initTelemetryG, listenFnG); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func run(ctx context.Context, initTelemetry func(context.Context, string) (func(context.Context) error, error), listen func(*http.Server) error) error {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdown, err := initTelemetry(ctx, "sentrygate-gateway")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	secret := strings.TrimSpace(os.Getenv("SIGNATURE_SECRET"))
	if secret == "" {
		return errors.New("SIGNATURE_SECRET is required")
	}

	runtimeEnv := env("ENVIRONMENT", env("APP_ENV", ""))
	if err := hardening.ValidateProduction(hardening.Options{
		Service:            "sentrygate-gateway",
		Environment:        runtimeEnv,
		StrictProdSecurity: env("STRICT_PROD_SECURITY", "true"),
		DatabaseRequireTLS: env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:          env("REDIS_ADDR", ""),
		RedisRequireTLS:    env("REDIS_REQUIRE_TLS", ""),
		CORSAllowedOrigins: env("CORS_ALLOWED_ORIGINS", ""),
		RequiredServiceSecrets: []hardening.EnvRequirement{
			{Name: "SIGNATURE_SECRET", Value: secret},
		},
	}); err != nil {
		return err
	}

	ontologyPool, err := store.NewPostgresPoolFromURL(ctx, env("ONTOLOGY_URL", ""))
	if err != nil {
		return fmt.Errorf("ontology store: %w", err)
	}
	defer ontologyPool.Close()

	ledgerDSN := env("LEDGER_URL", "")
	var ledgerPool *pgxpool.Pool
	if ledgerDSN != "" {
		ledgerPool, err = store.NewPostgresPoolFromURL(ctx, ledgerDSN)
		if err != nil {
			return fmt.Errorf("ledger store: %w", err)
		}
		defer ledgerPool.Close()
	} else {
		ledgerPool = ontologyPool
	}

	redisClient, err := store.NewRedis(ctx)
	if err != nil {
		log.Warn("redis unavailable, falling back to in-memory cache/limits", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	cache := store.NewCache(ctx, redisClient)

	var limiter ratelimit.Limiter
	rateLimitWindow := time.Second * time.Duration(envInt("RATE_LIMIT_WINDOW_SEC", 60))
	if redisClient != nil {
		limiter = ratelimit.NewRedis(redisClient, rateLimitWindow)
	} else {
		limiter = ratelimit.NewInMemory(rateLimitWindow)
	}

	var publisher audit.Publisher = audit.NoopPublisher{}
	if brokers := env("KAFKA_BROKERS", ""); brokers != "" {
		topic := env("KAFKA_VERDICT_TOPIC", "sentrygate.verdicts")
		kp := audit.NewKafkaPublisher(strings.Split(brokers, ","), topic, log)
		defer func() { _ = kp.Close() }()
		publisher = kp
	}

	var notifier notify.Notifier = notify.NoopNotifier{}
	if webhookURL := env("ESCALATION_WEBHOOK_URL", ""); webhookURL != "" {
		headers := map[string]string{}
		if h := env("ESCALATION_WEBHOOK_AUTH_HEADER", ""); h != "" {
			headers[h] = env("ESCALATION_WEBHOOK_AUTH_TOKEN", "")
		}
		notifier = notify.WebhookNotifier{
			Endpoint:   webhookURL,
			Headers:    headers,
			Retries:    envInt("ESCALATION_WEBHOOK_RETRIES", 2),
			RetryDelay: envDuration("ESCALATION_WEBHOOK_RETRY_DELAY_MS", 200*time.Millisecond),
			Log:        log,
		}
	}

	cfg := gate.DefaultConfig()
	cfg.THealth = envDuration("T_HEALTH_MS", cfg.THealth)
	cfg.TSem = envDuration("T_SEM_MS", cfg.TSem)
	cfg.TVal = envDuration("T_VAL_MS", cfg.TVal)
	cfg.TPersist = envDuration("T_PERSIST_MS", cfg.TPersist)
	cfg.TCache = envDuration("T_CACHE_MS", cfg.TCache)
	cfg.TTotal = envDuration("T_TOTAL_MS", cfg.TTotal)
	cfg.CoverageFloor = envFloat("COVERAGE_FLOOR", cfg.CoverageFloor)
	cfg.CompleteFailClosed = env("COMPLETE_FAIL_CLOSED", "false") == "true"
	cfg.MaxInFlight = envInt("MAX_IN_FLIGHT", cfg.MaxInFlight)

	events := stream.NewHub()
	metricsReg := metrics.NewRegistry()

	g := &gate.Gate{
		Ontology:  ontology.NewStore(ontologyPool),
		Registry:  validators.NewRegistry(),
		Signer:    auth.Signer{Secret: []byte(secret)},
		Ledger:    audit.NewPostgresLedger(ledgerPool),
		Publisher: publisher,
		Notifier:  notifier,
		Cache:     cache,
		Stream:    events,
		Metrics:   metricsReg,
		Limiter:   limiter,
		Log:       log,
		Config:    cfg,
	}

	s := &Server{
		Gate:                g,
		Events:              events,
		Metrics:             metricsReg,
		CompleteFailClosed:  cfg.CompleteFailClosed,
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
	}

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("sentrygate-gateway"))
	r.Use(s.limitRequestBodyMiddleware)

	r.Get("/health", s.handleHealth)
	r.Post("/validate", s.handleValidate)
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	r.Get("/stream", s.handleStream)

	addr := env("ADDR", ":8080")
	log.Info("gateway listening", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return listen(server)
}

type validateRequest struct {
	Action  models.ActionPrimitive `json:"action"`
	AgentID string                 `json:"agent_id"`
	Maturity int                   `json:"maturity_level"`
	TraceID string                 `json:"trace_id"`
}

// handleValidate is the gate's one HTTP entry point. It always answers 200
// with a Verdict body: ALLOW/DENY/ESCALATE are not HTTP-level errors. The
// only exception is COMPLETE_FAIL_CLOSED: when the ledger write failed on
// this request and the operator has opted into failing closed at the HTTP
// layer too, the response is 503 instead of 200, signaling upstream retry
// logic that the audit trail itself could not be trusted for this call.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Action.Verb == "" || req.Action.Domain == "" {
		httpx.Error(w, http.StatusBadRequest, "action.verb and action.domain are required")
		return
	}

	agentCtx := models.AgentContext{
		AgentID:        req.AgentID,
		MaturityLevel:  req.Maturity,
		TraceID:        req.TraceID,
		SubmissionTime: time.Now().UTC(),
	}
	verdict := s.Gate.Evaluate(r.Context(), req.Action, agentCtx)

	status := http.StatusOK
	if s.CompleteFailClosed && s.Gate.LastPersistFailed() {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, verdict)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reachable := s.Gate.OntologyReachable(r.Context())
	status := "ok"
	if !reachable {
		status = "degraded"
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":             status,
		"ontology_reachable": reachable,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.code = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		path := r.Method + " " + r.URL.Path
		s.Metrics.Observe(path, rec.code, elapsed)
		s.Metrics.ObserveLatency(path, elapsed)
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
