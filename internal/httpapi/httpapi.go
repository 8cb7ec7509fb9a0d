// Package httpapi implements the HTTP API for Beacon.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Per-client rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/nordvik/beacon/internal/notification"
	"github.com/nordvik/beacon/internal/observability"
	"github.com/nordvik/beacon/internal/ratelimit"
	"github.com/nordvik/beacon/internal/scheduler"
)

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API.
type Config struct {
	ListenAddr string   // e.g., ":8080"
	EnableDocs bool     // Serve OpenAPI docs.
	APIKeys    []string // Accepted bearer keys. Empty = unauthenticated (local use).

	// Observability
	MetricsRegistry *prometheus.Registry         // Custom Prometheus registry for /metrics.
	MetricsPath     string                       // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker // Health checker for /readyz.
	Metrics         *observability.HTTPMetrics   // Metrics for HTTP middleware.
	Tracer          trace.Tracer                 // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API server.
type Gateway struct {
	config      Config
	loop        *scheduler.Loop
	suggestions SuggestionStore
	runs        RunStore
	dispatcher  *notification.Dispatcher
	limiter     *ratelimit.Limiter
	hub         *Hub // nil = run-event stream disabled.
	logger      *slog.Logger
	server      *http.Server
	okapi       *okapi.Okapi
	group       *okapi.Group
}

// NewGateway creates the HTTP API server.
func NewGateway(cfg Config, loop *scheduler.Loop, suggestions SuggestionStore, runs RunStore, d *notification.Dispatcher, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:      cfg,
		loop:        loop,
		suggestions: suggestions,
		runs:        runs,
		dispatcher:  d,
		limiter:     rl,
		logger:      logger,
		okapi:       okapi.New(),
	}
}

// WithStream attaches the run-event hub and enables GET /v1/runs/stream.
func (g *Gateway) WithStream(hub *Hub) *Gateway {
	g.hub = hub
	return g
}

// WithOpenAPIDocs enables the OpenAPI documentation endpoint.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Beacon",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	middlewares := []okapi.Middleware{g.authenticate}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append(middlewares, observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer))
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", middlewares...)

	// Schedule endpoints.
	g.group.Get("/schedule", g.handleScheduleGet,
		okapi.DocSummary("Get the execution schedule"),
		okapi.DocTags("Schedule"),
		okapi.DocResponse(ScheduleResponse{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Put("/schedule", g.handleScheduleUpdate,
		okapi.DocSummary("Update the execution schedule"),
		okapi.DocTags("Schedule"),
		okapi.DocRequestBody(ScheduleRequest{}),
		okapi.DocResponse(ScheduleResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Post("/schedule/trigger", g.handleTrigger,
		okapi.DocSummary("Trigger an autonomous run immediately"),
		okapi.DocTags("Schedule"),
		okapi.DocResponse(http.StatusAccepted, TriggerResponse{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)

	// Channel test endpoint.
	g.group.Post("/channels/test", g.handleChannelTest,
		okapi.DocSummary("Send a test notification to the given channels"),
		okapi.DocTags("Channels"),
		okapi.DocRequestBody(ChannelTestRequest{}),
		okapi.DocResponse(ChannelTestResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)

	// Suggestion endpoints.
	g.group.Post("/suggestions", g.handleSuggestionCreate,
		okapi.DocSummary("Queue a suggestion for delivery"),
		okapi.DocTags("Suggestions"),
		okapi.DocRequestBody(SuggestionRequest{}),
		okapi.DocResponse(http.StatusCreated, SuggestionResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/suggestions", g.handleSuggestionList,
		okapi.DocSummary("List suggestions"),
		okapi.DocTags("Suggestions"),
		okapi.DocResponse([]SuggestionResponse{}),
	)
	g.group.Get("/suggestions/{id}", g.handleSuggestionGet,
		okapi.DocSummary("Get a suggestion by ID"),
		okapi.DocTags("Suggestions"),
		okapi.DocPathParam("id", "string", "Suggestion ID (UUID)"),
		okapi.DocResponse(SuggestionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Delete("/suggestions/{id}", g.handleSuggestionDelete,
		okapi.DocSummary("Delete a suggestion"),
		okapi.DocTags("Suggestions"),
		okapi.DocPathParam("id", "string", "Suggestion ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Run history.
	g.group.Get("/runs", g.handleRunList,
		okapi.DocSummary("List recent autonomous runs"),
		okapi.DocTags("Runs"),
		okapi.DocResponse([]RunResponse{}),
	)

	// Live run-event stream (WebSocket, authenticated inside the handler).
	if g.hub != nil {
		g.okapi.HandleStd("GET", "/v1/runs/stream", g.handleRunStream)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api stopping")
	return g.okapi.Shutdown(g.server)
}

// HealthResponse is the JSON response for liveness.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the bearer API key. With no keys configured the API
// runs open, for local single-user setups behind a firewall.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			c.Set("clientKey", "local")
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			g.countAuthFailure()
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		matched := false
		for _, key := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				matched = true
			}
		}
		if !matched {
			g.countAuthFailure()
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("clientKey", apiKey)
		return next(c)
	}
}

// rateLimit enforces the per-client budget. Returns a non-nil response error
// when the request was rejected.
func (g *Gateway) rateLimit(c *okapi.Context) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Allow(c.GetString("clientKey")); err != nil {
		if g.config.Metrics != nil {
			g.config.Metrics.RateLimited.Inc()
		}
		return c.AbortTooManyRequests("rate limit exceeded")
	}
	return nil
}

func (g *Gateway) countAuthFailure() {
	if g.config.Metrics != nil {
		g.config.Metrics.AuthFailures.Inc()
	}
}
