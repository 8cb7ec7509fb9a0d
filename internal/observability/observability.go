// Package observability provides Prometheus metrics, OpenTelemetry tracing,
// and health checks for Beacon. Tracing is optional and nil-safe: when
// disabled, callers pay a single nil check per operation.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nordvik/beacon/internal/config"
)

// Observability is the top-level facade. The Registry is always present;
// Tracer may be nil when tracing is disabled.
type Observability struct {
	Registry *prometheus.Registry
	HTTP     *HTTPMetrics
	Tracer   *TracerSetup
	Health   *HealthChecker
}

// New creates an Observability instance from config. A nil config means
// metrics and health only, no tracing.
func New(cfg *config.ObservabilityConfig, logger *slog.Logger) (*Observability, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	obs := &Observability{
		Registry: reg,
		HTTP:     NewHTTPMetrics(reg),
		Health:   NewHealthChecker(logger),
	}

	if cfg != nil && cfg.Tracing != nil && cfg.Tracing.Enabled {
		ts, err := NewTracerSetup(cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}

	return obs, nil
}

// Shutdown releases observability resources.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil {
		return
	}
	if o.Tracer != nil {
		_ = o.Tracer.Shutdown(ctx)
	}
}
