package kitd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is kitd's read-only observability surface (SPEC_FULL.md
// section 8.1) — never a control surface: nothing here accepts a
// request that changes supervision state.
type Metrics struct {
	registry    *prometheus.Registry
	restarts    *prometheus.CounterVec
	crashes     prometheus.Counter
	childUptime prometheus.Gauge
	backoff     prometheus.Gauge
}

// NewMetrics registers kitd's counters and gauges on a private registry
// (not the global default), so the library stays embeddable and tests
// stay free of global-registrar collisions.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitd_restart_total",
			Help: "Total number of times kitd has scheduled a child restart.",
		}, []string{"reason"}),
		crashes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kitd_crash_total",
			Help: "Total number of times the child exited abnormally.",
		}),
		childUptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kitd_child_uptime_seconds",
			Help: "Uptime of the currently supervised child, 0 when none is running.",
		}),
		backoff: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kitd_backoff_seconds",
			Help: "Current restart backoff interval in seconds.",
		}),
	}
	m.registry.MustRegister(m.restarts, m.crashes, m.childUptime, m.backoff)
	return m
}

// RecordRestart increments the restart counter, labeled by whether the
// prior run cleared cooloff.
func (m *Metrics) RecordRestart(clearedCooloff bool) {
	reason := "backoff"
	if clearedCooloff {
		reason = "cooloff"
	}
	m.restarts.WithLabelValues(reason).Inc()
}

// RecordCrash increments the crash counter.
func (m *Metrics) RecordCrash() { m.crashes.Inc() }

// SetChildUptime records the tracked child's current uptime, or 0.
func (m *Metrics) SetChildUptime(d time.Duration) { m.childUptime.Set(d.Seconds()) }

// SetBackoff records the current backoff value.
func (m *Metrics) SetBackoff(d time.Duration) { m.backoff.Set(d.Seconds()) }

// Serve starts the /metrics endpoint and blocks until ctx is canceled.
// Unlike the teacher's startMetricsServer, there are no /child/*
// endpoints here: spec.md's non-goals explicitly exclude a network
// control surface, so only the read-only scrape handler survives.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *LogSink) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics: listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server: %v", err)
	}
}
