// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

// Package metrics provides HTTP endpoints for Prometheus metrics and
// health probes, used by the watch command and long-running suites.
package metrics

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the observed stream is attached.
type ReadinessChecker func() bool

// Metrics contains custom Prometheus metrics for probekit.
type Metrics struct {
	EventsTotal     *prometheus.CounterVec
	GapsTotal       prometheus.Counter
	WaitDuration    prometheus.Histogram
	StepsTotal      *prometheus.CounterVec
	ReconnectsTotal prometheus.Counter
}

// NewMetrics creates and registers custom probekit metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probekit_events_total",
				Help: "Total number of events observed by type",
			},
			[]string{"type"},
		),
		GapsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "probekit_gaps_total",
				Help: "Total number of gap markers emitted after stream reconnects",
			},
		),
		WaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "probekit_wait_duration_seconds",
				Help:    "Time spent waiting for a matching event",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		StepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probekit_scenario_steps_total",
				Help: "Total number of scenario steps by kind and status",
			},
			[]string{"kind", "status"},
		),
		ReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "probekit_stream_reconnects_total",
				Help: "Total number of event stream reconnect attempts",
			},
		),
	}

	reg.MustRegister(m.EventsTotal)
	reg.MustRegister(m.GapsTotal)
	reg.MustRegister(m.WaitDuration)
	reg.MustRegister(m.StepsTotal)
	reg.MustRegister(m.ReconnectsTotal)

	return m
}

// ObserveEvent records one observed stream event.
func (m *Metrics) ObserveEvent(eventType string, gap bool) {
	m.EventsTotal.WithLabelValues(eventType).Inc()
	if gap {
		m.GapsTotal.Inc()
	}
}

// ObserveStep records one finished scenario step.
func (m *Metrics) ObserveStep(kind string, failed bool) {
	status := "pass"
	if failed {
		status = "fail"
	}
	m.StepsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveWait records the latency of one successful event wait.
func (m *Metrics) ObserveWait(waited time.Duration) {
	m.WaitDuration.Observe(waited.Seconds())
}

// ObserveReconnect records one stream reconnect.
func (m *Metrics) ObserveReconnect() {
	m.ReconnectsTotal.Inc()
}

// Server provides HTTP endpoints for metrics and health probes.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new metrics server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9290", ":9290" for all interfaces).
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	// Create a new registry to avoid polluting the global one
	registry := prometheus.NewRegistry()

	// Register standard Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Register custom metrics
	metrics := NewMetrics(registry)

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
	}
}

// Metrics returns the custom metrics for recording stream and step events.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving the metrics endpoints.
// It returns an error channel that will receive any errors from the HTTP server
// after it starts. The channel is closed when the server stops gracefully.
// Callers should monitor this channel to detect server failures.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("metrics server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	// Kubernetes-style health probes
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	// Create buffered error channel so the goroutine doesn't block
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		// Use local httpSrv to avoid race with subsequent Start() calls
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("metrics server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("metrics server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	// Use CompareAndSwap to atomically transition from running to stopped.
	// This prevents a race where a concurrent Start() could succeed between
	// checking the running state and setting it to false.
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Restore running state on failure so the server can be stopped again
			s.running.Store(true)
			return oops.With("operation", "shutdown_metrics_server").Wrap(err)
		}
	}

	slog.Info("metrics server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleLiveness returns 200 if the process is running.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 if the watched stream is attached,
// or 503 if not.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
