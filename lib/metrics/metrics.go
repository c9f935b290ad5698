// Package metrics holds the prometheus registry and the meters every component reports to.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registry and the walletlink meters.
type Metrics struct {
	Registry *prometheus.Registry

	ProbePasses      prometheus.Counter
	ProbeTransitions *prometheus.CounterVec
	BridgeRequests   *prometheus.CounterVec
	BridgeDuration   *prometheus.HistogramVec
	Attempts         *prometheus.CounterVec
	Orchestrations   *prometheus.CounterVec
	NameLookups      *prometheus.CounterVec
}

// New creates a registry with the process collectors and the walletlink meters.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ProbePasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletlink_probe_passes_total",
			Help: "Total number of detection passes.",
		}),
		ProbeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletlink_probe_transitions_total",
			Help: "Detected flips per provider.",
		}, []string{"provider", "detected"}),
		BridgeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletlink_bridge_requests_total",
			Help: "Bridge requests by type and outcome code.",
		}, []string{"type", "outcome"}),
		BridgeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "walletlink_bridge_request_duration_seconds",
			Help:    "Round trip duration of bridge requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletlink_connect_attempts_total",
			Help: "Connect attempts by provider and outcome code.",
		}, []string{"provider", "outcome"}),
		Orchestrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletlink_orchestrations_total",
			Help: "Orchestrator runs by outcome code.",
		}, []string{"outcome"}),
		NameLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletlink_name_lookups_total",
			Help: "Name resolution calls by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ProbePasses, m.ProbeTransitions, m.BridgeRequests, m.BridgeDuration, m.Attempts, m.Orchestrations,
		m.NameLookups,
	)

	return m
}

// Outcome returns the label for a code, "ok" for success.
func Outcome(code string) string {
	if code == "" {
		return "ok"
	}

	return code
}

// Serve exposes the registry at addr/metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	h := http.NewServeMux()
	h.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry}))

	s := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()

		_ = s.Shutdown(context.Background())
	}()

	if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}

	return nil
}
