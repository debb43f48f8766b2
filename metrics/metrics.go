// Package metrics exports dispatch statistics to Prometheus.
//
// Usage:
//
//	m := metrics.New(prometheus.NewRegistry())
//	d := dynvoke.NewDispatcher(reg).WithHook(m)
//	m.WatchServer(server)
//	http.Handle("/metrics", m.Handler())
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/broady/dynvoke"
)

const namespace = "dynvoke"

// Metrics is a dynvoke.DispatchHook recording request counts and latencies.
type Metrics struct {
	reg      *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	active   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	labels := []string{"group", "action", "transport", "status"}
	m := &Metrics{
		reg: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of dispatched requests by outcome.",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent dispatching requests.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatches_active",
			Help:      "Requests currently inside the dispatcher.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.active)
	return m
}

// WatchServer exports the server's in-flight connection count and state.
// Call it once per server.
func (m *Metrics) WatchServer(s *dynvoke.Server) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_in_flight",
			Help:      "Accepted connections not yet closed.",
		}, func() float64 { return float64(s.InFlight()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_listening",
			Help:      "1 while the server accepts connections.",
		}, func() float64 {
			if s.State() == dynvoke.StateListening {
				return 1
			}
			return 0
		}),
	)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) OnDispatchStart(ctx context.Context, info dynvoke.DispatchInfo) (context.Context, dynvoke.HookToken) {
	m.active.Inc()
	return ctx, nil
}

func (m *Metrics) OnDispatchEnd(ctx context.Context, token dynvoke.HookToken, info dynvoke.DispatchInfo, result dynvoke.DispatchResult) {
	m.active.Dec()
	transport := info.Transport
	if transport == "" {
		transport = "direct"
	}
	labels := prometheus.Labels{
		"group":     info.Group,
		"action":    info.Action,
		"transport": transport,
		"status":    strconv.Itoa(result.StatusCode),
	}
	m.requests.With(labels).Inc()
	m.duration.With(labels).Observe(result.Duration.Seconds())
}
