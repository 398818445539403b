package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joescharf/callsage/internal/apperr"
	"github.com/joescharf/callsage/internal/llm"
)

const namespace = "callsage"

// Metrics exposes Prometheus collectors for review generation and chat activity.
type Metrics struct {
	registry      *prometheus.Registry
	generations   *prometheus.CounterVec
	chatTurns     *prometheus.CounterVec
	modelDuration *prometheus.HistogramVec
	modelInflight prometheus.Gauge
}

// New builds a Metrics instance backed by its own registry, so multiple
// servers in one process (tests) never collide on registration.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reviews_generated_total",
				Help:      "Review generations by outcome (ok or error kind).",
			},
			[]string{"outcome"},
		),
		chatTurns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_turns_total",
				Help:      "Chat turns by reply kind (answer, amendment or error).",
			},
			[]string{"kind"},
		),
		modelDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_request_duration_seconds",
				Help:      "Latency of language model calls.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"status"},
		),
		modelInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_requests_in_flight",
				Help:      "Language model calls currently awaiting a response.",
			},
		),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.generations, m.chatTurns, m.modelDuration, m.modelInflight,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveGeneration counts one Generate call; err nil counts as "ok".
func (m *Metrics) ObserveGeneration(err error) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(outcome(err)).Inc()
}

// ObserveChatTurn counts one chat turn by reply kind, or "error".
func (m *Metrics) ObserveChatTurn(kind string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		kind = "error"
	}
	m.chatTurns.WithLabelValues(kind).Inc()
}

// Instrument wraps a model so every call is timed and counted.
func (m *Metrics) Instrument(model llm.Model) llm.Model {
	if m == nil {
		return model
	}
	return &instrumentedModel{next: model, m: m}
}

type instrumentedModel struct {
	next llm.Model
	m    *Metrics
}

func (i *instrumentedModel) Invoke(ctx context.Context, inv *llm.Invocation) (*llm.Result, error) {
	i.m.modelInflight.Inc()
	defer i.m.modelInflight.Dec()

	start := time.Now()
	res, err := i.next.Invoke(ctx, inv)
	i.m.modelDuration.WithLabelValues(outcome(err)).Observe(time.Since(start).Seconds())
	return res, err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.Classify(err))
}
