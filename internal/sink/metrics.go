package sink

import (
	"context"
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics turns events into Prometheus series on its own registry.
type Metrics struct {
	reg *prometheus.Registry

	Opportunities   *prometheus.CounterVec
	EstimatedProfit prometheus.Histogram
	Rejections      *prometheus.CounterVec
	Started         prometheus.Counter
	Transitions     *prometheus.CounterVec
	Results         *prometheus.CounterVec
	RealizedProfit  prometheus.Counter
	Drift           prometheus.Histogram
	GasUsed         prometheus.Counter
	Duration        prometheus.Histogram
	ForcedCloses    *prometheus.CounterVec
	SinkErrors      *prometheus.CounterVec
	InFlight        prometheus.Gauge
	Exposure        prometheus.Gauge
}

// NewMetrics registers every series under namespace (default "flasharb").
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "flasharb"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		Opportunities: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "opportunities_total",
			Help:      "Opportunities found by asset and venue pair",
		}, []string{"asset", "venues"}),
		EstimatedProfit: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "estimated_profit",
			Help:      "Estimated net profit per opportunity in quote units",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "rejections_total",
			Help:      "Risk gate rejections by reason",
		}, []string{"reason"}),
		Started: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "units_started_total",
			Help:      "Execution units started",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "transitions_total",
			Help:      "Execution state transitions by target state",
		}, []string{"to"}),
		Results: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "results_total",
			Help:      "Execution results by outcome and failure reason",
		}, []string{"outcome", "reason"}),
		RealizedProfit: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "realized_profit_total",
			Help:      "Sum of positive realized profit in quote units",
		}),
		Drift: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "profit_drift",
			Help:      "Realized minus estimated profit per settled unit",
			Buckets:   []float64{-100, -50, -20, -10, -5, -1, 0, 1, 5, 10, 20, 50, 100},
		}),
		GasUsed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "gas_used_total",
			Help:      "Gas consumed by settled units",
		}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "unit_duration_seconds",
			Help:      "Wall time from unit start to result",
			Buckets:   prometheus.DefBuckets,
		}),
		ForcedCloses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "forced_closes_total",
			Help:      "Forced position closes by reason",
		}, []string{"reason"}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Failed sink backend writes",
		}, []string{"backend"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "in_flight",
			Help:      "Execution units currently running",
		}),
		Exposure: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "exposure",
			Help:      "Total open exposure in quote units",
		}),
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// SinkError counts a failed backend write. It matches Fanout.OnError.
func (m *Metrics) SinkError(backend string) {
	m.SinkErrors.WithLabelValues(backend).Inc()
}

func (m *Metrics) Name() string { return "metrics" }

func (m *Metrics) Write(_ context.Context, ev domain.Event) error {
	switch ev.Type {
	case domain.EventOpportunityFound:
		if o := ev.Opportunity; o != nil {
			m.Opportunities.WithLabelValues(string(o.Asset), o.Venues().String()).Inc()
			p, _ := o.EstimatedProfit.Float64()
			m.EstimatedProfit.Observe(p)
		}
	case domain.EventRiskRejected:
		if a := ev.Assessment; a != nil {
			m.Rejections.WithLabelValues(a.Reason).Inc()
		}
	case domain.EventExecutionStarted:
		m.Started.Inc()
	case domain.EventStateChanged:
		if t := ev.Transition; t != nil {
			m.Transitions.WithLabelValues(string(t.To)).Inc()
		}
	case domain.EventExecutionResult:
		if r := ev.Result; r != nil {
			m.observeResult(*r)
		}
	case domain.EventForcedClose:
		if fc := ev.ForcedClose; fc != nil {
			m.ForcedCloses.WithLabelValues(fc.Reason).Inc()
		}
	}
	return nil
}

func (m *Metrics) observeResult(r domain.ExecutionResult) {
	outcome := "failure"
	if r.Success {
		outcome = "success"
	}
	m.Results.WithLabelValues(outcome, r.FailureReason).Inc()
	if !r.Success {
		return
	}
	if r.RealizedProfit.IsPositive() {
		p, _ := r.RealizedProfit.Float64()
		m.RealizedProfit.Add(p)
	}
	drift, _ := r.Drift.Float64()
	m.Drift.Observe(drift)
	m.GasUsed.Add(float64(r.GasUsed))
	if !r.StartedAt.IsZero() && r.FinishedAt.After(r.StartedAt) {
		m.Duration.Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
	}
}

var _ Backend = (*Metrics)(nil)
