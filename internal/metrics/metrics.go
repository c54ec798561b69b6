// Package metrics exposes the prometheus collectors tracking scheduler and
// decision-engine activity.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles all runtime-level metrics registered on boot.
type Collectors struct {
	CyclesTotal       *prometheus.CounterVec
	DecisionLatency   *prometheus.HistogramVec
	ReadinessLevel    *prometheus.GaugeVec
	KillSwitchActive  prometheus.Gauge
	LLMCallsTotal     *prometheus.CounterVec
	LLMLatency        prometheus.Histogram
}

// New constructs and registers all collectors against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onlytrade",
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Total completed scheduler cycles per trader.",
		}, []string{"trader_id"}),
		DecisionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "onlytrade",
			Subsystem: "decision",
			Name:      "latency_seconds",
			Help:      "Decision pipeline latency per trader cycle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trader_id"}),
		ReadinessLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "onlytrade",
			Subsystem: "data",
			Name:      "readiness_level",
			Help:      "Current data readiness level (0=OK,1=WARN,2=ERROR) per trader.",
		}, []string{"trader_id"}),
		KillSwitchActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "onlytrade",
			Subsystem: "runtime",
			Name:      "kill_switch_active",
			Help:      "1 if the global kill switch is active.",
		}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onlytrade",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM decision client calls by outcome.",
		}, []string{"outcome"}),
		LLMLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "onlytrade",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM call latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.CyclesTotal,
		c.DecisionLatency,
		c.ReadinessLevel,
		c.KillSwitchActive,
		c.LLMCallsTotal,
		c.LLMLatency,
	)
	return c
}
