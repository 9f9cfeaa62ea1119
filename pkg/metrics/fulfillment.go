package metrics

import "github.com/prometheus/client_golang/prometheus"

// FulfillmentMetrics tracks placer outcomes and scheduler circuit breakers.
type FulfillmentMetrics struct {
	outcomes     *prometheus.CounterVec
	halts        *prometheus.CounterVec
	stepFailures *prometheus.CounterVec
	spendCents   prometheus.Gauge
}

func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fulfillment_outcomes_total",
		Help:      "Supplier order placement attempts by outcome.",
	}, []string{"outcome"})
	halts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recovery_breaker_halts_total",
		Help:      "Recovery runs halted by a circuit breaker.",
	}, []string{"breaker"})
	stepFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recovery_step_failures_total",
		Help:      "Recovery scheduler steps that reported an error.",
	}, []string{"step"})
	spend := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daily_spend_cents",
		Help:      "Supplier spend for the current UTC day as of the last recovery run.",
	})
	reg.MustRegister(outcomes, halts, stepFailures, spend)
	return &FulfillmentMetrics{
		outcomes:     outcomes,
		halts:        halts,
		stepFailures: stepFailures,
		spendCents:   spend,
	}
}

func (m *FulfillmentMetrics) IncOutcome(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *FulfillmentMetrics) IncHalt(breaker string) {
	if m == nil || m.halts == nil {
		return
	}
	m.halts.WithLabelValues(normalizeLabel(breaker)).Inc()
}

func (m *FulfillmentMetrics) IncStepFailure(step string) {
	if m == nil || m.stepFailures == nil {
		return
	}
	m.stepFailures.WithLabelValues(normalizeLabel(step)).Inc()
}

func (m *FulfillmentMetrics) SetDailySpend(cents int64) {
	if m == nil || m.spendCents == nil {
		return
	}
	m.spendCents.Set(float64(cents))
}
