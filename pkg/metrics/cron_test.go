package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsExportsRunsAndDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	metrics.now = func() time.Time { return time.Unix(1760000000, 0) }
	job := "recovery"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)
	metrics.IncFailure(job)
	metrics.IncSkipped()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	runs := findMetricFamily(mfs, "dropship_cron_job_runs_total")
	if runs == nil {
		t.Fatalf("runs metric missing")
	}
	results := map[string]float64{}
	for _, metric := range runs.GetMetric() {
		if !matchesLabel(metric.GetLabel(), "job", job) {
			continue
		}
		for _, label := range metric.GetLabel() {
			if label.GetName() == "result" {
				results[label.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}
	if results["success"] != 1 || results["failure"] != 2 {
		t.Fatalf("unexpected run counts %v", results)
	}

	last := findMetricFamily(mfs, "dropship_cron_job_last_success_timestamp_seconds")
	if last == nil || last.GetMetric()[0].GetGauge().GetValue() != 1760000000 {
		t.Fatalf("unexpected last success gauge %v", last)
	}

	skipped := findMetricFamily(mfs, "dropship_cron_cycles_skipped_total")
	if skipped == nil || skipped.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("unexpected skipped counter %v", skipped)
	}

	if got, err := fetchHistogramSum(mfs, "dropship_cron_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestFulfillmentMetricsCountsOutcomesAndHalts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFulfillmentMetrics(reg)
	m.IncOutcome("cj_paid")
	m.IncOutcome("cj_paid")
	m.IncHalt("spend_cap")
	m.IncStepFailure("")
	m.SetDailySpend(1234)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "dropship_fulfillment_outcomes_total", "outcome", "cj_paid"); err != nil || got != 2 {
		t.Fatalf("expected 2 cj_paid outcomes, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "dropship_recovery_breaker_halts_total", "breaker", "spend_cap"); err != nil || got != 1 {
		t.Fatalf("expected 1 spend_cap halt, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "dropship_recovery_step_failures_total", "step", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected empty step label normalized, got %f (%v)", got, err)
	}
	spend := findMetricFamily(mfs, "dropship_daily_spend_cents")
	if spend == nil || spend.GetMetric()[0].GetGauge().GetValue() != 1234 {
		t.Fatalf("unexpected spend gauge %v", spend)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *FulfillmentMetrics
	m.IncOutcome("x")
	m.IncHalt("x")
	NewCronJobMetrics(nil).IncSuccess("x")
	NewCronJobMetrics(nil).IncSkipped()
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
