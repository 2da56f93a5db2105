package metrics

import (
	"time"
)

// PipelineMetrics holds the baseline pipeline metrics.
type PipelineMetrics struct {
	// Counters
	CasesTotal          *Counter
	CasesFailedTotal    *Counter
	SamplesTotal        *Counter
	SamplesSkippedTotal *Counter
	RunsTotal           *Counter

	// Gauges
	ActiveWorkers  *Gauge
	BucketsFitted  *Gauge
	BucketsDropped *Gauge
	LastRunTs      *Gauge

	// Histograms
	CaseDuration *Histogram
	RunDuration  *Histogram
}

// NewPipelineMetrics creates and registers the pipeline metrics.
func NewPipelineMetrics(registry *Registry) *PipelineMetrics {
	if registry == nil {
		registry = NewRegistry("jsdbase", "")
	}

	return &PipelineMetrics{
		// Counters
		CasesTotal: registry.RegisterCounter(
			"cases_total",
			"Total number of corpus cases sampled",
			nil,
		),
		CasesFailedTotal: registry.RegisterCounter(
			"cases_failed_total",
			"Total number of corpus cases abandoned",
			nil,
		),
		SamplesTotal: registry.RegisterCounter(
			"samples_total",
			"Total number of distance samples measured",
			nil,
		),
		SamplesSkippedTotal: registry.RegisterCounter(
			"samples_skipped_total",
			"Total number of prefix lengths without a distance",
			nil,
		),
		RunsTotal: registry.RegisterCounter(
			"runs_total",
			"Total number of pipeline runs",
			nil,
		),

		// Gauges
		ActiveWorkers: registry.RegisterGauge(
			"active_workers",
			"Number of cases currently being sampled",
			nil,
		),
		BucketsFitted: registry.RegisterGauge(
			"buckets_fitted",
			"Number of length buckets used by the last fit",
			nil,
		),
		BucketsDropped: registry.RegisterGauge(
			"buckets_dropped",
			"Number of length buckets dropped by the last fit",
			nil,
		),
		LastRunTs: registry.RegisterGauge(
			"last_run_timestamp",
			"Unix timestamp of the last completed run",
			nil,
		),

		// Histograms
		CaseDuration: registry.RegisterHistogram(
			"case_duration_seconds",
			"Duration of sampling one case in seconds",
			nil,
			DurationBuckets,
		),
		RunDuration: registry.RegisterHistogram(
			"run_duration_seconds",
			"Duration of a full pipeline run in seconds",
			nil,
			[]float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		),
	}
}

// CaseStarted marks a worker busy.
func (m *PipelineMetrics) CaseStarted() {
	m.ActiveWorkers.Inc()
}

// RecordCase records a sampled case.
func (m *PipelineMetrics) RecordCase(duration time.Duration, samples, skipped int) {
	m.ActiveWorkers.Dec()
	m.CasesTotal.Inc()
	m.SamplesTotal.Add(uint64(samples))
	m.SamplesSkippedTotal.Add(uint64(skipped))
	m.CaseDuration.ObserveDuration(duration)
}

// RecordCaseFailed records a case abandoned after CaseStarted.
func (m *PipelineMetrics) RecordCaseFailed() {
	m.ActiveWorkers.Dec()
	m.CasesFailedTotal.Inc()
}

// RecordCaseSkipped records a case that never reached a worker, such as one
// the corpus loader could not read.
func (m *PipelineMetrics) RecordCaseSkipped() {
	m.CasesFailedTotal.Inc()
}

// RecordFit records the outcome of a threshold fit.
func (m *PipelineMetrics) RecordFit(fitted, dropped int) {
	m.BucketsFitted.Set(int64(fitted))
	m.BucketsDropped.Set(int64(dropped))
}

// RecordRun records a completed run.
func (m *PipelineMetrics) RecordRun(duration time.Duration) {
	m.RunsTotal.Inc()
	m.RunDuration.ObserveDuration(duration)
	m.LastRunTs.Set(time.Now().Unix())
}

// Snapshot returns a snapshot of key metrics.
func (m *PipelineMetrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"cases_total":           m.CasesTotal.Value(),
		"cases_failed_total":    m.CasesFailedTotal.Value(),
		"samples_total":         m.SamplesTotal.Value(),
		"samples_skipped_total": m.SamplesSkippedTotal.Value(),
		"runs_total":            m.RunsTotal.Value(),
		"buckets_fitted":        m.BucketsFitted.Value(),
		"buckets_dropped":       m.BucketsDropped.Value(),
		"case_avg_seconds":      m.CaseDuration.Mean(),
	}
}
