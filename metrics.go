package rlcm

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational metrics from the hierarchical
// matrix, the estimator and the kriging layer. Implement it to export to a
// monitoring system; cmd/rlcmgp ships a Prometheus implementation.
type MetricsCollector interface {
	// RecordBuild is called after each compression of a hierarchical matrix.
	// n is the number of points and nodes the number of tree nodes.
	RecordBuild(n, nodes int, duration time.Duration, err error)

	// RecordFactorize is called after each factorization. warnings is the
	// number of numerical-stability warnings raised.
	RecordFactorize(n int, duration time.Duration, warnings int, err error)

	// RecordLogLik is called after each log-likelihood evaluation.
	RecordLogLik(duration time.Duration, err error)

	// RecordPredict is called after each kriging batch of count test points.
	RecordPredict(count int, duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(int, int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordFactorize(int, time.Duration, int, error) {}
func (NoopMetricsCollector) RecordLogLik(time.Duration, error)              {}
func (NoopMetricsCollector) RecordPredict(int, time.Duration, error)        {}

// BasicMetricsCollector keeps simple in-memory counters.
type BasicMetricsCollector struct {
	BuildCount       atomic.Int64
	BuildErrors      atomic.Int64
	BuildTotalNanos  atomic.Int64
	FactorCount      atomic.Int64
	FactorErrors     atomic.Int64
	FactorWarnings   atomic.Int64
	FactorTotalNanos atomic.Int64
	LogLikCount      atomic.Int64
	LogLikErrors     atomic.Int64
	PredictCount     atomic.Int64
	PredictPoints    atomic.Int64
	PredictErrors    atomic.Int64
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(_, _ int, duration time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BuildErrors.Add(1)
	}
}

// RecordFactorize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFactorize(_ int, duration time.Duration, warnings int, err error) {
	b.FactorCount.Add(1)
	b.FactorTotalNanos.Add(duration.Nanoseconds())
	b.FactorWarnings.Add(int64(warnings))
	if err != nil {
		b.FactorErrors.Add(1)
	}
}

// RecordLogLik implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLogLik(_ time.Duration, err error) {
	b.LogLikCount.Add(1)
	if err != nil {
		b.LogLikErrors.Add(1)
	}
}

// RecordPredict implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPredict(count int, _ time.Duration, err error) {
	b.PredictCount.Add(1)
	b.PredictPoints.Add(int64(count))
	if err != nil {
		b.PredictErrors.Add(1)
	}
}
