package rlcm

import (
	"runtime"

	"go.uber.org/zap"
)

// Option configures a hierarchical matrix, estimator or kriger.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics MetricsCollector
	seed    uint64
	workers int
	pinvTol float64
}

func defaultOptions() options {
	return options{
		logger:  zap.NewNop(),
		metrics: NoopMetricsCollector{},
		workers: runtime.NumCPU(),
		pinvTol: defaultPinvTol,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the structured logger. Nil leaves the no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector. Nil leaves the no-op collector.
func WithMetrics(mc MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.metrics = mc
		}
	}
}

// WithSeed sets the landmark sampling seed.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithWorkers bounds the number of goroutines. Values < 1 mean runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = runtime.NumCPU()
		}
		o.workers = n
	}
}

// WithPinvTol sets the relative eigenvalue cutoff for landmark pseudo-inverses.
func WithPinvTol(tol float64) Option {
	return func(o *options) {
		if tol >= 0 {
			o.pinvTol = tol
		}
	}
}
