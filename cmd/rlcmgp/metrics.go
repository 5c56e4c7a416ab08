package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// promCollector implements rlcm.MetricsCollector on a Prometheus registry.
type promCollector struct {
	opLatency  *prometheus.HistogramVec
	ops        *prometheus.CounterVec
	warnings   prometheus.Counter
	points     prometheus.Counter
	matrixSize prometheus.Gauge
	treeNodes  prometheus.Gauge
}

func newPromCollector(reg prometheus.Registerer) *promCollector {
	c := &promCollector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rlcm_operation_latency_seconds",
			Help:    "Latency of hierarchical-matrix operations",
			Buckets: prometheus.ExponentialBuckets(1e-4, 4, 10),
		}, []string{"op", "status"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rlcm_operations_total",
			Help: "Hierarchical-matrix operations by type and status",
		}, []string{"op", "status"}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rlcm_factorization_warnings_total",
			Help: "Numerical-stability warnings raised while factorizing",
		}),
		points: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rlcm_predicted_points_total",
			Help: "Test points kriged",
		}),
		matrixSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rlcm_matrix_size",
			Help: "Dimension of the most recently compressed matrix",
		}),
		treeNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rlcm_tree_nodes",
			Help: "Cluster-tree nodes of the most recently compressed matrix",
		}),
	}
	reg.MustRegister(c.opLatency, c.ops, c.warnings, c.points, c.matrixSize, c.treeNodes)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *promCollector) observe(op string, d time.Duration, err error) {
	s := status(err)
	c.opLatency.WithLabelValues(op, s).Observe(d.Seconds())
	c.ops.WithLabelValues(op, s).Inc()
}

func (c *promCollector) RecordBuild(n, nodes int, d time.Duration, err error) {
	c.observe("build", d, err)
	c.matrixSize.Set(float64(n))
	c.treeNodes.Set(float64(nodes))
}

func (c *promCollector) RecordFactorize(_ int, d time.Duration, warnings int, err error) {
	c.observe("factorize", d, err)
	c.warnings.Add(float64(warnings))
}

func (c *promCollector) RecordLogLik(d time.Duration, err error) {
	c.observe("loglik", d, err)
}

func (c *promCollector) RecordPredict(count int, d time.Duration, err error) {
	c.observe("predict", d, err)
	c.points.Add(float64(count))
}
