package rlcm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicMetricsCollector(t *testing.T) {
	mc := &BasicMetricsCollector{}
	points := randomPoints(t, 1, 60, 2)
	cfg := DefaultConfig()
	cfg.Rank = 8
	cfg.Lambda = 1e-3

	hm, err := Build(points, testMatern(), cfg, WithMetrics(mc))
	require.NoError(t, err)
	assert.Equal(t, int64(1), mc.BuildCount.Load())
	assert.Zero(t, mc.BuildErrors.Load())

	y := randomVector(1, 60)
	kr, err := Train(hm, y)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mc.FactorCount.Load())

	_, err = kr.Factor().LogLikelihood(y)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mc.LogLikCount.Load())

	test := randomPoints(t, 2, 7, 2)
	_, err = kr.Predict(context.Background(), test)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mc.PredictCount.Load())
	assert.Equal(t, int64(7), mc.PredictPoints.Load())

	_, err = kr.Factor().LogLikelihood(y[:3])
	assert.Error(t, err)
	assert.Equal(t, int64(1), mc.LogLikErrors.Load())
}

func TestBasicMetricsCollector_FactorizeError(t *testing.T) {
	mc := &BasicMetricsCollector{}
	points := randomPoints(t, 1, 3, 1)
	k := KernelFunc(func(a, b []float64) float64 {
		if samePoint(a, b) {
			return -1
		}
		return 0
	})
	tree, err := BuildTree(points, TreeConfig{Rank: 3})
	require.NoError(t, err)
	hm, err := NewHMatrix(tree, k, 1, WithMetrics(mc))
	require.NoError(t, err)

	_, err = hm.Factorize()
	require.ErrorIs(t, err, ErrSingular)
	assert.Equal(t, int64(1), mc.FactorErrors.Load())
}

func TestNoopMetricsCollector(t *testing.T) {
	var mc MetricsCollector = NoopMetricsCollector{}
	assert.NotPanics(t, func() {
		mc.RecordBuild(1, 1, 0, nil)
		mc.RecordFactorize(1, 0, 0, nil)
		mc.RecordLogLik(0, nil)
		mc.RecordPredict(1, 0, nil)
	})
}
