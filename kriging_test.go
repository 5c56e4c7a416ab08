package rlcm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// denseKrige is the O(N³) reference predictor.
func denseKrige(t *testing.T, train *PointSet, y []float64, k Kernel, lambda float64, test *PointSet) ([]float64, []float64) {
	t.Helper()
	var chol mat.Cholesky
	require.True(t, chol.Factorize(KernelMatrix(train, k, lambda)))
	alpha := mat.NewVecDense(len(y), nil)
	require.NoError(t, chol.SolveVecTo(alpha, mat.NewVecDense(len(y), y)))

	mean := make([]float64, test.N())
	std := make([]float64, test.N())
	for i := 0; i < test.N(); i++ {
		x := test.At(i)
		row := mat.NewVecDense(train.N(), nil)
		for j := 0; j < train.N(); j++ {
			row.SetVec(j, k.Eval(x, train.At(j)))
		}
		w := mat.NewVecDense(train.N(), nil)
		require.NoError(t, chol.SolveVecTo(w, row))
		mean[i] = mat.Dot(row, alpha)
		std[i] = math.Sqrt(math.Max(k.Eval(x, x)-mat.Dot(row, w), 0))
	}
	return mean, std
}

func gridSplit(t *testing.T, seed uint64) (Split, Split, Kernel) {
	t.Helper()
	k := testMatern()
	rf := &RandomField{Shape: []int{10, 10}, Lower: []float64{0, 0}, Upper: []float64{1, 1}}
	pts, err := rf.Grid()
	require.NoError(t, err)
	rf.Y, err = SampleField(pts, k, 1e-8, seed, 1)
	require.NoError(t, err)
	rf.Train, rf.Test, err = RandomSplit(rf.N(), 80, seed)
	require.NoError(t, err)
	train, test, err := rf.SplitTrainTest()
	require.NoError(t, err)
	return train, test, k
}

func TestKriger_MatchesDenseWhenRankCoversAll(t *testing.T) {
	train, test, k := gridSplit(t, 1)
	const lambda = 1e-6

	cfg := DefaultConfig()
	cfg.Rank = 128
	cfg.Lambda = lambda
	hm, err := Build(train.Points, k, cfg)
	require.NoError(t, err)
	kr, err := Train(hm, train.Y)
	require.NoError(t, err)

	pred, err := kr.Predict(context.Background(), test.Points)
	require.NoError(t, err)

	wantMean, wantStd := denseKrige(t, train.Points, train.Y, k, lambda, test.Points)
	assert.InDeltaSlice(t, wantMean, pred.Mean, 1e-6)
	assert.InDeltaSlice(t, wantStd, pred.Std, 1e-4)
}

func TestKriger_InterpolatesTrainingPoints(t *testing.T) {
	train, _, k := gridSplit(t, 2)
	const lambda = 1e-8

	// One split with landmarks covering a child: the hierarchy reproduces the
	// dense covariance, so the λ → 0 limit applies.
	cfg := DefaultConfig()
	cfg.Rank = 40
	cfg.Levels = 1
	cfg.Lambda = lambda
	cfg.Seed = 4
	hm, err := Build(train.Points, k, cfg)
	require.NoError(t, err)
	require.Equal(t, 3, hm.Tree().NumNodes())

	kr, err := Train(hm, train.Y)
	require.NoError(t, err)
	pred, err := kr.Predict(context.Background(), train.Points)
	require.NoError(t, err)

	for i := range train.Y {
		assert.InDelta(t, train.Y[i], pred.Mean[i], 1e-3, "point %d", i)
		assert.Less(t, pred.Std[i], 1e-3, "point %d", i)
	}
}

func TestKriger_TrainingMeanIsResidualIdentity(t *testing.T) {
	// At a training point the kriged mean is y - λα for any rank.
	train, _, k := gridSplit(t, 3)
	const lambda = 1e-2

	cfg := DefaultConfig()
	cfg.Rank = 6
	cfg.Lambda = lambda
	hm, err := Build(train.Points, k, cfg)
	require.NoError(t, err)
	kr, err := Train(hm, train.Y)
	require.NoError(t, err)
	pred, err := kr.Predict(context.Background(), train.Points)
	require.NoError(t, err)

	alpha, err := hm.Tree().Perm.Restore(kr.alpha)
	require.NoError(t, err)
	for i := range train.Y {
		assert.InDelta(t, train.Y[i]-lambda*alpha[i], pred.Mean[i], 1e-8, "point %d", i)
		assert.LessOrEqual(t, pred.Std[i], math.Sqrt(lambda)+1e-8, "point %d", i)
	}
}

func TestKriger_FarPointRevertsToPrior(t *testing.T) {
	train, _, k := gridSplit(t, 4)
	hm, err := Build(train.Points, k, Config{Rank: 8, Lambda: 1e-6, Levels: LevelsAuto})
	require.NoError(t, err)
	kr, err := Train(hm, train.Y)
	require.NoError(t, err)

	far, err := NewPointSet([][]float64{{50, 50}})
	require.NoError(t, err)
	pred, err := kr.Predict(context.Background(), far)
	require.NoError(t, err)
	assert.InDelta(t, 0, pred.Mean[0], 1e-12)
	assert.InDelta(t, 1, pred.Std[0], 1e-12)
}

func TestKriger_Errors(t *testing.T) {
	train, _, k := gridSplit(t, 5)
	hm, err := Build(train.Points, k, Config{Rank: 8, Lambda: 1e-6, Levels: LevelsAuto})
	require.NoError(t, err)

	_, err = Train(hm, train.Y[1:])
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	kr, err := Train(hm, train.Y)
	require.NoError(t, err)

	_, err = kr.Predict(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyPointSet)

	wrong, err := NewPointSet([][]float64{{0.5}})
	require.NoError(t, err)
	_, err = kr.Predict(context.Background(), wrong)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = kr.Predict(ctx, train.Points)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssembleField(t *testing.T) {
	field, err := AssembleField([]float64{10, 30}, []float64{20, 40}, []int{0, 2}, []int{1, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30, 40}, field)

	_, err = AssembleField([]float64{1}, []float64{2}, []int{0}, []int{0})
	assert.ErrorIs(t, err, ErrSplitMismatch)
	_, err = AssembleField([]float64{1, 2}, []float64{2}, []int{0}, []int{1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
