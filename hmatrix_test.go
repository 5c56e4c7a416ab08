package rlcm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func buildHM(t testing.TB, points *PointSet, k Kernel, rank int, lambda float64, opts ...Option) *HMatrix {
	t.Helper()
	tree, err := BuildTree(points, TreeConfig{Rank: rank, Levels: LevelsAuto})
	require.NoError(t, err)
	hm, err := NewHMatrix(tree, k, lambda, opts...)
	require.NoError(t, err)
	return hm
}

func TestHMatrix_DenseFallbackIsExact(t *testing.T) {
	points := randomPoints(t, 1, 30, 2)
	hm := buildHM(t, points, testMatern(), 30, 1e-3)

	require.Equal(t, 1, hm.Tree().NumNodes())
	assert.True(t, mat.EqualApprox(hm.Dense(), denseTreeOrder(hm), 1e-14))
}

func TestHMatrix_OneLevelExactWhenRankCoversChildren(t *testing.T) {
	points := randomPoints(t, 2, 16, 1)
	tree, err := BuildTree(points, TreeConfig{Rank: 8, Levels: 1})
	require.NoError(t, err)
	require.Equal(t, 3, tree.NumNodes())

	hm, err := NewHMatrix(tree, testMatern(), 1e-6)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(hm.Dense(), denseTreeOrder(hm), 1e-8))
}

func TestHMatrix_MultiplyMatchesDense(t *testing.T) {
	points := randomPoints(t, 3, 200, 2)
	hm := buildHM(t, points, testMatern(), 8, 1e-3)
	require.Greater(t, hm.Tree().Depth(), 2)

	x := randomVector(4, hm.N())
	got, err := hm.Multiply(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, matVec(hm.Dense(), x), got, 1e-8)

	_, err = hm.Multiply(x[1:])
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestHMatrix_ApproximationImprovesWithRank(t *testing.T) {
	points := randomPoints(t, 5, 256, 2)
	k := Matern{Scale: 1, Nu: 1.5, LengthScale: 0.3}
	exact := KernelMatrix(points, k, 1e-4)

	errAt := func(rank int) float64 {
		tree, err := BuildTree(points, TreeConfig{Rank: rank, Levels: 2})
		require.NoError(t, err)
		hm, err := NewHMatrix(tree, k, 1e-4, WithSeed(3))
		require.NoError(t, err)
		// Compare in original order.
		inv := tree.Perm.Inverse()
		n := points.N()
		var diff float64
		approx := hm.Dense()
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				d := approx.At(inv[i], inv[j]) - exact.At(i, j)
				diff += d * d
			}
		}
		return diff
	}
	assert.Less(t, errAt(48), errAt(4))
}

func TestHMatrix_SymmetricOffDiagonal(t *testing.T) {
	points := randomPoints(t, 6, 64, 2)
	hm := buildHM(t, points, testMatern(), 8, 1e-3)

	for id, nd := range hm.Tree().Nodes {
		if nd.IsLeaf {
			_, err := hm.OffDiagonal(id)
			assert.ErrorIs(t, err, ErrBadConfig)
			continue
		}
		lr, err := hm.OffDiagonal(id)
		require.NoError(t, err)
		r, c := lr.Dense().Dims()
		assert.Equal(t, hm.Tree().Nodes[nd.Left].Count(), r)
		assert.Equal(t, hm.Tree().Nodes[nd.Right].Count(), c)
		assert.LessOrEqual(t, lr.Rank(), hm.Tree().Rank())
	}
	_, err := hm.OffDiagonal(-1)
	assert.ErrorIs(t, err, ErrBadConfig)
}

func TestHMatrix_ReproducibleAcrossWorkers(t *testing.T) {
	points := randomPoints(t, 7, 300, 3)
	tree, err := BuildTree(points, TreeConfig{Rank: 10, Levels: LevelsAuto})
	require.NoError(t, err)

	ref, err := NewHMatrix(tree, testMatern(), 1e-4, WithSeed(42), WithWorkers(1))
	require.NoError(t, err)
	refF, err := ref.Factorize()
	require.NoError(t, err)

	for _, w := range []int{2, 4, 16} {
		hm, err := NewHMatrix(tree, testMatern(), 1e-4, WithSeed(42), WithWorkers(w))
		require.NoError(t, err)
		assert.True(t, mat.Equal(ref.Dense(), hm.Dense()), "workers=%d", w)

		f, err := hm.Factorize()
		require.NoError(t, err)
		assert.Equal(t, refF.LogDet(), f.LogDet(), "workers=%d", w)
	}

	other, err := NewHMatrix(tree, testMatern(), 1e-4, WithSeed(43))
	require.NoError(t, err)
	assert.False(t, mat.Equal(ref.Dense(), other.Dense()), "seed should change the landmarks")
}

func TestNewHMatrix_Errors(t *testing.T) {
	points := randomPoints(t, 1, 10, 2)
	tree, err := BuildTree(points, TreeConfig{Rank: 2, Levels: LevelsAuto})
	require.NoError(t, err)

	_, err = NewHMatrix(tree, testMatern(), 0)
	assert.ErrorIs(t, err, ErrNonPositiveLambda)
	_, err = NewHMatrix(tree, testMatern(), -1)
	assert.ErrorIs(t, err, ErrNonPositiveLambda)
	_, err = NewHMatrix(tree, nil, 1)
	assert.ErrorIs(t, err, ErrBadConfig)
	_, err = NewHMatrix(nil, testMatern(), 1)
	assert.ErrorIs(t, err, ErrEmptyPointSet)
}

func TestHMatrix_ZeroKernelWarns(t *testing.T) {
	points := randomPoints(t, 1, 20, 2)
	zero := KernelFunc(func(a, b []float64) float64 { return 0 })
	hm := buildHM(t, points, zero, 4, 1)

	ws := hm.Warnings()
	require.NotEmpty(t, ws)
	for _, w := range ws {
		assert.Equal(t, WarnIllConditioned, w.Kind)
	}

	// λI survives.
	x := randomVector(1, hm.N())
	got, err := hm.Multiply(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, x, got, 1e-15)
}
