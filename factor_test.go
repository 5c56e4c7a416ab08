package rlcm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFactor_FourPointScenario(t *testing.T) {
	points, err := RegularGrid([]int{4}, []float64{0}, []float64{1})
	require.NoError(t, err)
	k := Matern{Scale: 1, Nu: 0.5, LengthScale: 0.5}

	tree, err := BuildTree(points, TreeConfig{Rank: 2, Levels: LevelsAuto})
	require.NoError(t, err)
	require.Equal(t, 1, tree.Levels())

	hm, err := NewHMatrix(tree, k, 1e-8)
	require.NoError(t, err)
	f, err := hm.Factorize()
	require.NoError(t, err)
	assert.Empty(t, f.Warnings())

	x := []float64{0.3, -1.2, 2.5, 0.7}
	ax, err := hm.Multiply(x)
	require.NoError(t, err)
	back, err := f.Solve(ax)
	require.NoError(t, err)
	assert.InDeltaSlice(t, x, back, 1e-6)

	// Rank 2 covers each child, so the approximation is exact.
	assert.True(t, mat.EqualApprox(hm.Dense(), denseTreeOrder(hm), 1e-12))
}

func TestFactor_SolveInvertsMultiply(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		dims   int
		rank   int
		lambda float64
	}{
		{"1D", 150, 1, 8, 1e-3},
		{"2D", 300, 2, 16, 1e-4},
		{"3D", 200, 3, 10, 1e-2},
		{"single leaf", 20, 2, 32, 1e-6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := randomPoints(t, uint64(tt.n), tt.n, tt.dims)
			hm := buildHM(t, points, testMatern(), tt.rank, tt.lambda)
			f, err := hm.Factorize()
			require.NoError(t, err)

			x := randomVector(7, hm.N())
			ax, err := hm.Multiply(x)
			require.NoError(t, err)
			back, err := f.Solve(ax)
			require.NoError(t, err)
			assert.Less(t, maxAbsDiff(x, back), 1e-6)
		})
	}
}

func TestFactor_LogDetMatchesDense(t *testing.T) {
	points := randomPoints(t, 21, 180, 2)
	hm := buildHM(t, points, testMatern(), 8, 1e-3)
	f, err := hm.Factorize()
	require.NoError(t, err)

	var chol mat.Cholesky
	require.True(t, chol.Factorize(hm.Dense()))
	assert.Less(t, relErr(f.LogDet(), chol.LogDet()), 1e-8)
}

func TestFactor_SolveMatchesDense(t *testing.T) {
	points := randomPoints(t, 22, 120, 2)
	hm := buildHM(t, points, testMatern(), 6, 1e-2)
	f, err := hm.Factorize()
	require.NoError(t, err)

	y := randomVector(3, hm.N())
	got, err := f.Solve(y)
	require.NoError(t, err)

	var chol mat.Cholesky
	require.True(t, chol.Factorize(hm.Dense()))
	want := mat.NewVecDense(len(y), nil)
	require.NoError(t, chol.SolveVecTo(want, mat.NewVecDense(len(y), y)))
	assert.InDeltaSlice(t, want.RawVector().Data, got, 1e-8)

	_, err = f.Solve(y[:3])
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFactor_LeafNotPositiveDefinite(t *testing.T) {
	points, err := NewPointSet([][]float64{{0}, {1}})
	require.NoError(t, err)
	// [[1, 2], [2, 1]] is indefinite.
	k := KernelFunc(func(a, b []float64) float64 {
		if samePoint(a, b) {
			return 1
		}
		return 2
	})
	hm := buildHM(t, points, k, 2, 1e-9)

	f, err := hm.Factorize()
	require.NoError(t, err)
	ws := f.Warnings()
	require.Len(t, ws, 1)
	assert.Equal(t, WarnLeafNotPD, ws[0].Kind)
	assert.Equal(t, 0, ws[0].Node)
	assert.InDelta(t, math.Log(3), f.LogDet(), 1e-8)

	x, err := f.Solve([]float64{3, 3})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 1}, x, 1e-8)
}

func TestFactor_SingularLeaf(t *testing.T) {
	points := randomPoints(t, 1, 4, 1)
	const lambda = 1e-3
	// The kernel cancels λ exactly, leaving a zero block.
	k := KernelFunc(func(a, b []float64) float64 {
		if samePoint(a, b) {
			return -lambda
		}
		return 0
	})
	hm := buildHM(t, points, k, 4, lambda)

	_, err := hm.Factorize()
	assert.ErrorIs(t, err, ErrSingular)
}

func TestFactor_IllConditionedLeafWarns(t *testing.T) {
	points, err := NewPointSet([][]float64{{1}, {1e-17}})
	require.NoError(t, err)
	// diag(1, 1e-17) + λI is positive definite with condition number ~1e17.
	k := KernelFunc(func(a, b []float64) float64 {
		if samePoint(a, b) {
			return a[0]
		}
		return 0
	})
	hm := buildHM(t, points, k, 2, 1e-20)

	f, err := hm.Factorize()
	require.NoError(t, err)
	ws := f.Warnings()
	require.Len(t, ws, 1)
	assert.Equal(t, WarnIllConditioned, ws[0].Kind)
	assert.Equal(t, 0, ws[0].Node)

	// Solves still go through.
	x, err := f.Solve([]float64{1, 1})
	require.NoError(t, err)
	d := []float64{1 + 1e-20, 1e-17 + 1e-20}
	for i, v := range x {
		assert.InEpsilon(t, 1/d[hm.Tree().Perm[i]], v, 1e-12)
	}
}

func TestFactor_SingularCapacitance(t *testing.T) {
	points, err := NewPointSet([][]float64{{0}, {1}})
	require.NoError(t, err)
	// With λ = 3 the covariance is [[4, 4], [4, 4]]. Each leaf is 4, so λ keeps
	// the leaves regular, but the capacitance [[1, 1/4], [4, 1]] is exactly
	// singular.
	k := KernelFunc(func(a, b []float64) float64 {
		if samePoint(a, b) {
			return 1
		}
		return 4
	})
	hm := buildHM(t, points, k, 1, 3)
	require.Equal(t, 3, hm.Tree().NumNodes())

	_, err = hm.Factorize()
	assert.ErrorIs(t, err, ErrSingular)
	assert.ErrorContains(t, err, "capacitance")
}

func TestFactor_ConcurrentSolve(t *testing.T) {
	points := randomPoints(t, 8, 150, 2)
	hm := buildHM(t, points, testMatern(), 8, 1e-3)
	f, err := hm.Factorize()
	require.NoError(t, err)

	y := randomVector(1, hm.N())
	want, err := f.Solve(y)
	require.NoError(t, err)

	errs := make(chan error, 8)
	results := make(chan []float64, 8)
	for i := 0; i < 8; i++ {
		go func() {
			got, err := f.Solve(y)
			errs <- err
			results <- got
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
		assert.Equal(t, want, <-results)
	}
}
