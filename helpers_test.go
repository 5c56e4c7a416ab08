package rlcm

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const floatTol = 1e-10

func almostEqual(a, b, tol float64) bool {
	if math.IsInf(a, 0) && math.IsInf(b, 0) {
		return (a > 0) == (b > 0)
	}
	return math.Abs(a-b) <= tol
}

// relErr returns |a-b| / max(1, |b|).
func relErr(a, b float64) float64 {
	return math.Abs(a-b) / math.Max(1, math.Abs(b))
}

func randomPoints(t testing.TB, seed uint64, n, dims int) *PointSet {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 1))
	data := make([]float64, n*dims)
	for i := range data {
		data[i] = rng.Float64()
	}
	ps, err := NewPointSetFlat(data, n, dims)
	require.NoError(t, err)
	return ps
}

func randomVector(seed uint64, n int) []float64 {
	rng := rand.New(rand.NewPCG(seed, 2))
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	return v
}

// denseTreeOrder returns K(X, X) + lambda*I over the tree-ordered points.
func denseTreeOrder(hm *HMatrix) *mat.SymDense {
	return KernelMatrix(hm.Tree().Points(), hm.Kernel(), hm.Lambda())
}

func matVec(a mat.Matrix, x []float64) []float64 {
	r, _ := a.Dims()
	y := mat.NewVecDense(r, nil)
	y.MulVec(a, mat.NewVecDense(len(x), x))
	return y.RawVector().Data
}

func maxAbsDiff(a, b []float64) float64 {
	var m float64
	for i := range a {
		m = math.Max(m, math.Abs(a[i]-b[i]))
	}
	return m
}

func testMatern() Matern {
	return Matern{Scale: 1, Nu: 1.5, LengthScale: 0.2}
}
