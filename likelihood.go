package rlcm

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var log2Pi = math.Log(2 * math.Pi)

// LogLikelihood returns the Gaussian log-likelihood
//
//	-½ (n log 2π + log|K + λI| + yᵗ (K + λI)⁻¹ y)
//
// of y, which must be in tree order.
func (f *Factor) LogLikelihood(y []float64) (float64, error) {
	start := time.Now()
	alpha, err := f.Solve(y)
	if err != nil {
		f.hm.opts.metrics.RecordLogLik(time.Since(start), err)
		return math.NaN(), err
	}
	n := float64(len(y))
	ll := -0.5 * (n*log2Pi + f.logdet + floats.Dot(y, alpha))
	f.hm.opts.metrics.RecordLogLik(time.Since(start), nil)
	return ll, nil
}

// LogLikelihood compresses the kernel over tree, factorizes and evaluates the
// log-likelihood of y (tree order) in one step. The returned warnings are the
// numerical-stability conditions met along the way.
func LogLikelihood(tree *Tree, y []float64, kernel Kernel, lambda float64, opts ...Option) (float64, []Warning, error) {
	if tree == nil {
		return math.NaN(), nil, ErrEmptyPointSet
	}
	if len(y) != tree.N() {
		return math.NaN(), nil, dimErrorf("LogLikelihood", tree.N(), len(y))
	}
	hm, err := NewHMatrix(tree, kernel, lambda, opts...)
	if err != nil {
		return math.NaN(), nil, err
	}
	f, err := hm.Factorize()
	if err != nil {
		return math.NaN(), nil, err
	}
	ll, err := f.LogLikelihood(y)
	return ll, f.Warnings(), err
}

// DenseCovariance returns K(X, X) + lambda*I in the order of points.
func DenseCovariance(points *PointSet, kernel Kernel, lambda float64) *mat.SymDense {
	return KernelMatrix(points, kernel, lambda)
}

// DenseLogLikelihood is the exact O(N³) reference: it factorizes the full
// covariance with a Cholesky decomposition. y is in the order of points.
func DenseLogLikelihood(points *PointSet, y []float64, kernel Kernel, lambda float64) (float64, error) {
	if points == nil || points.N() == 0 {
		return math.NaN(), ErrEmptyPointSet
	}
	if len(y) != points.N() {
		return math.NaN(), dimErrorf("DenseLogLikelihood", points.N(), len(y))
	}
	if !(lambda > 0) {
		return math.NaN(), fmt.Errorf("%w, got %g", ErrNonPositiveLambda, lambda)
	}
	var chol mat.Cholesky
	if !chol.Factorize(DenseCovariance(points, kernel, lambda)) {
		return math.NaN(), fmt.Errorf("%w: dense covariance is not positive definite", ErrSingular)
	}
	alpha := mat.NewVecDense(len(y), nil)
	if err := ignoreCondition(chol.SolveVecTo(alpha, mat.NewVecDense(len(y), y))); err != nil {
		return math.NaN(), err
	}
	n := float64(len(y))
	return -0.5 * (n*log2Pi + chol.LogDet() + floats.Dot(y, alpha.RawVector().Data)), nil
}
