package rlcm

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// RandomField is a response observed on a regular grid, together with the
// parameters it was generated from and a train/test partition of its points.
type RandomField struct {
	Shape  []int     `json:"shape"`
	Lower  []float64 `json:"lower"`
	Upper  []float64 `json:"upper"`
	Y      []float64 `json:"y"`
	Params []float64 `json:"params,omitempty"`
	Train  []int     `json:"train,omitempty"`
	Test   []int     `json:"test,omitempty"`
}

// Dims returns the spatial dimension.
func (rf *RandomField) Dims() int { return len(rf.Shape) }

// N returns the number of grid points.
func (rf *RandomField) N() int {
	if len(rf.Shape) == 0 {
		return 0
	}
	n := 1
	for _, s := range rf.Shape {
		n *= s
	}
	return n
}

// Validate checks the field against the declared number of kernel
// parameters (ignored when < 0) and the train/test partition.
func (rf *RandomField) Validate(numParams int) error {
	if rf.N() == 0 || len(rf.Lower) != rf.Dims() || len(rf.Upper) != rf.Dims() {
		return fmt.Errorf("%w: shape %v, lower %v, upper %v", ErrBadGrid, rf.Shape, rf.Lower, rf.Upper)
	}
	if len(rf.Y) != rf.N() {
		return dimErrorf("RandomField.Y", rf.N(), len(rf.Y))
	}
	if numParams >= 0 && rf.Params != nil && len(rf.Params) != numParams {
		return fmt.Errorf("%w: field declares %d, kernel wants %d", ErrParamCount, len(rf.Params), numParams)
	}
	if len(rf.Train) == 0 && len(rf.Test) == 0 {
		return nil
	}
	if len(rf.Train)+len(rf.Test) != rf.N() {
		return fmt.Errorf("%w: %d train + %d test != %d", ErrSplitMismatch, len(rf.Train), len(rf.Test), rf.N())
	}
	all := append(append(Permutation(nil), rf.Train...), rf.Test...)
	if err := all.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrSplitMismatch, err)
	}
	return nil
}

// Grid regenerates the field's point set (first axis fastest).
func (rf *RandomField) Grid() (*PointSet, error) {
	return RegularGrid(rf.Shape, rf.Lower, rf.Upper)
}

// Split is one side of a train/test partition.
type Split struct {
	Points *PointSet
	Y      []float64
	Index  []int // positions in the full field
}

// SplitTrainTest returns the training and test subsets of the field.
func (rf *RandomField) SplitTrainTest() (train, test Split, err error) {
	if err := rf.Validate(-1); err != nil {
		return Split{}, Split{}, err
	}
	if len(rf.Train) == 0 || len(rf.Test) == 0 {
		return Split{}, Split{}, fmt.Errorf("%w: both train and test must be non-empty", ErrSplitMismatch)
	}
	pts, err := rf.Grid()
	if err != nil {
		return Split{}, Split{}, err
	}
	pick := func(idx []int) (Split, error) {
		sub, err := pts.Subset(idx)
		if err != nil {
			return Split{}, err
		}
		y := make([]float64, len(idx))
		for i, k := range idx {
			y[i] = rf.Y[k]
		}
		return Split{Points: sub, Y: y, Index: slices.Clone(idx)}, nil
	}
	if train, err = pick(rf.Train); err != nil {
		return Split{}, Split{}, err
	}
	if test, err = pick(rf.Test); err != nil {
		return Split{}, Split{}, err
	}
	return train, test, nil
}

// RandomSplit partitions [0, n) into nTrain training and n-nTrain test
// indices, each sorted. The split is reproducible for a fixed seed.
func RandomSplit(n, nTrain int, seed uint64) (train, test []int, err error) {
	if n < 1 || nTrain < 0 || nTrain > n {
		return nil, nil, fmt.Errorf("%w: %d train of %d points", ErrSplitMismatch, nTrain, n)
	}
	perm := rand.New(rand.NewPCG(seed, 0x5eed)).Perm(n)
	train = slices.Clone(perm[:nTrain])
	test = slices.Clone(perm[nTrain:])
	slices.Sort(train)
	slices.Sort(test)
	return train, test, nil
}

// SampleField draws one realization of a zero-mean Gaussian process with
// covariance K(X, X) + lambda*I at points, using a dense Cholesky factor.
func SampleField(points *PointSet, kernel Kernel, lambda float64, seed uint64, workers int) ([]float64, error) {
	if points == nil || points.N() == 0 {
		return nil, ErrEmptyPointSet
	}
	if !(lambda > 0) {
		return nil, fmt.Errorf("%w, got %g", ErrNonPositiveLambda, lambda)
	}
	var chol mat.Cholesky
	if !chol.Factorize(KernelMatrixParallel(points, kernel, lambda, workers)) {
		return nil, fmt.Errorf("%w: covariance is not positive definite; increase lambda", ErrSingular)
	}
	var l mat.TriDense
	chol.LTo(&l)

	n := points.N()
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, 0xf1e1d)}
	z := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		z.SetVec(i, normal.Rand())
	}
	y := mat.NewVecDense(n, nil)
	y.MulVec(&l, z)
	return y.RawVector().Data, nil
}
