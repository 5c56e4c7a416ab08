package rlcm

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Kriger predicts a Gaussian process at new locations from a trained
// hierarchical covariance. It is read-only and safe for concurrent use.
type Kriger struct {
	factor *Factor
	alpha  []float64       // (K + λI)⁻¹ y, tree order
	beta   []*mat.VecDense // non-root: U_cᵗ α_c
}

// Prediction holds kriging results in the order of the test points.
type Prediction struct {
	Mean []float64
	Std  []float64
}

// Train factorizes hm and solves for the kriging weights of y. y is in the
// original order of the training points passed to Build.
func Train(hm *HMatrix, y []float64) (*Kriger, error) {
	if hm == nil {
		return nil, ErrEmptyPointSet
	}
	if len(y) != hm.N() {
		return nil, dimErrorf("Train", hm.N(), len(y))
	}
	f, err := hm.Factorize()
	if err != nil {
		return nil, err
	}
	yTree, err := hm.tree.Perm.Apply(y)
	if err != nil {
		return nil, err
	}
	return TrainFactor(f, yTree)
}

// TrainFactor builds a Kriger from an existing factorization and y in tree order.
func TrainFactor(f *Factor, y []float64) (*Kriger, error) {
	alpha, err := f.Solve(y)
	if err != nil {
		return nil, err
	}
	hm := f.hm
	kr := &Kriger{factor: f, alpha: alpha, beta: make([]*mat.VecDense, len(hm.nodes))}
	for id, nd := range hm.tree.Nodes {
		if nd.Parent < 0 {
			continue
		}
		u := hm.nodes[id].basis
		_, cols := u.Dims()
		b := mat.NewVecDense(cols, nil)
		b.MulVec(u.T(), mat.NewVecDense(nd.Count(), alpha[nd.Start:nd.End]))
		kr.beta[id] = b
	}
	return kr, nil
}

// Factor returns the factorization the kriger solves with.
func (kr *Kriger) Factor() *Factor { return kr.factor }

// Predict returns the posterior mean and standard deviation at every test
// point. Points are routed to a leaf of the training tree; the covariance
// with the training set is approximated with the same landmarks as training.
// Test points are processed concurrently; ctx is checked between points.
func (kr *Kriger) Predict(ctx context.Context, test *PointSet) (*Prediction, error) {
	hm := kr.factor.hm
	if test == nil || test.N() == 0 {
		return nil, ErrEmptyPointSet
	}
	if test.Dims() != hm.tree.points.Dims() {
		return nil, dimErrorf("Kriger.Predict", hm.tree.points.Dims(), test.Dims())
	}

	start := time.Now()
	pred := &Prediction{Mean: make([]float64, test.N()), Std: make([]float64, test.N())}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hm.opts.workers)
	for i := 0; i < test.N(); i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mean, std, err := kr.predictOne(test.At(i))
			if err != nil {
				return fmt.Errorf("rlcm: test point %d: %w", i, err)
			}
			pred.Mean[i], pred.Std[i] = mean, std
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	hm.opts.metrics.RecordPredict(test.N(), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	hm.opts.logger.Debug("kriged test points",
		zap.Int("count", test.N()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return pred, nil
}

func (kr *Kriger) predictOne(x []float64) (float64, float64, error) {
	hm := kr.factor.hm
	row, mean, err := kr.crossRow(x)
	if err != nil {
		return 0, 0, err
	}
	w, err := kr.factor.Solve(row)
	if err != nil {
		return 0, 0, err
	}
	v := hm.kernel.Eval(x, x) - floats.Dot(row, w)
	return mean, math.Sqrt(math.Max(v, 0)), nil
}

// crossRow assembles the hierarchical covariance between x and every
// training point (tree order) and returns it together with rowᵗα.
func (kr *Kriger) crossRow(x []float64) ([]float64, float64, error) {
	hm := kr.factor.hm
	tree := hm.tree
	leaf, err := tree.Locate(x)
	if err != nil {
		return nil, 0, err
	}

	row := make([]float64, tree.N())
	lf := tree.Nodes[leaf]
	var mean float64
	for j := lf.Start; j < lf.End; j++ {
		row[j] = hm.kernel.Eval(x, tree.points.At(j))
		mean += row[j] * kr.alpha[j]
	}

	// ψ_p(x) approximates K(S_p, x); it starts exact at the leaf's parent
	// and is carried upwards by ψ_parent = W_pᵗ ψ_p.
	var psi *mat.VecDense
	for c := leaf; tree.Nodes[c].Parent >= 0; c = tree.Nodes[c].Parent {
		p := tree.Nodes[c].Parent
		hp := hm.nodes[p]
		if psi == nil {
			psi = mat.NewVecDense(len(hp.landmarks), nil)
			for k, s := range hp.landmarks {
				psi.SetVec(k, hm.kernel.Eval(x, tree.points.At(s)))
			}
		} else {
			next := mat.NewVecDense(len(hp.landmarks), nil)
			next.MulVec(hm.nodes[c].w.T(), psi)
			psi = next
		}

		sib := tree.Nodes[p].Left
		if sib == c {
			sib = tree.Nodes[p].Right
		}
		// coef = Σ_p ψ_p(x); sibling entries are U_b coef.
		coef := mat.NewVecDense(len(hp.landmarks), nil)
		coef.MulVec(hp.sigma, psi)
		sn := tree.Nodes[sib]
		block := mat.NewVecDense(sn.Count(), row[sn.Start:sn.End])
		block.MulVec(hm.nodes[sib].basis, coef)
		mean += mat.Dot(coef, kr.beta[sib])
	}
	return row, mean, nil
}

// AssembleField merges train and test values into one field of length
// len(idxTrain)+len(idxTest): field[idxTrain[i]] = train[i] and
// field[idxTest[i]] = test[i]. The two index sets must partition the field.
func AssembleField(train, test []float64, idxTrain, idxTest []int) ([]float64, error) {
	if len(train) != len(idxTrain) {
		return nil, dimErrorf("AssembleField train", len(idxTrain), len(train))
	}
	if len(test) != len(idxTest) {
		return nil, dimErrorf("AssembleField test", len(idxTest), len(test))
	}
	n := len(idxTrain) + len(idxTest)
	all := make(Permutation, 0, n)
	all = append(all, idxTrain...)
	all = append(all, idxTest...)
	if err := all.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSplitMismatch, err)
	}
	field := make([]float64, n)
	for i, idx := range idxTrain {
		field[idx] = train[i]
	}
	for i, idx := range idxTest {
		field[idx] = test[i]
	}
	return field, nil
}
