package rlcm

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Estimator evaluates the log-likelihood of one observed field for
// hyperparameter vectors of a kernel family. The cluster tree is built once
// and shared by every evaluation; compression is redone per vector.
type Estimator struct {
	tree   *Tree
	y      []float64 // tree order
	family Family
	lambda float64
	opts   []Option
	o      options
}

// NewEstimator prepares likelihood evaluations of y (in the original order of
// the points the tree was built from).
func NewEstimator(tree *Tree, y []float64, family Family, lambda float64, opts ...Option) (*Estimator, error) {
	if tree == nil {
		return nil, ErrEmptyPointSet
	}
	if family == nil {
		return nil, fmt.Errorf("%w: nil kernel family", ErrBadConfig)
	}
	if !(lambda > 0) {
		return nil, fmt.Errorf("%w, got %g", ErrNonPositiveLambda, lambda)
	}
	yTree, err := tree.Perm.Apply(y)
	if err != nil {
		return nil, err
	}
	return &Estimator{
		tree:   tree,
		y:      yTree,
		family: family,
		lambda: lambda,
		opts:   opts,
		o:      buildOptions(opts),
	}, nil
}

// Family returns the kernel family.
func (e *Estimator) Family() Family { return e.family }

// Tree returns the shared cluster tree.
func (e *Estimator) Tree() *Tree { return e.tree }

// LogLik returns the log-likelihood at params and the numerical-stability
// warnings raised while computing it.
func (e *Estimator) LogLik(params []float64) (float64, []Warning, error) {
	return e.logLik(params, e.o.workers)
}

func (e *Estimator) logLik(params []float64, workers int) (float64, []Warning, error) {
	k, err := e.family.Kernel(params)
	if err != nil {
		return math.NaN(), nil, err
	}
	opts := append(append([]Option(nil), e.opts...), WithWorkers(workers))
	return LogLikelihood(e.tree, e.y, k, e.lambda, opts...)
}

// evalAll evaluates every vector concurrently. Results are written to a slot
// per vector; a failed vector gets NaN and its error.
func (e *Estimator) evalAll(ctx context.Context, points [][]float64) ([]float64, []error, error) {
	lls := make([]float64, len(points))
	errs := make([]error, len(points))

	// Parallelism goes to the candidates; each candidate runs single-threaded.
	inner := 1
	if len(points) < e.o.workers {
		inner = max(1, e.o.workers/max(1, len(points)))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.o.workers)
	for i, params := range points {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ll, _, err := e.logLik(params, inner)
			if err != nil {
				lls[i], errs[i] = math.NaN(), err
				e.o.logger.Debug("candidate failed", zap.Float64s("params", params), zap.Error(err))
				return nil
			}
			lls[i] = ll
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return lls, errs, ctx.Err()
}

// Grid lists candidate values per hyperparameter axis.
type Grid [][]float64

// Size returns the number of candidates.
func (g Grid) Size() int {
	if len(g) == 0 {
		return 0
	}
	n := 1
	for _, axis := range g {
		n *= len(axis)
	}
	return n
}

// Candidates enumerates the Cartesian product with the last axis varying
// fastest.
func (g Grid) Candidates() [][]float64 {
	n := g.Size()
	out := make([][]float64, 0, n)
	sub := make([]int, len(g))
	for c := 0; c < n; c++ {
		params := make([]float64, len(g))
		for j, axis := range g {
			params[j] = axis[sub[j]]
		}
		out = append(out, params)
		for j := len(g) - 1; j >= 0; j-- {
			sub[j]++
			if sub[j] < len(g[j]) {
				break
			}
			sub[j] = 0
		}
	}
	return out
}

// SearchResult is the outcome of a grid search. Failed candidates keep a NaN
// log-likelihood and their error.
type SearchResult struct {
	Candidates [][]float64
	LogLik     []float64
	Errors     []error

	// BestIndex is the first candidate attaining the maximum.
	BestIndex int
	Best      []float64
	MaxLogLik float64
}

// Failed returns the number of candidates whose evaluation failed.
func (r *SearchResult) Failed() int {
	n := 0
	for _, err := range r.Errors {
		if err != nil {
			n++
		}
	}
	return n
}

// GridSearch evaluates the log-likelihood at every grid candidate and picks
// the maximizer, breaking ties by enumeration order. A failing candidate is
// skipped; ErrNoCandidates is returned if all of them fail.
func GridSearch(ctx context.Context, est *Estimator, grid Grid) (*SearchResult, error) {
	want := len(est.family.ParamNames())
	if len(grid) != want {
		return nil, fmt.Errorf("%w: grid has %d axes, %s wants %d", ErrParamCount, len(grid), est.family.Name(), want)
	}
	for j, axis := range grid {
		if len(axis) == 0 {
			return nil, fmt.Errorf("%w: axis %d (%s) is empty", ErrBadGrid, j, est.family.ParamNames()[j])
		}
	}

	start := time.Now()
	cands := grid.Candidates()
	lls, errs, err := est.evalAll(ctx, cands)
	if err != nil {
		return nil, err
	}

	res := &SearchResult{Candidates: cands, LogLik: lls, Errors: errs, BestIndex: -1, MaxLogLik: math.Inf(-1)}
	for i, ll := range lls {
		if errs[i] != nil || math.IsNaN(ll) {
			continue
		}
		if res.BestIndex < 0 || ll > res.MaxLogLik {
			res.BestIndex, res.MaxLogLik = i, ll
		}
	}
	if res.BestIndex < 0 {
		return res, fmt.Errorf("%w: %d candidates", ErrNoCandidates, len(cands))
	}
	res.Best = append([]float64(nil), cands[res.BestIndex]...)

	est.o.logger.Info("grid search finished",
		zap.String("family", est.family.Name()),
		zap.Int("candidates", len(cands)),
		zap.Int("failed", res.Failed()),
		zap.Float64s("best", res.Best),
		zap.Float64("loglik", res.MaxLogLik),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
