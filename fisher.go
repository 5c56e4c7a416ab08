package rlcm

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// FisherPoints returns the central-difference stencil around hat: first
// hat ± steps[i]·e_i for every axis i, then for every pair i < j the four
// corners (+,+), (+,-), (-,+), (-,-). It has 2p + 4·p(p-1)/2 points.
func FisherPoints(hat, steps []float64) ([][]float64, error) {
	p := len(hat)
	if len(steps) != p {
		return nil, dimErrorf("FisherPoints steps", p, len(steps))
	}
	for i, h := range steps {
		if !(h > 0) {
			return nil, fmt.Errorf("%w: step %d must be > 0, got %g", ErrBadConfig, i, h)
		}
	}

	shifted := func(di, dj float64, i, j int) []float64 {
		pt := append([]float64(nil), hat...)
		pt[i] += di * steps[i]
		if j >= 0 {
			pt[j] += dj * steps[j]
		}
		return pt
	}

	out := make([][]float64, 0, 2*p+2*p*(p-1))
	for i := 0; i < p; i++ {
		out = append(out, shifted(1, 0, i, -1), shifted(-1, 0, i, -1))
	}
	for i := 0; i < p; i++ {
		for j := i + 1; j < p; j++ {
			out = append(out,
				shifted(1, 1, i, j),
				shifted(1, -1, i, j),
				shifted(-1, 1, i, j),
				shifted(-1, -1, i, j),
			)
		}
	}
	return out, nil
}

// FisherResult holds the observed Fisher information at the estimate and
// the derived covariance and standard errors.
type FisherResult struct {
	Fisher *mat.SymDense
	Cov    *mat.SymDense
	// Stderr is √diag(Cov); NaN where the diagonal is negative.
	Stderr []float64
}

// Fisher estimates the observed information -H at hat from central finite
// differences of the log-likelihood with the given per-axis steps. maxLogLik
// is the log-likelihood at hat; pass NaN to have it evaluated.
func Fisher(ctx context.Context, est *Estimator, hat []float64, maxLogLik float64, steps []float64) (*FisherResult, error) {
	pts, err := FisherPoints(hat, steps)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(maxLogLik) {
		if maxLogLik, _, err = est.LogLik(hat); err != nil {
			return nil, fmt.Errorf("rlcm: log-likelihood at estimate: %w", err)
		}
	}

	lls, errs, err := est.evalAll(ctx, pts)
	if err != nil {
		return nil, err
	}
	for i, e := range errs {
		if e != nil {
			return nil, fmt.Errorf("rlcm: fisher stencil point %v: %w", pts[i], e)
		}
	}

	p := len(hat)
	fisher := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		h := steps[i]
		fisher.SetSym(i, i, -(lls[2*i]+lls[2*i+1]-2*maxLogLik)/(h*h))
	}
	k := 2 * p
	for i := 0; i < p; i++ {
		for j := i + 1; j < p; j++ {
			d := (lls[k] - lls[k+1] - lls[k+2] + lls[k+3]) / (4 * steps[i] * steps[j])
			fisher.SetSym(i, j, -d)
			k += 4
		}
	}

	var inv mat.Dense
	if err := inv.Inverse(fisher); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("%w: fisher information: %v", ErrSingular, err)
		}
		est.o.logger.Warn("fisher information is ill-conditioned", zap.Error(err))
	}
	cov := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			cov.SetSym(i, j, (inv.At(i, j)+inv.At(j, i))/2)
		}
	}
	stderr := make([]float64, p)
	for i := range stderr {
		if v := cov.At(i, i); v >= 0 {
			stderr[i] = math.Sqrt(v)
		} else {
			stderr[i] = math.NaN()
		}
	}
	return &FisherResult{Fisher: fisher, Cov: cov, Stderr: stderr}, nil
}

// FiniteDiffRow is one step of a finite-difference check along one axis.
type FiniteDiffRow struct {
	Param      int
	Step       float64
	FirstDiff  float64
	SecondDiff float64
}

// FiniteDiffCheck tabulates central first and second differences of the
// log-likelihood along every axis for the steps delta, delta/fac, ...,
// delta/fac^(numSteps-1). It helps pick the step sizes passed to Fisher.
func FiniteDiffCheck(ctx context.Context, est *Estimator, hat []float64, maxLogLik, delta, fac float64, numSteps int) ([]FiniteDiffRow, error) {
	if !(delta > 0) || !(fac > 1) || numSteps < 1 {
		return nil, fmt.Errorf("%w: finite differences need delta > 0, fac > 1, steps >= 1", ErrBadConfig)
	}
	p := len(hat)
	pts := make([][]float64, 0, 2*p*numSteps)
	rows := make([]FiniteDiffRow, 0, p*numSteps)
	for i := 0; i < p; i++ {
		for s := 0; s < numSteps; s++ {
			eps := delta / math.Pow(fac, float64(s))
			plus := append([]float64(nil), hat...)
			plus[i] += eps
			minus := append([]float64(nil), hat...)
			minus[i] -= eps
			pts = append(pts, plus, minus)
			rows = append(rows, FiniteDiffRow{Param: i, Step: eps})
		}
	}

	lls, errs, err := est.evalAll(ctx, pts)
	if err != nil {
		return nil, err
	}
	for k := range rows {
		if errs[2*k] != nil || errs[2*k+1] != nil {
			rows[k].FirstDiff, rows[k].SecondDiff = math.NaN(), math.NaN()
			continue
		}
		lp, lm, eps := lls[2*k], lls[2*k+1], rows[k].Step
		rows[k].FirstDiff = (lp - lm) / (2 * eps)
		rows[k].SecondDiff = (lp + lm - 2*maxLogLik) / (eps * eps)
	}
	return rows, nil
}
