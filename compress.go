package rlcm

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// LowRank is a factor pair approximating an n1×n2 block by U·Vᵗ.
type LowRank struct {
	U *mat.Dense // n1×k
	V *mat.Dense // n2×k
}

// Rank returns the number of columns k.
func (lr *LowRank) Rank() int {
	_, k := lr.U.Dims()
	return k
}

// Dense materializes U·Vᵗ.
func (lr *LowRank) Dense() *mat.Dense {
	var out mat.Dense
	out.Mul(lr.U, lr.V.T())
	return &out
}

// MulVec returns U·(Vᵗ·x).
func (lr *LowRank) MulVec(x []float64) ([]float64, error) {
	n1, _ := lr.U.Dims()
	n2, k := lr.V.Dims()
	if len(x) != n2 {
		return nil, dimErrorf("LowRank.MulVec", n2, len(x))
	}
	t := mat.NewVecDense(k, nil)
	t.MulVec(lr.V.T(), mat.NewVecDense(n2, x))
	y := mat.NewVecDense(n1, nil)
	y.MulVec(lr.U, t)
	return y.RawVector().Data, nil
}

// nodeRNG returns the generator for node id. Every node owns its stream, so
// sampling does not depend on traversal order or the number of workers.
func nodeRNG(seed uint64, id int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(id)))
}

// selectLandmarks picks at most r positions from [start, end), split at mid
// into two children. If r covers the smaller child, every point of that child
// is kept and the rest is filled from a shuffle of the other child, which
// makes the cross block exact. Otherwise the first r entries of a shuffle of
// the whole range are used, so sets for a fixed rng are nested in r.
// The result is sorted.
func selectLandmarks(rng *rand.Rand, start, mid, end, r int) []int {
	n := end - start
	if r >= n {
		return rangeIdx(start, end)
	}

	nLeft, nRight := mid-start, end-mid
	var out []int
	if small := min(nLeft, nRight); r >= small {
		smallStart, otherStart, otherN := start, mid, nRight
		if nRight < nLeft {
			smallStart, otherStart, otherN = mid, start, nLeft
		}
		out = rangeIdx(smallStart, smallStart+small)
		for _, k := range rng.Perm(otherN)[:r-small] {
			out = append(out, otherStart+k)
		}
	} else {
		out = make([]int, 0, r)
		for _, k := range rng.Perm(n)[:r] {
			out = append(out, start+k)
		}
	}
	slices.Sort(out)
	return out
}

// pinvSym returns the Moore-Penrose pseudo-inverse of the symmetric matrix a
// via its eigendecomposition. Eigenvalues at or below tol·λmax are treated as
// zero. dropped counts them; ok is false when no eigenvalue survives.
func pinvSym(a *mat.SymDense, tol float64) (inv *mat.SymDense, dropped int, ok bool) {
	n := a.SymmetricDim()
	var es mat.EigenSym
	if !es.Factorize(a, true) {
		return mat.NewSymDense(n, nil), n, false
	}
	vals := es.Values(nil)
	var q mat.Dense
	es.VectorsTo(&q)

	maxVal := 0.0
	for _, v := range vals {
		maxVal = max(maxVal, v)
	}
	cutoff := tol * maxVal

	inv = mat.NewSymDense(n, nil)
	kept := 0
	for k, v := range vals {
		if v <= cutoff || v <= 0 {
			dropped++
			continue
		}
		kept++
		w := 1 / v
		for i := 0; i < n; i++ {
			qi := q.At(i, k) * w
			if qi == 0 {
				continue
			}
			for j := i; j < n; j++ {
				inv.SetSym(i, j, inv.At(i, j)+qi*q.At(j, k))
			}
		}
	}
	return inv, dropped, kept > 0
}

// CompressBlock approximates the cross-covariance block K(left, right) by a
// Nyström factorization through at most r landmarks drawn from both clusters
// with rng. The block is reproduced exactly when r covers the smaller
// cluster. A nil rng uses a fixed seed.
func CompressBlock(k Kernel, left, right *PointSet, r int, rng *rand.Rand, tol float64) (*LowRank, error) {
	if left == nil || right == nil || left.N() == 0 || right.N() == 0 {
		return nil, ErrEmptyPointSet
	}
	if left.Dims() != right.Dims() {
		return nil, dimErrorf("CompressBlock", left.Dims(), right.Dims())
	}
	if r < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrBadRank, r)
	}
	if rng == nil {
		rng = nodeRNG(0, 0)
	}

	n1, n2 := left.N(), right.N()
	joined := make([]float64, 0, (n1+n2)*left.Dims())
	joined = append(joined, left.data...)
	joined = append(joined, right.data...)
	union := &PointSet{data: joined, n: n1 + n2, dims: left.Dims()}

	landmarks := selectLandmarks(rng, 0, n1, n1+n2, r)
	sigma, _, _ := pinvSym(kernelSym(union, k, landmarks, 0), tol)

	kLeft := kernelBlock(union, k, rangeIdx(0, n1), landmarks)
	var u mat.Dense
	u.Mul(kLeft, sigma)
	v := kernelBlock(union, k, rangeIdx(n1, n1+n2), landmarks)
	return &LowRank{U: &u, V: v}, nil
}
