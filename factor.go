package rlcm

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Factor is the factorized form of an HMatrix. It is produced by
// HMatrix.Factorize, read-only afterwards and safe for concurrent use.
//
// For an internal node p with children a, b the diagonal block is
//
//	A_p = blockdiag(A_a, A_b) + [U_a; U_b]·M_p·[U_a; U_b]ᵗ,  M_p = [[0, Σ_p], [Σ_p, 0]]
//
// and the Woodbury identity gives A_p⁻¹ through the 2|S_p| × 2|S_p| capacitance
// C_p = I + blockdiag(G_a, G_b)·M_p with G_c = U_cᵗ A_c⁻¹ U_c. The determinant
// lemma gives det A_p = det A_a · det A_b · det C_p.
type Factor struct {
	hm     *HMatrix
	nodes  []fnode
	logdet float64
	warns  []Warning
}

type fnode struct {
	chol *mat.Cholesky // leaf, positive definite
	lu   *mat.LU       // leaf fallback, or the capacitance of an internal node

	z *mat.Dense // non-root: A_c⁻¹ U_c
	g *mat.Dense // non-root: U_cᵗ A_c⁻¹ U_c

	logdet float64 // log|det A_c| of the subtree
}

// warnSink collects warnings from concurrent subtree factorizations.
type warnSink struct {
	mu    sync.Mutex
	warns []Warning
}

func (s *warnSink) add(w Warning) {
	s.mu.Lock()
	s.warns = append(s.warns, w)
	s.mu.Unlock()
}

// checkCond records a block whose solves gonum would report as a
// mat.Condition.
func (s *warnSink) checkCond(id int, block string, cond float64) {
	if cond > mat.ConditionTolerance || math.IsNaN(cond) {
		s.add(Warning{
			Node:   id,
			Kind:   WarnIllConditioned,
			Detail: fmt.Sprintf("%s condition number %.3g", block, cond),
		})
	}
}

// Factorize computes the recursive factorization and log-determinant.
// Leaf blocks that are not positive definite are factorized by LU and
// reported as warnings, as are capacitance matrices with a non-positive
// determinant and blocks whose condition number exceeds
// mat.ConditionTolerance. The factorization proceeds with the regularized
// values in all of these cases.
//
// λ > 0 keeps leaf blocks away from singularity but does not bound the
// capacitance matrices, whose conditioning depends on the landmarks. A block
// that is exactly singular after regularization cannot be solved with and
// returns ErrSingular.
func (hm *HMatrix) Factorize() (*Factor, error) {
	start := time.Now()
	f := &Factor{hm: hm, nodes: make([]fnode, len(hm.nodes))}
	sink := &warnSink{}

	err := f.factor(newForkJoin(hm.opts.workers), sink, 0)
	if err == nil {
		f.logdet = f.nodes[0].logdet
		f.warns = sortWarnings(sink.warns)
	}
	hm.opts.metrics.RecordFactorize(hm.N(), time.Since(start), len(sink.warns), err)
	if err != nil {
		return nil, err
	}

	for _, w := range f.warns {
		hm.opts.logger.Warn("numerical instability during factorization",
			zap.Int("node", w.Node),
			zap.String("kind", string(w.Kind)),
			zap.String("detail", w.Detail),
		)
	}
	hm.opts.logger.Debug("factorized kernel matrix",
		zap.Int("n", hm.N()),
		zap.Float64("logdet", f.logdet),
		zap.Duration("elapsed", time.Since(start)),
	)
	return f, nil
}

// sortWarnings orders warnings by node so the list does not depend on
// goroutine scheduling.
func sortWarnings(ws []Warning) []Warning {
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].Node < ws[j].Node })
	return ws
}

func (f *Factor) factor(fj *forkJoin, sink *warnSink, id int) error {
	nd := f.hm.tree.Nodes[id]
	hn := f.hm.nodes[id]
	fn := &f.nodes[id]

	if nd.IsLeaf {
		if err := fn.factorLeaf(id, hn.dense, sink); err != nil {
			return err
		}
	} else {
		if err := fj.run(
			func() error { return f.factor(fj, sink, nd.Left) },
			func() error { return f.factor(fj, sink, nd.Right) },
		); err != nil {
			return err
		}
		if err := f.factorInternal(id, sink); err != nil {
			return err
		}
	}

	if nd.Parent < 0 {
		return nil
	}
	if nd.IsLeaf {
		fn.z = &mat.Dense{}
		if err := fn.solveLeafTo(fn.z, hn.basis); err != nil {
			return fmt.Errorf("rlcm: leaf %d: %w", id, err)
		}
	}
	fn.g = &mat.Dense{}
	fn.g.Mul(hn.basis.T(), fn.z)
	return nil
}

func (fn *fnode) factorLeaf(id int, a *mat.SymDense, sink *warnSink) error {
	var chol mat.Cholesky
	if chol.Factorize(a) {
		fn.chol = &chol
		fn.logdet = chol.LogDet()
		sink.checkCond(id, "leaf Cholesky", chol.Cond())
		return nil
	}

	var lu mat.LU
	lu.Factorize(a)
	logAbs, sign := lu.LogDet()
	if sign == 0 || math.IsInf(logAbs, -1) || math.IsNaN(logAbs) {
		return fmt.Errorf("%w: leaf %d", ErrSingular, id)
	}
	fn.lu = &lu
	fn.logdet = logAbs
	sink.checkCond(id, "leaf LU", lu.Cond())
	sink.add(Warning{
		Node:   id,
		Kind:   WarnLeafNotPD,
		Detail: fmt.Sprintf("cholesky failed on %d×%d block, used LU (det sign %+g)", a.SymmetricDim(), a.SymmetricDim(), sign),
	})
	return nil
}

// solveLeafTo writes A_ℓ⁻¹ b into dst.
func (fn *fnode) solveLeafTo(dst *mat.Dense, b mat.Matrix) error {
	if fn.chol != nil {
		return ignoreCondition(fn.chol.SolveTo(dst, b))
	}
	return ignoreCondition(fn.lu.SolveTo(dst, false, b))
}

// ignoreCondition drops gonum's ill-conditioning report. The result is still
// computed, and Factorize has already recorded the condition as a warning.
func ignoreCondition(err error) error {
	if _, ok := err.(mat.Condition); ok {
		return nil
	}
	return err
}

// factorInternal builds and factorizes C_p, accumulates the log-determinant
// and, below the root, forms Z_p = A_p⁻¹ U_p.
func (f *Factor) factorInternal(id int, sink *warnSink) error {
	nd := f.hm.tree.Nodes[id]
	hn := f.hm.nodes[id]
	fa, fb := f.nodes[nd.Left], f.nodes[nd.Right]
	fn := &f.nodes[id]
	r := len(hn.landmarks)

	// C = [[I, G_a Σ], [G_b Σ, I]]
	c := mat.NewDense(2*r, 2*r, nil)
	for i := 0; i < 2*r; i++ {
		c.Set(i, i, 1)
	}
	var gs mat.Dense
	gs.Mul(fa.g, hn.sigma)
	c.Slice(0, r, r, 2*r).(*mat.Dense).Copy(&gs)
	gs.Reset()
	gs.Mul(fb.g, hn.sigma)
	c.Slice(r, 2*r, 0, r).(*mat.Dense).Copy(&gs)

	var lu mat.LU
	lu.Factorize(c)
	logAbs, sign := lu.LogDet()
	if sign == 0 || math.IsInf(logAbs, -1) || math.IsNaN(logAbs) {
		return fmt.Errorf("%w: capacitance of node %d", ErrSingular, id)
	}
	if sign < 0 {
		sink.add(Warning{
			Node:   id,
			Kind:   WarnNonPositiveDet,
			Detail: fmt.Sprintf("capacitance determinant is negative, log|det| = %g", logAbs),
		})
	}
	sink.checkCond(id, "capacitance", lu.Cond())
	fn.lu = &lu
	fn.logdet = fa.logdet + fb.logdet + logAbs

	if nd.Parent < 0 {
		return nil
	}

	// Z_p = blockdiag(Z_a, Z_b)·C⁻ᵗ·[W_p; W_p]
	ww := stackRows(hn.w, hn.w)
	var h mat.Dense
	if err := ignoreCondition(lu.SolveTo(&h, true, ww)); err != nil {
		return fmt.Errorf("rlcm: node %d: %w", id, err)
	}
	_, cols := hn.w.Dims()
	na, nb := f.hm.tree.Nodes[nd.Left].Count(), f.hm.tree.Nodes[nd.Right].Count()
	fn.z = mat.NewDense(na+nb, cols, nil)
	fn.z.Slice(0, na, 0, cols).(*mat.Dense).Mul(fa.z, h.Slice(0, r, 0, cols))
	fn.z.Slice(na, na+nb, 0, cols).(*mat.Dense).Mul(fb.z, h.Slice(r, 2*r, 0, cols))
	return nil
}

// LogDet returns log|det(K + λI)| of the approximation.
func (f *Factor) LogDet() float64 { return f.logdet }

// Warnings returns the numerical-stability conditions met while
// factorizing, ordered by node.
func (f *Factor) Warnings() []Warning {
	return append(f.hm.Warnings(), f.warns...)
}

// HMatrix returns the factorized matrix.
func (f *Factor) HMatrix() *HMatrix { return f.hm }

// Solve returns x with (K + λI)·x = rhs, both in tree order.
func (f *Factor) Solve(rhs []float64) ([]float64, error) {
	if len(rhs) != f.hm.N() {
		return nil, dimErrorf("Factor.Solve", f.hm.N(), len(rhs))
	}
	x := make([]float64, len(rhs))
	if err := f.solve(0, rhs, x); err != nil {
		return nil, err
	}
	return x, nil
}

// solve writes A_id⁻¹ y into x over the node's range.
func (f *Factor) solve(id int, y, x []float64) error {
	nd := f.hm.tree.Nodes[id]
	fn := f.nodes[id]
	n := nd.Count()

	if nd.IsLeaf {
		dst := mat.NewVecDense(n, x[nd.Start:nd.End])
		b := mat.NewVecDense(n, y[nd.Start:nd.End])
		if fn.chol != nil {
			return ignoreCondition(fn.chol.SolveVecTo(dst, b))
		}
		return ignoreCondition(fn.lu.SolveVecTo(dst, false, b))
	}

	if err := f.solve(nd.Left, y, x); err != nil {
		return err
	}
	if err := f.solve(nd.Right, y, x); err != nil {
		return err
	}

	left, right := f.hm.tree.Nodes[nd.Left], f.hm.tree.Nodes[nd.Right]
	ua, ub := f.hm.nodes[nd.Left].basis, f.hm.nodes[nd.Right].basis
	sigma := f.hm.nodes[id].sigma
	r := len(f.hm.nodes[id].landmarks)

	za := mat.NewVecDense(left.Count(), x[left.Start:left.End])
	zb := mat.NewVecDense(right.Count(), x[right.Start:right.End])

	t := mat.NewVecDense(2*r, nil)
	t.SliceVec(0, r).(*mat.VecDense).MulVec(ua.T(), za)
	t.SliceVec(r, 2*r).(*mat.VecDense).MulVec(ub.T(), zb)

	s := mat.NewVecDense(2*r, nil)
	if err := ignoreCondition(fn.lu.SolveVecTo(s, false, t)); err != nil {
		return fmt.Errorf("rlcm: node %d: %w", id, err)
	}

	// q = M s = [Σ s_b; Σ s_a]; x_c -= Z_c q_c
	qa := mat.NewVecDense(r, nil)
	qa.MulVec(sigma, s.SliceVec(r, 2*r))
	qb := mat.NewVecDense(r, nil)
	qb.MulVec(sigma, s.SliceVec(0, r))

	za.AddScaledVec(za, -1, mulVec(f.nodes[nd.Left].z, qa))
	zb.AddScaledVec(zb, -1, mulVec(f.nodes[nd.Right].z, qb))
	return nil
}

func mulVec(a *mat.Dense, x mat.Vector) *mat.VecDense {
	rows, _ := a.Dims()
	out := mat.NewVecDense(rows, nil)
	out.MulVec(a, x)
	return out
}
