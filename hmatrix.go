package rlcm

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// HMatrix is a recursively low-rank compressed approximation of
// K(X, X) + λI over a cluster tree.
//
// Every leaf ℓ stores its dense diagonal block A_ℓ. Every internal node p owns
// a landmark set S_p and Σ_p = K(S_p, S_p)⁺. Every non-root node c with parent
// p stores a basis U_c whose rows approximate K(x, S_p) for x in c: leaves use
// the exact K(X_c, S_p), internal nodes use [U_a; U_b]·W_c with
// W_c = Σ_c K(S_c, S_p). The off-diagonal block between the children a, b of p
// is U_a Σ_p U_bᵗ.
//
// An HMatrix is read-only once built and safe for concurrent use. All vectors
// are in tree order; use Tree().Perm to convert.
type HMatrix struct {
	tree   *Tree
	kernel Kernel
	lambda float64
	nodes  []hnode
	opts   options
	warns  []Warning
}

type hnode struct {
	dense *mat.SymDense // leaf: K(X_ℓ, X_ℓ) + λI

	landmarks []int         // internal: tree positions of S_p
	sigma     *mat.SymDense // internal: K(S_p, S_p)⁺

	basis *mat.Dense // non-root: U_c, n_c × |S_parent|
	w     *mat.Dense // internal non-root: W_c, |S_c| × |S_parent|
}

// NewHMatrix compresses K(X, X) + lambda*I over an existing tree. The tree
// can be shared by matrices built for different kernels.
func NewHMatrix(tree *Tree, kernel Kernel, lambda float64, opts ...Option) (*HMatrix, error) {
	if tree == nil || tree.N() == 0 {
		return nil, ErrEmptyPointSet
	}
	if kernel == nil {
		return nil, fmt.Errorf("%w: nil kernel", ErrBadConfig)
	}
	if !(lambda > 0) {
		return nil, fmt.Errorf("%w, got %g", ErrNonPositiveLambda, lambda)
	}

	o := buildOptions(opts)
	hm := &HMatrix{
		tree:   tree,
		kernel: kernel,
		lambda: lambda,
		nodes:  make([]hnode, len(tree.Nodes)),
		opts:   o,
	}

	start := time.Now()
	fj := newForkJoin(o.workers)
	err := hm.compress(fj, 0)
	o.metrics.RecordBuild(tree.N(), len(tree.Nodes), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	hm.collectWarnings()

	o.logger.Debug("compressed kernel matrix",
		zap.Int("n", tree.N()),
		zap.Int("rank", tree.Rank()),
		zap.Int("nodes", len(tree.Nodes)),
		zap.Int("depth", tree.Depth()),
		zap.Duration("elapsed", time.Since(start)),
	)
	for _, w := range hm.warns {
		o.logger.Warn("landmark gram matrix has no usable spectrum",
			zap.Int("node", w.Node), zap.String("detail", w.Detail))
	}
	return hm, nil
}

// compress fills node id and its subtree. Landmarks and Σ of a node are
// computed before its children, which need S_p for their bases; the node's
// own basis is assembled after both children finish.
func (hm *HMatrix) compress(fj *forkJoin, id int) error {
	nd := hm.tree.Nodes[id]
	pts := hm.tree.points
	hn := &hm.nodes[id]

	if nd.IsLeaf {
		idx := rangeIdx(nd.Start, nd.End)
		hn.dense = kernelSym(pts, hm.kernel, idx, hm.lambda)
		if nd.Parent >= 0 {
			parent := &hm.nodes[nd.Parent]
			hn.basis = kernelBlock(pts, hm.kernel, idx, parent.landmarks)
		}
		return nil
	}

	mid := hm.tree.Nodes[nd.Left].End
	rng := nodeRNG(hm.opts.seed, id)
	hn.landmarks = selectLandmarks(rng, nd.Start, mid, nd.End, hm.tree.Rank())
	sigma, dropped, _ := pinvSym(kernelSym(pts, hm.kernel, hn.landmarks, 0), hm.opts.pinvTol)
	hn.sigma = sigma
	if dropped > 0 {
		hm.opts.logger.Debug("truncated landmark spectrum",
			zap.Int("node", id), zap.Int("landmarks", len(hn.landmarks)), zap.Int("dropped", dropped))
	}

	if err := fj.run(
		func() error { return hm.compress(fj, nd.Left) },
		func() error { return hm.compress(fj, nd.Right) },
	); err != nil {
		return err
	}

	if nd.Parent < 0 {
		return nil
	}
	parent := &hm.nodes[nd.Parent]
	cross := kernelBlock(pts, hm.kernel, hn.landmarks, parent.landmarks)
	hn.w = &mat.Dense{}
	hn.w.Mul(sigma, cross)

	stacked := stackRows(hm.nodes[nd.Left].basis, hm.nodes[nd.Right].basis)
	hn.basis = &mat.Dense{}
	hn.basis.Mul(stacked, hn.w)
	return nil
}

// collectWarnings records nodes whose landmark Gram matrix vanished entirely.
func (hm *HMatrix) collectWarnings() {
	for id, nd := range hm.tree.Nodes {
		hn := hm.nodes[id]
		if nd.IsLeaf || !isZeroSym(hn.sigma) {
			continue
		}
		hm.warns = append(hm.warns, Warning{
			Node:   id,
			Kind:   WarnIllConditioned,
			Detail: fmt.Sprintf("%d landmarks, no positive eigenvalue", len(hn.landmarks)),
		})
	}
}

func isZeroSym(a *mat.SymDense) bool {
	n := a.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if a.At(i, j) != 0 {
				return false
			}
		}
	}
	return true
}

// stackRows returns [a; b].
func stackRows(a, b *mat.Dense) *mat.Dense {
	ra, c := a.Dims()
	rb, _ := b.Dims()
	out := mat.NewDense(ra+rb, c, nil)
	out.Slice(0, ra, 0, c).(*mat.Dense).Copy(a)
	out.Slice(ra, ra+rb, 0, c).(*mat.Dense).Copy(b)
	return out
}

// Tree returns the cluster tree.
func (hm *HMatrix) Tree() *Tree { return hm.tree }

// Kernel returns the kernel the matrix was built for.
func (hm *HMatrix) Kernel() Kernel { return hm.kernel }

// Lambda returns the diagonal correction.
func (hm *HMatrix) Lambda() float64 { return hm.lambda }

// N returns the matrix dimension.
func (hm *HMatrix) N() int { return hm.tree.N() }

// Warnings returns conditions noticed during compression.
func (hm *HMatrix) Warnings() []Warning { return append([]Warning(nil), hm.warns...) }

// Multiply returns (K + λI)·x for x in tree order.
func (hm *HMatrix) Multiply(x []float64) ([]float64, error) {
	if len(x) != hm.N() {
		return nil, dimErrorf("HMatrix.Multiply", hm.N(), len(x))
	}
	y := make([]float64, len(x))
	hm.multiply(0, x, y)
	return y, nil
}

// multiply adds the diagonal block of node id applied to x into y. x and y
// hold the full vectors; the node reads and writes its own range only.
func (hm *HMatrix) multiply(id int, x, y []float64) {
	nd := hm.tree.Nodes[id]
	hn := hm.nodes[id]
	if nd.IsLeaf {
		n := nd.Count()
		yv := mat.NewVecDense(n, nil)
		yv.MulVec(hn.dense, mat.NewVecDense(n, x[nd.Start:nd.End]))
		addTo(y[nd.Start:nd.End], yv.RawVector().Data)
		return
	}

	hm.multiply(nd.Left, x, y)
	hm.multiply(nd.Right, x, y)

	left, right := hm.tree.Nodes[nd.Left], hm.tree.Nodes[nd.Right]
	ua, ub := hm.nodes[nd.Left].basis, hm.nodes[nd.Right].basis
	r := len(hn.landmarks)

	ta := mat.NewVecDense(r, nil)
	ta.MulVec(ua.T(), mat.NewVecDense(left.Count(), x[left.Start:left.End]))
	tb := mat.NewVecDense(r, nil)
	tb.MulVec(ub.T(), mat.NewVecDense(right.Count(), x[right.Start:right.End]))

	// y_a += U_a Σ U_bᵗ x_b, y_b += U_b Σ U_aᵗ x_a
	sa := mat.NewVecDense(r, nil)
	sa.MulVec(hn.sigma, tb)
	sb := mat.NewVecDense(r, nil)
	sb.MulVec(hn.sigma, ta)

	ya := mat.NewVecDense(left.Count(), nil)
	ya.MulVec(ua, sa)
	addTo(y[left.Start:left.End], ya.RawVector().Data)
	yb := mat.NewVecDense(right.Count(), nil)
	yb.MulVec(ub, sb)
	addTo(y[right.Start:right.End], yb.RawVector().Data)
}

func addTo(dst, src []float64) {
	for i, v := range src {
		dst[i] += v
	}
}

// OffDiagonal returns the factor pair of the block between the children of
// internal node id: rows of the left child, columns of the right child.
func (hm *HMatrix) OffDiagonal(id int) (*LowRank, error) {
	if id < 0 || id >= len(hm.tree.Nodes) {
		return nil, fmt.Errorf("%w: node %d out of range [0,%d)", ErrBadConfig, id, len(hm.tree.Nodes))
	}
	nd := hm.tree.Nodes[id]
	if nd.IsLeaf {
		return nil, fmt.Errorf("%w: node %d is a leaf", ErrBadConfig, id)
	}
	var u mat.Dense
	u.Mul(hm.nodes[nd.Left].basis, hm.nodes[id].sigma)
	v := mat.DenseCopyOf(hm.nodes[nd.Right].basis)
	return &LowRank{U: &u, V: v}, nil
}

// Dense materializes the approximation in tree order. Intended for
// diagnostics on small problems.
func (hm *HMatrix) Dense() *mat.SymDense {
	n := hm.N()
	out := mat.NewSymDense(n, nil)
	for id, nd := range hm.tree.Nodes {
		if nd.IsLeaf {
			d := hm.nodes[id].dense
			for i := 0; i < nd.Count(); i++ {
				for j := i; j < nd.Count(); j++ {
					out.SetSym(nd.Start+i, nd.Start+j, d.At(i, j))
				}
			}
			continue
		}
		lr, _ := hm.OffDiagonal(id)
		block := lr.Dense()
		left, right := hm.tree.Nodes[nd.Left], hm.tree.Nodes[nd.Right]
		for i := 0; i < left.Count(); i++ {
			for j := 0; j < right.Count(); j++ {
				out.SetSym(left.Start+i, right.Start+j, block.At(i, j))
			}
		}
	}
	return out
}
