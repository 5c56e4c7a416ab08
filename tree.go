package rlcm

import (
	"fmt"
	"math"
	"sort"
)

// SplitStrategy selects where a node is cut along its split axis.
type SplitStrategy string

const (
	// SplitMedian cuts between the two middle coordinates, giving balanced
	// children.
	SplitMedian SplitStrategy = "median"
	// SplitMidpoint cuts at the middle of the node's box. Falls back to the
	// median when the midpoint leaves one side empty.
	SplitMidpoint SplitStrategy = "midpoint"
)

// BoxStrategy selects how a node's bounding region is obtained.
type BoxStrategy string

const (
	// BoxTight recomputes the tight box of the node's points.
	BoxTight BoxStrategy = "tight"
	// BoxInherited cuts the parent's box at the split value.
	BoxInherited BoxStrategy = "inherited"
)

// LevelsAuto asks the builder to derive the number of levels from N and the rank.
const LevelsAuto = -1

// TreeConfig controls cluster-tree construction.
type TreeConfig struct {
	// Rank is the compression rank r. Nodes with at most Rank points are leaves.
	Rank int

	// Levels is the maximum depth below the root. LevelsAuto derives
	// floor(log2(N/Rank)).
	Levels int

	// Split selects the cut position. Default: SplitMedian.
	Split SplitStrategy

	// Box selects the bounding-region policy used to pick the split axis.
	// Default: BoxTight.
	Box BoxStrategy
}

// Node is one cluster of the tree. Children are addressed by index into
// Tree.Nodes; -1 means none.
type Node struct {
	// Start and End delimit the node's points in tree order: [Start, End).
	Start, End int

	Left, Right, Parent int
	Depth               int
	IsLeaf              bool

	// Box is the node's bounding region.
	Box Box

	// SplitAxis and SplitValue describe the cut for internal nodes: a point x
	// belongs to the left child iff x[SplitAxis] < SplitValue.
	SplitAxis  int
	SplitValue float64
}

// Count returns the number of points in the node.
func (nd Node) Count() int { return nd.End - nd.Start }

// Tree is a binary spatial partition of a point set. Nodes live in a single
// arena; node 0 is the root. The tree and its permutation are read-only
// once built.
type Tree struct {
	Nodes []Node

	// Perm maps tree positions to original indices.
	Perm Permutation

	points *PointSet // tree order
	rank   int
	levels int
	depth  int
}

// AutoLevels returns floor(log2(n/rank)), or 0 when n <= rank.
func AutoLevels(n, rank int) int {
	if rank < 1 || n <= rank {
		return 0
	}
	return int(math.Floor(math.Log2(float64(n) / float64(rank))))
}

// treeBuilder carries the scratch state of one BuildTree call.
type treeBuilder struct {
	data   []float64 // original flat data
	dims   int
	perm   []int
	cfg    TreeConfig
	nodes  []Node
	coords []float64 // scratch, one per point
	depth  int
}

// BuildTree partitions points into a binary cluster tree. The result is
// deterministic for a fixed input order; ties are broken by original index.
func BuildTree(points *PointSet, cfg TreeConfig) (*Tree, error) {
	if points == nil || points.N() == 0 {
		return nil, ErrEmptyPointSet
	}
	if err := validateTreeConfig(&cfg); err != nil {
		return nil, err
	}
	n := points.N()
	levels := cfg.Levels
	if levels == LevelsAuto {
		levels = AutoLevels(n, cfg.Rank)
	}
	cfg.Levels = levels

	b := &treeBuilder{
		data:   points.data,
		dims:   points.dims,
		perm:   Identity(n),
		cfg:    cfg,
		nodes:  make([]Node, 0, 2*max(1, n/max(cfg.Rank, 1))+1),
		coords: make([]float64, n),
	}
	b.buildNode(-1, 0, 0, n, Box{})

	perm := Permutation(b.perm)
	treePoints, err := points.Permute(perm)
	if err != nil {
		return nil, err
	}
	return &Tree{
		Nodes:  b.nodes,
		Perm:   perm,
		points: treePoints,
		rank:   cfg.Rank,
		levels: levels,
		depth:  b.depth,
	}, nil
}

func validateTreeConfig(cfg *TreeConfig) error {
	if cfg.Rank < 1 {
		return fmt.Errorf("%w, got %d", ErrBadRank, cfg.Rank)
	}
	if cfg.Levels < LevelsAuto {
		return fmt.Errorf("%w: Levels must be >= 0 or LevelsAuto, got %d", ErrBadConfig, cfg.Levels)
	}
	if cfg.Split == "" {
		cfg.Split = SplitMedian
	}
	if cfg.Box == "" {
		cfg.Box = BoxTight
	}
	switch cfg.Split {
	case SplitMedian, SplitMidpoint:
	default:
		return fmt.Errorf("%w: unknown split strategy %q", ErrBadConfig, cfg.Split)
	}
	switch cfg.Box {
	case BoxTight, BoxInherited:
	default:
		return fmt.Errorf("%w: unknown box strategy %q", ErrBadConfig, cfg.Box)
	}
	return nil
}

// point returns original point idx.
func (b *treeBuilder) point(idx int) []float64 {
	return b.data[idx*b.dims : (idx+1)*b.dims]
}

// buildNode appends the node for perm[start:end] and recurses. The
// inherited box is only used with BoxInherited.
func (b *treeBuilder) buildNode(parent, depth, start, end int, inherited Box) int {
	id := len(b.nodes)
	box := b.tightBox(start, end)
	if b.cfg.Box == BoxInherited && parent >= 0 {
		box = inherited
	}
	b.nodes = append(b.nodes, Node{
		Start: start, End: end,
		Left: -1, Right: -1, Parent: parent,
		Depth: depth, IsLeaf: true,
		Box: box, SplitAxis: -1,
	})
	if depth > b.depth {
		b.depth = depth
	}

	count := end - start
	if depth >= b.cfg.Levels || count <= b.cfg.Rank || count < 2 {
		return id
	}

	axis, k, value, ok := b.chooseSplit(start, end, box)
	if !ok {
		// Every point coincides; nothing to separate.
		return id
	}

	leftBox, rightBox := box.clone(), box.clone()
	leftBox.Max[axis] = value
	rightBox.Min[axis] = value

	left := b.buildNode(id, depth+1, start, start+k, leftBox)
	right := b.buildNode(id, depth+1, start+k, end, rightBox)

	nd := &b.nodes[id]
	nd.IsLeaf = false
	nd.Left, nd.Right = left, right
	nd.SplitAxis, nd.SplitValue = axis, value
	return id
}

// tightBox computes min/max per dimension for points perm[start:end].
func (b *treeBuilder) tightBox(start, end int) Box {
	box := Box{Min: make([]float64, b.dims), Max: make([]float64, b.dims)}
	for d := 0; d < b.dims; d++ {
		box.Min[d] = math.Inf(1)
		box.Max[d] = math.Inf(-1)
	}
	for i := start; i < end; i++ {
		pt := b.point(b.perm[i])
		for d := 0; d < b.dims; d++ {
			if pt[d] < box.Min[d] {
				box.Min[d] = pt[d]
			}
			if pt[d] > box.Max[d] {
				box.Max[d] = pt[d]
			}
		}
	}
	return box
}

// chooseSplit tries axes in decreasing box extent and returns the first one
// along which the points can be separated. On success perm[start:end] is
// sorted along the axis and the first k entries form the left child.
func (b *treeBuilder) chooseSplit(start, end int, box Box) (int, int, float64, bool) {
	for _, axis := range box.AxesByExtent() {
		b.sortByDimension(start, end, axis)
		c := b.coords[start:end]
		if c[0] == c[len(c)-1] {
			continue // no spread along this axis
		}
		if b.cfg.Split == SplitMidpoint {
			mid := box.Min[axis] + box.Extent(axis)/2
			k := sort.SearchFloat64s(c, mid)
			if k > 0 && k < len(c) {
				return axis, k, mid, true
			}
		}
		k := medianCut(c)
		return axis, k, cutValue(c[k-1], c[k]), true
	}
	return 0, 0, 0, false
}

// sortByDimension sorts perm[start:end] by coordinate dim, breaking ties by
// original index, and fills coords[start:end] with the sorted coordinates.
func (b *treeBuilder) sortByDimension(start, end, dim int) {
	sub := b.perm[start:end]
	dims := b.dims
	data := b.data
	sort.Slice(sub, func(i, j int) bool {
		ci, cj := data[sub[i]*dims+dim], data[sub[j]*dims+dim]
		if ci != cj {
			return ci < cj
		}
		return sub[i] < sub[j]
	})
	for i, idx := range sub {
		b.coords[start+i] = data[idx*dims+dim]
	}
}

// medianCut returns the change point of sorted c closest to the middle,
// i.e. k in [1, len(c)) with c[k-1] < c[k]. c must not be constant.
func medianCut(c []float64) int {
	mid := len(c) / 2
	for off := 0; off < len(c); off++ {
		if k := mid - off; k >= 1 && k < len(c) && c[k-1] < c[k] {
			return k
		}
		if k := mid + off; k >= 1 && k < len(c) && c[k-1] < c[k] {
			return k
		}
	}
	return mid
}

// cutValue returns a value v with lo < v <= hi.
func cutValue(lo, hi float64) float64 {
	v := lo + (hi-lo)/2
	if v <= lo {
		return hi
	}
	return v
}

// Points returns the tree-ordered point set.
func (t *Tree) Points() *PointSet { return t.points }

// N returns the number of points.
func (t *Tree) N() int { return t.points.N() }

// Rank returns the configured rank.
func (t *Tree) Rank() int { return t.rank }

// Levels returns the configured (or derived) maximum depth.
func (t *Tree) Levels() int { return t.levels }

// Depth returns the depth of the deepest node actually built.
func (t *Tree) Depth() int { return t.depth }

// NumNodes returns the number of nodes in the arena.
func (t *Tree) NumNodes() int { return len(t.Nodes) }

// Leaves returns leaf node indices in tree order.
func (t *Tree) Leaves() []int {
	var leaves []int
	for id, nd := range t.Nodes {
		if nd.IsLeaf {
			leaves = append(leaves, id)
		}
	}
	// The arena is filled in pre-order, so leaves are already ordered by Start.
	return leaves
}

// Locate routes x from the root to a leaf using the recorded splits and
// returns the leaf's node index.
func (t *Tree) Locate(x []float64) (int, error) {
	if len(x) != t.points.Dims() {
		return -1, dimErrorf("Tree.Locate", t.points.Dims(), len(x))
	}
	id := 0
	for !t.Nodes[id].IsLeaf {
		nd := t.Nodes[id]
		if x[nd.SplitAxis] < nd.SplitValue {
			id = nd.Left
		} else {
			id = nd.Right
		}
	}
	return id, nil
}
