package rlcm

import (
	"fmt"
	"math"
	"sort"
)

// PointSet is an ordered collection of points of equal dimensionality.
// Points are stored in a flat row-major array: point i occupies
// data[i*dims : (i+1)*dims]. A PointSet is never mutated after construction;
// Subset and Permute return new sets.
type PointSet struct {
	data []float64
	n    int
	dims int
}

// NewPointSet copies rows into a new PointSet. All rows must have the same
// length.
func NewPointSet(rows [][]float64) (*PointSet, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyPointSet
	}
	dims := len(rows[0])
	if dims == 0 {
		return nil, fmt.Errorf("rlcm: points must have at least one coordinate: %w", ErrDimensionMismatch)
	}
	data := make([]float64, len(rows)*dims)
	for i, row := range rows {
		if len(row) != dims {
			return nil, dimErrorf(fmt.Sprintf("NewPointSet row %d", i), dims, len(row))
		}
		copy(data[i*dims:], row)
	}
	return &PointSet{data: data, n: len(rows), dims: dims}, nil
}

// NewPointSetFlat copies flat row-major data with n points of dimensionality dims.
func NewPointSetFlat(data []float64, n, dims int) (*PointSet, error) {
	if n <= 0 {
		return nil, ErrEmptyPointSet
	}
	if dims <= 0 {
		return nil, fmt.Errorf("rlcm: dims must be > 0, got %d: %w", dims, ErrDimensionMismatch)
	}
	if len(data) != n*dims {
		return nil, dimErrorf("NewPointSetFlat", n*dims, len(data))
	}
	dataCopy := make([]float64, len(data))
	copy(dataCopy, data)
	return &PointSet{data: dataCopy, n: n, dims: dims}, nil
}

// N returns the number of points.
func (ps *PointSet) N() int { return ps.n }

// Dims returns the dimensionality of each point.
func (ps *PointSet) Dims() int { return ps.dims }

// At returns a read-only view of point i.
func (ps *PointSet) At(i int) []float64 {
	return ps.data[i*ps.dims : (i+1)*ps.dims : (i+1)*ps.dims]
}

// Rows returns a deep copy of the points as a slice of rows.
func (ps *PointSet) Rows() [][]float64 {
	rows := make([][]float64, ps.n)
	for i := range rows {
		rows[i] = append([]float64(nil), ps.At(i)...)
	}
	return rows
}

// Subset returns the points at idx, in the order given by idx. Indices may
// repeat.
func (ps *PointSet) Subset(idx []int) (*PointSet, error) {
	if len(idx) == 0 {
		return nil, ErrEmptyPointSet
	}
	data := make([]float64, len(idx)*ps.dims)
	for k, i := range idx {
		if i < 0 || i >= ps.n {
			return nil, fmt.Errorf("rlcm: subset index %d out of range [0,%d): %w", i, ps.n, ErrDimensionMismatch)
		}
		copy(data[k*ps.dims:], ps.At(i))
	}
	return &PointSet{data: data, n: len(idx), dims: ps.dims}, nil
}

// Permute returns a new set whose i-th point is the perm[i]-th point of ps.
func (ps *PointSet) Permute(perm Permutation) (*PointSet, error) {
	if len(perm) != ps.n {
		return nil, dimErrorf("Permute", ps.n, len(perm))
	}
	if err := perm.Validate(); err != nil {
		return nil, err
	}
	return ps.Subset(perm)
}

// BoundingBox returns the tight axis-aligned box around all points.
func (ps *PointSet) BoundingBox() Box {
	return boundsOf(ps.data, ps.dims, 0, ps.n)
}

// RegularGrid generates a regular grid with shape[j] points along axis j
// spanning [lower[j], upper[j]] inclusive. The first axis varies fastest. An
// axis with a single point sits at lower[j].
func RegularGrid(shape []int, lower, upper []float64) (*PointSet, error) {
	dims := len(shape)
	if dims == 0 || len(lower) != dims || len(upper) != dims {
		return nil, fmt.Errorf("%w: shape/lower/upper lengths %d/%d/%d", ErrBadGrid, len(shape), len(lower), len(upper))
	}
	n := 1
	for j, s := range shape {
		if s < 1 {
			return nil, fmt.Errorf("%w: axis %d has %d points", ErrBadGrid, j, s)
		}
		if !(upper[j] >= lower[j]) {
			return nil, fmt.Errorf("%w: axis %d has upper %g < lower %g", ErrBadGrid, j, upper[j], lower[j])
		}
		n *= s
	}

	data := make([]float64, n*dims)
	sub := make([]int, dims)
	for i := 0; i < n; i++ {
		for j := 0; j < dims; j++ {
			v := lower[j]
			if shape[j] > 1 {
				v += (upper[j] - lower[j]) * float64(sub[j]) / float64(shape[j]-1)
			}
			data[i*dims+j] = v
		}
		// Advance the multi-index, first axis fastest.
		for j := 0; j < dims; j++ {
			sub[j]++
			if sub[j] < shape[j] {
				break
			}
			sub[j] = 0
		}
	}
	return &PointSet{data: data, n: n, dims: dims}, nil
}

// Box is an axis-aligned bounding region.
type Box struct {
	Min []float64
	Max []float64
}

// AxesByExtent returns the axes ordered by decreasing extent. Ties keep
// the lower axis first.
func (b Box) AxesByExtent() []int {
	axes := make([]int, len(b.Min))
	for j := range axes {
		axes[j] = j
	}
	sort.SliceStable(axes, func(i, j int) bool {
		return b.Extent(axes[i]) > b.Extent(axes[j])
	})
	return axes
}

// Extent returns the width of the box along axis.
func (b Box) Extent(axis int) float64 { return b.Max[axis] - b.Min[axis] }

// Contains reports whether x lies inside the closed box.
func (b Box) Contains(x []float64) bool {
	for j := range b.Min {
		if x[j] < b.Min[j] || x[j] > b.Max[j] {
			return false
		}
	}
	return true
}

func (b Box) clone() Box {
	return Box{
		Min: append([]float64(nil), b.Min...),
		Max: append([]float64(nil), b.Max...),
	}
}

// boundsOf computes the tight box of rows [start, end) of flat row-major data.
func boundsOf(data []float64, dims, start, end int) Box {
	b := Box{Min: make([]float64, dims), Max: make([]float64, dims)}
	for d := 0; d < dims; d++ {
		b.Min[d] = math.Inf(1)
		b.Max[d] = math.Inf(-1)
	}
	for i := start; i < end; i++ {
		for d := 0; d < dims; d++ {
			v := data[i*dims+d]
			if v < b.Min[d] {
				b.Min[d] = v
			}
			if v > b.Max[d] {
				b.Max[d] = v
			}
		}
	}
	return b
}

// samePoint reports whether a and b have identical coordinates.
func samePoint(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
