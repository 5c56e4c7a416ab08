package rlcm

import "fmt"

// Permutation records a reordering of N items: p[i] is the original index of
// the item stored at position i. For a cluster tree, position i is the
// in-order (tree) position.
type Permutation []int

// Identity returns the identity permutation of length n.
func Identity(n int) Permutation {
	p := make(Permutation, n)
	for i := range p {
		p[i] = i
	}
	return p
}

// Validate checks that p is a bijection of [0, len(p)).
func (p Permutation) Validate() error {
	seen := make([]bool, len(p))
	for i, v := range p {
		if v < 0 || v >= len(p) {
			return fmt.Errorf("%w: p[%d] = %d out of range [0,%d)", ErrBadPermutation, i, v, len(p))
		}
		if seen[v] {
			return fmt.Errorf("%w: index %d appears twice", ErrBadPermutation, v)
		}
		seen[v] = true
	}
	return nil
}

// Apply maps an original-order vector to permuted order: out[i] = v[p[i]].
func (p Permutation) Apply(v []float64) ([]float64, error) {
	if len(v) != len(p) {
		return nil, dimErrorf("Permutation.Apply", len(p), len(v))
	}
	out := make([]float64, len(v))
	for i, src := range p {
		out[i] = v[src]
	}
	return out, nil
}

// Restore undoes Apply: out[p[i]] = v[i].
func (p Permutation) Restore(v []float64) ([]float64, error) {
	if len(v) != len(p) {
		return nil, dimErrorf("Permutation.Restore", len(p), len(v))
	}
	out := make([]float64, len(v))
	for i, dst := range p {
		out[dst] = v[i]
	}
	return out, nil
}

// Inverse returns q with q[p[i]] = i, i.e. the permuted position of each
// original index.
func (p Permutation) Inverse() Permutation {
	q := make(Permutation, len(p))
	for i, v := range p {
		q[v] = i
	}
	return q
}
