package rlcm

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermutation_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	for _, n := range []int{1, 2, 7, 100} {
		p := Permutation(rng.Perm(n))
		require.NoError(t, p.Validate())
		v := randomVector(uint64(n), n)

		applied, err := p.Apply(v)
		require.NoError(t, err)
		back, err := p.Restore(applied)
		require.NoError(t, err)
		assert.Equal(t, v, back, "n=%d", n)
	}
}

func TestPermutation_ApplySemantics(t *testing.T) {
	p := Permutation{2, 0, 1}
	out, err := p.Apply([]float64{10, 11, 12})
	require.NoError(t, err)
	assert.Equal(t, []float64{12, 10, 11}, out)

	q := p.Inverse()
	assert.Equal(t, Permutation{1, 2, 0}, q)
	for i := range p {
		assert.Equal(t, i, q[p[i]])
	}
}

func TestPermutation_Validate(t *testing.T) {
	assert.NoError(t, Identity(5).Validate())
	assert.ErrorIs(t, Permutation{0, 2}.Validate(), ErrBadPermutation)
	assert.ErrorIs(t, Permutation{1, 1}.Validate(), ErrBadPermutation)
	assert.ErrorIs(t, Permutation{-1, 0}.Validate(), ErrBadPermutation)
}

func TestPermutation_LengthMismatch(t *testing.T) {
	_, err := Identity(3).Apply([]float64{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = Identity(3).Restore([]float64{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
