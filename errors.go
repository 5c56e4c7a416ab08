package rlcm

import (
	"errors"
	"fmt"
)

// Configuration errors. They abort the enclosing operation and never leave a
// partial result behind. Match them with errors.Is.
var (
	// ErrNonPositiveLambda is returned when the diagonal correction is <= 0.
	ErrNonPositiveLambda = errors.New("rlcm: diagonal correction must be > 0")

	// ErrBadRank is returned when the rank is < 1.
	ErrBadRank = errors.New("rlcm: rank must be >= 1")

	// ErrRankTooLarge is returned when rank >= number of points and dense
	// fallback is disabled.
	ErrRankTooLarge = errors.New("rlcm: rank must be smaller than the number of points")

	// ErrParamCount is returned when a parameter vector does not have the
	// length the kernel family declares.
	ErrParamCount = errors.New("rlcm: wrong number of kernel parameters")

	// ErrSplitMismatch is returned when train+test counts do not add up to N.
	ErrSplitMismatch = errors.New("rlcm: train/test split does not match field size")

	// ErrDimensionMismatch is returned when vector or point dimensions disagree.
	ErrDimensionMismatch = errors.New("rlcm: dimension mismatch")

	// ErrEmptyPointSet is returned when an operation needs at least one point.
	ErrEmptyPointSet = errors.New("rlcm: empty point set")

	// ErrBadPermutation is returned when an index array is not a bijection of [0,N).
	ErrBadPermutation = errors.New("rlcm: invalid permutation")

	// ErrBadGrid is returned for malformed regular-grid specifications.
	ErrBadGrid = errors.New("rlcm: invalid grid")

	// ErrBadConfig is returned for other invalid configuration values.
	ErrBadConfig = errors.New("rlcm: invalid configuration")
)

// Numerical errors.
var (
	// ErrSingular is returned when a block is exactly singular and the
	// regularization cannot mask it.
	ErrSingular = errors.New("rlcm: singular matrix")

	// ErrNoCandidates is returned when every grid-search candidate failed.
	ErrNoCandidates = errors.New("rlcm: no grid candidate produced a log-likelihood")
)

// dimErrorf wraps ErrDimensionMismatch with the operation and the sizes involved.
func dimErrorf(op string, want, got int) error {
	return fmt.Errorf("%w: %s: want %d, got %d", ErrDimensionMismatch, op, want, got)
}

// WarningKind classifies numerical-stability conditions.
type WarningKind string

const (
	// WarnLeafNotPD means a leaf block failed Cholesky and was factorized by LU.
	WarnLeafNotPD WarningKind = "leaf_not_positive_definite"

	// WarnNonPositiveDet means a capacitance matrix had a non-positive determinant.
	WarnNonPositiveDet WarningKind = "non_positive_determinant"

	// WarnIllConditioned means a landmark Gram matrix lost rank during
	// pseudo-inversion, or a factorized block's condition number exceeds
	// mat.ConditionTolerance.
	WarnIllConditioned WarningKind = "ill_conditioned"
)

// Warning is a numerical-stability condition that did not abort the
// computation. The regularized value was used.
type Warning struct {
	Node   int
	Kind   WarningKind
	Detail string
}

func (w Warning) String() string {
	return fmt.Sprintf("node %d: %s: %s", w.Node, w.Kind, w.Detail)
}
