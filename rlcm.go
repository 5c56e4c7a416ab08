package rlcm

import (
	"fmt"
	"runtime"
	"time"
)

// Config controls hierarchical-matrix construction.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// Rank is the compression rank r: the number of landmark points per
	// off-diagonal interaction and the target leaf size. Must be >= 1.
	// Default: 32.
	Rank int

	// Lambda is the diagonal correction added to every diagonal entry.
	// Must be > 0. Default: 1e-8.
	Lambda float64

	// Levels bounds the depth of the cluster tree. LevelsAuto derives
	// floor(log2(N/Rank)); 0 yields a single dense block. Default: LevelsAuto.
	Levels int

	// Seed drives landmark sampling. A negative seed is replaced by a
	// time-derived one. Results are identical for a fixed seed regardless of
	// Workers. Default: 0.
	Seed int64

	// Split selects the cut position along the split axis. Default: SplitMedian.
	Split SplitStrategy

	// Box selects the bounding-region policy. Default: BoxTight.
	Box BoxStrategy

	// PinvTol is the relative eigenvalue cutoff used when pseudo-inverting
	// landmark Gram matrices. Must be >= 0. Default: 1e-12.
	PinvTol float64

	// DisableDenseFallback makes Build fail with ErrRankTooLarge when
	// Rank >= N instead of storing one dense block. Default: false.
	DisableDenseFallback bool

	// Workers bounds the goroutines used for sibling subtrees, grid
	// candidates and kriging test points. 0 means use runtime.NumCPU().
	// Default: 0 (auto).
	Workers int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Rank:    32,
		Lambda:  1e-8,
		Levels:  LevelsAuto,
		Split:   SplitMedian,
		Box:     BoxTight,
		PinvTol: defaultPinvTol,
	}
}

const defaultPinvTol = 1e-12

// validateConfig checks that cfg fields are valid and returns a descriptive error if not.
func validateConfig(cfg *Config) error {
	if cfg.Rank < 1 {
		return fmt.Errorf("%w, got %d", ErrBadRank, cfg.Rank)
	}
	if !(cfg.Lambda > 0) {
		return fmt.Errorf("%w, got %g", ErrNonPositiveLambda, cfg.Lambda)
	}
	if cfg.Levels < LevelsAuto {
		return fmt.Errorf("%w: Levels must be >= 0 or LevelsAuto, got %d", ErrBadConfig, cfg.Levels)
	}
	if cfg.PinvTol < 0 {
		return fmt.Errorf("%w: PinvTol must be >= 0, got %g", ErrBadConfig, cfg.PinvTol)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("%w: Workers must be >= 0, got %d", ErrBadConfig, cfg.Workers)
	}
	return nil
}

// applyDefaults fills in zero-valued config fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.Split == "" {
		cfg.Split = SplitMedian
	}
	if cfg.Box == "" {
		cfg.Box = BoxTight
	}
	if cfg.PinvTol == 0 {
		cfg.PinvTol = defaultPinvTol
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
}

// TreeConfig returns the tree-construction part of cfg.
func (cfg Config) TreeConfig() TreeConfig {
	return TreeConfig{Rank: cfg.Rank, Levels: cfg.Levels, Split: cfg.Split, Box: cfg.Box}
}

// ResolveSeed returns seed as an unsigned generator seed, replacing a
// negative seed with one derived from the current time.
func ResolveSeed(seed int64) uint64 {
	if seed < 0 {
		return uint64(time.Now().UnixNano())
	}
	return uint64(seed)
}

// Build partitions points into a cluster tree and compresses the kernel
// matrix K(X, X) + Lambda*I over it. Options override the logger and metrics;
// seed, workers and the pseudo-inverse tolerance come from cfg.
func Build(points *PointSet, kernel Kernel, cfg Config, opts ...Option) (*HMatrix, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	if points == nil || points.N() == 0 {
		return nil, ErrEmptyPointSet
	}
	if cfg.Rank >= points.N() && cfg.DisableDenseFallback {
		return nil, fmt.Errorf("%w: rank %d, %d points", ErrRankTooLarge, cfg.Rank, points.N())
	}

	tree, err := BuildTree(points, cfg.TreeConfig())
	if err != nil {
		return nil, err
	}
	all := append([]Option{
		WithSeed(ResolveSeed(cfg.Seed)),
		WithWorkers(cfg.Workers),
		WithPinvTol(cfg.PinvTol),
	}, opts...)
	return NewHMatrix(tree, kernel, cfg.Lambda, all...)
}
