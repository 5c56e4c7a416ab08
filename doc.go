// Package rlcm estimates Gaussian-process covariance hyperparameters and
// performs kriging with recursively low-rank compressed matrices (RLCM).
//
// The N×N covariance K(X, X) + λI is never formed. A binary cluster tree
// partitions the points; leaves keep their dense diagonal blocks and every
// internal node couples its two children through a Nyström factorization
// over a small landmark set. Multiply, log-determinant and solve then cost
// O(N·r·L) for rank r and L levels instead of O(N³).
//
// Basic usage:
//
//	cfg := rlcm.DefaultConfig()
//	cfg.Rank = 64
//	hm, err := rlcm.Build(points, rlcm.Matern{Scale: 1, Nu: 1.5, LengthScale: 0.2}, cfg)
//	f, err := hm.Factorize()
//	y, err := hm.Tree().Perm.Apply(obs) // original order -> tree order
//	ll, err := f.LogLikelihood(y)
//
// Kriging at new locations:
//
//	kr, err := rlcm.Train(hm, obs)
//	pred, err := kr.Predict(ctx, testPoints)
//	// pred.Mean[i], pred.Std[i]
//
// # Hyperparameter estimation
//
// An [Estimator] shares one cluster tree across kernel hyperparameter
// vectors of a [Family]. [GridSearch] evaluates a Cartesian grid in
// parallel and [Fisher] turns central finite differences around the
// maximizer into standard errors.
//
// # Reproducibility
//
// Landmarks are sampled with one PCG stream per tree node derived from the
// seed and the node index, so results do not depend on Workers.
package rlcm
