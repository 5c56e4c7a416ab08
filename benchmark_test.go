package rlcm

import (
	"context"
	"testing"
)

func benchPoints(b *testing.B, n int) *PointSet {
	b.Helper()
	return randomPoints(b, 42, n, 2)
}

// --- Kernel Matrix ---

func benchKernelMatrix(b *testing.B, n int) {
	b.Helper()
	points := benchPoints(b, n)
	k := testMatern()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		KernelMatrix(points, k, 1e-6)
	}
}

func BenchmarkKernelMatrix_100(b *testing.B)  { benchKernelMatrix(b, 100) }
func BenchmarkKernelMatrix_500(b *testing.B)  { benchKernelMatrix(b, 500) }
func BenchmarkKernelMatrix_1000(b *testing.B) { benchKernelMatrix(b, 1000) }

// --- Bessel ---

func BenchmarkBesselK(b *testing.B) {
	for i := 0; i < b.N; i++ {
		BesselK(1.3, 0.1+float64(i%50)*0.1)
	}
}

// --- Tree ---

func benchBuildTree(b *testing.B, n int) {
	b.Helper()
	points := benchPoints(b, n)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := BuildTree(points, TreeConfig{Rank: 32, Levels: LevelsAuto}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBuildTree_1000(b *testing.B)  { benchBuildTree(b, 1000) }
func BenchmarkBuildTree_10000(b *testing.B) { benchBuildTree(b, 10000) }

// --- Compression + Factorization ---

func benchFactorize(b *testing.B, n, rank int) {
	b.Helper()
	points := benchPoints(b, n)
	tree, err := BuildTree(points, TreeConfig{Rank: rank, Levels: LevelsAuto})
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hm, err := NewHMatrix(tree, testMatern(), 1e-6)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := hm.Factorize(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFactorize_1000_r32(b *testing.B) { benchFactorize(b, 1000, 32) }
func BenchmarkFactorize_4000_r32(b *testing.B) { benchFactorize(b, 4000, 32) }
func BenchmarkFactorize_4000_r64(b *testing.B) { benchFactorize(b, 4000, 64) }

// --- Full Pipeline ---

func benchFullPipeline(b *testing.B, n int) {
	b.Helper()
	points := benchPoints(b, n)
	test := randomPoints(b, 7, 100, 2)
	y := randomVector(1, n)
	cfg := DefaultConfig()
	cfg.Lambda = 1e-6
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hm, err := Build(points, testMatern(), cfg)
		if err != nil {
			b.Fatal(err)
		}
		kr, err := Train(hm, y)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := kr.Predict(context.Background(), test); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFullPipeline_1000(b *testing.B) { benchFullPipeline(b, 1000) }
func BenchmarkFullPipeline_4000(b *testing.B) { benchFullPipeline(b, 4000) }
