package rlcm

import (
	"sync"

	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/mat"
)

// KernelMatrix computes the dense n×n covariance K(X, X) + lambda*I.
func KernelMatrix(points *PointSet, k Kernel, lambda float64) *mat.SymDense {
	n := points.N()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		xi := points.At(i)
		for j := i; j < n; j++ {
			out.SetSym(i, j, k.Eval(xi, points.At(j)))
		}
		out.SetSym(i, i, out.At(i, i)+lambda)
	}
	return out
}

// KernelMatrixParallel computes the same matrix as KernelMatrix using
// multiple goroutines. numWorkers controls the degree of parallelism; if
// <= 1, it falls back to KernelMatrix. The result is bitwise identical.
func KernelMatrixParallel(points *PointSet, k Kernel, lambda float64, numWorkers int) *mat.SymDense {
	n := points.N()
	if numWorkers <= 1 || n <= 1 {
		return KernelMatrix(points, k, lambda)
	}

	// Each worker owns a contiguous range of rows and writes only the upper
	// triangle of those rows, so no synchronization is needed.
	data := make([]float64, n*n)
	var wg sync.WaitGroup
	rowsPerWorker := (n + numWorkers - 1) / numWorkers

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if endRow > n {
			endRow = n
		}
		if startRow >= n {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				xi := points.At(i)
				for j := i; j < n; j++ {
					data[i*n+j] = k.Eval(xi, points.At(j))
				}
				data[i*n+i] += lambda
			}
		}(startRow, endRow)
	}

	wg.Wait()
	// SymDense reads the upper triangle only.
	return mat.NewSymDense(n, data)
}

// kernelBlock returns K(X[rows], X[cols]) for tree-ordered points.
func kernelBlock(points *PointSet, k Kernel, rows, cols []int) *mat.Dense {
	out := mat.NewDense(len(rows), len(cols), nil)
	for i, ri := range rows {
		xi := points.At(ri)
		for j, cj := range cols {
			out.Set(i, j, k.Eval(xi, points.At(cj)))
		}
	}
	return out
}

// kernelSym returns the symmetric K(X[idx], X[idx]) + lambda*I.
func kernelSym(points *PointSet, k Kernel, idx []int, lambda float64) *mat.SymDense {
	out := mat.NewSymDense(len(idx), nil)
	for i, ri := range idx {
		xi := points.At(ri)
		for j := i; j < len(idx); j++ {
			out.SetSym(i, j, k.Eval(xi, points.At(idx[j])))
		}
		out.SetSym(i, i, out.At(i, i)+lambda)
	}
	return out
}

func rangeIdx(start, end int) []int {
	idx := make([]int, end-start)
	for i := range idx {
		idx[i] = start + i
	}
	return idx
}

// forkJoin runs sibling subtree tasks. When a worker token is free the first
// task runs on a new goroutine while the caller runs the second; otherwise
// both run inline. Tokens are never waited for, so nested forks cannot
// deadlock or oversubscribe.
type forkJoin struct {
	sem *semaphore.Weighted
}

func newForkJoin(workers int) *forkJoin {
	if workers <= 1 {
		return &forkJoin{}
	}
	return &forkJoin{sem: semaphore.NewWeighted(int64(workers - 1))}
}

// run executes a and b and returns the first non-nil error, a's before b's.
func (f *forkJoin) run(a, b func() error) error {
	if f.sem == nil || !f.sem.TryAcquire(1) {
		if err := a(); err != nil {
			return err
		}
		return b()
	}

	var errA error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer f.sem.Release(1)
		errA = a()
	}()
	errB := b()
	wg.Wait()
	if errA != nil {
		return errA
	}
	return errB
}
