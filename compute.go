package docformer

import (
	"runtime"
	"sync"
)

// Device controls how tensor operations execute. It is an explicit handle
// threaded through model construction rather than ambient global state, so
// two models in one process can run with different parallelism settings.
//
// A Device is immutable after creation and safe for concurrent use.
type Device struct {
	// Parallel enables multi-threaded execution of matrix operations.
	Parallel bool

	// NumWorkers specifies the number of worker goroutines to use.
	// If 0, defaults to runtime.NumCPU(). Only used when Parallel is true.
	NumWorkers int

	// MinSizeForParallel is the minimum matrix dimension before the worker
	// pool is used. Small matrices lose more to goroutine overhead than
	// they gain from extra cores.
	MinSizeForParallel int
}

// CPU returns the default device: parallel matmul across all cores.
func CPU() *Device {
	return &Device{
		Parallel:           true,
		NumWorkers:         0, // Use all available CPUs
		MinSizeForParallel: 64,
	}
}

// SingleThreaded returns a device that executes everything on the calling
// goroutine. Deterministic scheduling, easier to debug and profile.
func SingleThreaded() *Device {
	return &Device{
		Parallel:           false,
		NumWorkers:         1,
		MinSizeForParallel: 0,
	}
}

func (d *Device) numWorkers() int {
	if !d.Parallel {
		return 1
	}
	if d.NumWorkers > 0 {
		return d.NumWorkers
	}
	return runtime.NumCPU()
}

func (d *Device) shouldParallelize(size int) bool {
	return d.Parallel && size >= d.MinSizeForParallel
}

// MatMul performs matrix multiplication C = A @ B on the device.
//
// Parallelization strategy: divide output rows among workers, each worker
// computing a contiguous block. Workers write to disjoint row ranges, so no
// synchronization beyond the final WaitGroup is needed and false sharing is
// minimal.
func (d *Device) MatMul(a, b *Tensor) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: MatMul requires 2D tensors")
	}

	m, k1 := a.shape[0], a.shape[1]
	k2, n := b.shape[0], b.shape[1]
	if k1 != k2 {
		panic("tensor: incompatible dimensions for matmul")
	}
	k := k1

	if !d.shouldParallelize(m) || !d.shouldParallelize(n) {
		return MatMul(a, b)
	}

	out := NewTensor(m, n)
	numWorkers := d.numWorkers()
	rowsPerWorker := (m + numWorkers - 1) / numWorkers // Ceiling division

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if endRow > m {
			endRow = m
		}
		if startRow >= m {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			matmulRange(a, b, out, start, end, n, k)
		}(startRow, endRow)
	}

	wg.Wait()
	return out
}

// Apply applies fn to each element of t in parallel. Used for large
// element-wise passes (activations over batch*seq*hidden elements).
func (d *Device) Apply(t *Tensor, fn func(float64) float64) *Tensor {
	out := NewTensor(t.shape...)
	size := len(t.data)

	if !d.shouldParallelize(size) {
		for i := 0; i < size; i++ {
			out.data[i] = fn(t.data[i])
		}
		return out
	}

	numWorkers := d.numWorkers()
	elemsPerWorker := (size + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * elemsPerWorker
		end := start + elemsPerWorker
		if end > size {
			end = size
		}
		if start >= size {
			break
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				out.data[i] = fn(t.data[i])
			}
		}(start, end)
	}

	wg.Wait()
	return out
}
