// Package kernel implements the row-range x full-B multiplier that the
// worker runs against its assigned tile. The scheduler and wire codec know
// nothing about how this package is implemented; it could be swapped for a
// BLAS call without touching either.
package kernel

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/saifaleee/distmatmul/shared"
)

// parallelRowThreshold is the row-range size at or above which Multiply
// fans the range out across goroutines instead of running it on the calling
// goroutine. Below this, goroutine setup would cost more than it saves.
const parallelRowThreshold = 8

// Multiply fills and returns a (r1-r0)*(c1-c0) row-major output buffer such
// that out[(i-r0)*(c1-c0)+(j-c0)] = sum_t A[i,t]*B[t,j], for i in [r0,r1)
// and j in [c0,c1). a is m*k, b is k*n.
func Multiply(a, b shared.Matrix, r0, r1, c0, c1 int) []float64 {
	k := a.Cols()
	tileRows := r1 - r0
	tileCols := c1 - c0
	out := make([]float64, tileRows*tileCols)

	// Transpose the selected B columns into a tileCols*k buffer so the
	// inner loop walks both operands with unit stride.
	bt := transposeColumns(b, c0, c1)

	if tileRows < parallelRowThreshold {
		multiplyRowBlock(a, bt, out, r0, r0, r1, tileCols, k)
		return out
	}

	g := new(errgroup.Group)
	workers := runtime.GOMAXPROCS(0)
	if workers > tileRows {
		workers = tileRows
	}
	chunk := (tileRows + workers - 1) / workers
	for start := 0; start < tileRows; start += chunk {
		blockStart := r0 + start
		blockEnd := blockStart + chunk
		if blockEnd > r1 {
			blockEnd = r1
		}
		g.Go(func() error {
			multiplyRowBlock(a, bt, out, r0, blockStart, blockEnd, tileCols, k)
			return nil
		})
	}
	_ = g.Wait() // worker funcs never return an error

	return out
}

// transposeColumns returns a tileCols*k buffer where row j holds column
// c0+j of b, so the inner product in multiplyRowBlock can walk both
// operands with unit stride.
func transposeColumns(b shared.Matrix, c0, c1 int) []float64 {
	k := b.Rows()
	tileCols := c1 - c0
	bt := make([]float64, tileCols*k)
	for j := 0; j < tileCols; j++ {
		col := c0 + j
		row := bt[j*k : j*k+k]
		for t := 0; t < k; t++ {
			row[t] = b.At(t, col)
		}
	}
	return bt
}

// multiplyRowBlock computes rows [blockStart, blockEnd) of a (absolute
// matrix rows) against the tileCols columns packed into bt, writing into
// out at the offset implied by tileR0 (the absolute row the tile itself
// starts at), using a four-lane unrolled accumulation with a scalar tail
// for k%4 != 0.
func multiplyRowBlock(a shared.Matrix, bt []float64, out []float64, tileR0, blockStart, blockEnd, tileCols, k int) {
	data := a.Data()
	aCols := a.Cols()

	for i := blockStart; i < blockEnd; i++ {
		arow := data[i*aCols : i*aCols+k]
		outRow := out[(i-tileR0)*tileCols : (i-tileR0)*tileCols+tileCols]
		for j := 0; j < tileCols; j++ {
			brow := bt[j*k : j*k+k]
			outRow[j] = dot(arow, brow, k)
		}
	}
}

// dot computes sum(arow[t]*brow[t]) for t in [0,k), processing four lanes
// per iteration with a scalar tail for the remainder.
func dot(arow, brow []float64, k int) float64 {
	var s0, s1, s2, s3 float64
	t := 0
	for ; t+4 <= k; t += 4 {
		s0 += arow[t] * brow[t]
		s1 += arow[t+1] * brow[t+1]
		s2 += arow[t+2] * brow[t+2]
		s3 += arow[t+3] * brow[t+3]
	}
	sum := s0 + s1 + s2 + s3
	for ; t < k; t++ {
		sum += arow[t] * brow[t]
	}
	return sum
}
