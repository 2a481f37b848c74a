package kernel

import "github.com/saifaleee/distmatmul/shared"

// naiveMultiply is a triple-loop reference multiplier used only to
// cross-check Multiply's output in tests. It is not part of the
// production kernel contract.
func naiveMultiply(a, b shared.Matrix, r0, r1, c0, c1 int) []float64 {
	k := a.Cols()
	tileCols := c1 - c0
	out := make([]float64, (r1-r0)*tileCols)
	for i := r0; i < r1; i++ {
		for j := c0; j < c1; j++ {
			var sum float64
			for t := 0; t < k; t++ {
				sum += a.At(i, t) * b.At(t, j)
			}
			out[(i-r0)*tileCols+(j-c0)] = sum
		}
	}
	return out
}
