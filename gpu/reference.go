package gpu

import "github.com/chewxy/math32"

// ReferenceForward is the host-side float32 version of the goodness kernel.
// It follows the shader's arithmetic so the two can be compared directly.
func ReferenceForward(weights, bias []float32, inSize, outSize int, x []float32, rows int, eps float32) []float32 {
	out := make([]float32, rows*outSize)
	for r := 0; r < rows; r++ {
		row := x[r*inSize : (r+1)*inSize]
		var sq float32
		for _, v := range row {
			sq += v * v
		}
		inv := 1 / (math32.Sqrt(sq) + eps)
		for o := 0; o < outSize; o++ {
			w := weights[o*inSize : (o+1)*inSize]
			var dot float32
			for i, v := range row {
				dot += w[i] * v
			}
			out[r*outSize+o] = math32.Max(dot*inv+bias[o], 0)
		}
	}
	return out
}

// MaxAbsDiff returns the largest absolute element-wise difference over the
// common prefix of a and b.
func MaxAbsDiff(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var m float32
	for i := 0; i < n; i++ {
		if d := math32.Abs(a[i] - b[i]); d > m {
			m = d
		}
	}
	return float64(m)
}
