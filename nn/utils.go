package nn

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Mean returns the mean value of a slice
func Mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Sum(v) / float64(len(v))
}

// DenseFromFloat32 builds a [rows x cols] matrix from row-major float32 data
func DenseFromFloat32(rows, cols int, data []float32) *mat.Dense {
	return mat.NewDense(rows, cols, toFloat64(data))
}

// Float32Data returns the row-major contents of m as float32
func Float32Data(m *mat.Dense) []float32 {
	return toFloat32(mat.DenseCopyOf(m).RawMatrix().Data)
}
