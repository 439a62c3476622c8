package nn

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// acceleratedForward runs layer.Forward through a, converting to and from
// float32 at the boundary.
func acceleratedForward(a Accelerator, layer *Layer, x *mat.Dense) (*mat.Dense, error) {
	if err := layer.checkInput("accelerated forward", x); err != nil {
		return nil, err
	}
	rows, _ := x.Dims()

	out, err := a.LayerForward(
		toFloat32(layer.weights.RawMatrix().Data),
		toFloat32(layer.bias.RawVector().Data),
		layer.inputSize, layer.outputSize,
		Float32Data(x), rows,
		float32(layer.Epsilon),
	)
	if err != nil {
		return nil, err
	}
	if len(out) != rows*layer.outputSize {
		return nil, errors.Wrapf(ErrShapeMismatch, "accelerator returned %d values, expected %d", len(out), rows*layer.outputSize)
	}
	return DenseFromFloat32(rows, layer.outputSize, out), nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
