package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Synthetic draws n rows of dims features from numClasses well separated
// Gaussian clusters. The first numClasses columns are left at zero since the
// label overlay overwrites them.
func Synthetic(n, dims, numClasses int, rng *rand.Rand) (Split, error) {
	if n <= 0 {
		return Split{}, errors.Errorf("synthetic: %d rows", n)
	}
	if numClasses <= 0 || dims <= numClasses {
		return Split{}, errors.Errorf("synthetic: %d features leave no room beyond %d label channels", dims, numClasses)
	}
	free := dims - numClasses

	centers := make([][]float64, numClasses)
	for c := range centers {
		v := make([]float64, free)
		for i := range v {
			v[i] = rng.NormFloat64()
		}
		floats.Scale(3/floats.Norm(v, 2), v)
		centers[c] = v
	}

	x := mat.NewDense(n, dims, nil)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		c := i % numClasses
		labels[i] = c
		row := x.RawRowView(i)[numClasses:]
		for j := range row {
			row[j] = centers[c][j] + 0.3*rng.NormFloat64()
		}
	}
	rng.Shuffle(n, func(i, j int) {
		labels[i], labels[j] = labels[j], labels[i]
		ri, rj := x.RawRowView(i), x.RawRowView(j)
		for k := range ri {
			ri[k], rj[k] = rj[k], ri[k]
		}
	})
	return Split{X: x, Labels: labels}, nil
}
