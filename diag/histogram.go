package diag

import (
	"math"
	"sort"

	"github.com/ckerce/hinton-forward-forward/nn"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultBins is the bin count used for goodness histograms
const DefaultBins = 100

// Hist is a histogram over equal-width bins between the smallest and largest
// value. Centers holds the midpoint of every bin.
type Hist struct {
	Counts  []float64
	Edges   []float64
	Centers []float64
}

// Histogram bins values into the given number of equal-width bins. The largest
// value falls into the last bin.
func Histogram(values []float64, bins int) Hist {
	if bins <= 0 {
		bins = DefaultBins
	}
	if len(values) == 0 {
		return Hist{Counts: make([]float64, bins)}
	}

	x := append([]float64(nil), values...)
	sort.Float64s(x)
	lo, hi := x[0], x[len(x)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}

	edges := make([]float64, bins+1)
	floats.Span(edges, lo, hi)
	dividers := append([]float64(nil), edges...)
	dividers[bins] = math.Nextafter(hi, math.Inf(1))

	counts := make([]float64, bins)
	stat.Histogram(counts, dividers, x, nil)

	centers := make([]float64, bins)
	for i := range centers {
		centers[i] = 0.5 * (edges[i] + edges[i+1])
	}
	return Hist{Counts: counts, Edges: edges, Centers: centers}
}

// Summary holds basic statistics of a set of values
type Summary struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summarize computes mean, sample standard deviation and range of values
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	return Summary{Mean: mean, StdDev: std, Min: floats.Min(values), Max: floats.Max(values)}
}

// Series is the positive and negative goodness histogram of one sample
type Series struct {
	Iteration int
	Pos, Neg  Hist
}

// LayerSeries turns a layer's goodness history into one histogram pair per
// sample, the data behind the goodness separation plots.
func LayerSeries(samples []nn.GoodnessSample, bins int) []Series {
	out := make([]Series, len(samples))
	for i, s := range samples {
		out[i] = Series{
			Iteration: s.Iteration,
			Pos:       Histogram(s.Pos, bins),
			Neg:       Histogram(s.Neg, bins),
		}
	}
	return out
}

// Separation is the fraction of (positive, negative) pairs where the positive
// goodness is strictly larger. 1 means the layer separates the sets perfectly.
func Separation(s nn.GoodnessSample) float64 {
	if len(s.Pos) == 0 || len(s.Neg) == 0 {
		return 0
	}
	neg := append([]float64(nil), s.Neg...)
	sort.Float64s(neg)
	above := 0
	for _, p := range s.Pos {
		above += sort.SearchFloat64s(neg, p)
	}
	return float64(above) / float64(len(s.Pos)*len(s.Neg))
}
