package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LocalStage is a stage that trains on its own objective only. Stages are
// composed by feeding one stage's detached output into the next; no gradient
// ever crosses a stage boundary.
type LocalStage interface {
	Forward(x *mat.Dense) (*mat.Dense, error)
	Goodness(x *mat.Dense) ([]float64, error)
	Train(pos, neg *mat.Dense) (*mat.Dense, *mat.Dense, error)
	InputSize() int
	OutputSize() int
}

var _ LocalStage = (*Layer)(nil)

// GoodnessSample is one snapshot of per-example goodness taken during training
type GoodnessSample struct {
	Iteration int       `json:"iteration"`
	Pos       []float64 `json:"pos"`
	Neg       []float64 `json:"neg"`
}

// Layer is a fully-connected ReLU layer trained with the goodness objective.
// Weights, bias and optimizer moments belong to this layer alone and are only
// mutated by Train.
type Layer struct {
	Threshold    float64
	Epochs       int
	LearningRate float64
	Schedule     LRScheduler // overrides LearningRate per iteration when set
	Epsilon      float64
	SampleEvery  int
	Verbose      bool
	PrintEvery   int

	index      int
	inputSize  int
	outputSize int

	weights *mat.Dense    // [outputSize x inputSize]
	bias    *mat.VecDense // [outputSize]
	gradW   *mat.Dense
	gradB   *mat.VecDense
	opt     Optimizer

	history []GoodnessSample
	losses  []float64
	logf    func(format string, args ...interface{})
}

// NewLayer creates a layer with weights and bias drawn uniformly from
// [-1/sqrt(inputSize), 1/sqrt(inputSize)].
func NewLayer(inputSize, outputSize int, opt Optimizer, rng *rand.Rand) *Layer {
	bound := 1.0 / math.Sqrt(float64(inputSize))

	w := make([]float64, outputSize*inputSize)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * bound
	}
	b := make([]float64, outputSize)
	for i := range b {
		b[i] = (rng.Float64()*2 - 1) * bound
	}

	if opt == nil {
		opt = NewAdamOptimizerDefault()
	}

	return &Layer{
		Threshold:    2.0,
		Epochs:       1000,
		LearningRate: 0.03,
		Epsilon:      1e-4,
		SampleEvery:  100,
		inputSize:    inputSize,
		outputSize:   outputSize,
		weights:      mat.NewDense(outputSize, inputSize, w),
		bias:         mat.NewVecDense(outputSize, b),
		gradW:        mat.NewDense(outputSize, inputSize, nil),
		gradB:        mat.NewVecDense(outputSize, nil),
		opt:          opt,
		logf:         defaultLogf,
	}
}

func (l *Layer) InputSize() int  { return l.inputSize }
func (l *Layer) OutputSize() int { return l.outputSize }

// Optimizer returns the layer's own optimizer
func (l *Layer) Optimizer() Optimizer { return l.opt }

// Weights returns a copy of the weight matrix [outputSize x inputSize]
func (l *Layer) Weights() *mat.Dense { return mat.DenseCopyOf(l.weights) }

// Bias returns a copy of the bias vector
func (l *Layer) Bias() []float64 {
	return append([]float64(nil), l.bias.RawVector().Data...)
}

// SetParameters replaces weights (row-major [outputSize x inputSize]) and bias
func (l *Layer) SetParameters(weights, bias []float64) error {
	if len(weights) != l.inputSize*l.outputSize {
		return errors.Wrapf(ErrShapeMismatch, "layer %d: %d weights for %dx%d", l.index, len(weights), l.outputSize, l.inputSize)
	}
	if len(bias) != l.outputSize {
		return errors.Wrapf(ErrShapeMismatch, "layer %d: %d biases for width %d", l.index, len(bias), l.outputSize)
	}
	copy(l.weights.RawMatrix().Data, weights)
	copy(l.bias.RawVector().Data, bias)
	return nil
}

// History returns a copy of the goodness samples recorded during training
func (l *Layer) History() []GoodnessSample {
	out := make([]GoodnessSample, len(l.history))
	for i, s := range l.history {
		out[i] = GoodnessSample{
			Iteration: s.Iteration,
			Pos:       append([]float64(nil), s.Pos...),
			Neg:       append([]float64(nil), s.Neg...),
		}
	}
	return out
}

// LossHistory returns the loss of every training iteration so far
func (l *Layer) LossHistory() []float64 {
	return append([]float64(nil), l.losses...)
}

// Forward normalizes each row to unit length, then applies relu(x·Wᵀ + b).
func (l *Layer) Forward(x *mat.Dense) (*mat.Dense, error) {
	if err := l.checkInput("forward", x); err != nil {
		return nil, err
	}
	return l.activate(normalizeRows(x, l.Epsilon)), nil
}

// Goodness returns the mean squared activation of every row
func (l *Layer) Goodness(x *mat.Dense) ([]float64, error) {
	h, err := l.Forward(x)
	if err != nil {
		return nil, err
	}
	return goodnessOf(h), nil
}

// Train runs Epochs local optimization steps pushing positive goodness above
// Threshold and negative goodness below it, then returns the layer's output on
// both sets. The outputs are fresh matrices with no link to this layer.
func (l *Layer) Train(pos, neg *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	if err := l.checkInput("train pos", pos); err != nil {
		return nil, nil, err
	}
	if err := l.checkInput("train neg", neg); err != nil {
		return nil, nil, err
	}

	// Inputs are fixed for the whole loop, so their directions are too.
	posDir := normalizeRows(pos, l.Epsilon)
	negDir := normalizeRows(neg, l.Epsilon)

	for i := 0; i < l.Epochs; i++ {
		hPos := l.activate(posDir)
		hNeg := l.activate(negDir)
		gPos := goodnessOf(hPos)
		gNeg := goodnessOf(hNeg)

		if l.SampleEvery > 0 && i%l.SampleEvery == l.SampleEvery-1 {
			l.history = append(l.history, GoodnessSample{
				Iteration: i,
				Pos:       append([]float64(nil), gPos...),
				Neg:       append([]float64(nil), gNeg...),
			})
		}

		loss := l.backward(posDir, hPos, gPos, negDir, hNeg, gNeg)
		l.losses = append(l.losses, loss)
		lr := l.LearningRate
		if l.Schedule != nil {
			lr = l.Schedule.GetLR(i)
		}
		l.opt.Step(l.params(), lr)

		if l.Verbose && l.PrintEvery > 0 && i%l.PrintEvery == 0 {
			l.logf("  layer %d iter %d/%d - loss: %.6f\n", l.index, i+1, l.Epochs, loss)
		}
	}

	return l.activate(posDir), l.activate(negDir), nil
}

// loss evaluates the goodness objective for the current parameters
func (l *Layer) loss(posDir, negDir *mat.Dense) float64 {
	gPos := goodnessOf(l.activate(posDir))
	gNeg := goodnessOf(l.activate(negDir))
	return goodnessLoss(gPos, gNeg, l.Threshold)
}

// backward fills gradW and gradB with the gradient of the goodness loss with
// respect to this layer's parameters and returns the loss.
//
// With g = mean_j h_j² over D outputs, dg/dz_j = 2·h_j/D where z_j > 0 and 0
// elsewhere, which h_j already encodes. Each row therefore contributes
// delta = coef·h with coef = dL/dg · 2/D.
func (l *Layer) backward(posDir, hPos *mat.Dense, gPos []float64, negDir, hNeg *mat.Dense, gNeg []float64) float64 {
	n := float64(len(gPos) + len(gNeg))
	d := float64(l.outputSize)

	dPos := mat.DenseCopyOf(hPos)
	for r, g := range gPos {
		// d/dg softplus(θ - g) = -sigmoid(θ - g)
		floats.Scale(-sigmoid(l.Threshold-g)/n*2/d, dPos.RawRowView(r))
	}
	dNeg := mat.DenseCopyOf(hNeg)
	for r, g := range gNeg {
		// d/dg softplus(g - θ) = sigmoid(g - θ)
		floats.Scale(sigmoid(g-l.Threshold)/n*2/d, dNeg.RawRowView(r))
	}

	var negW mat.Dense
	l.gradW.Mul(dPos.T(), posDir)
	negW.Mul(dNeg.T(), negDir)
	l.gradW.Add(l.gradW, &negW)

	gb := l.gradB.RawVector().Data
	for j := range gb {
		gb[j] = 0
	}
	addColumnSums(gb, dPos)
	addColumnSums(gb, dNeg)

	return goodnessLoss(gPos, gNeg, l.Threshold)
}

func (l *Layer) params() []Param {
	return []Param{
		{Name: "weights", Value: l.weights.RawMatrix().Data, Grad: l.gradW.RawMatrix().Data},
		{Name: "bias", Value: l.bias.RawVector().Data, Grad: l.gradB.RawVector().Data},
	}
}

// activate computes relu(dir·Wᵀ + b) for already-normalized rows
func (l *Layer) activate(dir *mat.Dense) *mat.Dense {
	rows, _ := dir.Dims()
	out := mat.NewDense(rows, l.outputSize, nil)
	out.Mul(dir, l.weights.T())

	b := l.bias.RawVector().Data
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		for j, v := range row {
			v += b[j]
			if v < 0 {
				v = 0
			}
			row[j] = v
		}
	}
	return out
}

func (l *Layer) checkInput(op string, x *mat.Dense) error {
	if x == nil {
		return errors.Wrapf(ErrEmptyBatch, "layer %d %s: nil input", l.index, op)
	}
	rows, cols := x.Dims()
	if rows == 0 {
		return errors.Wrapf(ErrEmptyBatch, "layer %d %s", l.index, op)
	}
	if cols != l.inputSize {
		return errors.Wrapf(ErrShapeMismatch, "layer %d %s: input width %d, expected %d", l.index, op, cols, l.inputSize)
	}
	return nil
}

// normalizeRows divides every row by its Euclidean norm plus eps
func normalizeRows(x *mat.Dense, eps float64) *mat.Dense {
	out := mat.DenseCopyOf(x)
	rows, _ := out.Dims()
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		floats.Scale(1/(floats.Norm(row, 2)+eps), row)
	}
	return out
}

// goodnessOf returns the mean squared value of every row of h
func goodnessOf(h *mat.Dense) []float64 {
	rows, cols := h.Dims()
	g := make([]float64, rows)
	for i := range g {
		row := h.RawRowView(i)
		g[i] = floats.Dot(row, row) / float64(cols)
	}
	return g
}

// goodnessLoss is mean(softplus(θ - gPos) ++ softplus(gNeg - θ))
func goodnessLoss(gPos, gNeg []float64, threshold float64) float64 {
	sum := 0.0
	for _, g := range gPos {
		sum += softplus(threshold - g)
	}
	for _, g := range gNeg {
		sum += softplus(g - threshold)
	}
	return sum / float64(len(gPos)+len(gNeg))
}

// softplus is log(1 + exp(z)) in a form that does not overflow
func softplus(z float64) float64 {
	return math.Max(z, 0) + math.Log1p(math.Exp(-math.Abs(z)))
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func addColumnSums(dst []float64, m *mat.Dense) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		floats.Add(dst, m.RawRowView(i))
	}
}

func defaultLogf(format string, args ...interface{}) {
	fmt.Printf(format, args...)
}
