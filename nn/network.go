package nn

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Accelerator runs a layer forward pass (row normalization, affine map, ReLU)
// on another device. Weights are row-major [outSize x inSize], x is row-major
// [rows x inSize] and the result is row-major [rows x outSize].
type Accelerator interface {
	LayerForward(weights, bias []float32, inSize, outSize int, x []float32, rows int, eps float32) ([]float32, error)
	Name() string
}

// Network is an ordered stack of goodness layers. Layer i+1 consumes the
// output width of layer i. The stack is fixed once built.
type Network struct {
	NumClasses int
	Verbose    bool

	layers      []*Layer
	config      Config
	accel       Accelerator
	accelFailed bool
	logf        func(format string, args ...interface{})
}

// NewNetwork builds a stack from cfg. Every layer gets its own optimizer.
func NewNetwork(cfg Config, rng *rand.Rand) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(cfg.Seed))
	}

	n := &Network{
		NumClasses: cfg.NumClasses,
		Verbose:    cfg.Verbose,
		config:     cfg,
		logf:       defaultLogf,
	}

	for i := 0; i < cfg.NumLayers(); i++ {
		opt, err := NewOptimizer(cfg.Optimizer, cfg.Momentum)
		if err != nil {
			return nil, err
		}
		sched, err := NewScheduler(cfg.LRSchedule, cfg.LearningRate, cfg.EpochsFor(i))
		if err != nil {
			return nil, err
		}
		layer := NewLayer(cfg.Dims[i], cfg.Dims[i+1], opt, rng)
		layer.index = i
		layer.Threshold = cfg.Threshold
		layer.Epochs = cfg.EpochsFor(i)
		layer.LearningRate = cfg.LearningRate
		layer.Schedule = sched
		layer.Epsilon = cfg.NormEpsilon
		layer.SampleEvery = cfg.SampleEvery
		layer.Verbose = cfg.Verbose
		layer.PrintEvery = cfg.PrintEvery
		n.layers = append(n.layers, layer)
	}

	if err := n.checkChain(); err != nil {
		return nil, err
	}
	return n, nil
}

// Config returns the config the network was built from
func (n *Network) Config() Config { return n.config }

// TotalLayers returns the number of layers in the stack
func (n *Network) TotalLayers() int { return len(n.layers) }

// Layer returns layer i, or nil when out of range
func (n *Network) Layer(i int) *Layer {
	if i < 0 || i >= len(n.layers) {
		return nil
	}
	return n.layers[i]
}

// InputSize returns the feature width the first layer expects
func (n *Network) InputSize() int {
	if len(n.layers) == 0 {
		return 0
	}
	return n.layers[0].InputSize()
}

// SetLogger redirects progress output of the network and all its layers
func (n *Network) SetLogger(logf func(format string, args ...interface{})) {
	if logf == nil {
		logf = defaultLogf
	}
	n.logf = logf
	for _, l := range n.layers {
		l.logf = logf
	}
}

// SetAccelerator routes prediction forward passes through a. Pass nil to go
// back to the CPU path. Training always runs on the CPU.
func (n *Network) SetAccelerator(a Accelerator) {
	n.accel = a
	n.accelFailed = false
}

func (n *Network) checkChain() error {
	for i := 1; i < len(n.layers); i++ {
		if n.layers[i-1].OutputSize() != n.layers[i].InputSize() {
			return errors.Wrapf(ErrShapeMismatch, "layer %d outputs %d but layer %d expects %d",
				i-1, n.layers[i-1].OutputSize(), i, n.layers[i].InputSize())
		}
	}
	return nil
}

// Train trains every layer in order on its own objective. Each layer receives
// the detached outputs of the previously trained layer.
func (n *Network) Train(xPos, xNeg *mat.Dense) error {
	if xPos == nil || xNeg == nil {
		return errors.Wrap(ErrEmptyBatch, "train: nil input")
	}
	posRows, _ := xPos.Dims()
	negRows, _ := xNeg.Dims()
	if posRows != negRows {
		return errors.Wrapf(ErrShapeMismatch, "train: %d positive rows but %d negative rows", posRows, negRows)
	}
	hPos, hNeg := xPos, xNeg
	for i, layer := range n.layers {
		if n.Verbose {
			n.logf("training layer %d ...\n", i)
		}
		var err error
		hPos, hNeg, err = layer.Train(hPos, hNeg)
		if err != nil {
			return errors.Wrapf(err, "training layer %d", i)
		}
		if n.Verbose {
			if losses := layer.losses; len(losses) > 0 {
				n.logf("  layer %d done - final loss: %.6f\n", i, losses[len(losses)-1])
			}
		}
	}
	return nil
}

// GoodnessPerLabel returns an [rows x NumClasses] matrix whose entry (i, l) is
// the goodness of row i overlaid with label l, summed over every layer.
func (n *Network) GoodnessPerLabel(x *mat.Dense) (*mat.Dense, error) {
	labels := make([]int, n.NumClasses)
	for l := range labels {
		labels[l] = l
	}
	return n.goodnessForLabels(x, labels)
}

// goodnessForLabels evaluates candidate labels in the given order. Column l of
// the result always belongs to label l whatever the order.
func (n *Network) goodnessForLabels(x *mat.Dense, order []int) (*mat.Dense, error) {
	if x == nil {
		return nil, errors.Wrap(ErrEmptyBatch, "predict: nil input")
	}
	rows, cols := x.Dims()
	if cols != n.InputSize() {
		return nil, errors.Wrapf(ErrShapeMismatch, "predict: input width %d, expected %d", cols, n.InputSize())
	}

	scores := mat.NewDense(rows, n.NumClasses, nil)
	for _, label := range order {
		h, err := OverlayUniform(x, label, n.NumClasses)
		if err != nil {
			return nil, err
		}
		total := make([]float64, rows)
		for _, layer := range n.layers {
			h, err = n.layerForward(layer, h)
			if err != nil {
				return nil, err
			}
			for i, g := range goodnessOf(h) {
				total[i] += g
			}
		}
		scores.SetCol(label, total)
	}
	return scores, nil
}

// layerForward runs a prediction forward pass, on the accelerator when one is
// attached and healthy.
func (n *Network) layerForward(layer *Layer, x *mat.Dense) (*mat.Dense, error) {
	if n.accel == nil || n.accelFailed {
		return layer.Forward(x)
	}
	out, err := acceleratedForward(n.accel, layer, x)
	if err != nil {
		n.accelFailed = true
		n.logf("[WARNING] %s forward failed, falling back to CPU: %v\n", n.accel.Name(), err)
		return layer.Forward(x)
	}
	return out, nil
}

// Predict returns, for every row, the label whose overlay produces the largest
// total goodness. Ties resolve to the lowest label.
func (n *Network) Predict(x *mat.Dense) ([]int, error) {
	scores, err := n.GoodnessPerLabel(x)
	if err != nil {
		return nil, err
	}
	return argmaxRows(scores), nil
}

// ErrorRate returns the fraction of rows whose prediction differs from labels
func (n *Network) ErrorRate(x *mat.Dense, labels []int) (float64, error) {
	if x == nil {
		return 0, errors.Wrap(ErrEmptyBatch, "error rate: nil input")
	}
	rows, _ := x.Dims()
	if rows != len(labels) {
		return 0, errors.Wrapf(ErrShapeMismatch, "error rate: %d rows but %d labels", rows, len(labels))
	}
	pred, err := n.Predict(x)
	if err != nil {
		return 0, err
	}
	return MismatchRate(pred, labels), nil
}

// MismatchRate is the fraction of positions of truth where pred differs.
// Positions missing from pred count as wrong.
func MismatchRate(pred, truth []int) float64 {
	if len(truth) == 0 {
		return 0
	}
	wrong := 0
	for i := range truth {
		if i >= len(pred) || pred[i] != truth[i] {
			wrong++
		}
	}
	return float64(wrong) / float64(len(truth))
}

// argmaxRows picks the first maximal column of every row
func argmaxRows(m *mat.Dense) []int {
	rows, _ := m.Dims()
	out := make([]int, rows)
	for i := range out {
		out[i] = floats.MaxIdx(m.RawRowView(i))
	}
	return out
}
