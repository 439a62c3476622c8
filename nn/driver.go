package nn

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Batch is a labeled set of flattened feature rows
type Batch struct {
	X      *mat.Dense
	Labels []int
}

// Len returns the number of rows
func (b Batch) Len() int { return len(b.Labels) }

// TrainingSets holds row-aligned positive and negative encodings of a batch.
// Rows whose shuffled label matched the true label have been dropped from every
// field.
type TrainingSets struct {
	X         *mat.Dense // raw features of the kept rows
	Labels    []int
	NegLabels []int
	Pos       *mat.Dense
	Neg       *mat.Dense
	Dropped   int
}

// MismatchedLabels pairs every row with the label of a randomly permuted row and
// returns those labels together with the indices of rows where the pairing
// differs from the true label. Colliding rows are dropped, never resampled.
func MismatchedLabels(labels []int, rng *rand.Rand) (neg []int, keep []int) {
	perm := rng.Perm(len(labels))
	neg = make([]int, len(labels))
	keep = make([]int, 0, len(labels))
	for i, p := range perm {
		neg[i] = labels[p]
		if neg[i] != labels[i] {
			keep = append(keep, i)
		}
	}
	return neg, keep
}

// BuildTrainingSets overlays true labels (positive) and mismatched labels
// (negative) on x. The positive overlay uses the peak of the full batch; the
// negative overlay uses the peak of the kept rows.
func BuildTrainingSets(x *mat.Dense, labels []int, numClasses int, rng *rand.Rand) (*TrainingSets, error) {
	if x == nil {
		return nil, errors.Wrap(ErrEmptyBatch, "training sets: nil input")
	}
	pos, err := Overlay(x, labels, numClasses)
	if err != nil {
		return nil, errors.Wrap(err, "positive overlay")
	}

	neg, keep := MismatchedLabels(labels, rng)
	if len(keep) == 0 {
		return nil, errors.Wrapf(ErrEmptyBatch, "every one of %d rows collided with its shuffled label", len(labels))
	}

	sets := &TrainingSets{
		X:         selectRows(x, keep),
		Labels:    selectInts(labels, keep),
		NegLabels: selectInts(neg, keep),
		Pos:       selectRows(pos, keep),
		Dropped:   len(labels) - len(keep),
	}
	sets.Neg, err = Overlay(sets.X, sets.NegLabels, numClasses)
	if err != nil {
		return nil, errors.Wrap(err, "negative overlay")
	}
	return sets, nil
}

// DiagnosticsSink receives the goodness history of each layer after training
type DiagnosticsSink interface {
	RecordGoodness(layer int, samples []GoodnessSample) error
}

// MemorySink keeps goodness histories in memory
type MemorySink struct {
	Layers map[int][]GoodnessSample
}

func NewMemorySink() *MemorySink {
	return &MemorySink{Layers: make(map[int][]GoodnessSample)}
}

func (s *MemorySink) RecordGoodness(layer int, samples []GoodnessSample) error {
	s.Layers[layer] = append(s.Layers[layer], samples...)
	return nil
}

// Report summarizes one training pass plus evaluation
type Report struct {
	TrainRows   int           `json:"train_rows"`
	DroppedRows int           `json:"dropped_rows"`
	TrainError  float64       `json:"train_error"`
	TestError   float64       `json:"test_error"`
	TestRows    int           `json:"test_rows"`
	LayerLoss   []float64     `json:"layer_loss"` // final loss of each layer
	TrainTime   time.Duration `json:"train_time"`
	EvalTime    time.Duration `json:"eval_time"`
}

// Driver runs one full Forward-Forward training pass and its evaluation
type Driver struct {
	Network *Network
	Sink    DiagnosticsSink // optional
	Rand    *rand.Rand
	Logf    func(format string, args ...interface{})
}

// NewDriver creates a driver around net. rng drives the negative pairing.
func NewDriver(net *Network, rng *rand.Rand) *Driver {
	if rng == nil {
		rng = rand.New(rand.NewSource(net.Config().Seed))
	}
	return &Driver{
		Network: net,
		Rand:    rng,
		Logf:    defaultLogf,
	}
}

// Run builds the positive/negative sets from train, trains the stack, reports
// training and test error and hands every layer's goodness history to Sink.
// An empty test batch skips test evaluation.
func (d *Driver) Run(train, test Batch) (*Report, error) {
	logf := d.Logf
	if logf == nil {
		logf = defaultLogf
	}
	verbose := d.Network.Verbose

	sets, err := BuildTrainingSets(train.X, train.Labels, d.Network.NumClasses, d.Rand)
	if err != nil {
		return nil, err
	}
	if verbose {
		logf("positive/negative sets: %d rows kept, %d dropped\n", len(sets.Labels), sets.Dropped)
	}

	report := &Report{
		TrainRows:   len(sets.Labels),
		DroppedRows: sets.Dropped,
	}

	start := time.Now()
	if err := d.Network.Train(sets.Pos, sets.Neg); err != nil {
		return nil, err
	}
	report.TrainTime = time.Since(start)

	for i := 0; i < d.Network.TotalLayers(); i++ {
		losses := d.Network.Layer(i).losses
		final := 0.0
		if len(losses) > 0 {
			final = losses[len(losses)-1]
		}
		report.LayerLoss = append(report.LayerLoss, final)
	}

	start = time.Now()
	report.TrainError, err = d.Network.ErrorRate(sets.X, sets.Labels)
	if err != nil {
		return nil, errors.Wrap(err, "train evaluation")
	}
	if test.Len() > 0 {
		report.TestError, err = d.Network.ErrorRate(test.X, test.Labels)
		if err != nil {
			return nil, errors.Wrap(err, "test evaluation")
		}
		report.TestRows = test.Len()
	}
	report.EvalTime = time.Since(start)

	if verbose {
		logf("train error: %.4f\n", report.TrainError)
		if report.TestRows > 0 {
			logf("test error: %.4f\n", report.TestError)
		}
	}

	if d.Sink != nil {
		for i := 0; i < d.Network.TotalLayers(); i++ {
			if err := d.Sink.RecordGoodness(i, d.Network.Layer(i).History()); err != nil {
				return report, errors.Wrapf(err, "recording goodness of layer %d", i)
			}
		}
	}

	return report, nil
}

func selectRows(m *mat.Dense, idx []int) *mat.Dense {
	_, cols := m.Dims()
	out := mat.NewDense(len(idx), cols, nil)
	for i, r := range idx {
		copy(out.RawRowView(i), m.RawRowView(r))
	}
	return out
}

func selectInts(v []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, r := range idx {
		out[i] = v[r]
	}
	return out
}
