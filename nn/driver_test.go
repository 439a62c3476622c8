package nn

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func TestMismatchedLabels(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	labels := make([]int, 200)
	for i := range labels {
		labels[i] = rng.Intn(5)
	}
	neg, keep := MismatchedLabels(labels, rng)
	if len(neg) != len(labels) {
		t.Fatalf("Expected %d negative labels, got %d", len(labels), len(neg))
	}
	kept := make(map[int]bool)
	for _, i := range keep {
		kept[i] = true
		if neg[i] == labels[i] {
			t.Errorf("Kept row %d pairs with its own label %d", i, labels[i])
		}
	}
	for i := range labels {
		if !kept[i] && neg[i] != labels[i] {
			t.Errorf("Row %d dropped although its labels differ", i)
		}
	}
}

func TestBuildTrainingSets(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := randomDense(rng, 50, 7)
	labels := make([]int, 50)
	for i := range labels {
		labels[i] = i % 3
	}

	sets, err := BuildTrainingSets(x, labels, 3, rng)
	if err != nil {
		t.Fatalf("BuildTrainingSets failed: %v", err)
	}
	n := len(sets.Labels)
	if n+sets.Dropped != 50 {
		t.Errorf("%d kept + %d dropped != 50", n, sets.Dropped)
	}
	if r, _ := sets.Pos.Dims(); r != n {
		t.Errorf("Positive set has %d rows, expected %d", r, n)
	}
	if r, _ := sets.Neg.Dims(); r != n {
		t.Errorf("Negative set has %d rows, expected %d", r, n)
	}

	fullPeak := mat.Max(x)
	keptPeak := mat.Max(sets.X)
	for i := 0; i < n; i++ {
		if sets.NegLabels[i] == sets.Labels[i] {
			t.Errorf("Row %d negative label equals true label", i)
		}
		if sets.Pos.At(i, sets.Labels[i]) != fullPeak {
			t.Errorf("Row %d positive channel %g, expected full batch peak %g", i, sets.Pos.At(i, sets.Labels[i]), fullPeak)
		}
		if sets.Neg.At(i, sets.NegLabels[i]) != keptPeak {
			t.Errorf("Row %d negative channel %g, expected kept rows peak %g", i, sets.Neg.At(i, sets.NegLabels[i]), keptPeak)
		}
		for c := 3; c < 7; c++ {
			if sets.Pos.At(i, c) != sets.X.At(i, c) || sets.Neg.At(i, c) != sets.X.At(i, c) {
				t.Fatalf("Row %d features differ between sets", i)
			}
		}
	}
}

func TestBuildTrainingSetsAllCollide(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := randomDense(rng, 4, 5)
	if _, err := BuildTrainingSets(x, []int{1, 1, 1, 1}, 2, rng); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("Expected ErrEmptyBatch, got %v", err)
	}
}

func TestDriverRun(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	cfg := testConfig([]int{6, 5, 4}, 3, 50)
	cfg.SampleEvery = 10
	net, err := NewNetwork(cfg, rng)
	if err != nil {
		t.Fatal(err)
	}

	x := randomDense(rng, 30, 6)
	labels := make([]int, 30)
	for i := range labels {
		labels[i] = i % 3
	}
	testX := randomDense(rng, 12, 6)
	testLabels := make([]int, 12)

	sink := NewMemorySink()
	driver := NewDriver(net, rng)
	driver.Sink = sink
	report, err := driver.Run(Batch{X: x, Labels: labels}, Batch{X: testX, Labels: testLabels})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.TrainRows+report.DroppedRows != 30 {
		t.Errorf("Rows do not add up: %+v", report)
	}
	if report.TestRows != 12 {
		t.Errorf("Expected 12 test rows, got %d", report.TestRows)
	}
	if len(report.LayerLoss) != 2 {
		t.Errorf("Expected 2 layer losses, got %d", len(report.LayerLoss))
	}
	for _, r := range []float64{report.TrainError, report.TestError} {
		if r < 0 || r > 1 {
			t.Errorf("Error rate %g out of range", r)
		}
	}
	for layer := 0; layer < 2; layer++ {
		samples := sink.Layers[layer]
		if len(samples) != 5 {
			t.Errorf("Layer %d recorded %d samples, expected 5", layer, len(samples))
			continue
		}
		if len(samples[0].Pos) != report.TrainRows {
			t.Errorf("Layer %d sample holds %d rows, expected %d", layer, len(samples[0].Pos), report.TrainRows)
		}
	}
}

type failingSink struct{}

func (failingSink) RecordGoodness(int, []GoodnessSample) error { return errors.New("disk full") }

func TestDriverSinkError(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	net, err := NewNetwork(testConfig([]int{4, 3}, 2, 5), rng)
	if err != nil {
		t.Fatal(err)
	}
	x, labels := twoClassData(rng, 20)
	driver := NewDriver(net, rng)
	driver.Sink = failingSink{}
	report, err := driver.Run(Batch{X: x, Labels: labels}, Batch{})
	if err == nil {
		t.Fatal("Expected sink error")
	}
	if report == nil {
		t.Error("Report should survive a sink failure")
	}
}
