package nn

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func quietLayer(in, out int, rng *rand.Rand) *Layer {
	l := NewLayer(in, out, nil, rng)
	l.Verbose = false
	return l
}

// clusterRows draws rows around a fixed unit direction
func clusterRows(rng *rand.Rand, dir []float64, rows int, noise float64) *mat.Dense {
	x := mat.NewDense(rows, len(dir), nil)
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		for j := range row {
			row[j] = 3*dir[j] + noise*rng.NormFloat64()
		}
	}
	return x
}

func TestForwardNonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l := quietLayer(10, 7, rng)
	h, err := l.Forward(randomDense(rng, 20, 10))
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if lo := mat.Min(h); lo < 0 {
		t.Errorf("Forward produced negative activation %g", lo)
	}
	if r, c := h.Dims(); r != 20 || c != 7 {
		t.Errorf("Expected 20x7 output, got %dx%d", r, c)
	}
}

func TestGoodnessScaleInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	l := quietLayer(12, 6, rng)
	x := randomDense(rng, 8, 12)
	scaled := mat.DenseCopyOf(x)
	scaled.Scale(7.5, scaled)

	g1, err := l.Goodness(x)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := l.Goodness(scaled)
	if err != nil {
		t.Fatal(err)
	}
	if !floats.EqualApprox(g1, g2, 1e-4) {
		t.Errorf("Goodness changed under rescaling:\n%v\n%v", g1, g2)
	}
}

func TestForwardIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	l := quietLayer(5, 4, rng)
	x := randomDense(rng, 6, 5)
	a, _ := l.Forward(x)
	b, _ := l.Forward(x)
	if !mat.Equal(a, b) {
		t.Error("Forward is not deterministic")
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	l := quietLayer(5, 4, rand.New(rand.NewSource(4)))
	if _, err := l.Forward(mat.NewDense(3, 6, nil)); err == nil {
		t.Error("Expected error for wrong input width")
	}
	if _, err := l.Forward(nil); err == nil {
		t.Error("Expected error for nil input")
	}
	if _, _, err := l.Train(mat.NewDense(3, 5, nil), mat.NewDense(2, 4, nil)); err == nil {
		t.Error("Expected error for wrong negative width")
	}
}

func TestGoodnessLoss(t *testing.T) {
	// softplus(0) = ln 2 for every term when goodness sits on the threshold
	got := goodnessLoss([]float64{2, 2}, []float64{2}, 2)
	if math.Abs(got-math.Ln2) > 1e-12 {
		t.Errorf("Expected ln 2, got %g", got)
	}
	if v := softplus(1000); v != 1000 {
		t.Errorf("softplus(1000) = %g", v)
	}
	if v := softplus(-1000); v != 0 || math.IsNaN(v) {
		t.Errorf("softplus(-1000) = %g", v)
	}
	if v := sigmoid(-1000); math.IsNaN(v) || v < 0 {
		t.Errorf("sigmoid(-1000) = %g", v)
	}
}

// TestBackwardMatchesFiniteDifference checks the closed-form gradient
func TestBackwardMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	l := quietLayer(6, 4, rng)
	posDir := normalizeRows(randomDense(rng, 7, 6), l.Epsilon)
	negDir := normalizeRows(randomDense(rng, 5, 6), l.Epsilon)

	hPos, hNeg := l.activate(posDir), l.activate(negDir)
	l.backward(posDir, hPos, goodnessOf(hPos), negDir, hNeg, goodnessOf(hNeg))

	settings := &fd.Settings{Formula: fd.Central, Step: 1e-6}
	for _, p := range l.params() {
		orig := append([]float64(nil), p.Value...)
		loss := func(v []float64) float64 {
			copy(p.Value, v)
			return l.loss(posDir, negDir)
		}
		numeric := fd.Gradient(nil, loss, orig, settings)
		copy(p.Value, orig)

		for j := range numeric {
			if math.Abs(numeric[j]-p.Grad[j]) > 1e-6 {
				t.Errorf("%s[%d]: analytic %g, numeric %g", p.Name, j, p.Grad[j], numeric[j])
			}
		}
	}
}

// TestTrainSeparatesGoodness trains one layer on two separable clusters and
// checks the margin on held-out rows
func TestTrainSeparatesGoodness(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	posDir := []float64{1, 0, 0, 0, 0, 0}
	negDir := []float64{0, 0, 0, 1, 0, 0}

	l := quietLayer(6, 8, rng)
	l.Epochs = 1000
	pos := clusterRows(rng, posDir, 40, 0.2)
	neg := clusterRows(rng, negDir, 40, 0.2)

	hPos, hNeg, err := l.Train(pos, neg)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	losses := l.LossHistory()
	if len(losses) != 1000 {
		t.Fatalf("Expected 1000 losses, got %d", len(losses))
	}
	if losses[len(losses)-1] >= losses[0] {
		t.Errorf("Loss did not decrease: %g -> %g", losses[0], losses[len(losses)-1])
	}

	gPos, _ := l.Goodness(clusterRows(rng, posDir, 30, 0.2))
	gNeg, _ := l.Goodness(clusterRows(rng, negDir, 30, 0.2))
	if m := Mean(gPos); m <= l.Threshold {
		t.Errorf("Mean positive goodness %g not above threshold %g", m, l.Threshold)
	}
	if m := Mean(gNeg); m >= l.Threshold {
		t.Errorf("Mean negative goodness %g not below threshold %g", m, l.Threshold)
	}

	// Outputs are the trained layer's forward pass, detached from the layer
	want, _ := l.Forward(pos)
	if !mat.EqualApprox(hPos, want, 1e-12) {
		t.Error("Train output differs from Forward on the trained layer")
	}
	hNeg.Set(0, 0, 123)
	again, _ := l.Forward(neg)
	if again.At(0, 0) == 123 {
		t.Error("Train output aliases layer state")
	}
}

func TestTrainHistorySampling(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := quietLayer(4, 3, rng)
	l.Epochs = 250
	if _, _, err := l.Train(randomDense(rng, 5, 4), randomDense(rng, 6, 4)); err != nil {
		t.Fatal(err)
	}
	h := l.History()
	if len(h) != 2 || h[0].Iteration != 99 || h[1].Iteration != 199 {
		t.Fatalf("Unexpected history %+v", h)
	}
	if len(h[0].Pos) != 5 || len(h[0].Neg) != 6 {
		t.Errorf("Sample sizes %d/%d, expected 5/6", len(h[0].Pos), len(h[0].Neg))
	}

	h[0].Pos[0] = -1
	if l.History()[0].Pos[0] == -1 {
		t.Error("History exposes layer storage")
	}
}

func TestSetParameters(t *testing.T) {
	l := quietLayer(3, 2, rand.New(rand.NewSource(8)))
	if err := l.SetParameters([]float64{1, 0, 0, 0, 1, 0}, []float64{0, -10}); err != nil {
		t.Fatal(err)
	}
	h, _ := l.Forward(mat.NewDense(1, 3, []float64{3, 4, 0}))
	// normalized row is (0.6, 0.8, 0) up to eps
	if math.Abs(h.At(0, 0)-0.6) > 1e-3 || h.At(0, 1) != 0 {
		t.Errorf("Unexpected output %v", h.RawRowView(0))
	}
	if err := l.SetParameters([]float64{1}, []float64{0, 0}); err == nil {
		t.Error("Expected error for short weights")
	}
}
