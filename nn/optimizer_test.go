package nn

import (
	"math"
	"testing"
)

func TestSGDStep(t *testing.T) {
	p := []Param{{Name: "w", Value: []float64{1, 2}, Grad: []float64{0.5, -1}}}
	NewSGDOptimizer().Step(p, 0.1)
	if math.Abs(p[0].Value[0]-0.95) > 1e-12 || math.Abs(p[0].Value[1]-2.1) > 1e-12 {
		t.Errorf("Unexpected values %v", p[0].Value)
	}
}

func TestSGDMomentum(t *testing.T) {
	opt := NewSGDOptimizerWithMomentum(0.9, 0, false)
	p := []Param{{Name: "w", Value: []float64{0}, Grad: []float64{1}}}
	opt.Step(p, 1)
	opt.Step(p, 1)
	// v1 = 1, v2 = 1.9
	if math.Abs(p[0].Value[0]+2.9) > 1e-12 {
		t.Errorf("Expected -2.9, got %g", p[0].Value[0])
	}
}

// TestAdamFirstStep checks that the first bias-corrected step moves every
// parameter by roughly the learning rate against its gradient
func TestAdamFirstStep(t *testing.T) {
	opt := NewAdamOptimizerDefault()
	p := []Param{{Name: "w", Value: []float64{0, 0, 0}, Grad: []float64{3, -0.01, 0}}}
	opt.Step(p, 0.03)
	if math.Abs(p[0].Value[0]+0.03) > 1e-6 || math.Abs(p[0].Value[1]-0.03) > 1e-4 {
		t.Errorf("Unexpected first step %v", p[0].Value)
	}
	if p[0].Value[2] != 0 {
		t.Errorf("Zero gradient moved parameter to %g", p[0].Value[2])
	}
}

func TestAdamState(t *testing.T) {
	opt := NewAdamOptimizer(0.8, 0.99, 1e-6, 0.01)
	opt.Step([]Param{{Name: "w", Value: []float64{1}, Grad: []float64{1}}}, 0.1)
	state := opt.GetState()
	if state["type"] != "adam" || state["step"] != 1 {
		t.Errorf("Unexpected state %v", state)
	}

	restored := NewAdamOptimizerDefault()
	if err := restored.LoadState(state); err != nil {
		t.Fatal(err)
	}
	if restored.beta1 != 0.8 || restored.weightDecay != 0.01 || restored.Name() != "AdamW" {
		t.Errorf("State not restored: %+v", restored)
	}
	if err := restored.LoadState(map[string]interface{}{"type": "sgd"}); err == nil {
		t.Error("Expected error loading sgd state into adam")
	}
}

func TestNewOptimizer(t *testing.T) {
	for name, want := range map[string]string{
		"":        "Adam",
		"adam":    "Adam",
		"AdamW":   "AdamW",
		"sgd":     "SGD",
		"rmsprop": "RMSprop",
	} {
		opt, err := NewOptimizer(name, 0)
		if err != nil {
			t.Errorf("%q: %v", name, err)
			continue
		}
		if opt.Name() != want {
			t.Errorf("%q: got %s, expected %s", name, opt.Name(), want)
		}
	}
	if opt, _ := NewOptimizer("sgd", 0.9); opt.Name() != "SGD (momentum)" {
		t.Errorf("Momentum not applied: %s", opt.Name())
	}
	if _, err := NewOptimizer("newton", 0); err == nil {
		t.Error("Expected error for unknown optimizer")
	}
}
