package nn

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Param is one trainable tensor of a layer. Value and Grad alias the layer's
// own storage, so an optimizer step writes straight into the layer.
type Param struct {
	Name  string
	Value []float64
	Grad  []float64
}

// Optimizer interface defines the contract for all optimizers.
// Every layer owns its own Optimizer instance; moments are never shared.
type Optimizer interface {
	// Step applies the gradients held in params to their values
	Step(params []Param, learningRate float64)

	// Reset clears optimizer state (momentum, etc.)
	Reset()

	// GetState returns optimizer state for serialization
	GetState() map[string]interface{}

	// LoadState restores optimizer state from serialization
	LoadState(state map[string]interface{}) error

	// Name returns the optimizer name
	Name() string
}

// NewOptimizer builds an optimizer by config name
func NewOptimizer(name string, momentum float64) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "", "adam":
		return NewAdamOptimizerDefault(), nil
	case "adamw":
		return NewAdamOptimizer(0.9, 0.999, 1e-8, 0.01), nil
	case "sgd":
		if momentum > 0 {
			return NewSGDOptimizerWithMomentum(momentum, 0, false), nil
		}
		return NewSGDOptimizer(), nil
	case "rmsprop":
		return NewRMSpropOptimizerDefault(), nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown optimizer %q", name)
	}
}

// ============================================================================
// SGD Optimizer (Stochastic Gradient Descent with optional momentum)
// ============================================================================

type SGDOptimizer struct {
	momentum   float64
	velocities map[string][]float64
	dampening  float64
	nesterov   bool
}

func NewSGDOptimizer() *SGDOptimizer {
	return &SGDOptimizer{velocities: make(map[string][]float64)}
}

func NewSGDOptimizerWithMomentum(momentum, dampening float64, nesterov bool) *SGDOptimizer {
	return &SGDOptimizer{
		momentum:   momentum,
		velocities: make(map[string][]float64),
		dampening:  dampening,
		nesterov:   nesterov,
	}
}

func (opt *SGDOptimizer) Step(params []Param, learningRate float64) {
	for _, p := range params {
		if len(p.Grad) != len(p.Value) {
			continue
		}
		if opt.momentum == 0 {
			for j := range p.Value {
				p.Value[j] -= learningRate * p.Grad[j]
			}
			continue
		}

		vel := opt.velocities[p.Name]
		if vel == nil {
			vel = make([]float64, len(p.Value))
			opt.velocities[p.Name] = vel
		}

		// v = momentum * v + (1 - dampening) * grad
		// w = w - lr * v (or w - lr * (grad + momentum * v) for Nesterov)
		for j := range p.Value {
			grad := p.Grad[j]
			vel[j] = opt.momentum*vel[j] + (1-opt.dampening)*grad
			if opt.nesterov {
				p.Value[j] -= learningRate * (grad + opt.momentum*vel[j])
			} else {
				p.Value[j] -= learningRate * vel[j]
			}
		}
	}
}

func (opt *SGDOptimizer) Reset() {
	opt.velocities = make(map[string][]float64)
}

func (opt *SGDOptimizer) GetState() map[string]interface{} {
	return map[string]interface{}{
		"type":      "sgd",
		"momentum":  opt.momentum,
		"dampening": opt.dampening,
		"nesterov":  opt.nesterov,
	}
}

func (opt *SGDOptimizer) LoadState(state map[string]interface{}) error {
	if t, ok := state["type"].(string); !ok || t != "sgd" {
		return errors.Errorf("invalid optimizer type: expected sgd, got %v", state["type"])
	}
	if m, ok := state["momentum"].(float64); ok {
		opt.momentum = m
	}
	if d, ok := state["dampening"].(float64); ok {
		opt.dampening = d
	}
	if n, ok := state["nesterov"].(bool); ok {
		opt.nesterov = n
	}
	return nil
}

func (opt *SGDOptimizer) Name() string {
	if opt.momentum > 0 {
		if opt.nesterov {
			return "SGD (Nesterov momentum)"
		}
		return "SGD (momentum)"
	}
	return "SGD"
}

// ============================================================================
// Adam Optimizer (AdamW when weightDecay > 0)
// ============================================================================

type AdamOptimizer struct {
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64
	step        int

	// First moment estimates
	m map[string][]float64

	// Second moment estimates
	v map[string][]float64
}

func NewAdamOptimizer(beta1, beta2, epsilon, weightDecay float64) *AdamOptimizer {
	return &AdamOptimizer{
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		m:           make(map[string][]float64),
		v:           make(map[string][]float64),
	}
}

// NewAdamOptimizerDefault matches the classic Adam defaults with no weight decay
func NewAdamOptimizerDefault() *AdamOptimizer {
	return NewAdamOptimizer(0.9, 0.999, 1e-8, 0)
}

func (opt *AdamOptimizer) Step(params []Param, learningRate float64) {
	opt.step++

	biasCorrection1 := 1.0 - math.Pow(opt.beta1, float64(opt.step))
	biasCorrection2 := 1.0 - math.Pow(opt.beta2, float64(opt.step))

	for _, p := range params {
		if len(p.Grad) != len(p.Value) {
			continue
		}

		m, v := opt.m[p.Name], opt.v[p.Name]
		if m == nil {
			m = make([]float64, len(p.Value))
			v = make([]float64, len(p.Value))
			opt.m[p.Name] = m
			opt.v[p.Name] = v
		}

		for j := range p.Value {
			grad := p.Grad[j]

			m[j] = opt.beta1*m[j] + (1-opt.beta1)*grad
			v[j] = opt.beta2*v[j] + (1-opt.beta2)*grad*grad

			mHat := m[j] / biasCorrection1
			vHat := v[j] / biasCorrection2

			p.Value[j] -= learningRate * (mHat/(math.Sqrt(vHat)+opt.epsilon) + opt.weightDecay*p.Value[j])
		}
	}
}

func (opt *AdamOptimizer) Reset() {
	opt.step = 0
	opt.m = make(map[string][]float64)
	opt.v = make(map[string][]float64)
}

func (opt *AdamOptimizer) GetState() map[string]interface{} {
	return map[string]interface{}{
		"type":         "adam",
		"beta1":        opt.beta1,
		"beta2":        opt.beta2,
		"epsilon":      opt.epsilon,
		"weight_decay": opt.weightDecay,
		"step":         opt.step,
	}
}

func (opt *AdamOptimizer) LoadState(state map[string]interface{}) error {
	if t, ok := state["type"].(string); !ok || t != "adam" {
		return errors.Errorf("invalid optimizer type: expected adam, got %v", state["type"])
	}
	if b1, ok := state["beta1"].(float64); ok {
		opt.beta1 = b1
	}
	if b2, ok := state["beta2"].(float64); ok {
		opt.beta2 = b2
	}
	if eps, ok := state["epsilon"].(float64); ok {
		opt.epsilon = eps
	}
	if wd, ok := state["weight_decay"].(float64); ok {
		opt.weightDecay = wd
	}
	// Moments are not serialized, so a restored optimizer restarts bias correction.
	opt.step = 0
	return nil
}

func (opt *AdamOptimizer) Name() string {
	if opt.weightDecay > 0 {
		return "AdamW"
	}
	return "Adam"
}

// ============================================================================
// RMSprop Optimizer
// ============================================================================

type RMSpropOptimizer struct {
	alpha    float64 // Decay rate
	epsilon  float64
	momentum float64

	// Running average of squared gradients
	v map[string][]float64

	// Momentum buffer (if momentum > 0)
	buf map[string][]float64
}

func NewRMSpropOptimizer(alpha, epsilon, momentum float64) *RMSpropOptimizer {
	return &RMSpropOptimizer{
		alpha:    alpha,
		epsilon:  epsilon,
		momentum: momentum,
		v:        make(map[string][]float64),
		buf:      make(map[string][]float64),
	}
}

func NewRMSpropOptimizerDefault() *RMSpropOptimizer {
	return NewRMSpropOptimizer(0.99, 1e-8, 0.0)
}

func (opt *RMSpropOptimizer) Step(params []Param, learningRate float64) {
	for _, p := range params {
		if len(p.Grad) != len(p.Value) {
			continue
		}

		v := opt.v[p.Name]
		if v == nil {
			v = make([]float64, len(p.Value))
			opt.v[p.Name] = v
			if opt.momentum > 0 {
				opt.buf[p.Name] = make([]float64, len(p.Value))
			}
		}
		buf := opt.buf[p.Name]

		for j := range p.Value {
			grad := p.Grad[j]
			v[j] = opt.alpha*v[j] + (1-opt.alpha)*grad*grad

			if opt.momentum > 0 {
				buf[j] = opt.momentum*buf[j] + grad/math.Sqrt(v[j]+opt.epsilon)
				p.Value[j] -= learningRate * buf[j]
			} else {
				p.Value[j] -= learningRate * grad / math.Sqrt(v[j]+opt.epsilon)
			}
		}
	}
}

func (opt *RMSpropOptimizer) Reset() {
	opt.v = make(map[string][]float64)
	opt.buf = make(map[string][]float64)
}

func (opt *RMSpropOptimizer) GetState() map[string]interface{} {
	return map[string]interface{}{
		"type":     "rmsprop",
		"alpha":    opt.alpha,
		"epsilon":  opt.epsilon,
		"momentum": opt.momentum,
	}
}

func (opt *RMSpropOptimizer) LoadState(state map[string]interface{}) error {
	if t, ok := state["type"].(string); !ok || t != "rmsprop" {
		return errors.Errorf("invalid optimizer type: expected rmsprop, got %v", state["type"])
	}
	if a, ok := state["alpha"].(float64); ok {
		opt.alpha = a
	}
	if eps, ok := state["epsilon"].(float64); ok {
		opt.epsilon = eps
	}
	if m, ok := state["momentum"].(float64); ok {
		opt.momentum = m
	}
	return nil
}

func (opt *RMSpropOptimizer) Name() string {
	if opt.momentum > 0 {
		return "RMSprop (momentum)"
	}
	return "RMSprop"
}
