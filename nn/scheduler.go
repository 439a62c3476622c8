package nn

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// LRScheduler maps a layer's training iteration to a learning rate
type LRScheduler interface {
	// GetLR returns the learning rate for the given iteration
	GetLR(step int) float64

	// Name returns the scheduler name
	Name() string
}

// NewScheduler builds a scheduler by config name for a layer trained for
// totalSteps iterations starting at baseLR. "" and "constant" keep the rate fixed.
func NewScheduler(name string, baseLR float64, totalSteps int) (LRScheduler, error) {
	switch strings.ToLower(name) {
	case "", "constant":
		return NewConstantScheduler(baseLR), nil
	case "linear":
		return NewLinearDecayScheduler(baseLR, baseLR/10, totalSteps), nil
	case "cosine":
		return NewCosineAnnealingScheduler(baseLR, 0, totalSteps), nil
	case "step":
		return NewStepDecayScheduler(baseLR, 0.5, maxInt(totalSteps/4, 1)), nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown lr schedule %q", name)
	}
}

// ============================================================================
// Constant Scheduler - Fixed learning rate
// ============================================================================

type ConstantScheduler struct {
	baseLR float64
}

func NewConstantScheduler(baseLR float64) *ConstantScheduler {
	return &ConstantScheduler{baseLR: baseLR}
}

func (s *ConstantScheduler) GetLR(step int) float64 { return s.baseLR }
func (s *ConstantScheduler) Name() string          { return "Constant" }

// ============================================================================
// Linear Decay Scheduler - Linear decay from initial to final LR
// ============================================================================

type LinearDecayScheduler struct {
	initialLR  float64
	finalLR    float64
	totalSteps int
}

func NewLinearDecayScheduler(initialLR, finalLR float64, totalSteps int) *LinearDecayScheduler {
	return &LinearDecayScheduler{initialLR: initialLR, finalLR: finalLR, totalSteps: totalSteps}
}

func (s *LinearDecayScheduler) GetLR(step int) float64 {
	if step >= s.totalSteps {
		return s.finalLR
	}
	progress := float64(step) / float64(s.totalSteps)
	return s.initialLR + (s.finalLR-s.initialLR)*progress
}

func (s *LinearDecayScheduler) Name() string { return "LinearDecay" }

// ============================================================================
// Cosine Annealing Scheduler
// ============================================================================

type CosineAnnealingScheduler struct {
	initialLR  float64
	minLR      float64
	totalSteps int
}

func NewCosineAnnealingScheduler(initialLR, minLR float64, totalSteps int) *CosineAnnealingScheduler {
	return &CosineAnnealingScheduler{initialLR: initialLR, minLR: minLR, totalSteps: totalSteps}
}

func (s *CosineAnnealingScheduler) GetLR(step int) float64 {
	if step >= s.totalSteps {
		return s.minLR
	}
	progress := float64(step) / float64(s.totalSteps)
	// lr = minLR + (initialLR - minLR) * (1 + cos(pi * progress)) / 2
	return s.minLR + (s.initialLR-s.minLR)*(1+math.Cos(math.Pi*progress))/2
}

func (s *CosineAnnealingScheduler) Name() string { return "CosineAnnealing" }

// ============================================================================
// Step Decay Scheduler - multiply by decayFactor every stepSize iterations
// ============================================================================

type StepDecayScheduler struct {
	initialLR   float64
	decayFactor float64
	stepSize    int
}

func NewStepDecayScheduler(initialLR, decayFactor float64, stepSize int) *StepDecayScheduler {
	return &StepDecayScheduler{initialLR: initialLR, decayFactor: decayFactor, stepSize: stepSize}
}

func (s *StepDecayScheduler) GetLR(step int) float64 {
	return s.initialLR * math.Pow(s.decayFactor, float64(step/s.stepSize))
}

func (s *StepDecayScheduler) Name() string { return "StepDecay" }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
