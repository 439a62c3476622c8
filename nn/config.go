package nn

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Config holds the architecture and local-training hyperparameters of a network.
type Config struct {
	Dims         []int   `json:"dims"`
	NumClasses   int     `json:"num_classes"`
	Threshold    float64 `json:"threshold"`
	LearningRate float64 `json:"learning_rate"`
	LRSchedule   string  `json:"lr_schedule,omitempty"` // "constant" (default), "linear", "cosine" or "step"
	Epochs       int     `json:"epochs"`                 // default iteration count for every layer
	LayerEpochs  []int   `json:"layer_epochs,omitempty"` // per-layer override, 0 entries fall back to Epochs
	Optimizer    string  `json:"optimizer"`              // "adam", "sgd" or "rmsprop"
	Momentum     float64 `json:"momentum,omitempty"`     // sgd only
	NormEpsilon  float64 `json:"norm_epsilon"`
	SampleEvery  int     `json:"sample_every"` // goodness history sampling period (0 = off)
	Seed         int64   `json:"seed"`
	Verbose      bool    `json:"verbose"`
	PrintEvery   int     `json:"print_every"` // print the loss every N iterations (0 = only layer summaries)
}

// DefaultConfig returns the MNIST architecture the procedure was designed around
func DefaultConfig() Config {
	return Config{
		Dims:         []int{784, 500, 500, 500},
		NumClasses:   10,
		Threshold:    2.0,
		LearningRate: 0.03,
		Epochs:       1000,
		Optimizer:    "adam",
		NormEpsilon:  1e-4,
		SampleEvery:  100,
		Seed:         1234,
		Verbose:      true,
	}
}

// NumLayers returns the number of trainable layers described by Dims
func (c Config) NumLayers() int {
	if len(c.Dims) < 2 {
		return 0
	}
	return len(c.Dims) - 1
}

// EpochsFor returns the iteration count of layer i
func (c Config) EpochsFor(i int) int {
	if i >= 0 && i < len(c.LayerEpochs) && c.LayerEpochs[i] > 0 {
		return c.LayerEpochs[i]
	}
	return c.Epochs
}

// Validate checks that the architecture is dimension-chained and that every
// hyperparameter is usable.
func (c Config) Validate() error {
	if len(c.Dims) < 2 {
		return errors.Wrapf(ErrInvalidConfig, "need at least 2 dims, got %d", len(c.Dims))
	}
	for i, d := range c.Dims {
		if d <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "dims[%d] = %d must be positive", i, d)
		}
	}
	if c.NumClasses < 2 {
		return errors.Wrapf(ErrInvalidConfig, "num_classes = %d must be at least 2", c.NumClasses)
	}
	if c.Dims[0] < c.NumClasses {
		return errors.Wrapf(ErrInvalidConfig, "input width %d cannot hold %d label channels", c.Dims[0], c.NumClasses)
	}
	if c.LearningRate <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "learning_rate = %g must be positive", c.LearningRate)
	}
	if c.Epochs < 0 {
		return errors.Wrapf(ErrInvalidConfig, "epochs = %d must not be negative", c.Epochs)
	}
	if len(c.LayerEpochs) > c.NumLayers() {
		return errors.Wrapf(ErrInvalidConfig, "layer_epochs has %d entries for %d layers", len(c.LayerEpochs), c.NumLayers())
	}
	if c.NormEpsilon <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "norm_epsilon = %g must be positive", c.NormEpsilon)
	}
	if c.SampleEvery < 0 {
		return errors.Wrapf(ErrInvalidConfig, "sample_every = %d must not be negative", c.SampleEvery)
	}
	if _, err := NewOptimizer(c.Optimizer, c.Momentum); err != nil {
		return err
	}
	if _, err := NewScheduler(c.LRSchedule, c.LearningRate, c.Epochs); err != nil {
		return err
	}
	return nil
}

// ParseConfig decodes a JSON config on top of DefaultConfig, so omitted
// fields keep their defaults.
func ParseConfig(jsonConfig string) (Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal([]byte(jsonConfig), &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a JSON config file
func LoadConfig(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", filename)
	}
	return ParseConfig(string(data))
}
