package nn

import "github.com/pkg/errors"

// Error taxonomy shared by the overlay, layers, network and driver.
// Callers match with errors.Is; context is attached with errors.Wrapf.
var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrInvalidLabel  = errors.New("invalid label")
	ErrEmptyBatch    = errors.New("empty batch")
	ErrInvalidConfig = errors.New("invalid config")
)
