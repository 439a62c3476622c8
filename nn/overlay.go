package nn

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Overlay embeds one label per row into the first numClasses columns of x.
// The label channels are zeroed and the channel of labels[i] is set to the
// maximum value found anywhere in x, so the label signal has the same
// magnitude across the batch. x is not modified.
func Overlay(x *mat.Dense, labels []int, numClasses int) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if rows == 0 {
		return nil, errors.Wrap(ErrEmptyBatch, "overlay")
	}
	if rows != len(labels) {
		return nil, errors.Wrapf(ErrShapeMismatch, "overlay: %d rows but %d labels", rows, len(labels))
	}
	if err := checkLabelChannels(cols, numClasses); err != nil {
		return nil, err
	}
	for i, l := range labels {
		if l < 0 || l >= numClasses {
			return nil, errors.Wrapf(ErrInvalidLabel, "overlay: row %d has label %d outside [0, %d)", i, l, numClasses)
		}
	}

	peak := mat.Max(x)
	out := mat.DenseCopyOf(x)
	for i, l := range labels {
		row := out.RawRowView(i)
		for c := 0; c < numClasses; c++ {
			row[c] = 0
		}
		row[l] = peak
	}
	return out, nil
}

// OverlayUniform overlays the same label on every row. Used by prediction,
// where each candidate label is tried against the whole batch.
func OverlayUniform(x *mat.Dense, label, numClasses int) (*mat.Dense, error) {
	rows, _ := x.Dims()
	labels := make([]int, rows)
	for i := range labels {
		labels[i] = label
	}
	return Overlay(x, labels, numClasses)
}

func checkLabelChannels(cols, numClasses int) error {
	if numClasses <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "overlay: %d classes", numClasses)
	}
	if cols < numClasses {
		return errors.Wrapf(ErrShapeMismatch, "overlay: %d features cannot hold %d label channels", cols, numClasses)
	}
	return nil
}
