package dataset

import "math/rand"

// Loader yields fixed-size batches of a split. The last batch may be short.
type Loader struct {
	split     Split
	batchSize int
	order     []int
	pos       int
}

// NewLoader creates a loader over s. With shuffle set the row order is drawn
// once from rng.
func NewLoader(s Split, batchSize int, shuffle bool, rng *rand.Rand) *Loader {
	if batchSize <= 0 {
		batchSize = s.Len()
	}
	order := make([]int, s.Len())
	for i := range order {
		order[i] = i
	}
	if shuffle {
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return &Loader{split: s, batchSize: batchSize, order: order}
}

// Next returns the next batch, or false once the split is exhausted
func (l *Loader) Next() (Split, bool) {
	if l.pos >= len(l.order) {
		return Split{}, false
	}
	end := l.pos + l.batchSize
	if end > len(l.order) {
		end = len(l.order)
	}
	b := l.split.Subset(l.order[l.pos:end])
	l.pos = end
	return b, true
}

// NumBatches returns how many batches a full pass yields
func (l *Loader) NumBatches() int {
	if len(l.order) == 0 {
		return 0
	}
	return (len(l.order) + l.batchSize - 1) / l.batchSize
}
