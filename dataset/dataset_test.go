package dataset

import (
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/ckerce/hinton-forward-forward/nn"
	"github.com/pkg/errors"
)

func writeIDX(t *testing.T, dir string, images [][]byte, labels []byte, rows, cols int) (string, string) {
	t.Helper()
	imgPath := filepath.Join(dir, "images")
	lblPath := filepath.Join(dir, "labels")

	f, err := os.Create(imgPath)
	if err != nil {
		t.Fatal(err)
	}
	binary.Write(f, binary.BigEndian, [4]int32{imagesMagic, int32(len(images)), int32(rows), int32(cols)})
	for _, img := range images {
		f.Write(img)
	}
	f.Close()

	f, err = os.Create(lblPath)
	if err != nil {
		t.Fatal(err)
	}
	binary.Write(f, binary.BigEndian, [2]int32{labelsMagic, int32(len(labels))})
	f.Write(labels)
	f.Close()
	return imgPath, lblPath
}

func TestLoadIDX(t *testing.T) {
	dir := t.TempDir()
	images := [][]byte{{0, 255, 51, 0}, {255, 255, 0, 102}, {1, 2, 3, 4}}
	imgPath, lblPath := writeIDX(t, dir, images, []byte{7, 2, 9}, 2, 2)

	s, err := LoadIDX(imgPath, lblPath, 0)
	if err != nil {
		t.Fatalf("LoadIDX failed: %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("Expected 3 rows, got %d", s.Len())
	}
	if r, c := s.X.Dims(); r != 3 || c != 4 {
		t.Fatalf("Expected 3x4 features, got %dx%d", r, c)
	}
	if s.Labels[0] != 7 || s.Labels[2] != 9 {
		t.Errorf("Unexpected labels %v", s.Labels)
	}
	if s.X.At(0, 1) != 1 || math.Abs(s.X.At(0, 2)-0.2) > 1e-12 {
		t.Errorf("Pixels not scaled to [0,1]: %v", s.X.RawRowView(0))
	}

	limited, err := LoadIDX(imgPath, lblPath, 2)
	if err != nil {
		t.Fatalf("LoadIDX with limit failed: %v", err)
	}
	if limited.Len() != 2 {
		t.Errorf("Expected 2 rows with limit, got %d", limited.Len())
	}
}

func TestLoadIDXRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	imgPath, lblPath := writeIDX(t, dir, [][]byte{{1}}, []byte{0}, 1, 1)
	// Swap the files so the magic numbers are wrong
	if _, err := LoadIDX(lblPath, imgPath, 0); err == nil {
		t.Error("Expected error for swapped files")
	}
}

func TestLoadIDXRejectsCountMismatch(t *testing.T) {
	dir := t.TempDir()
	imgPath, lblPath := writeIDX(t, dir, [][]byte{{1}, {2}}, []byte{0}, 1, 1)
	if _, err := LoadIDX(imgPath, lblPath, 0); err == nil {
		t.Error("Expected error for 2 images with 1 label")
	}
}

func TestNormalize(t *testing.T) {
	dir := t.TempDir()
	imgPath, lblPath := writeIDX(t, dir, [][]byte{{0, 255}}, []byte{3}, 1, 2)
	s, err := LoadIDX(imgPath, lblPath, 0)
	if err != nil {
		t.Fatal(err)
	}
	n := Normalize(s, MnistMean, MnistStd)
	if math.Abs(n.X.At(0, 0)-(-MnistMean/MnistStd)) > 1e-12 {
		t.Errorf("Unexpected normalized value %g", n.X.At(0, 0))
	}
	if s.X.At(0, 1) != 1 {
		t.Error("Normalize modified its input")
	}
}

func TestLoaderBatches(t *testing.T) {
	s, err := Synthetic(10, 6, 2, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	l := NewLoader(s, 4, true, rand.New(rand.NewSource(2)))
	if l.NumBatches() != 3 {
		t.Errorf("Expected 3 batches, got %d", l.NumBatches())
	}

	sizes := []int{}
	total := 0
	for {
		b, ok := l.Next()
		if !ok {
			break
		}
		sizes = append(sizes, b.Len())
		total += b.Len()
	}
	if total != 10 || len(sizes) != 3 || sizes[2] != 2 {
		t.Errorf("Unexpected batch sizes %v", sizes)
	}
}

func TestLoaderNoShuffleKeepsOrder(t *testing.T) {
	s, err := Synthetic(5, 4, 2, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	b, ok := NewLoader(s, 0, false, nil).Next()
	if !ok {
		t.Fatal("Expected a batch")
	}
	for i := range s.Labels {
		if b.Labels[i] != s.Labels[i] {
			t.Fatalf("Row %d reordered without shuffle", i)
		}
	}
}

func TestSynthetic(t *testing.T) {
	s, err := Synthetic(40, 8, 4, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("Synthetic failed: %v", err)
	}
	counts := make([]int, 4)
	for i, l := range s.Labels {
		counts[l]++
		for c := 0; c < 4; c++ {
			if s.X.At(i, c) != 0 {
				t.Fatalf("Label channel %d of row %d is not zero", c, i)
			}
		}
	}
	for c, n := range counts {
		if n != 10 {
			t.Errorf("Class %d has %d rows, expected 10", c, n)
		}
	}

	if _, err := Synthetic(10, 4, 4, rand.New(rand.NewSource(1))); err == nil {
		t.Error("Expected error when no feature columns remain")
	}
}

func TestSubsetBatch(t *testing.T) {
	s, err := Synthetic(6, 5, 3, rand.New(rand.NewSource(9)))
	if err != nil {
		t.Fatal(err)
	}
	sub := s.Subset([]int{4, 1})
	if sub.Labels[0] != s.Labels[4] || sub.X.At(1, 3) != s.X.At(1, 3) {
		t.Error("Subset picked wrong rows")
	}
	if b := sub.Batch(); b.Len() != 2 {
		t.Errorf("Batch length %d, expected 2", b.Len())
	}
}

func TestLoadIDXRejectsEmptyHeader(t *testing.T) {
	dir := t.TempDir()
	imgPath, lblPath := writeIDX(t, dir, nil, nil, 28, 28)
	if _, err := LoadIDX(imgPath, lblPath, 0); !errors.Is(err, nn.ErrEmptyBatch) {
		t.Errorf("Expected ErrEmptyBatch for zero images, got %v", err)
	}

	imgPath, lblPath = writeIDX(t, t.TempDir(), [][]byte{{}}, []byte{1}, 0, 4)
	if _, err := LoadIDX(imgPath, lblPath, 0); !errors.Is(err, nn.ErrEmptyBatch) {
		t.Errorf("Expected ErrEmptyBatch for zero-width images, got %v", err)
	}
}

func TestSubsetEmpty(t *testing.T) {
	s, err := Synthetic(4, 5, 2, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatal(err)
	}
	empty := s.Subset(nil)
	if empty.Len() != 0 || empty.X != nil {
		t.Errorf("Expected an empty split, got %d rows", empty.Len())
	}
	if b := empty.Batch(); b.Len() != 0 {
		t.Errorf("Empty split became a %d row batch", b.Len())
	}
}
