// Package dataset loads labeled feature batches for Forward-Forward training:
// MNIST from IDX files and separable synthetic data.
package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ckerce/hinton-forward-forward/nn"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	MnistTrainImagesFile = "train-images-idx3-ubyte"
	MnistTrainLabelsFile = "train-labels-idx1-ubyte"
	MnistTestImagesFile  = "t10k-images-idx3-ubyte"
	MnistTestLabelsFile  = "t10k-labels-idx1-ubyte"

	MnistMean = 0.1307
	MnistStd  = 0.3081

	imagesMagic = 2051
	labelsMagic = 2049
)

// MirrorURL is the base URL EnsureMNIST downloads from
var MirrorURL = "https://ossci-datasets.s3.amazonaws.com/mnist/"

// Split is a labeled set of flattened feature rows
type Split struct {
	X      *mat.Dense
	Labels []int
}

// Len returns the number of rows
func (s Split) Len() int { return len(s.Labels) }

// Subset returns the rows at idx, in that order. An empty idx gives an
// empty split.
func (s Split) Subset(idx []int) Split {
	if len(idx) == 0 {
		return Split{}
	}
	_, cols := s.X.Dims()
	x := mat.NewDense(len(idx), cols, nil)
	labels := make([]int, len(idx))
	for i, r := range idx {
		copy(x.RawRowView(i), s.X.RawRowView(r))
		labels[i] = s.Labels[r]
	}
	return Split{X: x, Labels: labels}
}

// Batch converts the split to the training driver's batch type
func (s Split) Batch() nn.Batch {
	return nn.Batch{X: s.X, Labels: s.Labels}
}

// LoadIDX reads an IDX3 image file and its IDX1 label file. Pixels are scaled
// to [0, 1]. limit > 0 caps the number of rows read.
func LoadIDX(imagesPath, labelsPath string, limit int) (Split, error) {
	imgF, err := os.Open(imagesPath)
	if err != nil {
		return Split{}, errors.Wrap(err, "open images")
	}
	defer imgF.Close()
	lblF, err := os.Open(labelsPath)
	if err != nil {
		return Split{}, errors.Wrap(err, "open labels")
	}
	defer lblF.Close()

	images := bufio.NewReader(imgF)
	labels := bufio.NewReader(lblF)

	var header [4]int32
	if err := binary.Read(images, binary.BigEndian, &header); err != nil {
		return Split{}, errors.Wrapf(err, "read header of %s", imagesPath)
	}
	if header[0] != imagesMagic {
		return Split{}, errors.Errorf("%s: bad magic %d, expected %d", imagesPath, header[0], imagesMagic)
	}
	numImgs, rows, cols := int(header[1]), int(header[2]), int(header[3])
	if numImgs <= 0 || rows <= 0 || cols <= 0 {
		return Split{}, errors.Wrapf(nn.ErrEmptyBatch, "%s: header declares %d images of %dx%d", imagesPath, numImgs, rows, cols)
	}

	var lHeader [2]int32
	if err := binary.Read(labels, binary.BigEndian, &lHeader); err != nil {
		return Split{}, errors.Wrapf(err, "read header of %s", labelsPath)
	}
	if lHeader[0] != labelsMagic {
		return Split{}, errors.Errorf("%s: bad magic %d, expected %d", labelsPath, lHeader[0], labelsMagic)
	}
	if int(lHeader[1]) != numImgs {
		return Split{}, errors.Errorf("%d images but %d labels", numImgs, lHeader[1])
	}

	count := numImgs
	if limit > 0 && limit < count {
		count = limit
	}
	imgSize := rows * cols

	x := mat.NewDense(count, imgSize, nil)
	out := make([]int, count)
	buf := make([]byte, imgSize)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(images, buf); err != nil {
			return Split{}, errors.Wrapf(err, "read image %d", i)
		}
		row := x.RawRowView(i)
		for j, b := range buf {
			row[j] = float64(b) / 255.0
		}
		l, err := labels.ReadByte()
		if err != nil {
			return Split{}, errors.Wrapf(err, "read label %d", i)
		}
		out[i] = int(l)
	}
	return Split{X: x, Labels: out}, nil
}

// Normalize returns a copy of s with every feature mapped to (v - mean) / std
func Normalize(s Split, mean, std float64) Split {
	x := mat.DenseCopyOf(s.X)
	x.Apply(func(_, _ int, v float64) float64 { return (v - mean) / std }, x)
	return Split{X: x, Labels: append([]int(nil), s.Labels...)}
}

// EnsureMNIST downloads and unpacks any of the four MNIST files missing from dir
func EnsureMNIST(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create data dir")
	}
	for _, name := range []string{MnistTrainImagesFile, MnistTrainLabelsFile, MnistTestImagesFile, MnistTestLabelsFile} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := downloadAndExtract(MirrorURL+name+".gz", path); err != nil {
			return errors.Wrapf(err, "download %s", name)
		}
	}
	return nil
}

func downloadAndExtract(url, destPath string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("GET %s: %s", url, resp.Status)
	}
	gzReader, err := gzip.NewReader(resp.Body)
	if err != nil {
		return err
	}
	defer gzReader.Close()

	// Write to a temp name so a failed download never looks complete.
	tmp := destPath + ".part"
	outFile, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(outFile, gzReader); err != nil {
		outFile.Close()
		os.Remove(tmp)
		return err
	}
	if err := outFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, destPath)
}

// LoadMNIST loads the train or test split from dir, downloading it if needed,
// and applies the standard MNIST normalization.
func LoadMNIST(dir string, train bool, limit int) (Split, error) {
	if err := EnsureMNIST(dir); err != nil {
		return Split{}, err
	}
	images, labels := MnistTestImagesFile, MnistTestLabelsFile
	if train {
		images, labels = MnistTrainImagesFile, MnistTrainLabelsFile
	}
	s, err := LoadIDX(filepath.Join(dir, images), filepath.Join(dir, labels), limit)
	if err != nil {
		return Split{}, err
	}
	return Normalize(s, MnistMean, MnistStd), nil
}
