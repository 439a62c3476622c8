package nn

import (
	"encoding/base64"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/xid"
)

const bundleType = "forwardforward/bundle"

// ModelBundle represents a collection of saved models
type ModelBundle struct {
	Type    string       `json:"type"`
	Version int          `json:"version"`
	Models  []SavedModel `json:"models"`
}

// SavedModel represents a single saved model with config and weights
type SavedModel struct {
	ID      string         `json:"id"`
	Config  Config         `json:"cfg"`
	Weights EncodedWeights `json:"weights"`
}

// EncodedWeights stores weights in base64-encoded JSON format
type EncodedWeights struct {
	Format string `json:"fmt"`
	Data   string `json:"data"`
}

// WeightsData represents the actual weight values
type WeightsData struct {
	Type   string         `json:"type"`
	Layers []LayerWeights `json:"layers"`
}

// LayerWeights stores the trained state of a single layer
type LayerWeights struct {
	InputSize  int                    `json:"input_size"`
	OutputSize int                    `json:"output_size"`
	Weights    []float64              `json:"weights"` // row-major [output_size x input_size]
	Biases     []float64              `json:"biases"`
	Threshold  float64                `json:"threshold"`
	Epochs     int                    `json:"epochs"`
	Optimizer  map[string]interface{} `json:"optimizer,omitempty"`
}

// NewModelID returns a fresh globally unique model id
func NewModelID() string {
	return xid.New().String()
}

// SerializeModel converts the network to a SavedModel structure. An empty
// modelID is replaced by a fresh one.
func (n *Network) SerializeModel(modelID string) (SavedModel, error) {
	if modelID == "" {
		modelID = NewModelID()
	}

	weightsData := WeightsData{Type: "float64"}
	for _, l := range n.layers {
		weightsData.Layers = append(weightsData.Layers, LayerWeights{
			InputSize:  l.inputSize,
			OutputSize: l.outputSize,
			Weights:    append([]float64(nil), l.weights.RawMatrix().Data...),
			Biases:     l.Bias(),
			Threshold:  l.Threshold,
			Epochs:     l.Epochs,
			Optimizer:  l.opt.GetState(),
		})
	}

	weightsJSON, err := json.Marshal(weightsData)
	if err != nil {
		return SavedModel{}, errors.Wrap(err, "failed to marshal weights")
	}

	return SavedModel{
		ID:     modelID,
		Config: n.config,
		Weights: EncodedWeights{
			Format: "jsonModelB64",
			Data:   base64.StdEncoding.EncodeToString(weightsJSON),
		},
	}, nil
}

// DeserializeModel creates a Network from a SavedModel
func DeserializeModel(saved SavedModel) (*Network, error) {
	if saved.Weights.Format != "jsonModelB64" {
		return nil, errors.Errorf("unsupported weights format: %s", saved.Weights.Format)
	}
	raw, err := base64.StdEncoding.DecodeString(saved.Weights.Data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode weights")
	}
	var weightsData WeightsData
	if err := json.Unmarshal(raw, &weightsData); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal weights")
	}

	n, err := NewNetwork(saved.Config, nil)
	if err != nil {
		return nil, err
	}
	if len(weightsData.Layers) != n.TotalLayers() {
		return nil, errors.Wrapf(ErrShapeMismatch, "model %s has %d weight layers for %d layers", saved.ID, len(weightsData.Layers), n.TotalLayers())
	}

	for i, lw := range weightsData.Layers {
		layer := n.layers[i]
		if lw.InputSize != layer.inputSize || lw.OutputSize != layer.outputSize {
			return nil, errors.Wrapf(ErrShapeMismatch, "layer %d saved as %dx%d, config says %dx%d",
				i, lw.OutputSize, lw.InputSize, layer.outputSize, layer.inputSize)
		}
		if err := layer.SetParameters(lw.Weights, lw.Biases); err != nil {
			return nil, err
		}
		layer.Threshold = lw.Threshold
		layer.Epochs = lw.Epochs
		if lw.Optimizer != nil {
			if err := layer.opt.LoadState(lw.Optimizer); err != nil {
				return nil, errors.Wrapf(err, "layer %d optimizer", i)
			}
		}
	}
	return n, nil
}

func newBundle() ModelBundle {
	return ModelBundle{Type: bundleType, Version: 1, Models: []SavedModel{}}
}

// SaveModel saves a single model to a file
func (n *Network) SaveModel(filename string, modelID string) error {
	bundle := newBundle()
	savedModel, err := n.SerializeModel(modelID)
	if err != nil {
		return errors.Wrap(err, "failed to serialize model")
	}
	bundle.Models = append(bundle.Models, savedModel)
	return bundle.SaveToFile(filename)
}

// SaveModelToString saves a single model to a JSON string
func (n *Network) SaveModelToString(modelID string) (string, error) {
	bundle := newBundle()
	savedModel, err := n.SerializeModel(modelID)
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize model")
	}
	bundle.Models = append(bundle.Models, savedModel)
	return bundle.SaveToString()
}

// SaveToString converts the bundle to a JSON string
func (b *ModelBundle) SaveToString() (string, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal bundle")
	}
	return string(data), nil
}

// SaveToFile saves the bundle to a file
func (b *ModelBundle) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal bundle")
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write file")
	}
	return nil
}

// LoadBundle loads a model bundle from a file
func LoadBundle(filename string) (*ModelBundle, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}
	return LoadBundleFromString(string(data))
}

// LoadBundleFromString loads a model bundle from a JSON string
func LoadBundleFromString(jsonString string) (*ModelBundle, error) {
	var bundle ModelBundle
	if err := json.Unmarshal([]byte(jsonString), &bundle); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal bundle")
	}
	if bundle.Type != bundleType {
		return nil, errors.Errorf("invalid bundle type: %s", bundle.Type)
	}
	return &bundle, nil
}

// LoadModel loads a single model from a file. An empty modelID selects the
// first model of the bundle.
func LoadModel(filename string, modelID string) (*Network, error) {
	bundle, err := LoadBundle(filename)
	if err != nil {
		return nil, err
	}
	return bundle.find(modelID)
}

// LoadModelFromString loads a single model from a JSON string
func LoadModelFromString(jsonString string, modelID string) (*Network, error) {
	bundle, err := LoadBundleFromString(jsonString)
	if err != nil {
		return nil, err
	}
	return bundle.find(modelID)
}

func (b *ModelBundle) find(modelID string) (*Network, error) {
	for _, savedModel := range b.Models {
		if modelID == "" || savedModel.ID == modelID {
			return DeserializeModel(savedModel)
		}
	}
	return nil, errors.Errorf("model %s not found in bundle", modelID)
}
