package nn

import (
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func trainedNetwork(t *testing.T) (*Network, *mat.Dense) {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	net, err := NewNetwork(testConfig([]int{4, 5, 3}, 2, 30), rng)
	if err != nil {
		t.Fatal(err)
	}
	x, labels := twoClassData(rng, 40)
	if _, err := NewDriver(net, rng).Run(Batch{X: x, Labels: labels}, Batch{}); err != nil {
		t.Fatal(err)
	}
	testX, _ := twoClassData(rng, 15)
	return net, testX
}

func TestSerializationRoundTrip(t *testing.T) {
	net, x := trainedNetwork(t)
	want, err := net.GoodnessPerLabel(x)
	if err != nil {
		t.Fatal(err)
	}

	data, err := net.SaveModelToString("ff-test")
	if err != nil {
		t.Fatalf("SaveModelToString failed: %v", err)
	}
	if !strings.Contains(data, "jsonModelB64") {
		t.Error("Bundle does not use the jsonModelB64 encoding")
	}

	loaded, err := LoadModelFromString(data, "ff-test")
	if err != nil {
		t.Fatalf("LoadModelFromString failed: %v", err)
	}
	got, err := loaded.GoodnessPerLabel(x)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(want, got) {
		t.Error("Reloaded network scores differ")
	}
	if loaded.Layer(0).Epochs != net.Layer(0).Epochs || loaded.Layer(1).Threshold != net.Layer(1).Threshold {
		t.Error("Layer settings not restored")
	}

	if _, err := LoadModelFromString(data, "missing"); err == nil {
		t.Error("Expected error for unknown model id")
	}
}

func TestSaveModelToFile(t *testing.T) {
	net, x := trainedNetwork(t)
	path := filepath.Join(t.TempDir(), "model.json")
	if err := net.SaveModel(path, ""); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	bundle, err := LoadBundle(path)
	if err != nil {
		t.Fatalf("LoadBundle failed: %v", err)
	}
	if len(bundle.Models) != 1 || bundle.Models[0].ID == "" {
		t.Fatalf("Expected one model with a generated id, got %+v", bundle.Models)
	}

	loaded, err := LoadModel(path, "")
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	a, _ := net.Predict(x)
	b, _ := loaded.Predict(x)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Row %d: prediction %d became %d after reload", i, a[i], b[i])
		}
	}
}

func TestLoadBundleRejectsForeignType(t *testing.T) {
	if _, err := LoadBundleFromString(`{"type": "modelhost/bundle", "version": 1, "models": []}`); err == nil {
		t.Error("Expected error for foreign bundle type")
	}
}
