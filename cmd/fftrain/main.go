package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"text/tabwriter"

	"github.com/ckerce/hinton-forward-forward/dataset"
	"github.com/ckerce/hinton-forward-forward/diag"
	"github.com/ckerce/hinton-forward-forward/gpu"
	"github.com/ckerce/hinton-forward-forward/nn"
)

// defaultEpochs is the per-layer iteration count used without a config file
const defaultEpochs = 1500

func main() {
	configPath := flag.String("config", "", "JSON config file (defaults to the built-in MNIST setup)")
	dataDir := flag.String("data", "data", "Directory holding (or receiving) the MNIST IDX files")
	trainBatch := flag.Int("train-batch", 25000, "Rows of the training set used as the working batch")
	testBatch := flag.Int("test-batch", 10000, "Rows of the test set evaluated")
	epochs := flag.Int("epochs", 0, "Iterations per layer (0 keeps the config value, 1500 without -config)")
	useGPU := flag.Bool("gpu", false, "Run prediction forward passes on WebGPU")
	adapter := flag.String("adapter", "", "Prefer a GPU adapter whose name or vendor contains this")
	diagDB := flag.String("diag-db", "", "SQLite file receiving goodness histories")
	savePath := flag.String("save", "", "Write the trained model bundle to this file")
	synthetic := flag.Bool("synthetic", false, "Train on synthetic clusters instead of MNIST")
	jsonReport := flag.Bool("json", false, "Print the report as JSON")
	flag.Parse()

	cfg := nn.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = nn.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	switch {
	case *epochs > 0:
		cfg.Epochs = *epochs
	case *configPath == "":
		cfg.Epochs = defaultEpochs
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	fmt.Printf("Forward-Forward training\n")
	fmt.Printf("========================\n\n")
	fmt.Printf("Layers: %v, classes: %d, threshold: %.2f, lr: %g, epochs: %d\n\n",
		cfg.Dims, cfg.NumClasses, cfg.Threshold, cfg.LearningRate, cfg.Epochs)

	train, test, err := loadData(cfg, *dataDir, *synthetic, *trainBatch, *testBatch, rng)
	if err != nil {
		log.Fatalf("Failed to load data: %v", err)
	}
	fmt.Printf("✓ Loaded %d training rows, %d test rows\n", train.Len(), test.Len())

	net, err := nn.NewNetwork(cfg, rng)
	if err != nil {
		log.Fatalf("Failed to build network: %v", err)
	}

	if *useGPU {
		if *adapter != "" {
			gpu.PreferAdapter(*adapter)
		}
		kernel, err := gpu.NewGoodnessKernel()
		if err != nil {
			fmt.Printf("[WARNING] GPU unavailable, predicting on CPU: %v\n", err)
		} else {
			defer kernel.Release()
			net.SetAccelerator(kernel)
			fmt.Printf("✓ Prediction on %s\n", kernel.Name())
		}
	}

	driver := nn.NewDriver(net, rng)

	if *diagDB != "" {
		store, err := diag.Open(*diagDB)
		if err != nil {
			log.Fatalf("Failed to open diagnostics db: %v", err)
		}
		defer store.Close()
		runID, err := store.BeginRun(cfg)
		if err != nil {
			log.Fatalf("Failed to start run: %v", err)
		}
		driver.Sink = store
		fmt.Printf("✓ Recording goodness under run %s\n", runID)
	}

	report, err := driver.Run(train.Batch(), test.Batch())
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}

	if *jsonReport {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode report: %v", err)
		}
		fmt.Println(string(data))
	} else {
		printReport(net, report)
	}

	if *savePath != "" {
		if err := net.SaveModel(*savePath, ""); err != nil {
			log.Fatalf("Failed to save model: %v", err)
		}
		fmt.Printf("✓ Saved model to %s\n", *savePath)
	}
}

// loadData returns the first shuffled training batch and the first test batch
func loadData(cfg nn.Config, dir string, synthetic bool, trainRows, testRows int, rng *rand.Rand) (dataset.Split, dataset.Split, error) {
	var train, test dataset.Split
	var err error
	if synthetic {
		all, err := dataset.Synthetic(trainRows+testRows, cfg.Dims[0], cfg.NumClasses, rng)
		if err != nil {
			return train, test, err
		}
		idx := make([]int, all.Len())
		for i := range idx {
			idx[i] = i
		}
		return all.Subset(idx[:trainRows]), all.Subset(idx[trainRows:]), nil
	}

	if train, err = dataset.LoadMNIST(dir, true, 0); err != nil {
		return train, test, err
	}
	if test, err = dataset.LoadMNIST(dir, false, 0); err != nil {
		return train, test, err
	}
	first, _ := dataset.NewLoader(train, trainRows, true, rng).Next()
	firstTest, _ := dataset.NewLoader(test, testRows, false, nil).Next()
	return first, firstTest, nil
}

func printReport(net *nn.Network, r *nn.Report) {
	fmt.Printf("\nResults\n")
	fmt.Printf("-------\n")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Train rows\t%d (%d dropped)\n", r.TrainRows, r.DroppedRows)
	fmt.Fprintf(w, "Train error\t%.4f\n", r.TrainError)
	if r.TestRows > 0 {
		fmt.Fprintf(w, "Test error\t%.4f (%d rows)\n", r.TestError, r.TestRows)
	}
	fmt.Fprintf(w, "Train time\t%s\n", r.TrainTime)
	fmt.Fprintf(w, "Eval time\t%s\n", r.EvalTime)
	w.Flush()

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Layer\tLoss\tPos goodness\tNeg goodness\tSeparation\n")
	for i, loss := range r.LayerLoss {
		history := net.Layer(i).History()
		if len(history) == 0 {
			fmt.Fprintf(w, "%d\t%.6f\t-\t-\t-\n", i, loss)
			continue
		}
		last := history[len(history)-1]
		pos, neg := diag.Summarize(last.Pos), diag.Summarize(last.Neg)
		fmt.Fprintf(w, "%d\t%.6f\t%.3f ± %.3f\t%.3f ± %.3f\t%.3f\n",
			i, loss, pos.Mean, pos.StdDev, neg.Mean, neg.StdDev, diag.Separation(last))
	}
	w.Flush()
}
