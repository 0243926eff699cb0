// Command wsl-train trains one model over a prepared dataset and writes the
// run artifacts (snapshots, summaries, curves, final report) into a named
// run directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bbearce/wsl/config"
	"github.com/bbearce/wsl/nn"
	"github.com/bbearce/wsl/training"
)

func main() {
	var (
		debug      = flag.Bool("debug", false, "run a single short epoch over a truncated dataset")
		data       = flag.String("data", "", "dataset name (required)")
		column     = flag.String("column", "", "label column name (required)")
		extension  = flag.String("extension", "npy", "feature file extension")
		classes    = flag.Int("classes", 1, "number of output classes")
		network    = flag.String("network", "densenet", "backbone family")
		depth      = flag.Int("depth", 121, "backbone depth")
		wildcat    = flag.Bool("wildcat", false, "use the multi-instance pooling head")
		pretrained = flag.Bool("pretrained", true, "start from deterministic pretrained-style weights")
		optim      = flag.String("optim", "adam", "optimizer: sgd or adam")
		resume     = flag.Bool("resume", false, "continue an existing run from its best snapshot")
		name       = flag.String("name", "", "run name suffix to resume")
		lr         = flag.Float64("lr", 1e-5, "learning rate")
		batchsize  = flag.Int("batchsize", 64, "samples per batch")
		workers    = flag.Int("workers", 4, "loader worker goroutines")
		patience   = flag.Int("patience", 10, "epochs without improvement before stopping")
		balanced   = flag.Bool("balanced", false, "weight positive labels by class frequency")
		maps       = flag.Int("maps", 4, "wildcat map channels per class")
		alpha      = flag.Float64("alpha", 0.0, "wildcat min-pooling weight")
		k          = flag.Int("k", 1, "wildcat regions pooled from each end")
		regression = flag.Bool("regression", false, "train a regression target instead of labels")
		errorRange = flag.Int("error_range", 5, "regression accuracy tolerance")
		seed       = flag.Int64("seed", 0, "weight init seed for scratch runs, 0 keeps the default source")
		locations  = flag.String("locations", "", "optional YAML file overriding the share layout")
	)
	flag.Parse()

	loc, err := config.LoadLocations(*locations)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logger := config.NewLogger(loc.LogPath)

	if err := loc.Validate(); err != nil {
		logger.Error("preflight failed", "error", err)
		os.Exit(1)
	}

	if *resume && *name == "" {
		logger.Error("resume requires -name")
		os.Exit(1)
	}

	if *seed != 0 {
		nn.SetRandomSeed(*seed)
	}

	cfg := config.RunConfig{
		Debug:      *debug,
		Data:       *data,
		Col:        *column,
		Extension:  *extension,
		Classes:    *classes,
		Network:    *network,
		Depth:      *depth,
		Pretrained: *pretrained,
		Optim:      *optim,
		LR:         *lr,
		BatchSize:  *batchsize,
		Workers:    *workers,
		Patience:   *patience,
		Balanced:   *balanced,
	}
	if *wildcat {
		cfg.Wildcat = &config.WildcatConfig{Maps: *maps, Alpha: *alpha, K: *k}
	}
	if *regression {
		cfg.Regression = &config.RegressionConfig{ErrorRange: *errorRange}
	}

	registry, err := training.OpenRegistry(filepath.Join(loc.ModelDir, "runs.db"))
	if err != nil {
		logger.Warn("run registry unavailable", "error", err)
		registry = nil
	} else {
		defer registry.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := &training.Loop{
		Locations: loc,
		Config:    cfg,
		Resume:    *resume,
		Name:      *name,
		Logger:    logger,
		Registry:  registry,
	}

	result, err := loop.Run(ctx)
	if err != nil {
		logger.Error("training failed", "error", err)
		os.Exit(1)
	}

	logger.Info("run finished",
		"name", result.Name,
		"dir", result.Dir,
		"epochs", result.Epochs,
		"best_epoch", result.BestEpoch,
		"best_loss", result.BestLoss)
}
