// Package training drives a whole run: naming the run directory, building
// the loaders and checkpoint, iterating train/test passes with early
// stopping, and writing the run artifacts (snapshots, summary, graphs,
// final report).
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bbearce/wsl/checkpoints"
	"github.com/bbearce/wsl/config"
	"github.com/bbearce/wsl/engine"
	"github.com/bbearce/wsl/loaders"
	"github.com/bbearce/wsl/naming"
)

const (
	// MaxEpochs caps a run regardless of patience.
	MaxEpochs = 500

	// SummaryFile accumulates one block of pass summaries per epoch.
	SummaryFile = "summary.txt"
	// ConfigsFile is the final report written when the run ends.
	ConfigsFile = "configs.json"
)

// Loop holds everything one run needs. Zero-value optional fields get
// sensible defaults in Run.
type Loop struct {
	Locations config.Locations
	Config    config.RunConfig

	// Resume continues the run whose directory name ends in Name,
	// starting from its best snapshot.
	Resume bool
	Name   string

	Logger   *slog.Logger
	Client   *http.Client // word service client
	Now      func() time.Time
	Registry *Registry // optional run registry
}

// Result summarizes a finished run.
type Result struct {
	Dir       string
	Name      string
	Epochs    int
	BestEpoch int
	BestLoss  float64
	Rmetric   *float64 // test rmetric at the best epoch, nil if none improved
}

// Run executes the training loop until patience runs out, the epoch cap is
// hit, or (in debug mode) one epoch completes.
func (lp *Loop) Run(ctx context.Context) (*Result, error) {
	logger := lp.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := lp.Now
	if now == nil {
		now = time.Now
	}

	cfg := lp.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dir, token, err := lp.resolveRunDir(ctx, logger, now)
	if err != nil {
		return nil, err
	}
	logger.Info("model name", "name", token, "dir", dir)

	trainSet, err := loaders.NewLoader(lp.Locations, loaders.LoaderSpec{
		Data: cfg.Data, Split: "train", Extension: cfg.Extension,
		Classes: cfg.Classes, Col: cfg.Col,
		Regression: cfg.Regression != nil, Debug: cfg.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("train loader: %w", err)
	}
	testSet, err := loaders.NewLoader(lp.Locations, loaders.LoaderSpec{
		Data: cfg.Data, Split: "valid", Extension: cfg.Extension,
		Classes: cfg.Classes, Col: cfg.Col,
		Regression: cfg.Regression != nil, Debug: cfg.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("test loader: %w", err)
	}

	if cfg.Classes > 1 {
		logger.Info("class list", "classes", trainSet.ClassNames())
	}

	seed := now().UnixNano()
	trainLoader := loaders.NewDataLoader(trainSet, cfg.BatchSize, true, cfg.Workers, seed)
	testLoader := loaders.NewDataLoader(testSet, cfg.BatchSize, true, cfg.Workers, seed+1)

	var ckpt *checkpoints.Checkpoint
	if lp.Resume {
		ckpt, err = checkpoints.Load(filepath.Join(dir, checkpoints.BestSnapshot))
		if err != nil {
			return nil, fmt.Errorf("resume %s: %w", lp.Name, err)
		}
	} else {
		ckpt, err = checkpoints.New(cfg, checkpoints.Meta{
			InputSize: trainSet.InputSize(),
			PosWeight: trainSet.PosWeight(),
		})
		if err != nil {
			return nil, err
		}
	}

	bestEpoch := ckpt.Epoch
	bestLoss := ckpt.Loss

	passSpec := engine.PassSpec{
		Regression: cfg.Regression,
		LabelMin:   trainSet.LabelMin(),
		LabelMax:   trainSet.LabelMax(),
		Logger:     logger,
	}

	for ckpt.Epoch-bestEpoch <= cfg.Patience && ckpt.Epoch < MaxEpochs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		epochStart := now()
		ckpt.Epoch++

		logger.Info("training", "epoch", ckpt.Epoch)
		passSpec.Train = true
		trainPass, err := engine.Run(ckpt, trainLoader, passSpec)
		if err != nil {
			return nil, fmt.Errorf("epoch %d train: %w", ckpt.Epoch, err)
		}
		ckpt.Loss = trainPass.Loss
		ckpt.TrainLossAll = append(ckpt.TrainLossAll, trainPass.Loss)
		ckpt.TrainRmetricAll = append(ckpt.TrainRmetricAll, trainPass.Rmetric)

		logger.Info("testing", "epoch", ckpt.Epoch)
		passSpec.Train = false
		testPass, err := engine.Run(ckpt, testLoader, passSpec)
		if err != nil {
			return nil, fmt.Errorf("epoch %d test: %w", ckpt.Epoch, err)
		}
		ckpt.Loss = testPass.Loss
		ckpt.TestLossAll = append(ckpt.TestLossAll, testPass.Loss)
		ckpt.TestRmetricAll = append(ckpt.TestRmetricAll, testPass.Rmetric)

		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run dir: %w", err)
		}
		if err := ckpt.SaveCurrent(dir); err != nil {
			return nil, fmt.Errorf("epoch %d: %w", ckpt.Epoch, err)
		}

		if bestLoss > ckpt.Loss {
			bestLoss = ckpt.Loss
			bestEpoch = ckpt.Epoch
			if err := ckpt.SaveBest(dir); err != nil {
				return nil, fmt.Errorf("epoch %d: %w", ckpt.Epoch, err)
			}
			logger.Info("best model updated", "epoch", bestEpoch, "loss", bestLoss)
		} else {
			logger.Info("best model unchanged", "epoch", bestEpoch, "loss", bestLoss)
		}

		if err := appendSummary(dir, ckpt.Epoch, trainPass.Summary, testPass.Summary); err != nil {
			return nil, err
		}
		if err := WriteGraphs(filepath.Join(dir, GraphsFile),
			ckpt.TrainLossAll, ckpt.TestLossAll,
			ckpt.TrainRmetricAll, ckpt.TestRmetricAll); err != nil {
			return nil, err
		}

		logger.Info("epoch done", "epoch", ckpt.Epoch, "took", now().Sub(epochStart).Round(time.Second))

		if cfg.Debug {
			logger.Info("breaking early in debug mode", "dir", dir)
			break
		}
	}

	result := &Result{
		Dir:       dir,
		Name:      token,
		Epochs:    ckpt.Epoch,
		BestEpoch: bestEpoch,
		BestLoss:  bestLoss,
	}
	if bestEpoch > 0 && bestEpoch <= len(ckpt.TestRmetricAll) {
		v := ckpt.TestRmetricAll[bestEpoch-1]
		result.Rmetric = &v
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	if err := writeReport(filepath.Join(dir, ConfigsFile), cfg, result, now()); err != nil {
		return nil, err
	}

	if lp.Registry != nil {
		err := lp.Registry.Record(RunRecord{
			Name:       token,
			Dir:        dir,
			Data:       cfg.Data,
			Column:     cfg.Col,
			Network:    cfg.Network,
			Depth:      cfg.Depth,
			Optim:      cfg.Optim,
			BestEpoch:  bestEpoch,
			BestLoss:   bestLoss,
			Rmetric:    result.Rmetric,
			FinishedAt: now(),
		})
		if err != nil {
			logger.Warn("run registry insert failed", "error", err)
		}
	}

	return result, nil
}

// resolveRunDir picks the run directory: an existing one when resuming,
// otherwise a fresh name built from the hyperparameters and a token from
// the word service (or a timestamp when the service is unreachable).
func (lp *Loop) resolveRunDir(ctx context.Context, logger *slog.Logger, now func() time.Time) (dir, token string, err error) {
	if lp.Resume {
		dir, err = naming.ResolveResumeDir(lp.Locations.ModelDir, lp.Name)
		if err != nil {
			return "", "", err
		}
		return dir, lp.Name, nil
	}

	client := lp.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	token, err = naming.RandomWord(ctx, client, lp.Locations.WordServiceURL)
	if err != nil {
		token = naming.FallbackToken(now())
		logger.Warn("word service unavailable, using timestamp name", "error", err, "name", token)
	}

	dir = filepath.Join(lp.Locations.ModelDir, naming.RunDirName(lp.Config, token))
	return dir, token, nil
}

func appendSummary(dir string, epoch int, trainSummary, testSummary string) error {
	file, err := os.OpenFile(filepath.Join(dir, SummaryFile),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open summary: %w", err)
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "Epoch: %d \n Train:%s \n Test:%s",
		epoch, trainSummary, testSummary); err != nil {
		return fmt.Errorf("append summary: %w", err)
	}
	return nil
}

// runReport is the final configs.json payload. Pointer fields render as
// null when their feature is off.
type runReport struct {
	Name         string   `json:"name"`
	Time         string   `json:"time"`
	Data         string   `json:"data"`
	Column       string   `json:"column"`
	Extension    string   `json:"extension"`
	Classes      int      `json:"classes"`
	Network      string   `json:"network"`
	Depth        int      `json:"depth"`
	Wildcat      bool     `json:"wildcat"`
	Pretrained   bool     `json:"pretrained"`
	Optim        string   `json:"optim"`
	LearningRate float64  `json:"learning_rate"`
	Batchsize    int      `json:"batchsize"`
	Balanced     bool     `json:"balanced"`
	Maps         *int     `json:"maps"`
	Alpha        *float64 `json:"alpha"`
	K            *int     `json:"k"`
	Regression   bool     `json:"regression"`
	ErrorRange   *int     `json:"error_range"`
	BestEpoch    int      `json:"best_epoch"`
	BestLoss     float64  `json:"best_loss"`
	Rmetric      *float64 `json:"rmetric"`
}

func writeReport(path string, cfg config.RunConfig, result *Result, at time.Time) error {
	report := runReport{
		Name:         result.Name,
		Time:         naming.FallbackToken(at),
		Data:         cfg.Data,
		Column:       cfg.Col,
		Extension:    cfg.Extension,
		Classes:      cfg.Classes,
		Network:      cfg.Network,
		Depth:        cfg.Depth,
		Wildcat:      cfg.Wildcat != nil,
		Pretrained:   cfg.Pretrained,
		Optim:        cfg.Optim,
		LearningRate: cfg.LR,
		Batchsize:    cfg.BatchSize,
		Balanced:     cfg.Balanced,
		Regression:   cfg.Regression != nil,
		BestEpoch:    result.BestEpoch,
		BestLoss:     result.BestLoss,
		Rmetric:      result.Rmetric,
	}
	if cfg.Wildcat != nil {
		report.Maps = &cfg.Wildcat.Maps
		report.Alpha = &cfg.Wildcat.Alpha
		report.K = &cfg.Wildcat.K
	}
	if cfg.Regression != nil {
		report.ErrorRange = &cfg.Regression.ErrorRange
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
