// Package engine runs a single pass of a model over a dataset: forward,
// loss, and (for training passes) backward and optimizer step, then the
// pass-level metrics and their one-line summary.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/bbearce/wsl/checkpoints"
	"github.com/bbearce/wsl/config"
	"github.com/bbearce/wsl/loaders"
)

// PassSpec describes one pass over a loader.
type PassSpec struct {
	Train      bool
	Regression *config.RegressionConfig
	LabelMin   float64 // regression denormalization offset
	LabelMax   float64 // regression denormalization scale
	Logger     *slog.Logger
}

// Pass is the outcome of one full iteration over a loader.
type Pass struct {
	Loss     float64
	Rmetric  float64 // macro ROC AUC, or R² when regressing
	Summary  string
	Duration time.Duration
}

// Run drives the checkpoint's model over every batch the loader yields.
// Training passes update the model in place; evaluation passes leave it
// untouched. The returned summary matches the run log format.
func Run(ckpt *checkpoints.Checkpoint, loader *loaders.DataLoader, spec PassSpec) (*Pass, error) {
	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if spec.Train {
		ckpt.Model.Train()
	} else {
		ckpt.Model.Eval()
	}

	it := loader.Epoch()
	defer it.Close()

	start := time.Now()
	var batchLosses []float64
	var scores, labels [][]float64
	seen := 0

	for batchNum := 0; ; batchNum++ {
		batch, err := it.Next()
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", batchNum, err)
		}
		if batch == nil {
			break
		}

		predicted, err := ckpt.Model.Forward(batch.Data)
		if err != nil {
			return nil, fmt.Errorf("forward batch %d: %w", batchNum, err)
		}
		loss, err := ckpt.Criterion.Forward(predicted, batch.Labels)
		if err != nil {
			return nil, fmt.Errorf("loss batch %d: %w", batchNum, err)
		}

		if spec.Train {
			grad, err := ckpt.Criterion.Backward(predicted, batch.Labels)
			if err != nil {
				return nil, fmt.Errorf("loss gradient batch %d: %w", batchNum, err)
			}
			if _, err := ckpt.Model.Backward(grad); err != nil {
				return nil, fmt.Errorf("backward batch %d: %w", batchNum, err)
			}
			if err := ckpt.Optimizer.Step(); err != nil {
				return nil, fmt.Errorf("optimizer step batch %d: %w", batchNum, err)
			}
			ckpt.Optimizer.ZeroGrad()
		}

		batchLosses = append(batchLosses, loss)

		rows, cols := predicted.Dims()
		for i := 0; i < rows; i++ {
			scoreRow := make([]float64, cols)
			labelRow := make([]float64, cols)
			for j := 0; j < cols; j++ {
				scoreRow[j] = predicted.At(i, j)
				labelRow[j] = batch.Labels.At(i, j)
			}
			scores = append(scores, scoreRow)
			labels = append(labels, labelRow)
		}
		seen += rows

		elapsed := time.Since(start).Seconds()
		if elapsed > 0 {
			logger.Debug("pass progress",
				"epoch", ckpt.Epoch,
				"batch", batchNum,
				"running_loss", round3(stat.Mean(batchLosses, nil)),
				"speed", int(float64(seen)/elapsed))
		}
	}

	if len(batchLosses) == 0 {
		return nil, fmt.Errorf("loader yielded no batches")
	}

	pass := &Pass{
		Loss:     stat.Mean(batchLosses, nil),
		Duration: time.Since(start),
	}

	if spec.Regression == nil {
		pass.Rmetric = MacroAUCROC(scores, labels)
		sens, specificity := ConfusionRates(scores, labels)
		pass.Summary = fmt.Sprintf("Epoch Summary- Loss:%.3f  ROC:%.1f Sensitivity:%.1f  Specificity: %.1f",
			pass.Loss, pass.Rmetric*100, sens*100, specificity*100)
	} else {
		// Labels were normalized at load time; undo that before scoring.
		preds := make([]float64, len(scores))
		vals := make([]float64, len(labels))
		for i := range scores {
			preds[i] = scores[i][0]*spec.LabelMax + spec.LabelMin
			vals[i] = labels[i][0]*spec.LabelMax + spec.LabelMin
		}
		pass.Rmetric = RSquared(preds, vals)
		errRange := spec.Regression.ErrorRange
		a1 := ToleranceAccuracy(preds, vals, float64(errRange))
		a2 := ToleranceAccuracy(preds, vals, float64(errRange*2))
		pass.Summary = fmt.Sprintf("Epoch Summary- Loss:%.3f  R2:%.1f Accuracy at %d:%.1f Accuracy at %d:%.1f",
			pass.Loss, pass.Rmetric, errRange, a1*100, errRange*2, a2*100)
	}

	return pass, nil
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}
