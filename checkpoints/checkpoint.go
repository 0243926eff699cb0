// Package checkpoints owns the mutable state of a training run (model,
// optimizer, criterion, epoch bookkeeping) and its two on-disk snapshots:
// "current" is written every epoch, "best" only on improving epochs.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/bbearce/wsl/config"
	"github.com/bbearce/wsl/nn"
	"github.com/bbearce/wsl/optim"
)

const (
	// CurrentSnapshot is overwritten after every epoch and is the recovery
	// point after an interrupted run.
	CurrentSnapshot = "current.pt"
	// BestSnapshot is overwritten only when evaluation loss improves.
	BestSnapshot = "best.pt"

	// SentinelLoss is the initial loss, guaranteed worse than any real one.
	SentinelLoss = 100.0
)

// Criterion kinds persisted in a snapshot.
const (
	CriterionMSE         = "mse"
	CriterionBCE         = "bce"
	CriterionWeightedBCE = "weighted_bce"
)

// Checkpoint is the complete mutable training state for one run.
type Checkpoint struct {
	Model     *nn.Architecture
	Optimizer optim.Optimizer
	Criterion nn.Loss

	Epoch int
	Loss  float64 // most recent pass loss

	TrainLossAll    []float64
	TestLossAll     []float64
	TrainRmetricAll []float64
	TestRmetricAll  []float64

	cfg       config.RunConfig
	inputSize int
}

// Meta carries the dataset-derived values checkpoint creation needs.
type Meta struct {
	InputSize int
	PosWeight []float64 // per-class positive weights, balanced mode only
}

// Float is a float64 whose JSON form keeps non-finite values. A diverged
// run carries Inf and NaN in its losses, weights, and optimizer buffers,
// and its snapshots must still round-trip.
type Float float64

// MarshalJSON encodes non-finite values as the strings "Inf", "-Inf",
// and "NaN".
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON accepts either a JSON number or one of the non-finite
// string forms.
func (f *Float) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch s {
		case "NaN":
			*f = Float(math.NaN())
		case "Inf", "+Inf":
			*f = Float(math.Inf(1))
		case "-Inf":
			*f = Float(math.Inf(-1))
		default:
			return fmt.Errorf("invalid float value %q", s)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Floats is a float64 slice serialized element-wise as Float.
type Floats []float64

func (fs Floats) MarshalJSON() ([]byte, error) {
	vals := make([]Float, len(fs))
	for i, v := range fs {
		vals[i] = Float(v)
	}
	return json.Marshal(vals)
}

func (fs *Floats) UnmarshalJSON(data []byte) error {
	var vals []Float
	if err := json.Unmarshal(data, &vals); err != nil {
		return err
	}
	out := make(Floats, len(vals))
	for i, v := range vals {
		out[i] = float64(v)
	}
	*fs = out
	return nil
}

// WeightTensor is one serialized parameter.
type WeightTensor struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
	Data Floats `json:"data"`
}

// CriterionSpec records which loss a snapshot was trained with.
type CriterionSpec struct {
	Type      string    `json:"type"`
	PosWeight []float64 `json:"pos_weight,omitempty"`
}

// snapshot is the JSON form of a Checkpoint.
type snapshot struct {
	RunConfig config.RunConfig `json:"run_config"`
	InputSize int              `json:"input_size"`

	Epoch int   `json:"epoch"`
	Loss  Float `json:"loss"`

	TrainLossAll    Floats `json:"train_loss_all"`
	TestLossAll     Floats `json:"test_loss_all"`
	TrainRmetricAll Floats `json:"train_rmetric_all"`
	TestRmetricAll  Floats `json:"test_rmetric_all"`

	Weights        []WeightTensor `json:"weights"`
	OptimizerState optimizerState `json:"optimizer_state"`
	Criterion      CriterionSpec  `json:"criterion"`

	SavedAt time.Time `json:"saved_at,omitempty"`
}

// optimizerState mirrors optim.State with Float-encoded buffer data.
type optimizerState struct {
	Type    string            `json:"type"`
	LR      float64           `json:"lr"`
	Step    int               `json:"step,omitempty"`
	Buffers []optimizerBuffer `json:"buffers,omitempty"`
}

type optimizerBuffer struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
	Data Floats `json:"data"`
}

func encodeOptimizerState(s optim.State) optimizerState {
	out := optimizerState{Type: s.Type, LR: s.LR, Step: s.Step}
	for _, b := range s.Buffers {
		out.Buffers = append(out.Buffers, optimizerBuffer{
			Name: b.Name, Rows: b.Rows, Cols: b.Cols, Data: Floats(b.Data),
		})
	}
	return out
}

func (s optimizerState) state() optim.State {
	out := optim.State{Type: s.Type, LR: s.LR, Step: s.Step}
	for _, b := range s.Buffers {
		out.Buffers = append(out.Buffers, optim.Buffer{
			Name: b.Name, Rows: b.Rows, Cols: b.Cols, Data: []float64(b.Data),
		})
	}
	return out
}

// New creates a fresh checkpoint for a run: criterion per the run's mode,
// model via the architecture table, optimizer per the configured kind.
// Unknown optimizer names fail here, before any epoch runs.
func New(cfg config.RunConfig, meta Meta) (*Checkpoint, error) {
	criterion, err := buildCriterion(cfg, meta.PosWeight)
	if err != nil {
		return nil, err
	}

	model, err := buildModel(cfg, meta.InputSize)
	if err != nil {
		return nil, err
	}

	optimizer, err := buildOptimizer(cfg, model.Parameters())
	if err != nil {
		return nil, err
	}

	return &Checkpoint{
		Model:     model,
		Optimizer: optimizer,
		Criterion: criterion,
		Epoch:     0,
		Loss:      SentinelLoss,
		cfg:       cfg,
		inputSize: meta.InputSize,
	}, nil
}

func buildCriterion(cfg config.RunConfig, posWeight []float64) (nn.Loss, error) {
	switch {
	case cfg.Regression != nil:
		return nn.NewMSELoss(), nil
	case cfg.Balanced:
		criterion, err := nn.NewWeightedBCEWithLogitsLoss(posWeight)
		if err != nil {
			return nil, fmt.Errorf("balanced criterion: %w", err)
		}
		return criterion, nil
	default:
		return nn.NewBCEWithLogitsLoss(), nil
	}
}

func buildModel(cfg config.RunConfig, inputSize int) (*nn.Architecture, error) {
	spec := nn.ArchitectureSpec{
		Network:    cfg.Network,
		Depth:      cfg.Depth,
		InputSize:  inputSize,
		Classes:    cfg.Classes,
		Pretrained: cfg.Pretrained,
	}
	if cfg.Wildcat != nil {
		spec.Wildcat = true
		spec.Maps = cfg.Wildcat.Maps
		spec.Alpha = cfg.Wildcat.Alpha
		spec.K = cfg.Wildcat.K
	}
	model, err := nn.NewArchitecture(spec)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	return model, nil
}

func buildOptimizer(cfg config.RunConfig, params []*nn.Parameter) (optim.Optimizer, error) {
	switch cfg.Optim {
	case "sgd":
		return optim.NewSGD(params, cfg.LR, 0.1, 1e-4), nil
	case "adam":
		return optim.NewAdam(params, cfg.LR, 0.9, 0.999), nil
	default:
		return nil, fmt.Errorf("%w: %q", optim.ErrUnsupportedOptimizer, cfg.Optim)
	}
}

// RunConfig returns the hyperparameters this checkpoint was built from.
func (c *Checkpoint) RunConfig() config.RunConfig { return c.cfg }

// SaveCurrent writes the "current" snapshot, overwriting the previous one.
func (c *Checkpoint) SaveCurrent(dir string) error {
	return c.save(filepath.Join(dir, CurrentSnapshot))
}

// SaveBest writes the "best" snapshot. Callers only do so on strict loss
// improvement.
func (c *Checkpoint) SaveBest(dir string) error {
	return c.save(filepath.Join(dir, BestSnapshot))
}

func (c *Checkpoint) save(path string) error {
	snap := snapshot{
		RunConfig:       c.cfg,
		InputSize:       c.inputSize,
		Epoch:           c.Epoch,
		Loss:            Float(c.Loss),
		TrainLossAll:    Floats(c.TrainLossAll),
		TestLossAll:     Floats(c.TestLossAll),
		TrainRmetricAll: Floats(c.TrainRmetricAll),
		TestRmetricAll:  Floats(c.TestRmetricAll),
		Weights:         extractWeights(c.Model),
		OptimizerState:  encodeOptimizerState(c.Optimizer.State()),
		Criterion:       criterionSpec(c.Criterion),
		SavedAt:         time.Now(),
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snap); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return nil
}

// Load deserializes a snapshot, rebuilding the model, criterion, and
// optimizer from the stored run configuration and restoring every field
// verbatim.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint file: %w", err)
	}
	defer file.Close()

	var snap snapshot
	if err := json.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}

	ckpt, err := New(snap.RunConfig, Meta{
		InputSize: snap.InputSize,
		PosWeight: snap.Criterion.PosWeight,
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild checkpoint: %w", err)
	}

	if err := loadWeights(ckpt.Model, snap.Weights); err != nil {
		return nil, err
	}
	if err := ckpt.Optimizer.LoadState(snap.OptimizerState.state()); err != nil {
		return nil, fmt.Errorf("restore optimizer: %w", err)
	}

	ckpt.Epoch = snap.Epoch
	ckpt.Loss = float64(snap.Loss)
	ckpt.TrainLossAll = []float64(snap.TrainLossAll)
	ckpt.TestLossAll = []float64(snap.TestLossAll)
	ckpt.TrainRmetricAll = []float64(snap.TrainRmetricAll)
	ckpt.TestRmetricAll = []float64(snap.TestRmetricAll)
	return ckpt, nil
}

func criterionSpec(criterion nn.Loss) CriterionSpec {
	switch c := criterion.(type) {
	case *nn.MSELoss:
		return CriterionSpec{Type: CriterionMSE}
	case *nn.BCEWithLogitsLoss:
		if pw := c.PosWeight(); pw != nil {
			return CriterionSpec{Type: CriterionWeightedBCE, PosWeight: pw}
		}
		return CriterionSpec{Type: CriterionBCE}
	default:
		return CriterionSpec{Type: fmt.Sprintf("unknown(%T)", criterion)}
	}
}

// extractWeights copies every model parameter into its serialized form.
func extractWeights(model *nn.Architecture) []WeightTensor {
	var weights []WeightTensor
	for _, p := range model.Parameters() {
		rows, cols := p.Value.Dims()
		data := make([]float64, 0, rows*cols)
		for i := 0; i < rows; i++ {
			data = append(data, p.Value.RawRowView(i)...)
		}
		weights = append(weights, WeightTensor{Name: p.Name, Rows: rows, Cols: cols, Data: Floats(data)})
	}
	return weights
}

// loadWeights copies serialized weights back into the model parameters,
// matching by name and checking shapes.
func loadWeights(model *nn.Architecture, weights []WeightTensor) error {
	byName := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}

	for _, p := range model.Parameters() {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing weights for %s", p.Name)
		}
		rows, cols := p.Value.Dims()
		if w.Rows != rows || w.Cols != cols || len(w.Data) != rows*cols {
			return fmt.Errorf("weight %s shape mismatch: snapshot %dx%d (%d values), model %dx%d",
				w.Name, w.Rows, w.Cols, len(w.Data), rows, cols)
		}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				p.Value.Set(i, j, w.Data[i*cols+j])
			}
		}
	}
	return nil
}
