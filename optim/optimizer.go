// Package optim implements the optimizers the trainer supports: SGD with
// momentum and weight decay, and Adam. Both expose their moment buffers so a
// checkpoint can restore them wholesale.
package optim

import (
	"errors"
	"fmt"

	"github.com/bbearce/wsl/nn"
)

// ErrUnsupportedOptimizer is returned for optimizer names outside the
// supported set. It is fatal at run construction, before any epoch runs.
var ErrUnsupportedOptimizer = errors.New("unsupported optimizer")

// Optimizer interface defines the methods that all optimizers must implement.
type Optimizer interface {
	Step() error // Updates model parameters based on gradients
	ZeroGrad()   // Resets gradients to zero for all parameters
	LR() float64 // Current learning rate
	SetLR(lr float64)

	// State exports the optimizer buffers for checkpointing; LoadState
	// restores them. Shapes must match the parameters the optimizer holds.
	State() State
	LoadState(State) error
}

// State is the serializable form of an optimizer's internal buffers.
type State struct {
	Type    string   `json:"type"` // "sgd" or "adam"
	LR      float64  `json:"lr"`
	Step    int      `json:"step,omitempty"` // Adam timestep
	Buffers []Buffer `json:"buffers,omitempty"`
}

// Buffer is one moment/velocity tensor keyed by parameter name.
type Buffer struct {
	Name string    `json:"name"` // "<kind>.<param>"
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

func bufferFor(kind string, p *nn.Parameter, data []float64) Buffer {
	rows, cols := p.Value.Dims()
	return Buffer{Name: kind + "." + p.Name, Rows: rows, Cols: cols, Data: data}
}

func checkBuffer(b Buffer, p *nn.Parameter) error {
	rows, cols := p.Value.Dims()
	if b.Rows != rows || b.Cols != cols || len(b.Data) != rows*cols {
		return fmt.Errorf("buffer %s shape mismatch: have %dx%d (%d values), parameter is %dx%d",
			b.Name, b.Rows, b.Cols, len(b.Data), rows, cols)
	}
	return nil
}
