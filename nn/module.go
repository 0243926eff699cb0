// Package nn assembles the backbone-plus-head networks the trainer runs. It
// is a deliberately small layer zoo: dense layers, ReLU, and the wildcat
// multi-instance pooling head, all with explicit backward passes over gonum
// matrices.
package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Global random source for deterministic weight initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Parameter is a trainable tensor with its accumulated gradient. Value and
// Grad always share a shape.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Module interface defines methods that all network layers must implement.
// Forward caches whatever Backward needs; Backward consumes the upstream
// gradient and returns the gradient with respect to the layer input.
type Module interface {
	Forward(input *mat.Dense) (*mat.Dense, error)
	Backward(grad *mat.Dense) (*mat.Dense, error)
	Parameters() []*Parameter
	Train()
	Eval()
	IsTraining() bool
}

func newParameter(name string, rows, cols int, data []float64) *Parameter {
	return &Parameter{
		Name:  name,
		Value: mat.NewDense(rows, cols, data),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}
