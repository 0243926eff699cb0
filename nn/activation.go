package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ReLU implements the rectified linear activation.
type ReLU struct {
	mask     *mat.Dense // 1 where the input was positive
	training bool
}

// NewReLU creates a new ReLU activation module.
func NewReLU() *ReLU {
	return &ReLU{training: true}
}

// Forward zeroes negative entries and remembers which ones passed.
func (r *ReLU) Forward(input *mat.Dense) (*mat.Dense, error) {
	rows, cols := input.Dims()
	out := mat.NewDense(rows, cols, nil)
	mask := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := input.At(i, j); v > 0 {
				out.Set(i, j, v)
				mask.Set(i, j, 1)
			}
		}
	}
	r.mask = mask
	return out, nil
}

// Backward gates the upstream gradient by the forward mask.
func (r *ReLU) Backward(grad *mat.Dense) (*mat.Dense, error) {
	if r.mask == nil {
		return nil, fmt.Errorf("relu: backward before forward")
	}
	var dx mat.Dense
	dx.MulElem(grad, r.mask)
	return &dx, nil
}

// Parameters returns no parameters; ReLU has none.
func (r *ReLU) Parameters() []*Parameter { return nil }

// Train sets the module to training mode.
func (r *ReLU) Train() { r.training = true }

// Eval sets the module to evaluation mode.
func (r *ReLU) Eval() { r.training = false }

// IsTraining returns true if in training mode.
func (r *ReLU) IsTraining() bool { return r.training }

// Sigmoid maps a logit to (0, 1). Shared by the losses and the engine's
// thresholded metrics.
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
