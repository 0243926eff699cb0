package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear implements a fully connected layer: y = xW + b.
type Linear struct {
	weight   *Parameter
	bias     *Parameter
	input    *mat.Dense // cached for backward
	training bool
}

// NewLinear creates a new Linear layer with Xavier/Glorot uniform
// initialization: W ~ U(-sqrt(6/(fan_in+fan_out)), sqrt(6/(fan_in+fan_out))).
// The bias starts at zero. A nil rng uses the package source.
func NewLinear(name string, inputSize, outputSize int, rng *rand.Rand) (*Linear, error) {
	if inputSize < 1 || outputSize < 1 {
		return nil, fmt.Errorf("linear %s: invalid size %dx%d", name, inputSize, outputSize)
	}
	if rng == nil {
		rng = globalRng
	}

	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))
	weightData := make([]float64, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = (rng.Float64()*2.0 - 1.0) * bound
	}

	return &Linear{
		weight:   newParameter(name+".weight", inputSize, outputSize, weightData),
		bias:     newParameter(name+".bias", 1, outputSize, nil),
		training: true,
	}, nil
}

// Forward computes y = xW + b for a [batch, in] input.
func (l *Linear) Forward(input *mat.Dense) (*mat.Dense, error) {
	_, cols := input.Dims()
	wRows, wCols := l.weight.Value.Dims()
	if cols != wRows {
		return nil, fmt.Errorf("linear %s: input size mismatch: expected %d, got %d", l.weight.Name, wRows, cols)
	}

	l.input = input

	var out mat.Dense
	out.Mul(input, l.weight.Value)

	rows, _ := out.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < wCols; j++ {
			out.Set(i, j, out.At(i, j)+l.bias.Value.At(0, j))
		}
	}
	return &out, nil
}

// Backward accumulates dW = xᵀg and db = Σg, and returns dx = gWᵀ.
func (l *Linear) Backward(grad *mat.Dense) (*mat.Dense, error) {
	if l.input == nil {
		return nil, fmt.Errorf("linear %s: backward before forward", l.weight.Name)
	}

	var dW mat.Dense
	dW.Mul(l.input.T(), grad)
	l.weight.Grad.Add(l.weight.Grad, &dW)

	rows, cols := grad.Dims()
	for j := 0; j < cols; j++ {
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += grad.At(i, j)
		}
		l.bias.Grad.Set(0, j, l.bias.Grad.At(0, j)+sum)
	}

	var dx mat.Dense
	dx.Mul(grad, l.weight.Value.T())
	return &dx, nil
}

// Parameters returns the trainable parameters.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Train sets the module to training mode.
func (l *Linear) Train() { l.training = true }

// Eval sets the module to evaluation mode.
func (l *Linear) Eval() { l.training = false }

// IsTraining returns true if in training mode.
func (l *Linear) IsTraining() bool { return l.training }
