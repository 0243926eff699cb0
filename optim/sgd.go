package optim

import (
	"fmt"

	"github.com/bbearce/wsl/nn"
)

// SGD implements stochastic gradient descent with momentum and weight decay:
//
//	grad     = grad + weightDecay * param
//	velocity = momentum * velocity + grad
//	param    = param - lr * velocity
type SGD struct {
	parameters   []*nn.Parameter
	learningRate float64
	momentum     float64
	weightDecay  float64
	velocities   [][]float64 // parallel to parameters, laid out row-major
}

// NewSGD creates a new SGD optimizer.
func NewSGD(parameters []*nn.Parameter, lr, momentum, weightDecay float64) *SGD {
	velocities := make([][]float64, len(parameters))
	for i, p := range parameters {
		rows, cols := p.Value.Dims()
		velocities[i] = make([]float64, rows*cols)
	}
	return &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		velocities:   velocities,
	}
}

// Step performs a single optimization step.
func (sgd *SGD) Step() error {
	for pi, p := range sgd.parameters {
		rows, cols := p.Value.Dims()
		vel := sgd.velocities[pi]
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				g := p.Grad.At(i, j)
				if sgd.weightDecay > 0 {
					g += sgd.weightDecay * p.Value.At(i, j)
				}
				idx := i*cols + j
				vel[idx] = sgd.momentum*vel[idx] + g
				p.Value.Set(i, j, p.Value.At(i, j)-sgd.learningRate*vel[idx])
			}
		}
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters.
func (sgd *SGD) ZeroGrad() {
	for _, p := range sgd.parameters {
		p.ZeroGrad()
	}
}

// LR returns the current learning rate.
func (sgd *SGD) LR() float64 { return sgd.learningRate }

// SetLR sets the learning rate.
func (sgd *SGD) SetLR(lr float64) { sgd.learningRate = lr }

// State exports the velocity buffers.
func (sgd *SGD) State() State {
	s := State{Type: "sgd", LR: sgd.learningRate}
	for i, p := range sgd.parameters {
		data := make([]float64, len(sgd.velocities[i]))
		copy(data, sgd.velocities[i])
		s.Buffers = append(s.Buffers, bufferFor("velocity", p, data))
	}
	return s
}

// LoadState restores velocity buffers saved by State.
func (sgd *SGD) LoadState(s State) error {
	if s.Type != "sgd" {
		return fmt.Errorf("sgd: cannot load %q state", s.Type)
	}
	byName := make(map[string]Buffer, len(s.Buffers))
	for _, b := range s.Buffers {
		byName[b.Name] = b
	}
	for i, p := range sgd.parameters {
		b, ok := byName["velocity."+p.Name]
		if !ok {
			continue // buffer never materialized before the save
		}
		if err := checkBuffer(b, p); err != nil {
			return fmt.Errorf("sgd: %w", err)
		}
		copy(sgd.velocities[i], b.Data)
	}
	sgd.learningRate = s.LR
	return nil
}
