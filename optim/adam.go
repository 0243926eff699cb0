package optim

import (
	"fmt"
	"math"

	"github.com/bbearce/wsl/nn"
)

// Adam implements the Adam optimizer (Kingma & Ba, 2014):
//
//	m = beta1*m + (1-beta1)*grad
//	v = beta2*v + (1-beta2)*grad²
//	param -= lr * (m / (1-beta1^t)) / (sqrt(v / (1-beta2^t)) + eps)
type Adam struct {
	parameters   []*nn.Parameter
	learningRate float64
	beta1        float64
	beta2        float64
	eps          float64
	t            int // timestep for bias correction
	m            [][]float64
	v            [][]float64
}

// NewAdam creates a new Adam optimizer.
func NewAdam(parameters []*nn.Parameter, lr, beta1, beta2 float64) *Adam {
	m := make([][]float64, len(parameters))
	v := make([][]float64, len(parameters))
	for i, p := range parameters {
		rows, cols := p.Value.Dims()
		m[i] = make([]float64, rows*cols)
		v[i] = make([]float64, rows*cols)
	}
	return &Adam{
		parameters:   parameters,
		learningRate: lr,
		beta1:        beta1,
		beta2:        beta2,
		eps:          1e-8,
		m:            m,
		v:            v,
	}
}

// Step performs a single optimization step.
func (a *Adam) Step() error {
	a.t++
	bc1 := 1.0 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1.0 - math.Pow(a.beta2, float64(a.t))

	for pi, p := range a.parameters {
		rows, cols := p.Value.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				idx := i*cols + j
				g := p.Grad.At(i, j)
				a.m[pi][idx] = a.beta1*a.m[pi][idx] + (1.0-a.beta1)*g
				a.v[pi][idx] = a.beta2*a.v[pi][idx] + (1.0-a.beta2)*g*g
				mHat := a.m[pi][idx] / bc1
				vHat := a.v[pi][idx] / bc2
				p.Value.Set(i, j, p.Value.At(i, j)-a.learningRate*mHat/(math.Sqrt(vHat)+a.eps))
			}
		}
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters.
func (a *Adam) ZeroGrad() {
	for _, p := range a.parameters {
		p.ZeroGrad()
	}
}

// LR returns the current learning rate.
func (a *Adam) LR() float64 { return a.learningRate }

// SetLR sets the learning rate.
func (a *Adam) SetLR(lr float64) { a.learningRate = lr }

// State exports both moment buffers and the timestep.
func (a *Adam) State() State {
	s := State{Type: "adam", LR: a.learningRate, Step: a.t}
	for i, p := range a.parameters {
		mData := make([]float64, len(a.m[i]))
		copy(mData, a.m[i])
		vData := make([]float64, len(a.v[i]))
		copy(vData, a.v[i])
		s.Buffers = append(s.Buffers, bufferFor("m", p, mData), bufferFor("v", p, vData))
	}
	return s
}

// LoadState restores the moment buffers and timestep saved by State.
func (a *Adam) LoadState(s State) error {
	if s.Type != "adam" {
		return fmt.Errorf("adam: cannot load %q state", s.Type)
	}
	byName := make(map[string]Buffer, len(s.Buffers))
	for _, b := range s.Buffers {
		byName[b.Name] = b
	}
	for i, p := range a.parameters {
		if b, ok := byName["m."+p.Name]; ok {
			if err := checkBuffer(b, p); err != nil {
				return fmt.Errorf("adam: %w", err)
			}
			copy(a.m[i], b.Data)
		}
		if b, ok := byName["v."+p.Name]; ok {
			if err := checkBuffer(b, p); err != nil {
				return fmt.Errorf("adam: %w", err)
			}
			copy(a.v[i], b.Data)
		}
	}
	a.t = s.Step
	a.learningRate = s.LR
	return nil
}
