package nn

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ErrUnsupportedNetwork is returned for a backbone name not in the table.
var ErrUnsupportedNetwork = errors.New("unsupported network")

// hiddenWidth maps backbone family names to their hidden layer width.
var hiddenWidth = map[string]int{
	"mlp":      256,
	"resnet":   512,
	"densenet": 1024,
}

// ArchitectureSpec describes a backbone-plus-head network.
type ArchitectureSpec struct {
	Network    string
	Depth      int // number of hidden layers
	InputSize  int
	Classes    int
	Wildcat    bool
	Maps       int
	Alpha      float64
	K          int
	Pretrained bool
}

// Architecture is the assembled network: Depth hidden blocks of
// Linear+ReLU, then either a plain linear classifier or a wildcat map layer
// with multi-instance pooling.
type Architecture struct {
	spec   ArchitectureSpec
	layers []Module
}

// NewArchitecture builds the network. Pretrained runs initialize from a
// source seeded only by the architecture shape, so every pretrained run of
// the same shape starts from identical weights; scratch runs draw from the
// package source.
func NewArchitecture(spec ArchitectureSpec) (*Architecture, error) {
	width, ok := hiddenWidth[spec.Network]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, spec.Network)
	}
	if spec.InputSize < 1 {
		return nil, fmt.Errorf("architecture: input size must be >= 1, got %d", spec.InputSize)
	}
	if spec.Depth < 1 {
		return nil, fmt.Errorf("architecture: depth must be >= 1, got %d", spec.Depth)
	}
	if spec.Classes < 1 {
		return nil, fmt.Errorf("architecture: classes must be >= 1, got %d", spec.Classes)
	}

	rng := globalRng
	if spec.Pretrained {
		h := fnv.New64a()
		fmt.Fprintf(h, "%s/%d/%d", spec.Network, spec.Depth, spec.InputSize)
		rng = rand.New(rand.NewSource(int64(h.Sum64())))
	}

	var layers []Module
	in := spec.InputSize
	for d := 0; d < spec.Depth; d++ {
		lin, err := NewLinear(fmt.Sprintf("hidden%d", d), in, width, rng)
		if err != nil {
			return nil, err
		}
		layers = append(layers, lin, NewReLU())
		in = width
	}

	if spec.Wildcat {
		mapsLayer, err := NewLinear("maps", in, spec.Classes*spec.Maps, rng)
		if err != nil {
			return nil, err
		}
		pool, err := NewWildcatPool(spec.Classes, spec.Maps, spec.Alpha, spec.K)
		if err != nil {
			return nil, err
		}
		layers = append(layers, mapsLayer, pool)
	} else {
		head, err := NewLinear("classifier", in, spec.Classes, rng)
		if err != nil {
			return nil, err
		}
		layers = append(layers, head)
	}

	return &Architecture{spec: spec, layers: layers}, nil
}

// Spec returns the architecture description the network was built from.
func (a *Architecture) Spec() ArchitectureSpec { return a.spec }

// Forward runs the full network, producing [batch, classes] logits.
func (a *Architecture) Forward(input *mat.Dense) (*mat.Dense, error) {
	out := input
	for _, layer := range a.layers {
		var err error
		out, err = layer.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("forward: %w", err)
		}
	}
	return out, nil
}

// Backward propagates the logit gradient through every layer, accumulating
// parameter gradients along the way.
func (a *Architecture) Backward(grad *mat.Dense) (*mat.Dense, error) {
	g := grad
	for i := len(a.layers) - 1; i >= 0; i-- {
		var err error
		g, err = a.layers[i].Backward(g)
		if err != nil {
			return nil, fmt.Errorf("backward: %w", err)
		}
	}
	return g, nil
}

// Parameters returns every trainable parameter in layer order.
func (a *Architecture) Parameters() []*Parameter {
	var params []*Parameter
	for _, layer := range a.layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

// Train sets every layer to training mode.
func (a *Architecture) Train() {
	for _, layer := range a.layers {
		layer.Train()
	}
}

// Eval sets every layer to evaluation mode.
func (a *Architecture) Eval() {
	for _, layer := range a.layers {
		layer.Eval()
	}
}

// IsTraining returns true if in training mode.
func (a *Architecture) IsTraining() bool {
	if len(a.layers) == 0 {
		return false
	}
	return a.layers[0].IsTraining()
}
