package nn

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// WildcatPool pools per-class map scores into one score per class:
//
//	score = mean(top k maps) + alpha * mean(bottom k maps)
//
// The positive term rewards the strongest evidence regions, the alpha term
// lets strong negative evidence veto a class. Gradients route only to the
// maps selected on the forward pass, max-pool style.
type WildcatPool struct {
	classes  int
	maps     int
	alpha    float64
	k        int
	topIdx   [][]int // [row*classes+class] selected top map offsets
	botIdx   [][]int
	training bool
}

// NewWildcatPool creates the pooling head. k must not exceed maps.
func NewWildcatPool(classes, maps int, alpha float64, k int) (*WildcatPool, error) {
	if classes < 1 || maps < 1 {
		return nil, fmt.Errorf("wildcat: invalid classes=%d maps=%d", classes, maps)
	}
	if k < 1 || k > maps {
		return nil, fmt.Errorf("wildcat: k=%d out of range for maps=%d", k, maps)
	}
	return &WildcatPool{
		classes:  classes,
		maps:     maps,
		alpha:    alpha,
		k:        k,
		training: true,
	}, nil
}

// Forward pools a [batch, classes*maps] input into [batch, classes].
func (w *WildcatPool) Forward(input *mat.Dense) (*mat.Dense, error) {
	rows, cols := input.Dims()
	if cols != w.classes*w.maps {
		return nil, fmt.Errorf("wildcat: expected %d map scores, got %d", w.classes*w.maps, cols)
	}

	out := mat.NewDense(rows, w.classes, nil)
	w.topIdx = make([][]int, rows*w.classes)
	w.botIdx = make([][]int, rows*w.classes)

	order := make([]int, w.maps)
	for i := 0; i < rows; i++ {
		for c := 0; c < w.classes; c++ {
			base := c * w.maps
			for m := range order {
				order[m] = m
			}
			sort.Slice(order, func(a, b int) bool {
				return input.At(i, base+order[a]) > input.At(i, base+order[b])
			})

			top := make([]int, w.k)
			bot := make([]int, w.k)
			topSum, botSum := 0.0, 0.0
			for n := 0; n < w.k; n++ {
				top[n] = base + order[n]
				bot[n] = base + order[w.maps-1-n]
				topSum += input.At(i, top[n])
				botSum += input.At(i, bot[n])
			}

			w.topIdx[i*w.classes+c] = top
			w.botIdx[i*w.classes+c] = bot
			out.Set(i, c, topSum/float64(w.k)+w.alpha*botSum/float64(w.k))
		}
	}
	return out, nil
}

// Backward scatters the class gradients back onto the selected maps.
func (w *WildcatPool) Backward(grad *mat.Dense) (*mat.Dense, error) {
	if w.topIdx == nil {
		return nil, fmt.Errorf("wildcat: backward before forward")
	}
	rows, cols := grad.Dims()
	if cols != w.classes {
		return nil, fmt.Errorf("wildcat: expected %d class gradients, got %d", w.classes, cols)
	}

	dx := mat.NewDense(rows, w.classes*w.maps, nil)
	for i := 0; i < rows; i++ {
		for c := 0; c < w.classes; c++ {
			g := grad.At(i, c)
			for _, idx := range w.topIdx[i*w.classes+c] {
				dx.Set(i, idx, dx.At(i, idx)+g/float64(w.k))
			}
			for _, idx := range w.botIdx[i*w.classes+c] {
				dx.Set(i, idx, dx.At(i, idx)+w.alpha*g/float64(w.k))
			}
		}
	}
	return dx, nil
}

// Parameters returns no parameters; pooling is parameter-free.
func (w *WildcatPool) Parameters() []*Parameter { return nil }

// Train sets the module to training mode.
func (w *WildcatPool) Train() { w.training = true }

// Eval sets the module to evaluation mode.
func (w *WildcatPool) Eval() { w.training = false }

// IsTraining returns true if in training mode.
func (w *WildcatPool) IsTraining() bool { return w.training }
