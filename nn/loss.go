package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Loss interface defines methods that all loss functions must implement.
// Forward returns the scalar batch loss; Backward returns the gradient with
// respect to the predictions.
type Loss interface {
	Forward(predicted, target *mat.Dense) (float64, error)
	Backward(predicted, target *mat.Dense) (*mat.Dense, error)
}

func checkShapes(predicted, target *mat.Dense) (rows, cols int, err error) {
	pr, pc := predicted.Dims()
	tr, tc := target.Dims()
	if pr != tr || pc != tc {
		return 0, 0, fmt.Errorf("shape mismatch: predicted %dx%d, target %dx%d", pr, pc, tr, tc)
	}
	return pr, pc, nil
}

// MSELoss implements mean squared error: L = (1/N) * Σ (pred - target)².
type MSELoss struct{}

// NewMSELoss creates a new mean squared error loss.
func NewMSELoss() *MSELoss { return &MSELoss{} }

// Forward computes the mean squared error over all elements.
func (mse *MSELoss) Forward(predicted, target *mat.Dense) (float64, error) {
	rows, cols, err := checkShapes(predicted, target)
	if err != nil {
		return 0, fmt.Errorf("mse: %w", err)
	}

	sum := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			d := predicted.At(i, j) - target.At(i, j)
			sum += d * d
		}
	}
	return sum / float64(rows*cols), nil
}

// Backward computes dL/dpred = 2 (pred - target) / N.
func (mse *MSELoss) Backward(predicted, target *mat.Dense) (*mat.Dense, error) {
	rows, cols, err := checkShapes(predicted, target)
	if err != nil {
		return nil, fmt.Errorf("mse backward: %w", err)
	}

	n := float64(rows * cols)
	grad := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			grad.Set(i, j, 2.0*(predicted.At(i, j)-target.At(i, j))/n)
		}
	}
	return grad, nil
}

// BCEWithLogitsLoss implements binary cross-entropy on raw logits, with an
// optional per-class positive weight for imbalanced labels:
//
//	L = (1/N) * Σ [ pw·y·log(1+e^-z) + (1-y)·log(1+e^z) ]
//
// Computed via softplus for numerical stability at large |z|.
type BCEWithLogitsLoss struct {
	posWeight []float64 // nil means unweighted
}

// NewBCEWithLogitsLoss creates an unweighted binary cross-entropy loss.
func NewBCEWithLogitsLoss() *BCEWithLogitsLoss {
	return &BCEWithLogitsLoss{}
}

// NewWeightedBCEWithLogitsLoss creates a binary cross-entropy loss whose
// positive term is scaled per class.
func NewWeightedBCEWithLogitsLoss(posWeight []float64) (*BCEWithLogitsLoss, error) {
	if len(posWeight) == 0 {
		return nil, fmt.Errorf("bce: positive weights are empty")
	}
	w := make([]float64, len(posWeight))
	copy(w, posWeight)
	return &BCEWithLogitsLoss{posWeight: w}, nil
}

// PosWeight returns the per-class positive weights, or nil when unweighted.
func (bce *BCEWithLogitsLoss) PosWeight() []float64 { return bce.posWeight }

func (bce *BCEWithLogitsLoss) weight(class int) float64 {
	if bce.posWeight == nil {
		return 1.0
	}
	return bce.posWeight[class]
}

// softplus computes log(1+e^x) without overflowing for large x.
func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

// Forward computes the mean weighted binary cross-entropy over all elements.
func (bce *BCEWithLogitsLoss) Forward(predicted, target *mat.Dense) (float64, error) {
	rows, cols, err := checkShapes(predicted, target)
	if err != nil {
		return 0, fmt.Errorf("bce: %w", err)
	}
	if bce.posWeight != nil && len(bce.posWeight) != cols {
		return 0, fmt.Errorf("bce: %d positive weights for %d classes", len(bce.posWeight), cols)
	}

	sum := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			z := predicted.At(i, j)
			y := target.At(i, j)
			sum += bce.weight(j)*y*softplus(-z) + (1.0-y)*softplus(z)
		}
	}
	return sum / float64(rows*cols), nil
}

// Backward computes dL/dz = (pw·y·(σ(z)-1) + (1-y)·σ(z)) / N.
func (bce *BCEWithLogitsLoss) Backward(predicted, target *mat.Dense) (*mat.Dense, error) {
	rows, cols, err := checkShapes(predicted, target)
	if err != nil {
		return nil, fmt.Errorf("bce backward: %w", err)
	}
	if bce.posWeight != nil && len(bce.posWeight) != cols {
		return nil, fmt.Errorf("bce backward: %d positive weights for %d classes", len(bce.posWeight), cols)
	}

	n := float64(rows * cols)
	grad := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			s := Sigmoid(predicted.At(i, j))
			y := target.At(i, j)
			grad.Set(i, j, (bce.weight(j)*y*(s-1.0)+(1.0-y)*s)/n)
		}
	}
	return grad, nil
}
