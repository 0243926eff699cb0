package engine

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/bbearce/wsl/nn"
)

// MacroAUCROC computes the area under the ROC curve for each class and
// averages over the classes that have both positive and negative labels.
// Scores are raw logits; AUC is rank based, so no activation is needed.
// Returns 0 when no class is scoreable.
func MacroAUCROC(scores, labels [][]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	classes := len(scores[0])

	sum := 0.0
	counted := 0
	for c := 0; c < classes; c++ {
		col := make([]float64, len(scores))
		lab := make([]float64, len(labels))
		for i := range scores {
			col[i] = scores[i][c]
			lab[i] = labels[i][c]
		}
		auc, ok := binaryAUC(col, lab)
		if ok {
			sum += auc
			counted++
		}
	}
	if counted == 0 {
		return 0
	}
	return sum / float64(counted)
}

// binaryAUC is the Mann-Whitney formulation: the probability a random
// positive outranks a random negative, with ties counted as half.
func binaryAUC(scores, labels []float64) (float64, bool) {
	type pair struct {
		score float64
		pos   bool
	}
	pairs := make([]pair, len(scores))
	nPos, nNeg := 0, 0
	for i, s := range scores {
		pos := labels[i] >= 0.5
		pairs[i] = pair{score: s, pos: pos}
		if pos {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0, false
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	// Average ranks across tied scores.
	rankSumPos := 0.0
	i := 0
	for i < len(pairs) {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2.0 // ranks are 1-based
		for k := i; k < j; k++ {
			if pairs[k].pos {
				rankSumPos += avgRank
			}
		}
		i = j
	}

	u := rankSumPos - float64(nPos)*float64(nPos+1)/2.0
	return u / (float64(nPos) * float64(nNeg)), true
}

// ConfusionRates thresholds sigmoid(score) at 0.5 over every element and
// returns sensitivity (TP/(TP+FN)) and specificity (TN/(TN+FP)). A rate
// with an empty denominator is reported as 0.
func ConfusionRates(scores, labels [][]float64) (sensitivity, specificity float64) {
	var tp, fp, tn, fn float64
	for i := range scores {
		for j := range scores[i] {
			predicted := nn.Sigmoid(scores[i][j]) >= 0.5
			actual := labels[i][j] >= 0.5
			switch {
			case predicted && actual:
				tp++
			case predicted && !actual:
				fp++
			case !predicted && actual:
				fn++
			default:
				tn++
			}
		}
	}
	if tp+fn > 0 {
		sensitivity = tp / (tp + fn)
	}
	if tn+fp > 0 {
		specificity = tn / (tn + fp)
	}
	return sensitivity, specificity
}

// RSquared is the coefficient of determination of predictions against
// observed values.
func RSquared(predictions, values []float64) float64 {
	return stat.RSquaredFrom(predictions, values, nil)
}

// ToleranceAccuracy is the fraction of predictions within errorRange of
// the observed value.
func ToleranceAccuracy(predictions, values []float64, errorRange float64) float64 {
	if len(predictions) == 0 {
		return 0
	}
	hits := 0
	for i := range predictions {
		if math.Abs(predictions[i]-values[i]) <= errorRange {
			hits++
		}
	}
	return float64(hits) / float64(len(predictions))
}
