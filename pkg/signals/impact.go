// Package signals produces the per-slice uncertainty and impact scores that
// drive selection. Both are computed from model outputs only and never read
// ground truth.
package signals

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"slicecorrect/internal/models"
)

// ImpactEstimator scores how much correcting each slice matters for the
// final 3D segmentation.
//
// The raw score of a slice is its number of predicted foreground voxels. With
// UseConnectivity the count is weighted by (1 + n)/3 where n is the number of
// neighbouring slices that also contain foreground, so slices inside the
// tumour core outrank isolated peripheral ones. Scores are then divided by
// their maximum, and UseSqrt compresses the range with a square root.
type ImpactEstimator struct {
	UseConnectivity bool
	UseSqrt         bool
}

// NewImpactEstimator returns an estimator with connectivity weighting and
// square root stabilisation enabled
func NewImpactEstimator() *ImpactEstimator {
	return &ImpactEstimator{UseConnectivity: true, UseSqrt: true}
}

// Scores computes the impact score of each mask in slice order
func (e *ImpactEstimator) Scores(masks []models.Mask) []float64 {
	counts := make([]float64, len(masks))
	for i, m := range masks {
		counts[i] = float64(m.Foreground())
	}

	if e.UseConnectivity {
		for i, w := range connectivityWeights(masks) {
			counts[i] *= w
		}
	}

	if len(counts) == 0 {
		return counts
	}
	if peak := floats.Max(counts); peak > 0 {
		floats.Scale(1/peak, counts)
	} else {
		return make([]float64, len(counts))
	}

	if e.UseSqrt {
		for i, v := range counts {
			counts[i] = math.Sqrt(v)
		}
	}
	return counts
}

// Estimate builds the impact artifact for one patient from its predictions
func (e *ImpactEstimator) Estimate(pred models.Predictions) (models.Impact, error) {
	if _, err := models.IndexByID(pred.SliceIDs()); err != nil {
		return models.Impact{}, fmt.Errorf("patient %s: %w", pred.PatientID, err)
	}

	scores := e.Scores(pred.Masks())
	out := models.Impact{PatientID: pred.PatientID, Slices: make([]models.ImpactSlice, len(scores))}
	for i, s := range pred.Slices {
		out.Slices[i] = models.ImpactSlice{SliceID: s.SliceID, ImpactScore: scores[i]}
	}
	return out, nil
}

// connectivityWeights returns (1 + adjacent slices with foreground)/3 per slice
func connectivityWeights(masks []models.Mask) []float64 {
	hasFg := make([]bool, len(masks))
	for i, m := range masks {
		hasFg[i] = m.Foreground() > 0
	}

	weights := make([]float64, len(masks))
	for i := range masks {
		adjacent := 0
		if i > 0 && hasFg[i-1] {
			adjacent++
		}
		if i < len(masks)-1 && hasFg[i+1] {
			adjacent++
		}
		weights[i] = (1 + float64(adjacent)) / 3
	}
	return weights
}

// Stats summarises a score vector
type Stats struct {
	Mean float64
	Std  float64
	Min  float64
	Max  float64
}

// Describe returns population statistics of scores. An empty input yields zeros.
func Describe(scores []float64) Stats {
	if len(scores) == 0 {
		return Stats{}
	}
	mean, std := stat.PopMeanStdDev(scores, nil)
	return Stats{Mean: mean, Std: std, Min: floats.Min(scores), Max: floats.Max(scores)}
}
