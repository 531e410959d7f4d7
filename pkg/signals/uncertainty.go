package signals

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"slicecorrect/internal/models"
)

const (
	// probEpsilon keeps the entropy finite at probabilities 0 and 1
	probEpsilon = 1e-7

	// foregroundThreshold selects the pixels whose entropy is averaged
	foregroundThreshold = 0.5
)

// ErrNoSamples is returned when an uncertainty estimate has no MC samples
var ErrNoSamples = errors.New("no Monte Carlo samples")

// SliceResult is the uncertainty estimate of one slice
type SliceResult struct {
	MeanProb       models.FloatMap
	UncertaintyMap models.FloatMap
	Score          float64
}

// SliceUncertainty turns Monte Carlo dropout samples of one slice into an
// uncertainty estimate. The samples are averaged into a mean probability map,
// whose binary entropy normalised by ln 2 gives a per-pixel map in [0,1].
// The slice score is the mean entropy over pixels with mean probability above
// 0.5, or over the whole map when there are none.
func SliceUncertainty(samples []models.FloatMap) (SliceResult, error) {
	if len(samples) == 0 {
		return SliceResult{}, ErrNoSamples
	}
	first := samples[0]
	for i, s := range samples {
		if err := s.ValidateUnit(); err != nil {
			return SliceResult{}, fmt.Errorf("sample %d: %w", i, err)
		}
		if s.Rows != first.Rows || s.Cols != first.Cols {
			return SliceResult{}, fmt.Errorf("sample %d: %w", i, models.ErrShapeMismatch)
		}
	}

	mean := make([]float64, len(first.Data))
	for _, s := range samples {
		floats.Add(mean, s.Data)
	}
	floats.Scale(1/float64(len(samples)), mean)

	entropy := make([]float64, len(mean))
	var fg []float64
	for i, p := range mean {
		entropy[i] = binaryEntropy(p)
		if p > foregroundThreshold {
			fg = append(fg, entropy[i])
		}
	}

	var score float64
	switch {
	case len(fg) > 0:
		score = stat.Mean(fg, nil)
	case len(entropy) > 0:
		score = stat.Mean(entropy, nil)
	}

	return SliceResult{
		MeanProb:       models.FloatMap{Rows: first.Rows, Cols: first.Cols, Data: mean},
		UncertaintyMap: models.FloatMap{Rows: first.Rows, Cols: first.Cols, Data: entropy},
		Score:          clampUnit(score),
	}, nil
}

// VolumeUncertainty builds the uncertainty artifact for one patient from the
// MC samples of each slice. samples[i] belongs to ids[i]. keepMaps controls
// whether per-pixel maps are stored in the artifact.
func VolumeUncertainty(patientID string, ids []int, samples [][]models.FloatMap, keepMaps bool) (models.Uncertainty, error) {
	if len(ids) != len(samples) {
		return models.Uncertainty{}, fmt.Errorf("%w: %d slice ids for %d sample sets",
			models.ErrMisaligned, len(ids), len(samples))
	}
	if _, err := models.IndexByID(ids); err != nil {
		return models.Uncertainty{}, err
	}

	out := models.Uncertainty{PatientID: patientID, Slices: make([]models.UncertaintySlice, len(ids))}
	for i, id := range ids {
		res, err := SliceUncertainty(samples[i])
		if err != nil {
			return models.Uncertainty{}, fmt.Errorf("patient %s slice %d: %w", patientID, id, err)
		}
		out.Slices[i] = models.UncertaintySlice{SliceID: id, SliceUncertainty: res.Score}
		if keepMaps {
			m := res.UncertaintyMap
			out.Slices[i].UncertaintyMap = &m
		}
	}
	return out, nil
}

// binaryEntropy returns H(p)/ln 2 with p clipped away from 0 and 1
func binaryEntropy(p float64) float64 {
	p = math.Min(math.Max(p, probEpsilon), 1-probEpsilon)
	h := -(p*math.Log(p) + (1-p)*math.Log(1-p))
	return h / math.Ln2
}

func clampUnit(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
