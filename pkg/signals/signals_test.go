package signals

import (
	"errors"
	"math"
	"testing"

	"slicecorrect/internal/models"
)

func maskWithForeground(n int) models.Mask {
	m := models.NewMask(4, 4)
	for i := 0; i < n; i++ {
		m.Data[i] = 1
	}
	return m
}

// TestImpactScores checks the raw, connectivity and sqrt variants
func TestImpactScores(t *testing.T) {
	masks := []models.Mask{maskWithForeground(0), maskWithForeground(4), maskWithForeground(8), maskWithForeground(2)}

	testCases := []struct {
		name      string
		estimator ImpactEstimator
		expected  []float64
	}{
		{
			name:      "voxel count only",
			estimator: ImpactEstimator{},
			expected:  []float64{0, 0.5, 1, 0.25},
		},
		{
			// weights: 2/3, 2/3, 1, 2/3 -> 0, 8/3, 8, 4/3
			name:      "connectivity",
			estimator: ImpactEstimator{UseConnectivity: true},
			expected:  []float64{0, 1.0 / 3, 1, 1.0 / 6},
		},
		{
			name:      "sqrt",
			estimator: ImpactEstimator{UseSqrt: true},
			expected:  []float64{0, math.Sqrt(0.5), 1, 0.5},
		},
	}

	for _, tc := range testCases {
		got := tc.estimator.Scores(masks)
		for i := range tc.expected {
			if math.Abs(got[i]-tc.expected[i]) > 1e-12 {
				t.Errorf("%s: slice %d expected %.4f, got %.4f", tc.name, i, tc.expected[i], got[i])
			}
		}
	}
}

func TestImpactAllEmpty(t *testing.T) {
	got := NewImpactEstimator().Scores([]models.Mask{models.NewMask(2, 2), models.NewMask(2, 2)})
	for i, v := range got {
		if v != 0 {
			t.Errorf("Slice %d: expected zero impact, got %v", i, v)
		}
	}
	if len(NewImpactEstimator().Scores(nil)) != 0 {
		t.Errorf("Expected no scores for no masks")
	}
}

func TestEstimatePreservesSliceIDs(t *testing.T) {
	pred := models.Predictions{PatientID: "p3", Slices: []models.PredictionSlice{
		{SliceID: 12, PredMask: maskWithForeground(3)},
		{SliceID: 13, PredMask: maskWithForeground(6)},
	}}

	imp, err := NewImpactEstimator().Estimate(pred)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if err := models.CheckAlignment("predictions", pred.SliceIDs(), "impact", imp.SliceIDs()); err != nil {
		t.Errorf("Impact not aligned with predictions: %v", err)
	}
	for _, s := range imp.Slices {
		if s.ImpactScore < 0 || s.ImpactScore > 1 {
			t.Errorf("Slice %d: impact %v outside [0,1]", s.SliceID, s.ImpactScore)
		}
	}
	if imp.Slices[1].ImpactScore != 1 {
		t.Errorf("Expected the largest slice to have impact 1, got %v", imp.Slices[1].ImpactScore)
	}

	pred.Slices[1].SliceID = 12
	if _, err := NewImpactEstimator().Estimate(pred); !errors.Is(err, models.ErrDuplicateSlice) {
		t.Errorf("Expected ErrDuplicateSlice, got %v", err)
	}
}

// TestSliceUncertainty verifies entropy aggregation over confident foreground
func TestSliceUncertainty(t *testing.T) {
	samples := []models.FloatMap{
		{Rows: 1, Cols: 3, Data: []float64{0.0, 0.6, 1.0}},
		{Rows: 1, Cols: 3, Data: []float64{0.0, 0.8, 1.0}},
	}

	res, err := SliceUncertainty(samples)
	if err != nil {
		t.Fatalf("SliceUncertainty: %v", err)
	}

	if math.Abs(res.MeanProb.Data[1]-0.7) > 1e-12 {
		t.Errorf("Expected mean probability 0.7, got %v", res.MeanProb.Data[1])
	}

	// foreground pixels are 0.7 and 1.0
	expected := (binaryEntropy(0.7) + binaryEntropy(1.0)) / 2
	if math.Abs(res.Score-expected) > 1e-12 {
		t.Errorf("Expected score %.6f, got %.6f", expected, res.Score)
	}
	if res.Score < 0 || res.Score > 1 {
		t.Errorf("Score %v outside [0,1]", res.Score)
	}
}

func TestSliceUncertaintyNoForeground(t *testing.T) {
	samples := []models.FloatMap{{Rows: 1, Cols: 2, Data: []float64{0.5, 0.0}}}
	res, err := SliceUncertainty(samples)
	if err != nil {
		t.Fatalf("SliceUncertainty: %v", err)
	}
	expected := (1.0 + binaryEntropy(0)) / 2
	if math.Abs(res.Score-expected) > 1e-9 {
		t.Errorf("Expected whole-map mean %.6f, got %.6f", expected, res.Score)
	}
	if math.Abs(binaryEntropy(0.5)-1.0) > 1e-12 {
		t.Errorf("Entropy at 0.5 should be 1, got %v", binaryEntropy(0.5))
	}
}

func TestSliceUncertaintyErrors(t *testing.T) {
	if _, err := SliceUncertainty(nil); !errors.Is(err, ErrNoSamples) {
		t.Errorf("Expected ErrNoSamples, got %v", err)
	}
	mismatched := []models.FloatMap{
		{Rows: 1, Cols: 2, Data: []float64{0.1, 0.2}},
		{Rows: 2, Cols: 1, Data: []float64{0.1, 0.2}},
	}
	if _, err := SliceUncertainty(mismatched); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
	if _, err := SliceUncertainty([]models.FloatMap{{Rows: 1, Cols: 1, Data: []float64{1.2}}}); err == nil {
		t.Errorf("Expected range error for probability 1.2")
	}
}

func TestVolumeUncertainty(t *testing.T) {
	sample := models.FloatMap{Rows: 1, Cols: 2, Data: []float64{0.9, 0.1}}
	unc, err := VolumeUncertainty("p1", []int{4, 5}, [][]models.FloatMap{{sample}, {sample, sample}}, true)
	if err != nil {
		t.Fatalf("VolumeUncertainty: %v", err)
	}
	if len(unc.Slices) != 2 || unc.Slices[1].SliceID != 5 {
		t.Fatalf("Unexpected slices %+v", unc.Slices)
	}
	if unc.Slices[0].UncertaintyMap == nil {
		t.Errorf("Expected uncertainty map to be kept")
	}

	if _, err := VolumeUncertainty("p1", []int{4}, nil, false); !errors.Is(err, models.ErrMisaligned) {
		t.Errorf("Expected ErrMisaligned, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	s := Describe([]float64{0.8, 0.9, 0.7})
	if math.Abs(s.Mean-0.8) > 1e-12 {
		t.Errorf("Expected mean 0.8, got %v", s.Mean)
	}
	if math.Abs(s.Std-0.0816496580927726) > 1e-9 {
		t.Errorf("Expected std 0.0816, got %v", s.Std)
	}
	if s.Min != 0.7 || s.Max != 0.9 {
		t.Errorf("Unexpected range %v..%v", s.Min, s.Max)
	}
	if (Describe(nil) != Stats{}) {
		t.Errorf("Expected zero stats for empty input")
	}
}
