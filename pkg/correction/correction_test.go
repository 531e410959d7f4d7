package correction

import (
	"errors"
	"testing"

	"slicecorrect/internal/models"
	"slicecorrect/pkg/dice"
	"slicecorrect/pkg/selection"
)

// buildVolumes creates predictions and ground truth of depth slices where
// slice ids in wrong have a prediction that misses the ground truth.
func buildVolumes(patient string, depth int, wrong ...int) (models.Predictions, models.GroundTruth) {
	isWrong := make(map[int]bool)
	for _, id := range wrong {
		isWrong[id] = true
	}

	pred := models.Predictions{PatientID: patient}
	gt := models.GroundTruth{PatientID: patient}
	for i := 0; i < depth; i++ {
		g := models.MaskFromRows([][]uint8{{0, 1, 1}, {0, 1, 0}, {0, 0, 0}})
		p := g.Clone()
		if isWrong[i] {
			p = models.MaskFromRows([][]uint8{{1, 0, 0}, {0, 0, 0}, {0, 0, 1}})
		}
		pred.Slices = append(pred.Slices, models.PredictionSlice{SliceID: i, PredMask: p})
		gt.Slices = append(gt.Slices, models.GroundTruthSlice{SliceID: i, Mask: g})
	}
	return pred, gt
}

// TestApplyFidelity verifies selected slices equal ground truth and the rest equal predictions
func TestApplyFidelity(t *testing.T) {
	pred, gt := buildVolumes("p1", 6, 1, 3, 4)
	selected := []int{3, 1}

	corrected, err := Apply(pred, gt, selected)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(corrected.CorrectedSlices) != 6 {
		t.Fatalf("Expected 6 corrected slices, got %d", len(corrected.CorrectedSlices))
	}
	for i, c := range corrected.CorrectedSlices {
		if c.SliceID != pred.Slices[i].SliceID {
			t.Errorf("Slice order changed at %d: expected %d, got %d", i, pred.Slices[i].SliceID, c.SliceID)
		}
		switch c.SliceID {
		case 1, 3:
			if !c.Mask.Equal(gt.Slices[i].Mask) {
				t.Errorf("Slice %d: expected ground truth mask", c.SliceID)
			}
		default:
			if !c.Mask.Equal(pred.Slices[i].PredMask) {
				t.Errorf("Slice %d: expected original prediction", c.SliceID)
			}
		}
	}
	if corrected.PatientID != "p1" || len(corrected.SelectedSlices) != 2 {
		t.Errorf("Unexpected corrected volume header %+v", corrected.SelectedSlices)
	}
}

// TestApplyDoesNotAlias verifies outputs are copies of their inputs
func TestApplyDoesNotAlias(t *testing.T) {
	pred, gt := buildVolumes("p1", 3, 0)
	corrected, err := Apply(pred, gt, []int{0})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	corrected.CorrectedSlices[0].Mask.Data[0] = 9
	corrected.CorrectedSlices[1].Mask.Data[0] = 9
	if gt.Slices[0].Mask.Data[0] == 9 {
		t.Errorf("Corrected mask aliases the ground truth")
	}
	if pred.Slices[1].PredMask.Data[0] == 9 {
		t.Errorf("Corrected mask aliases the prediction")
	}
}

func TestApplyPreconditions(t *testing.T) {
	pred, gt := buildVolumes("p1", 4)

	testCases := []struct {
		name     string
		pred     models.Predictions
		gt       models.GroundTruth
		selected []int
		expected error
	}{
		{"unknown slice", pred, gt, []int{7}, selection.ErrInvalidSelection},
		{"duplicate slice", pred, gt, []int{1, 1}, selection.ErrInvalidSelection},
		{"patient mismatch", pred, models.GroundTruth{PatientID: "p2", Slices: gt.Slices}, nil, models.ErrPatientMismatch},
		{"misaligned", models.Predictions{PatientID: "p1", Slices: pred.Slices[:3]}, gt, nil, models.ErrMisaligned},
	}

	for _, tc := range testCases {
		_, err := Apply(tc.pred, tc.gt, tc.selected)
		if !errors.Is(err, tc.expected) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.expected, err)
		}
	}

	bad := models.GroundTruth{PatientID: "p1", Slices: append([]models.GroundTruthSlice{}, gt.Slices...)}
	bad.Slices[2] = models.GroundTruthSlice{SliceID: 2, Mask: models.NewMask(2, 2)}
	if _, err := Apply(pred, bad, nil); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestApplySelection(t *testing.T) {
	pred, gt := buildVolumes("p1", 4, 2)

	sel := models.Selection{PatientID: "p1", Budget: 1, Alpha: 0.5, SelectedSlices: []int{2}}
	corrected, err := ApplySelection(pred, gt, sel)
	if err != nil {
		t.Fatalf("ApplySelection: %v", err)
	}
	if !corrected.CorrectedSlices[2].Mask.Equal(gt.Slices[2].Mask) {
		t.Errorf("Expected slice 2 corrected")
	}

	sel.PatientID = "p9"
	if _, err := ApplySelection(pred, gt, sel); !errors.Is(err, models.ErrPatientMismatch) {
		t.Errorf("Expected ErrPatientMismatch, got %v", err)
	}

	sel = models.Selection{PatientID: "p1", Budget: 1, SelectedSlices: []int{1, 2}}
	if _, err := ApplySelection(pred, gt, sel); !errors.Is(err, selection.ErrInvalidSelection) {
		t.Errorf("Expected ErrInvalidSelection for over-budget selection, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	pred, gt := buildVolumes("p1", 5, 0, 4)
	corrected, err := Apply(pred, gt, []int{4})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	s, err := Summarize(pred, corrected)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.NumSlices != 5 || s.NumCorrected != 1 || s.NumUnchanged != 4 {
		t.Errorf("Unexpected counts %+v", s)
	}
	// wrong prediction has 2 voxels, ground truth 3, no overlap
	if s.VoxelsChanged != 5 {
		t.Errorf("Expected 5 changed voxels, got %d", s.VoxelsChanged)
	}
}

// TestEndToEndSingleSalientSlice runs selection, correction and Dice on a
// volume whose only error sits on the most uncertain, most impactful slice.
func TestEndToEndSingleSalientSlice(t *testing.T) {
	pred, gt := buildVolumes("p1", 50, 10)

	unc := models.Uncertainty{PatientID: "p1"}
	imp := models.Impact{PatientID: "p1"}
	for i := 0; i < 50; i++ {
		score := 0.1
		if i == 10 {
			score = 0.9
		}
		unc.Slices = append(unc.Slices, models.UncertaintySlice{SliceID: i, SliceUncertainty: score})
		imp.Slices = append(imp.Slices, models.ImpactSlice{SliceID: i, ImpactScore: score})
	}

	iwuo, err := selection.NewIWUO(0.5)
	if err != nil {
		t.Fatalf("NewIWUO: %v", err)
	}
	selected, err := iwuo.SelectSignals(unc, imp, 1)
	if err != nil {
		t.Fatalf("SelectSignals: %v", err)
	}
	if len(selected) != 1 || selected[0] != 10 {
		t.Fatalf("Expected selection [10], got %v", selected)
	}

	baseline, err := dice.EvaluateBaseline(pred, gt)
	if err != nil {
		t.Fatalf("EvaluateBaseline: %v", err)
	}
	if baseline.Dice >= 1.0 {
		t.Fatalf("Expected imperfect baseline, got %v", baseline.Dice)
	}

	corrected, err := Apply(pred, gt, selected)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	rec, err := dice.EvaluateCorrected(corrected, gt)
	if err != nil {
		t.Fatalf("EvaluateCorrected: %v", err)
	}
	if rec.Dice != 1.0 {
		t.Errorf("Expected Dice 1.0 after correcting slice 10, got %v", rec.Dice)
	}
}
