// Package dice computes the Dice similarity coefficient used to score
// segmentation quality. Reported metrics are always computed on the full
// stacked volume, never as an average of per-slice scores.
package dice

import (
	"fmt"

	"slicecorrect/internal/models"
)

// Record is the evaluation of one patient volume against its ground truth
type Record struct {
	PatientID    string  `json:"patient_id"`
	Dice         float64 `json:"dice"`
	NumSlices    int     `json:"num_slices"`
	NumCorrected int     `json:"num_corrected"`
}

// Coefficient computes Dice = 2|P∩G| / (|P|+|G|) over flat voxel arrays.
// Both arrays are binarized with value > 0 and treated as flat voxel counts,
// so the result is the same for a 2D slice or a stacked 3D volume.
//
// Edge cases:
//   - both empty: 1.0 (perfect agreement)
//   - exactly one empty: 0.0 (no overlap possible)
func Coefficient(pred, gt []uint8) (float64, error) {
	if len(pred) != len(gt) {
		return 0, fmt.Errorf("%w: %d vs %d voxels", models.ErrShapeMismatch, len(pred), len(gt))
	}

	var intersection, predSum, gtSum int
	for i := range pred {
		p := pred[i] > 0
		g := gt[i] > 0
		if p {
			predSum++
		}
		if g {
			gtSum++
		}
		if p && g {
			intersection++
		}
	}

	if predSum == 0 && gtSum == 0 {
		return 1.0, nil
	}
	if predSum == 0 || gtSum == 0 {
		return 0.0, nil
	}
	return 2.0 * float64(intersection) / float64(predSum+gtSum), nil
}

// Compute returns the Dice coefficient of two 2D masks of matching shape
func Compute(pred, gt models.Mask) (float64, error) {
	if !pred.SameShape(gt) {
		return 0, fmt.Errorf("%w: %dx%d vs %dx%d",
			models.ErrShapeMismatch, pred.Rows, pred.Cols, gt.Rows, gt.Cols)
	}
	return Coefficient(pred.Data, gt.Data)
}

// ComputeVolumes returns the Dice coefficient of two stacked volumes of matching shape
func ComputeVolumes(pred, gt models.Volume) (float64, error) {
	if !pred.SameShape(gt) {
		return 0, fmt.Errorf("%w: %dx%dx%d vs %dx%dx%d", models.ErrShapeMismatch,
			pred.Depth, pred.Rows, pred.Cols, gt.Depth, gt.Rows, gt.Cols)
	}
	return Coefficient(pred.Data, gt.Data)
}

// ComputeVolume verifies slice alignment, stacks both sequences in slice order
// and returns the volume Dice.
func ComputeVolume(corrected []models.CorrectedSlice, groundTruth []models.GroundTruthSlice) (float64, error) {
	correctedIDs := make([]int, len(corrected))
	correctedMasks := make([]models.Mask, len(corrected))
	for i, s := range corrected {
		correctedIDs[i] = s.SliceID
		correctedMasks[i] = s.Mask
	}
	gtIDs := make([]int, len(groundTruth))
	gtMasks := make([]models.Mask, len(groundTruth))
	for i, s := range groundTruth {
		gtIDs[i] = s.SliceID
		gtMasks[i] = s.Mask
	}

	if err := models.CheckAlignment("corrected", correctedIDs, "ground truth", gtIDs); err != nil {
		return 0, err
	}
	return stackedDice(correctedMasks, gtMasks)
}

// EvaluateCorrected scores a corrected volume against the patient's ground truth
func EvaluateCorrected(corrected models.CorrectedVolume, gt models.GroundTruth) (Record, error) {
	if err := models.CheckPatient(corrected.PatientID, gt.PatientID); err != nil {
		return Record{}, err
	}
	score, err := ComputeVolume(corrected.CorrectedSlices, gt.Slices)
	if err != nil {
		return Record{}, fmt.Errorf("patient %s: %w", gt.PatientID, err)
	}
	return Record{
		PatientID:    gt.PatientID,
		Dice:         score,
		NumSlices:    len(corrected.CorrectedSlices),
		NumCorrected: len(corrected.SelectedSlices),
	}, nil
}

// EvaluateBaseline scores the uncorrected predictions (budget zero).
func EvaluateBaseline(pred models.Predictions, gt models.GroundTruth) (Record, error) {
	if err := models.CheckPatient(pred.PatientID, gt.PatientID); err != nil {
		return Record{}, err
	}
	if err := models.CheckAlignment("predictions", pred.SliceIDs(), "ground truth", gt.SliceIDs()); err != nil {
		return Record{}, fmt.Errorf("patient %s: %w", gt.PatientID, err)
	}
	score, err := stackedDice(pred.Masks(), gt.Masks())
	if err != nil {
		return Record{}, fmt.Errorf("patient %s: %w", gt.PatientID, err)
	}
	return Record{
		PatientID: gt.PatientID,
		Dice:      score,
		NumSlices: len(pred.Slices),
	}, nil
}

func stackedDice(pred, gt []models.Mask) (float64, error) {
	predVol, err := models.StackMasks(pred)
	if err != nil {
		return 0, err
	}
	gtVol, err := models.StackMasks(gt)
	if err != nil {
		return 0, err
	}
	return ComputeVolumes(predVol, gtVol)
}
