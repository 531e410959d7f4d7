// Package correction simulates a perfect expert correcting selected slices.
//
// Selected slices take a copy of the ground truth mask and all other slices
// keep a copy of the original prediction. The result never aliases its inputs.
package correction

import (
	"fmt"

	"slicecorrect/internal/models"
	"slicecorrect/pkg/selection"
)

// Summary counts what a correction changed
type Summary struct {
	PatientID     string `json:"patient_id"`
	NumSlices     int    `json:"num_slices"`
	NumCorrected  int    `json:"num_corrected"`
	NumUnchanged  int    `json:"num_unchanged"`
	VoxelsChanged int    `json:"voxels_changed"`
}

// Apply builds the corrected volume for one patient. Predictions and ground
// truth must describe the same patient with aligned slice ids and equal mask
// shapes, and every selected id must be a distinct valid slice id.
func Apply(pred models.Predictions, gt models.GroundTruth, selected []int) (models.CorrectedVolume, error) {
	if err := models.CheckPatient(pred.PatientID, gt.PatientID); err != nil {
		return models.CorrectedVolume{}, err
	}
	ids := pred.SliceIDs()
	if err := models.CheckAlignment("predictions", ids, "ground truth", gt.SliceIDs()); err != nil {
		return models.CorrectedVolume{}, fmt.Errorf("patient %s: %w", pred.PatientID, err)
	}
	if _, err := models.IndexByID(ids); err != nil {
		return models.CorrectedVolume{}, fmt.Errorf("patient %s: %w", pred.PatientID, err)
	}
	if err := selection.ValidateSelection(selected, ids, len(ids)); err != nil {
		return models.CorrectedVolume{}, fmt.Errorf("patient %s: %w", pred.PatientID, err)
	}

	chosen := make(map[int]struct{}, len(selected))
	for _, id := range selected {
		chosen[id] = struct{}{}
	}

	out := make([]models.CorrectedSlice, len(pred.Slices))
	for i, p := range pred.Slices {
		g := gt.Slices[i]
		if !p.PredMask.SameShape(g.Mask) {
			return models.CorrectedVolume{}, fmt.Errorf("patient %s slice %d: %w: %dx%d vs %dx%d",
				pred.PatientID, p.SliceID, models.ErrShapeMismatch,
				p.PredMask.Rows, p.PredMask.Cols, g.Mask.Rows, g.Mask.Cols)
		}

		mask := p.PredMask
		if _, ok := chosen[p.SliceID]; ok {
			mask = g.Mask
		}
		out[i] = models.CorrectedSlice{SliceID: p.SliceID, Mask: mask.Clone()}
	}

	return models.CorrectedVolume{
		PatientID:       pred.PatientID,
		SelectedSlices:  append([]int{}, selected...),
		CorrectedSlices: out,
	}, nil
}

// ApplySelection applies a stored selection artifact after checking that it
// belongs to the same patient.
func ApplySelection(pred models.Predictions, gt models.GroundTruth, sel models.Selection) (models.CorrectedVolume, error) {
	if err := models.CheckPatient(sel.PatientID, pred.PatientID); err != nil {
		return models.CorrectedVolume{}, err
	}
	if len(sel.SelectedSlices) > sel.Budget {
		return models.CorrectedVolume{}, fmt.Errorf("patient %s: %w: %d slices for budget %d",
			sel.PatientID, selection.ErrInvalidSelection, len(sel.SelectedSlices), sel.Budget)
	}
	return Apply(pred, gt, sel.SelectedSlices)
}

// Summarize compares a corrected volume with the predictions it was built from
func Summarize(pred models.Predictions, corrected models.CorrectedVolume) (Summary, error) {
	if err := models.CheckPatient(pred.PatientID, corrected.PatientID); err != nil {
		return Summary{}, err
	}
	if err := models.CheckAlignment("predictions", pred.SliceIDs(), "corrected", corrected.SliceIDs()); err != nil {
		return Summary{}, err
	}

	s := Summary{
		PatientID:    corrected.PatientID,
		NumSlices:    len(corrected.CorrectedSlices),
		NumCorrected: len(corrected.SelectedSlices),
	}
	s.NumUnchanged = s.NumSlices - s.NumCorrected

	for i, c := range corrected.CorrectedSlices {
		p := pred.Slices[i].PredMask
		if !p.SameShape(c.Mask) {
			return Summary{}, fmt.Errorf("slice %d: %w", c.SliceID, models.ErrShapeMismatch)
		}
		for j := range p.Data {
			if (p.Data[j] > 0) != (c.Mask.Data[j] > 0) {
				s.VoxelsChanged++
			}
		}
	}
	return s, nil
}
