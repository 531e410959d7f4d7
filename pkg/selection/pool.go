package selection

import (
	"fmt"

	"slicecorrect/internal/models"
)

// NewPool builds slice records in prediction order, carrying the slice id and
// the prediction mask. Signals are attached separately so that a decision pool
// never holds ground truth unless the caller asks for it.
func NewPool(pred models.Predictions) []SliceRecord {
	pool := make([]SliceRecord, len(pred.Slices))
	for i := range pred.Slices {
		pool[i] = SliceRecord{
			SliceID:  pred.Slices[i].SliceID,
			PredMask: &pred.Slices[i].PredMask,
		}
	}
	return pool
}

// AttachSignals copies the uncertainty and impact scores onto the pool.
// Both signals must enumerate the pool's slice ids in the same order.
func AttachSignals(pool []SliceRecord, unc models.Uncertainty, imp models.Impact) error {
	ids := poolIDs(pool)
	if err := models.CheckAlignment("pool", ids, "uncertainty", unc.SliceIDs()); err != nil {
		return err
	}
	if err := models.CheckAlignment("pool", ids, "impact", imp.SliceIDs()); err != nil {
		return err
	}
	for i := range pool {
		u := unc.Slices[i].SliceUncertainty
		m := imp.Slices[i].ImpactScore
		pool[i].Uncertainty = &u
		pool[i].Impact = &m
	}
	return nil
}

// AttachGroundTruth adds the ground truth masks to the pool. Only pools handed
// to the oracle should carry them.
func AttachGroundTruth(pool []SliceRecord, gt models.GroundTruth) error {
	if err := models.CheckAlignment("pool", poolIDs(pool), "ground truth", gt.SliceIDs()); err != nil {
		return err
	}
	for i := range pool {
		pool[i].GTMask = &gt.Slices[i].Mask
	}
	return nil
}

// ClonePool returns a shallow copy of the records so fields can be attached
// without affecting the original pool.
func ClonePool(pool []SliceRecord) []SliceRecord {
	out := make([]SliceRecord, len(pool))
	copy(out, pool)
	return out
}

// requireScores extracts uncertainty and impact from the pool or reports which
// slice lacks them.
func requireScores(slices []SliceRecord) (unc, imp []float64, err error) {
	unc = make([]float64, len(slices))
	imp = make([]float64, len(slices))
	for i, s := range slices {
		if s.Uncertainty == nil {
			return nil, nil, fmt.Errorf("%w: slice %d has no uncertainty", ErrMissingField, s.SliceID)
		}
		if s.Impact == nil {
			return nil, nil, fmt.Errorf("%w: slice %d has no impact", ErrMissingField, s.SliceID)
		}
		unc[i] = *s.Uncertainty
		imp[i] = *s.Impact
	}
	return unc, imp, nil
}
