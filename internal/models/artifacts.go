package models

// GroundTruthSlice is one annotated axial slice produced by the slicing step
type GroundTruthSlice struct {
	SliceID int `json:"slice_id"`

	// Image is the raw intensity slice. It is carried through but never read
	// by selection, correction or evaluation.
	Image *FloatMap `json:"image,omitempty"`

	// Mask is the expert annotation for this slice
	Mask Mask `json:"mask"`
}

// GroundTruth holds every annotated slice of one patient volume
type GroundTruth struct {
	PatientID string             `json:"patient_id"`
	Slices    []GroundTruthSlice `json:"slices"`
}

// SliceIDs returns the slice ids in stored order
func (g GroundTruth) SliceIDs() []int {
	ids := make([]int, len(g.Slices))
	for i, s := range g.Slices {
		ids[i] = s.SliceID
	}
	return ids
}

// Masks returns the ground truth masks in stored order
func (g GroundTruth) Masks() []Mask {
	masks := make([]Mask, len(g.Slices))
	for i, s := range g.Slices {
		masks[i] = s.Mask
	}
	return masks
}

// PredictionSlice is the frozen model output for one slice
type PredictionSlice struct {
	SliceID int `json:"slice_id"`

	// ProbMap is the foreground probability per pixel, in [0,1]
	ProbMap *FloatMap `json:"prob_map,omitempty"`

	// PredMask is the thresholded binary prediction
	PredMask Mask `json:"pred_mask"`
}

// Predictions holds the model output for every slice of one patient
type Predictions struct {
	PatientID string            `json:"patient_id"`
	Slices    []PredictionSlice `json:"slices"`
}

// SliceIDs returns the slice ids in stored order
func (p Predictions) SliceIDs() []int {
	ids := make([]int, len(p.Slices))
	for i, s := range p.Slices {
		ids[i] = s.SliceID
	}
	return ids
}

// Masks returns the binary prediction masks in stored order
func (p Predictions) Masks() []Mask {
	masks := make([]Mask, len(p.Slices))
	for i, s := range p.Slices {
		masks[i] = s.PredMask
	}
	return masks
}

// UncertaintySlice is the epistemic uncertainty signal for one slice
type UncertaintySlice struct {
	SliceID int `json:"slice_id"`

	// SliceUncertainty is the aggregated score in [0,1]; higher means less confident
	SliceUncertainty float64 `json:"slice_uncertainty"`

	// UncertaintyMap is the optional per-pixel uncertainty
	UncertaintyMap *FloatMap `json:"uncertainty_map,omitempty"`
}

// Uncertainty holds the uncertainty signal of one patient
type Uncertainty struct {
	PatientID string             `json:"patient_id"`
	Slices    []UncertaintySlice `json:"slices"`
}

// SliceIDs returns the slice ids in stored order
func (u Uncertainty) SliceIDs() []int {
	ids := make([]int, len(u.Slices))
	for i, s := range u.Slices {
		ids[i] = s.SliceID
	}
	return ids
}

// Scores returns the slice uncertainty scores in stored order
func (u Uncertainty) Scores() []float64 {
	scores := make([]float64, len(u.Slices))
	for i, s := range u.Slices {
		scores[i] = s.SliceUncertainty
	}
	return scores
}

// MCSampleSlice holds the Monte Carlo dropout probability maps of one slice
type MCSampleSlice struct {
	SliceID int        `json:"slice_id"`
	Samples []FloatMap `json:"samples"`
}

// MCSamples holds the Monte Carlo probability maps of one patient, the raw
// input of the uncertainty signal
type MCSamples struct {
	PatientID string          `json:"patient_id"`
	Slices    []MCSampleSlice `json:"slices"`
}

// SliceIDs returns the slice ids in stored order
func (m MCSamples) SliceIDs() []int {
	ids := make([]int, len(m.Slices))
	for i, s := range m.Slices {
		ids[i] = s.SliceID
	}
	return ids
}

// Maps returns the sample sets in stored order
func (m MCSamples) Maps() [][]FloatMap {
	maps := make([][]FloatMap, len(m.Slices))
	for i, s := range m.Slices {
		maps[i] = s.Samples
	}
	return maps
}

// ImpactSlice is the volumetric impact signal for one slice
type ImpactSlice struct {
	SliceID     int     `json:"slice_id"`
	ImpactScore float64 `json:"impact_score"`
}

// Impact holds the impact signal of one patient
type Impact struct {
	PatientID string        `json:"patient_id"`
	Slices    []ImpactSlice `json:"slices"`
}

// SliceIDs returns the slice ids in stored order
func (m Impact) SliceIDs() []int {
	ids := make([]int, len(m.Slices))
	for i, s := range m.Slices {
		ids[i] = s.SliceID
	}
	return ids
}

// Scores returns the impact scores in stored order
func (m Impact) Scores() []float64 {
	scores := make([]float64, len(m.Slices))
	for i, s := range m.Slices {
		scores[i] = s.ImpactScore
	}
	return scores
}

// Selection is the reproducible output of running a strategy for one patient
type Selection struct {
	PatientID      string  `json:"patient_id"`
	Budget         int     `json:"budget"`
	Alpha          float64 `json:"alpha"`
	SelectedSlices []int   `json:"selected_slices"`
}

// CorrectedSlice is one slice of a corrected volume
type CorrectedSlice struct {
	SliceID int  `json:"slice_id"`
	Mask    Mask `json:"mask"`
}

// CorrectedVolume is the mask sequence after simulated expert correction.
// It is created once by the correction simulator and not mutated afterwards.
type CorrectedVolume struct {
	PatientID       string           `json:"patient_id"`
	SelectedSlices  []int            `json:"selected_slices"`
	CorrectedSlices []CorrectedSlice `json:"corrected_slices"`
}

// SliceIDs returns the slice ids in stored order
func (c CorrectedVolume) SliceIDs() []int {
	ids := make([]int, len(c.CorrectedSlices))
	for i, s := range c.CorrectedSlices {
		ids[i] = s.SliceID
	}
	return ids
}

// Masks returns the corrected masks in stored order
func (c CorrectedVolume) Masks() []Mask {
	masks := make([]Mask, len(c.CorrectedSlices))
	for i, s := range c.CorrectedSlices {
		masks[i] = s.Mask
	}
	return masks
}
