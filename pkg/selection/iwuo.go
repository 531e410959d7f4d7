package selection

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"slicecorrect/internal/models"
)

// IWUO implements Impact-Weighted Uncertainty Optimization.
//
// Each slice receives a joint priority score
//
//	S = alpha*U + (1-alpha)*I
//
// where U is the slice uncertainty and I its volumetric impact. The B slices
// with the highest score are selected, with ties resolved by ascending slice id.
// alpha is fixed at construction time; alpha=1 ranks by uncertainty alone and
// alpha=0 by impact alone.
type IWUO struct {
	name  string
	alpha float64
}

// NewIWUO creates an IWUO selector with the given weighting parameter
func NewIWUO(alpha float64) (*IWUO, error) {
	return NewNamedIWUO(NameIWUO, alpha)
}

// NewNamedIWUO creates an IWUO selector reported under a custom name.
// The harness uses it for the uncertainty-only and impact-only baselines.
func NewNamedIWUO(name string, alpha float64) (*IWUO, error) {
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("alpha must be in [0, 1], got %v", alpha)
	}
	return &IWUO{name: name, alpha: alpha}, nil
}

// Name returns the strategy label
func (s *IWUO) Name() string { return s.name }

// Alpha returns the uncertainty weight
func (s *IWUO) Alpha() float64 { return s.alpha }

// Select ranks the pool by joint score. Every record must carry both signals.
func (s *IWUO) Select(slices []SliceRecord, budget int) ([]int, error) {
	unc, imp, err := requireScores(slices)
	if err != nil {
		return nil, err
	}
	ids := poolIDs(slices)
	if err := checkUnique(ids); err != nil {
		return nil, err
	}
	return s.rank(ids, unc, imp, budget)
}

// SelectSignals selects slices directly from the uncertainty and impact
// artifacts of one patient.
func (s *IWUO) SelectSignals(unc models.Uncertainty, imp models.Impact, budget int) ([]int, error) {
	ids, err := checkSignals(unc, imp)
	if err != nil {
		return nil, err
	}
	return s.rank(ids, unc.Scores(), imp.Scores(), budget)
}

// SelectForPatient runs SelectSignals and wraps the result as a reproducible
// selection artifact.
func (s *IWUO) SelectForPatient(unc models.Uncertainty, imp models.Impact, budget int) (models.Selection, error) {
	selected, err := s.SelectSignals(unc, imp, budget)
	if err != nil {
		return models.Selection{}, fmt.Errorf("patient %s: %w", unc.PatientID, err)
	}
	return models.Selection{
		PatientID:      unc.PatientID,
		Budget:         budget,
		Alpha:          s.alpha,
		SelectedSlices: selected,
	}, nil
}

// ScoreSummary describes the distribution of joint scores for one patient
type ScoreSummary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Details is the full output of a selection, kept for analysis
type Details struct {
	SliceIDs          []int        `json:"slice_ids"`
	Selected          []int        `json:"selected"`
	JointScores       []float64    `json:"joint_scores"`
	UncertaintyScores []float64    `json:"uncertainty_scores"`
	ImpactScores      []float64    `json:"impact_scores"`
	Alpha             float64      `json:"alpha"`
	Budget            int          `json:"budget"`
	Summary           ScoreSummary `json:"summary"`
}

// Details performs the same selection as SelectSignals and additionally
// returns every score vector.
func (s *IWUO) Details(unc models.Uncertainty, imp models.Impact, budget int) (Details, error) {
	ids, err := checkSignals(unc, imp)
	if err != nil {
		return Details{}, err
	}
	u, m := unc.Scores(), imp.Scores()
	selected, err := s.rank(ids, u, m, budget)
	if err != nil {
		return Details{}, err
	}

	joint := s.JointScores(u, m)
	d := Details{
		SliceIDs:          ids,
		Selected:          selected,
		JointScores:       joint,
		UncertaintyScores: u,
		ImpactScores:      m,
		Alpha:             s.alpha,
		Budget:            budget,
	}
	if len(joint) > 0 {
		d.Summary.Mean, d.Summary.Std = stat.PopMeanStdDev(joint, nil)
		d.Summary.Min = floats.Min(joint)
		d.Summary.Max = floats.Max(joint)
	}
	return d, nil
}

// JointScores computes alpha*U + (1-alpha)*I elementwise.
// Both slices must have the same length.
func (s *IWUO) JointScores(unc, imp []float64) []float64 {
	joint := make([]float64, len(imp))
	floats.ScaleTo(joint, 1-s.alpha, imp)
	floats.AddScaled(joint, s.alpha, unc)
	return joint
}

func (s *IWUO) rank(ids []int, unc, imp []float64, budget int) ([]int, error) {
	if err := checkRange("uncertainty", ids, unc); err != nil {
		return nil, err
	}
	if err := checkRange("impact", ids, imp); err != nil {
		return nil, err
	}
	n, err := EffectiveBudget(budget, len(ids))
	if err != nil {
		return nil, err
	}

	order := rankDescending(ids, s.JointScores(unc, imp))
	selected := make([]int, n)
	for i := 0; i < n; i++ {
		selected[i] = ids[order[i]]
	}
	if err := ValidateSelection(selected, ids, budget); err != nil {
		return nil, err
	}
	return selected, nil
}

// rankDescending returns positions sorted by score descending, ties broken by
// ascending slice id.
func rankDescending(ids []int, scores []float64) []int {
	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		sa, sb := scores[order[a]], scores[order[b]]
		if sa != sb {
			return sa > sb
		}
		return ids[order[a]] < ids[order[b]]
	})
	return order
}

// rankAscending returns positions sorted by score ascending, ties broken by
// ascending slice id.
func rankAscending(ids []int, scores []float64) []int {
	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		sa, sb := scores[order[a]], scores[order[b]]
		if sa != sb {
			return sa < sb
		}
		return ids[order[a]] < ids[order[b]]
	})
	return order
}

// checkSignals verifies the two artifacts describe the same patient and the
// same ordered slice ids, returning those ids.
func checkSignals(unc models.Uncertainty, imp models.Impact) ([]int, error) {
	if err := models.CheckPatient(unc.PatientID, imp.PatientID); err != nil {
		return nil, err
	}
	ids := unc.SliceIDs()
	if err := models.CheckAlignment("uncertainty", ids, "impact", imp.SliceIDs()); err != nil {
		return nil, err
	}
	if err := checkUnique(ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func checkRange(name string, ids []int, scores []float64) error {
	for i, v := range scores {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s of slice %d is %v", ErrOutOfRange, name, ids[i], v)
		}
	}
	return nil
}
