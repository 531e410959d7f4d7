package selection

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"

	"slicecorrect/pkg/dice"
)

// Random samples slices uniformly without replacement. Each call draws from a
// fresh source seeded with the strategy's seed, so the same seed and the same
// pool always give the same selection.
type Random struct {
	seed uint64
}

// NewRandom creates a seeded random strategy
func NewRandom(seed uint64) *Random {
	return &Random{seed: seed}
}

func (r *Random) Name() string { return NameRandom }

// Seed returns the seed the strategy was built with
func (r *Random) Seed() uint64 { return r.seed }

func (r *Random) Select(slices []SliceRecord, budget int) ([]int, error) {
	ids := poolIDs(slices)
	if err := checkUnique(ids); err != nil {
		return nil, err
	}
	n, err := EffectiveBudget(budget, len(ids))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []int{}, nil
	}

	idxs := make([]int, n)
	sampleuv.WithoutReplacement(idxs, len(ids), rand.NewSource(r.seed))

	selected := make([]int, n)
	for i, idx := range idxs {
		selected[i] = ids[idx]
	}
	if err := ValidateSelection(selected, ids, budget); err != nil {
		return nil, err
	}
	return selected, nil
}

// Uniform spreads the budget evenly across depth. For D sorted slice ids and
// budget B < D it picks the ids at positions round(i*D/(B+1)) for i = 1..B,
// clamped to [0, D-1]. When B >= D every slice is selected.
type Uniform struct{}

// NewUniform creates the deterministic evenly spaced strategy
func NewUniform() *Uniform { return &Uniform{} }

func (*Uniform) Name() string { return NameUniform }

func (*Uniform) Select(slices []SliceRecord, budget int) ([]int, error) {
	ids := poolIDs(slices)
	if err := checkUnique(ids); err != nil {
		return nil, err
	}
	n, err := EffectiveBudget(budget, len(ids))
	if err != nil {
		return nil, err
	}

	sorted := append([]int{}, ids...)
	sort.Ints(sorted)
	d := len(sorted)

	if n >= d {
		if err := ValidateSelection(sorted, ids, budget); err != nil {
			return nil, err
		}
		return sorted, nil
	}

	selected := make([]int, 0, n)
	for _, pos := range UniformPositions(d, n) {
		selected = append(selected, sorted[pos])
	}
	if err := ValidateSelection(selected, ids, budget); err != nil {
		return nil, err
	}
	return selected, nil
}

// UniformPositions returns the b evenly spaced indices into a depth of d.
// Halves round to even.
func UniformPositions(d, b int) []int {
	step := float64(d) / float64(b+1)
	positions := make([]int, b)
	for i := 1; i <= b; i++ {
		pos := int(math.RoundToEven(float64(i) * step))
		if pos < 0 {
			pos = 0
		}
		if pos > d-1 {
			pos = d - 1
		}
		positions[i-1] = pos
	}
	return positions
}

// Oracle selects the slices whose predictions agree worst with the ground
// truth. It reads ground truth and is only a ceiling for comparison, never a
// real decision method.
type Oracle struct{}

// NewOracle creates the upper bound strategy
func NewOracle() *Oracle { return &Oracle{} }

func (*Oracle) Name() string { return NameOracle }

func (*Oracle) Select(slices []SliceRecord, budget int) ([]int, error) {
	ids := poolIDs(slices)
	if err := checkUnique(ids); err != nil {
		return nil, err
	}

	scores, err := SliceDice(slices)
	if err != nil {
		return nil, err
	}
	n, err := EffectiveBudget(budget, len(ids))
	if err != nil {
		return nil, err
	}

	order := rankAscending(ids, scores)
	selected := make([]int, n)
	for i := 0; i < n; i++ {
		selected[i] = ids[order[i]]
	}
	if err := ValidateSelection(selected, ids, budget); err != nil {
		return nil, err
	}
	return selected, nil
}

// SliceDice computes the Dice of each record's prediction against its ground
// truth. Every record must carry both masks.
func SliceDice(slices []SliceRecord) ([]float64, error) {
	scores := make([]float64, len(slices))
	for i, s := range slices {
		if s.PredMask == nil {
			return nil, fmt.Errorf("%w: slice %d has no prediction mask", ErrMissingField, s.SliceID)
		}
		if s.GTMask == nil {
			return nil, fmt.Errorf("%w: slice %d has no ground truth mask", ErrMissingField, s.SliceID)
		}
		score, err := dice.Compute(*s.PredMask, *s.GTMask)
		if err != nil {
			return nil, fmt.Errorf("slice %d: %w", s.SliceID, err)
		}
		scores[i] = score
	}
	return scores, nil
}
