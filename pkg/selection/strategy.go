// Package selection implements the slice selection strategies that decide
// which slices an expert corrects under a hard budget.
//
// Every strategy satisfies the same contract: given an ordered pool of slice
// records and a positive budget B, it returns min(B, len(pool)) distinct slice
// ids drawn from the pool. Strategies that need per-slice fields the pool does
// not carry fail with ErrMissingField instead of defaulting.
package selection

import (
	"errors"
	"fmt"

	"slicecorrect/internal/models"
)

// Strategy names as they appear in evaluation results
const (
	NameRandom          = "Random"
	NameUniform         = "Uniform"
	NameUncertaintyOnly = "Uncertainty-Only"
	NameImpactOnly      = "Impact-Only"
	NameIWUO            = "IWUO"
	NameOracle          = "Oracle (Upper Bound)"
	NameFirstB          = "First-B"
)

var (
	// ErrInvalidBudget is returned for budgets that are not positive
	ErrInvalidBudget = errors.New("budget must be positive")

	// ErrOutOfRange is returned when a signal score lies outside [0,1]
	ErrOutOfRange = errors.New("score outside [0,1]")

	// ErrMissingField is returned when a strategy needs a per-slice field the pool lacks
	ErrMissingField = errors.New("slice record missing required field")

	// ErrInvalidSelection is returned when a selection breaks the budget,
	// repeats an id or names an id outside the pool
	ErrInvalidSelection = errors.New("invalid selection")
)

// SliceRecord is the per-slice view a strategy decides on.
// Optional fields are nil when the pool was built without that signal.
type SliceRecord struct {
	SliceID int

	// Uncertainty is the epistemic uncertainty score in [0,1]
	Uncertainty *float64

	// Impact is the volumetric impact score in [0,1]
	Impact *float64

	// PredMask is the binary prediction mask
	PredMask *models.Mask

	// GTMask is the ground truth mask. Only the oracle may read it.
	GTMask *models.Mask
}

// Strategy is the capability shared by all selection policies
type Strategy interface {
	// Name returns the label used in evaluation results
	Name() string

	// Select returns the slice ids to correct under the given budget
	Select(slices []SliceRecord, budget int) ([]int, error)
}

// EffectiveBudget returns min(budget, numSlices), rejecting non-positive budgets
func EffectiveBudget(budget, numSlices int) (int, error) {
	if budget <= 0 {
		return 0, fmt.Errorf("%w, got %d", ErrInvalidBudget, budget)
	}
	if budget > numSlices {
		return numSlices, nil
	}
	return budget, nil
}

// ValidateSelection checks the selection invariants shared by every strategy:
// at most budget ids, no duplicates, and every id present in all.
func ValidateSelection(selected, all []int, budget int) error {
	if len(selected) > budget {
		return fmt.Errorf("%w: selected %d slices with budget %d", ErrInvalidSelection, len(selected), budget)
	}

	valid := make(map[int]struct{}, len(all))
	for _, id := range all {
		valid[id] = struct{}{}
	}

	seen := make(map[int]struct{}, len(selected))
	for _, id := range selected {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: slice %d selected twice", ErrInvalidSelection, id)
		}
		seen[id] = struct{}{}
		if _, ok := valid[id]; !ok {
			return fmt.Errorf("%w: slice %d not in available slices", ErrInvalidSelection, id)
		}
	}
	return nil
}

// FirstB selects the first B slices in pool order. It exists to exercise the
// contract in tests and is never used as a comparison strategy.
type FirstB struct{}

func (FirstB) Name() string { return NameFirstB }

func (FirstB) Select(slices []SliceRecord, budget int) ([]int, error) {
	ids := poolIDs(slices)
	n, err := EffectiveBudget(budget, len(ids))
	if err != nil {
		return nil, err
	}
	selected := append([]int{}, ids[:n]...)
	if err := ValidateSelection(selected, ids, budget); err != nil {
		return nil, err
	}
	return selected, nil
}

// poolIDs returns the slice ids of the pool in order
func poolIDs(slices []SliceRecord) []int {
	ids := make([]int, len(slices))
	for i, s := range slices {
		ids[i] = s.SliceID
	}
	return ids
}

// checkUnique rejects pools that list the same slice twice
func checkUnique(ids []int) error {
	_, err := models.IndexByID(ids)
	return err
}
