package evaluation

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

// Fraction is a budget expressed as a share of a patient's slices.
// It encodes as a JSON number, and as a decimal string when keying JSON objects.
type Fraction float64

func (f Fraction) String() string {
	return strconv.FormatFloat(float64(f), 'f', -1, 64)
}

func (f Fraction) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fraction) UnmarshalText(text []byte) error {
	v, err := strconv.ParseFloat(string(text), 64)
	if err != nil {
		return fmt.Errorf("invalid budget fraction %q: %w", text, err)
	}
	*f = Fraction(v)
	return nil
}

func (f Fraction) MarshalJSON() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fraction) UnmarshalJSON(data []byte) error {
	return f.UnmarshalText(bytes.Trim(data, `"`))
}

// AbsoluteBudget converts a fraction into a slice count for a patient with
// numSlices slices. Halves round to even.
func AbsoluteBudget(f Fraction, numSlices int) int {
	return int(math.RoundToEven(float64(f) * float64(numSlices)))
}

// DefaultBudgets are the fractions evaluated when none are configured
var DefaultBudgets = []Fraction{0.05, 0.10, 0.20, 0.30, 0.50}

// Params controls one evaluation run
type Params struct {
	// Budgets are the fractions of slices the expert may correct
	Budgets []Fraction

	// Alpha is the uncertainty weight of the IWUO strategy
	Alpha float64

	// Seed drives the Random strategy
	Seed uint64

	// IncludeOracle adds the ground-truth upper bound to the comparison
	IncludeOracle bool

	// Workers is the number of patients evaluated concurrently
	Workers int
}

// DefaultParams returns the standard comparison protocol
func DefaultParams() Params {
	return Params{
		Budgets: append([]Fraction{}, DefaultBudgets...),
		Alpha:   0.5,
		Seed:    42,
		Workers: 1,
	}
}

// Validate checks that the parameters describe a runnable protocol
func (p Params) Validate() error {
	if len(p.Budgets) == 0 {
		return fmt.Errorf("at least one budget fraction is required")
	}
	for _, b := range p.Budgets {
		if math.IsNaN(float64(b)) || b < 0 || b > 1 {
			return fmt.Errorf("budget fraction must be in [0, 1], got %v", b)
		}
	}
	if math.IsNaN(p.Alpha) || p.Alpha < 0 || p.Alpha > 1 {
		return fmt.Errorf("alpha must be in [0, 1], got %v", p.Alpha)
	}
	if p.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", p.Workers)
	}
	return nil
}
