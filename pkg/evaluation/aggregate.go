package evaluation

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Stat summarises one (strategy, budget) cell across the cohort
type Stat struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Count int     `json:"count"`
}

// PatientScores maps strategy to budget fraction to volume Dice for one patient
type PatientScores map[string]map[Fraction]float64

// Aggregate computes the population mean and standard deviation of every
// (strategy, budget) cell over the patients that produced a score. Cells
// without any score report zeros rather than being omitted.
func Aggregate(perPatient map[string]PatientScores, strategies []string, budgets []Fraction) map[string]map[Fraction]Stat {
	ids := make([]string, 0, len(perPatient))
	for id := range perPatient {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]map[Fraction]Stat, len(strategies))
	for _, s := range strategies {
		out[s] = make(map[Fraction]Stat, len(budgets))
		for _, b := range budgets {
			var scores []float64
			for _, id := range ids {
				if v, ok := perPatient[id][s][b]; ok {
					scores = append(scores, v)
				}
			}
			if len(scores) == 0 {
				out[s][b] = Stat{}
				continue
			}
			mean, std := stat.PopMeanStdDev(scores, nil)
			out[s][b] = Stat{Mean: mean, Std: std, Count: len(scores)}
		}
	}
	return out
}
