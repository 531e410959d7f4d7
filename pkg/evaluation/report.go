package evaluation

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"slicecorrect/pkg/selection"
)

func sortFailures(f []Failure) []Failure {
	if f == nil {
		return []Failure{}
	}
	sort.Slice(f, func(i, j int) bool { return f[i].PatientID < f[j].PatientID })
	return f
}

// WriteTable prints the aggregate as mean ± std per strategy and budget
func (r *Results) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	header := []string{"Strategy"}
	for _, b := range r.Budgets {
		header = append(header, fmt.Sprintf("%.0f%%", float64(b)*100))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, s := range r.Strategies {
		row := []string{s}
		for _, b := range r.Budgets {
			st := r.Aggregate[s][b]
			row = append(row, fmt.Sprintf("%.4f ± %.4f (n=%d)", st.Mean, st.Std, st.Count))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Best returns the strategy with the highest mean Dice at budget b. The
// uncorrected baseline and the Oracle upper bound are never candidates.
func (r *Results) Best(b Fraction) (string, Stat) {
	var name string
	var best Stat
	for _, s := range r.Strategies {
		if s == NoCorrection || s == selection.NameOracle {
			continue
		}
		st, ok := r.Aggregate[s][b]
		if !ok || st.Count == 0 {
			continue
		}
		if name == "" || st.Mean > best.Mean {
			name, best = s, st
		}
	}
	return name, best
}
