package selection

import (
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slicecorrect/internal/models"
)

func scoredPool(unc, imp []float64) []SliceRecord {
	pool := make([]SliceRecord, len(unc))
	for i := range unc {
		u, m := unc[i], imp[i]
		pool[i] = SliceRecord{SliceID: i, Uncertainty: &u, Impact: &m}
	}
	return pool
}

func idPool(ids ...int) []SliceRecord {
	pool := make([]SliceRecord, len(ids))
	for i, id := range ids {
		pool[i] = SliceRecord{SliceID: id}
	}
	return pool
}

func signals(patient string, unc, imp []float64) (models.Uncertainty, models.Impact) {
	u := models.Uncertainty{PatientID: patient}
	m := models.Impact{PatientID: patient}
	for i := range unc {
		u.Slices = append(u.Slices, models.UncertaintySlice{SliceID: i, SliceUncertainty: unc[i]})
		m.Slices = append(m.Slices, models.ImpactSlice{SliceID: i, ImpactScore: imp[i]})
	}
	return u, m
}

// TestIWUOSelectsHighestJointScore verifies the single salient slice is found
func TestIWUOSelectsHighestJointScore(t *testing.T) {
	unc := make([]float64, 50)
	imp := make([]float64, 50)
	for i := range unc {
		unc[i], imp[i] = 0.1, 0.1
	}
	unc[10], imp[10] = 0.9, 0.9

	s, err := NewIWUO(0.5)
	require.NoError(t, err)

	selected, err := s.Select(scoredPool(unc, imp), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, selected)

	u, m := signals("p1", unc, imp)
	fromSignals, err := s.SelectSignals(u, m, 1)
	require.NoError(t, err)
	assert.Equal(t, selected, fromSignals)
}

// TestIWUOExtremes checks that alpha=1 and alpha=0 reduce to single-signal ranking
func TestIWUOExtremes(t *testing.T) {
	unc := []float64{0.2, 0.9, 0.5, 0.9, 0.1}
	imp := []float64{0.8, 0.1, 0.7, 0.3, 0.95}

	testCases := []struct {
		name     string
		alpha    float64
		budget   int
		expected []int
	}{
		// ties at 0.9 resolve to the lower slice id
		{"uncertainty only", 1.0, 3, []int{1, 3, 2}},
		{"impact only", 0.0, 3, []int{4, 0, 2}},
		{"impact only full budget", 0.0, 5, []int{4, 0, 2, 3, 1}},
	}

	for _, tc := range testCases {
		s, err := NewIWUO(tc.alpha)
		if err != nil {
			t.Fatalf("%s: NewIWUO: %v", tc.name, err)
		}
		got, err := s.Select(scoredPool(unc, imp), tc.budget)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.expected) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func TestIWUOTieBreakIsDeterministic(t *testing.T) {
	unc := []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
	s, _ := NewIWUO(0.3)
	for i := 0; i < 5; i++ {
		got, err := s.Select(scoredPool(unc, unc), 3)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2}, got)
	}
}

func TestIWUOPreconditions(t *testing.T) {
	s, err := NewIWUO(0.5)
	require.NoError(t, err)

	_, err = NewIWUO(1.5)
	assert.Error(t, err, "alpha outside [0,1] should be rejected")

	u, m := signals("p1", []float64{0.1, 0.2}, []float64{0.3, 0.4})
	m.Slices[1].SliceID = 7
	_, err = s.SelectSignals(u, m, 1)
	assert.ErrorIs(t, err, models.ErrMisaligned)

	u, m = signals("p1", []float64{0.1, 1.2}, []float64{0.3, 0.4})
	_, err = s.SelectSignals(u, m, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	u, m = signals("p1", []float64{0.1, 0.2}, []float64{0.3, 0.4})
	_, err = s.SelectSignals(u, m, 0)
	assert.ErrorIs(t, err, ErrInvalidBudget)

	m.PatientID = "p2"
	_, err = s.SelectSignals(u, m, 1)
	assert.ErrorIs(t, err, models.ErrPatientMismatch)

	_, err = s.Select(idPool(0, 1), 1)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestIWUODetailsAndArtifact(t *testing.T) {
	s, _ := NewIWUO(0.5)
	u, m := signals("p7", []float64{0.2, 0.6, 1.0}, []float64{0.4, 0.0, 0.6})

	d, err := s.Details(u, m, 2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.3, 0.3, 0.8}, d.JointScores, 1e-12)
	assert.Equal(t, []int{2, 0}, d.Selected)
	assert.InDelta(t, 0.8, d.Summary.Max, 1e-12)
	assert.InDelta(t, 0.3, d.Summary.Min, 1e-12)
	assert.InDelta(t, 1.4/3, d.Summary.Mean, 1e-12)

	sel, err := s.SelectForPatient(u, m, 2)
	require.NoError(t, err)
	assert.Equal(t, models.Selection{PatientID: "p7", Budget: 2, Alpha: 0.5, SelectedSlices: []int{2, 0}}, sel)
}

// TestRandomReproducible verifies that a fixed seed reproduces its selection
func TestRandomReproducible(t *testing.T) {
	pool := idPool(rangeIDs(50)...)

	first, err := NewRandom(42).Select(pool, 10)
	require.NoError(t, err)
	second, err := NewRandom(42).Select(pool, 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	r := NewRandom(42)
	again, _ := r.Select(pool, 10)
	again2, _ := r.Select(pool, 10)
	assert.Equal(t, again, again2, "repeated calls on one instance must agree")

	other, err := NewRandom(123).Select(pool, 10)
	require.NoError(t, err)
	assert.NotEqual(t, sortedCopy(first), sortedCopy(other))
}

func TestUniformPositions(t *testing.T) {
	testCases := []struct {
		name     string
		depth    int
		budget   int
		expected []int
	}{
		{"one of ten", 10, 1, []int{5}},
		{"two of nine", 9, 2, []int{3, 6}},
		{"four of five", 5, 4, []int{1, 2, 3, 4}},
		// no one-slice shift toward the start
		{"three of twenty", 20, 3, []int{5, 10, 15}},
	}

	for _, tc := range testCases {
		got := UniformPositions(tc.depth, tc.budget)
		if !reflect.DeepEqual(got, tc.expected) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

// TestUniformCoverage verifies the selection spans most of the depth range
func TestUniformCoverage(t *testing.T) {
	selected, err := NewUniform().Select(idPool(rangeIDs(100)...), 10)
	require.NoError(t, err)
	require.Len(t, selected, 10)

	s := sortedCopy(selected)
	span := float64(s[len(s)-1]-s[0]) / 99
	if span < 0.7 {
		t.Errorf("Expected span of at least 70%% of depth, got %.2f", span)
	}
	assert.NotContains(t, selected, 0)
	assert.NotContains(t, selected, 99)
}

func TestUniformUsesSortedIDs(t *testing.T) {
	selected, err := NewUniform().Select(idPool(40, 10, 30, 20), 1)
	require.NoError(t, err)
	// position round(4/2) = 2 in sorted order
	assert.Equal(t, []int{30}, selected)

	all, err := NewUniform().Select(idPool(3, 1, 2), 5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, all)
}

func TestOracleSelectsWorstSlices(t *testing.T) {
	good := models.MaskFromRows([][]uint8{{1, 1}, {0, 0}})
	half := models.MaskFromRows([][]uint8{{1, 0}, {0, 0}})
	miss := models.MaskFromRows([][]uint8{{0, 0}, {1, 1}})

	pool := []SliceRecord{
		{SliceID: 0, PredMask: &good, GTMask: &good},
		{SliceID: 1, PredMask: &miss, GTMask: &good},
		{SliceID: 2, PredMask: &half, GTMask: &good},
		{SliceID: 3, PredMask: &miss, GTMask: &good},
	}

	selected, err := NewOracle().Select(pool, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 2}, selected)

	pool[2].GTMask = nil
	_, err = NewOracle().Select(pool, 1)
	assert.True(t, errors.Is(err, ErrMissingField), "expected ErrMissingField, got %v", err)
}

// TestStrategyContract runs every strategy through the shared budget rules
func TestStrategyContract(t *testing.T) {
	n := 12
	unc := make([]float64, n)
	imp := make([]float64, n)
	masks := make([]models.Mask, n)
	for i := 0; i < n; i++ {
		unc[i] = float64(i%5) / 5
		imp[i] = float64((i*7)%11) / 11
		masks[i] = models.NewMask(2, 2)
		masks[i].Data[i%4] = 1
	}
	pool := scoredPool(unc, imp)
	for i := range pool {
		pool[i].PredMask = &masks[i]
		pool[i].GTMask = &masks[(i+1)%n]
	}

	iwuo, _ := NewIWUO(0.5)
	strategies := []Strategy{iwuo, NewRandom(7), NewUniform(), NewOracle(), FirstB{}}
	ids := rangeIDs(n)

	for _, s := range strategies {
		for _, budget := range []int{1, 5, n, n + 3} {
			got, err := s.Select(pool, budget)
			if err != nil {
				t.Errorf("%s budget %d: unexpected error: %v", s.Name(), budget, err)
				continue
			}
			expected := budget
			if expected > n {
				expected = n
			}
			if len(got) != expected {
				t.Errorf("%s budget %d: expected %d slices, got %d", s.Name(), budget, expected, len(got))
			}
			if err := ValidateSelection(got, ids, budget); err != nil {
				t.Errorf("%s budget %d: %v", s.Name(), budget, err)
			}
		}

		if _, err := s.Select(pool, 0); !errors.Is(err, ErrInvalidBudget) {
			t.Errorf("%s: expected ErrInvalidBudget for budget 0, got %v", s.Name(), err)
		}
		got, err := s.Select(nil, 3)
		if err != nil || len(got) != 0 {
			t.Errorf("%s: expected empty selection for empty pool, got %v, %v", s.Name(), got, err)
		}
	}
}

func TestValidateSelection(t *testing.T) {
	all := []int{0, 1, 2, 3}
	testCases := []struct {
		name     string
		selected []int
		budget   int
		wantErr  bool
	}{
		{"valid", []int{3, 1}, 2, false},
		{"over budget", []int{0, 1, 2}, 2, true},
		{"duplicate", []int{1, 1}, 2, true},
		{"unknown id", []int{9}, 2, true},
		{"empty", nil, 1, false},
	}

	for _, tc := range testCases {
		err := ValidateSelection(tc.selected, all, tc.budget)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: expected error=%v, got %v", tc.name, tc.wantErr, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidSelection) {
			t.Errorf("%s: expected ErrInvalidSelection, got %v", tc.name, err)
		}
	}
}

func TestPoolBuilders(t *testing.T) {
	pred := models.Predictions{PatientID: "p1", Slices: []models.PredictionSlice{
		{SliceID: 3, PredMask: models.NewMask(1, 1)},
		{SliceID: 5, PredMask: models.NewMask(1, 1)},
	}}
	gt := models.GroundTruth{PatientID: "p1", Slices: []models.GroundTruthSlice{
		{SliceID: 3, Mask: models.NewMask(1, 1)},
		{SliceID: 5, Mask: models.NewMask(1, 1)},
	}}
	unc := models.Uncertainty{PatientID: "p1", Slices: []models.UncertaintySlice{{SliceID: 3, SliceUncertainty: 0.4}, {SliceID: 5, SliceUncertainty: 0.6}}}
	imp := models.Impact{PatientID: "p1", Slices: []models.ImpactSlice{{SliceID: 3, ImpactScore: 0.2}, {SliceID: 5}}}

	pool := NewPool(pred)
	require.NoError(t, AttachSignals(pool, unc, imp))
	assert.Nil(t, pool[0].GTMask)
	assert.Equal(t, 0.6, *pool[1].Uncertainty)

	oracle := ClonePool(pool)
	require.NoError(t, AttachGroundTruth(oracle, gt))
	assert.NotNil(t, oracle[0].GTMask)
	assert.Nil(t, pool[0].GTMask, "cloned pool must not leak ground truth")

	gt.Slices[1].SliceID = 6
	assert.ErrorIs(t, AttachGroundTruth(ClonePool(pool), gt), models.ErrMisaligned)
}

func rangeIDs(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func sortedCopy(ids []int) []int {
	out := append([]int{}, ids...)
	sort.Ints(out)
	return out
}
