// Package evaluation compares selection strategies across a patient cohort.
//
// For every patient and every budget fraction f the harness converts f into
// an absolute slice budget, runs each strategy, simulates the expert
// correction and scores the corrected volume with volume Dice. Scores are
// then aggregated per (strategy, budget) across the cohort.
//
// A budget that rounds to zero slices is a no-op: every strategy reports the
// uncorrected baseline for that budget. A patient whose evaluation fails is
// logged and skipped without aborting the run.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"slicecorrect/internal/models"
	"slicecorrect/pkg/correction"
	"slicecorrect/pkg/dice"
	"slicecorrect/pkg/selection"
)

// NoCorrection is the label of the uncorrected baseline
const NoCorrection = "No Correction"

// ErrEmptyCohort is returned when no patient could be evaluated
var ErrEmptyCohort = errors.New("no eligible patients")

// Failure records a patient skipped during a run
type Failure struct {
	PatientID string `json:"patient_id"`
	Error     string `json:"error"`
}

// Results is the evaluation artifact of one run
type Results struct {
	RunID      string                       `json:"run_id"`
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at"`
	Alpha      float64                      `json:"alpha"`
	Seed       uint64                       `json:"seed"`
	Budgets    []Fraction                   `json:"budgets"`
	Strategies []string                     `json:"strategies"`
	PerPatient map[string]PatientScores     `json:"per_patient"`
	Aggregate  map[string]map[Fraction]Stat `json:"aggregate"`
	Excluded   []string                     `json:"excluded"`
	Missing    map[string]int               `json:"missing,omitempty"`
	Failed     []Failure                    `json:"failed"`
}

// Harness runs the multi-strategy, multi-budget comparison
type Harness struct {
	source     Source
	params     Params
	strategies []selection.Strategy
	logger     *slog.Logger
	metrics    *Metrics
}

// Option configures a Harness
type Option func(*Harness)

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics records run telemetry on m
func WithMetrics(m *Metrics) Option {
	return func(h *Harness) { h.metrics = m }
}

// NewHarness builds the strategy line-up from params
func NewHarness(source Source, params Params, opts ...Option) (*Harness, error) {
	if source == nil {
		return nil, fmt.Errorf("evaluation source is required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	uncOnly, err := selection.NewNamedIWUO(selection.NameUncertaintyOnly, 1.0)
	if err != nil {
		return nil, err
	}
	impOnly, err := selection.NewNamedIWUO(selection.NameImpactOnly, 0.0)
	if err != nil {
		return nil, err
	}
	iwuo, err := selection.NewIWUO(params.Alpha)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		source: source,
		params: params,
		strategies: []selection.Strategy{
			selection.NewRandom(params.Seed),
			selection.NewUniform(),
			uncOnly,
			impOnly,
			iwuo,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if params.IncludeOracle {
		h.strategies = append(h.strategies, selection.NewOracle())
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Strategies returns the result labels in report order, baseline first
func (h *Harness) Strategies() []string {
	names := []string{NoCorrection}
	for _, s := range h.strategies {
		names = append(names, s.Name())
	}
	return names
}

// EvaluatePatient scores every strategy at every budget for one patient
func (h *Harness) EvaluatePatient(p Patient) (PatientScores, error) {
	if err := checkPatient(p); err != nil {
		return nil, err
	}

	baseline, err := dice.EvaluateBaseline(p.Predictions, p.GroundTruth)
	if err != nil {
		return nil, err
	}

	pool := selection.NewPool(p.Predictions)
	if err := selection.AttachSignals(pool, p.Uncertainty, p.Impact); err != nil {
		return nil, err
	}
	var oraclePool []selection.SliceRecord
	if h.params.IncludeOracle {
		oraclePool = selection.ClonePool(pool)
		if err := selection.AttachGroundTruth(oraclePool, p.GroundTruth); err != nil {
			return nil, err
		}
	}

	numSlices := len(p.Predictions.Slices)
	scores := PatientScores{NoCorrection: make(map[Fraction]float64, len(h.params.Budgets))}
	for _, s := range h.strategies {
		scores[s.Name()] = make(map[Fraction]float64, len(h.params.Budgets))
	}

	for _, f := range h.params.Budgets {
		scores[NoCorrection][f] = baseline.Dice
		budget := AbsoluteBudget(f, numSlices)

		for _, s := range h.strategies {
			if budget == 0 {
				scores[s.Name()][f] = baseline.Dice
				continue
			}

			candidates := pool
			if s.Name() == selection.NameOracle {
				candidates = oraclePool
			}
			selected, err := s.Select(candidates, budget)
			if err != nil {
				return nil, fmt.Errorf("%s at budget %s: %w", s.Name(), f, err)
			}
			corrected, err := correction.Apply(p.Predictions, p.GroundTruth, selected)
			if err != nil {
				return nil, fmt.Errorf("%s at budget %s: %w", s.Name(), f, err)
			}
			rec, err := dice.EvaluateCorrected(corrected, p.GroundTruth)
			if err != nil {
				return nil, fmt.Errorf("%s at budget %s: %w", s.Name(), f, err)
			}
			scores[s.Name()][f] = rec.Dice
			h.metrics.observeDice(s.Name(), f, rec.Dice)
		}
	}

	h.logger.Debug("patient evaluated",
		"patient", p.ID, "slices", numSlices, "baseline_dice", baseline.Dice)
	return scores, nil
}

// checkPatient verifies that the four artifacts describe one patient with
// aligned slice ids
func checkPatient(p Patient) error {
	for _, id := range []string{p.Predictions.PatientID, p.GroundTruth.PatientID, p.Uncertainty.PatientID, p.Impact.PatientID} {
		if err := models.CheckPatient(p.ID, id); err != nil {
			return err
		}
	}
	ids := p.Predictions.SliceIDs()
	if err := models.CheckAlignment("predictions", ids, "ground truth", p.GroundTruth.SliceIDs()); err != nil {
		return err
	}
	if err := models.CheckAlignment("predictions", ids, "uncertainty", p.Uncertainty.SliceIDs()); err != nil {
		return err
	}
	if err := models.CheckAlignment("predictions", ids, "impact", p.Impact.SliceIDs()); err != nil {
		return err
	}
	_, err := models.IndexByID(ids)
	return err
}

type patientResult struct {
	id       string
	scores   PatientScores
	err      error
	duration time.Duration
}

// Run evaluates the whole cohort. Patients are processed by Params.Workers
// goroutines; results are merged by the calling goroutine only.
func (h *Harness) Run(ctx context.Context) (*Results, error) {
	started := time.Now().UTC()

	report, err := h.source.Cohort(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cohort: %w", err)
	}
	h.metrics.excluded(len(report.Excluded))
	for _, id := range report.Excluded {
		h.logger.Warn("patient excluded for missing artifacts", "patient", id)
	}
	if len(report.Patients) == 0 {
		return nil, fmt.Errorf("%w: %d patients excluded for missing artifacts", ErrEmptyCohort, len(report.Excluded))
	}

	h.logger.Info("evaluation started",
		"patients", len(report.Patients), "budgets", len(h.params.Budgets),
		"strategies", len(h.strategies)+1, "workers", h.params.Workers)

	jobs := make(chan string)
	resultChan := make(chan patientResult, len(report.Patients))

	workers := h.params.Workers
	if workers > len(report.Patients) {
		workers = len(report.Patients)
	}
	for w := 0; w < workers; w++ {
		go func() {
			for id := range jobs {
				resultChan <- h.runPatient(ctx, id)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, id := range report.Patients {
			select {
			case jobs <- id:
			case <-ctx.Done():
				return
			}
		}
	}()

	perPatient := make(map[string]PatientScores, len(report.Patients))
	var failed []Failure
	for completed := 0; completed < len(report.Patients); {
		select {
		case res := <-resultChan:
			completed++
			h.metrics.patientDone(res.duration.Seconds(), res.err != nil)
			if res.err != nil {
				h.logger.Error("patient evaluation failed", "patient", res.id, "error", res.err)
				failed = append(failed, Failure{PatientID: res.id, Error: res.err.Error()})
				continue
			}
			perPatient[res.id] = res.scores
			h.logger.Info("patient done", "patient", res.id,
				"progress", fmt.Sprintf("%d/%d", completed, len(report.Patients)))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if len(perPatient) == 0 {
		return nil, fmt.Errorf("%w: all %d patients failed", ErrEmptyCohort, len(failed))
	}

	strategies := h.Strategies()
	missing := make(map[string]int, len(report.Missing))
	for c, n := range report.Missing {
		missing[string(c)] = n
	}
	results := &Results{
		RunID:      uuid.NewString(),
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Alpha:      h.params.Alpha,
		Seed:       h.params.Seed,
		Budgets:    append([]Fraction{}, h.params.Budgets...),
		Strategies: strategies,
		PerPatient: perPatient,
		Aggregate:  Aggregate(perPatient, strategies, h.params.Budgets),
		Excluded:   append([]string{}, report.Excluded...),
		Missing:    missing,
		Failed:     sortFailures(failed),
	}

	h.logger.Info("evaluation finished", "run_id", results.RunID,
		"evaluated", len(perPatient), "failed", len(failed), "excluded", len(report.Excluded))
	return results, nil
}

// runPatient loads and evaluates one patient, turning panics into errors
func (h *Harness) runPatient(ctx context.Context, id string) (res patientResult) {
	start := time.Now()
	res.id = id
	defer func() {
		if r := recover(); r != nil {
			res.scores = nil
			res.err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
		res.duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}
	p, err := h.source.LoadPatient(ctx, id)
	if err != nil {
		res.err = fmt.Errorf("failed to load patient: %w", err)
		return res
	}
	if p.ID == "" {
		p.ID = id
	}
	res.scores, res.err = h.EvaluatePatient(p)
	return res
}
