package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"slicecorrect/internal/models"
	"slicecorrect/pkg/artifact"
	"slicecorrect/pkg/correction"
	"slicecorrect/pkg/evaluation"
	"slicecorrect/pkg/selection"
	"slicecorrect/pkg/signals"
)

// selectOptions controls selection generation. Budget takes precedence over Fraction.
type selectOptions struct {
	Budget   int
	Fraction float64
	Alpha    float64
}

// patientError is a per-patient failure that does not stop a batch command
type patientError struct {
	PatientID string
	Err       error
}

func (e patientError) Error() string { return fmt.Sprintf("%s: %v", e.PatientID, e.Err) }

// signalPatients lists the patients that have both uncertainty and impact
func signalPatients(ctx context.Context, repo *artifact.Repository) ([]string, error) {
	unc, err := repo.PatientIDs(ctx, artifact.Uncertainty)
	if err != nil {
		return nil, err
	}
	imp, err := repo.PatientIDs(ctx, artifact.Impact)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, id := range unc {
		if slices.Contains(imp, id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// selectAll writes an IWUO selection for every patient with both signals
func selectAll(ctx context.Context, repo *artifact.Repository, opts selectOptions, logger *slog.Logger) ([]models.Selection, []patientError, error) {
	if opts.Budget <= 0 && opts.Fraction <= 0 {
		return nil, nil, fmt.Errorf("%w: set a budget or a budget fraction", selection.ErrInvalidBudget)
	}
	selector, err := selection.NewIWUO(opts.Alpha)
	if err != nil {
		return nil, nil, err
	}
	ids, err := signalPatients(ctx, repo)
	if err != nil {
		return nil, nil, err
	}

	var saved []models.Selection
	var failed []patientError
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return saved, failed, err
		}
		unc, err := repo.LoadUncertainty(ctx, id)
		if err != nil {
			failed = append(failed, patientError{id, err})
			continue
		}
		imp, err := repo.LoadImpact(ctx, id)
		if err != nil {
			failed = append(failed, patientError{id, err})
			continue
		}

		budget := opts.Budget
		if budget <= 0 {
			budget = evaluation.AbsoluteBudget(evaluation.Fraction(opts.Fraction), len(unc.Slices))
		}
		if budget == 0 {
			logger.Warn("budget rounds to zero slices, skipping", "patient", id, "slices", len(unc.Slices))
			continue
		}

		sel, err := selector.SelectForPatient(unc, imp, budget)
		if err != nil {
			failed = append(failed, patientError{id, err})
			continue
		}
		if err := repo.SaveSelection(ctx, sel); err != nil {
			failed = append(failed, patientError{id, err})
			continue
		}
		if logger.Enabled(ctx, slog.LevelDebug) {
			if details, err := selector.Details(unc, imp, budget); err == nil {
				logger.Debug("selection saved", "patient", id, "budget", budget, "selected", len(sel.SelectedSlices),
					"score_mean", details.Summary.Mean, "score_max", details.Summary.Max)
			}
		}
		saved = append(saved, sel)
	}
	return saved, failed, nil
}

// verifyResult lists what is wrong with one saved selection
type verifyResult struct {
	PatientID string
	Problems  []string
}

// OK reports whether the selection passed every check
func (r verifyResult) OK() bool { return len(r.Problems) == 0 }

// verifyAll re-checks every saved selection against the signals it was made from
func verifyAll(ctx context.Context, repo *artifact.Repository) ([]verifyResult, error) {
	ids, err := repo.PatientIDs(ctx, artifact.Selections)
	if err != nil {
		return nil, err
	}
	results := make([]verifyResult, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, verifySelection(ctx, repo, id))
	}
	return results, nil
}

func verifySelection(ctx context.Context, repo *artifact.Repository, id string) verifyResult {
	res := verifyResult{PatientID: id}
	fail := func(format string, args ...interface{}) {
		res.Problems = append(res.Problems, fmt.Sprintf(format, args...))
	}

	sel, err := repo.LoadSelection(ctx, id)
	if err != nil {
		fail("load selection: %v", err)
		return res
	}
	unc, err := repo.LoadUncertainty(ctx, id)
	if err != nil {
		fail("load uncertainty: %v", err)
		return res
	}
	imp, err := repo.LoadImpact(ctx, id)
	if err != nil {
		fail("load impact: %v", err)
		return res
	}

	ids := unc.SliceIDs()
	want, err := selection.EffectiveBudget(sel.Budget, len(ids))
	if err != nil {
		fail("budget: %v", err)
		return res
	}
	if err := selection.ValidateSelection(sel.SelectedSlices, ids, sel.Budget); err != nil {
		fail("%v", err)
	}
	if len(sel.SelectedSlices) != want {
		fail("selected %d slices, expected %d", len(sel.SelectedSlices), want)
	}

	selector, err := selection.NewIWUO(sel.Alpha)
	if err != nil {
		fail("alpha: %v", err)
		return res
	}
	again, err := selector.SelectSignals(unc, imp, sel.Budget)
	if err != nil {
		fail("re-run: %v", err)
		return res
	}
	if !slices.Equal(again, sel.SelectedSlices) {
		fail("not reproducible: saved %v, re-run gives %v", sel.SelectedSlices, again)
	}
	return res
}

// correctAll applies every saved selection and writes the corrected volumes
func correctAll(ctx context.Context, repo *artifact.Repository, logger *slog.Logger) ([]correction.Summary, []patientError, error) {
	ids, err := repo.PatientIDs(ctx, artifact.Selections)
	if err != nil {
		return nil, nil, err
	}

	var summaries []correction.Summary
	var failed []patientError
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summaries, failed, err
		}
		summary, err := correctPatient(ctx, repo, id)
		if err != nil {
			failed = append(failed, patientError{id, err})
			continue
		}
		logger.Debug("corrected volume saved", "patient", id,
			"corrected", summary.NumCorrected, "voxels_changed", summary.VoxelsChanged)
		summaries = append(summaries, summary)
	}
	return summaries, failed, nil
}

func correctPatient(ctx context.Context, repo *artifact.Repository, id string) (correction.Summary, error) {
	sel, err := repo.LoadSelection(ctx, id)
	if err != nil {
		return correction.Summary{}, err
	}
	pred, err := repo.LoadPredictions(ctx, id)
	if err != nil {
		return correction.Summary{}, err
	}
	gt, err := repo.LoadGroundTruth(ctx, id)
	if err != nil {
		return correction.Summary{}, err
	}
	cv, err := correction.ApplySelection(pred, gt, sel)
	if err != nil {
		return correction.Summary{}, err
	}
	if err := repo.SaveCorrected(ctx, cv); err != nil {
		return correction.Summary{}, err
	}
	return correction.Summarize(pred, cv)
}

// estimateImpactAll writes an impact artifact for every patient with predictions
func estimateImpactAll(ctx context.Context, repo *artifact.Repository, est *signals.ImpactEstimator, logger *slog.Logger) ([]models.Impact, []patientError, error) {
	ids, err := repo.PatientIDs(ctx, artifact.Predictions)
	if err != nil {
		return nil, nil, err
	}

	var written []models.Impact
	var failed []patientError
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return written, failed, err
		}
		pred, err := repo.LoadPredictions(ctx, id)
		if err != nil {
			failed = append(failed, patientError{id, err})
			continue
		}
		imp, err := est.Estimate(pred)
		if err != nil {
			failed = append(failed, patientError{id, err})
			continue
		}
		if err := repo.SaveImpact(ctx, imp); err != nil {
			failed = append(failed, patientError{id, err})
			continue
		}
		st := signals.Describe(imp.Scores())
		logger.Debug("impact saved", "patient", id, "mean", st.Mean, "std", st.Std, "max", st.Max)
		written = append(written, imp)
	}
	return written, failed, nil
}

// estimateUncertaintyAll writes an uncertainty artifact for every patient with
// Monte Carlo samples
func estimateUncertaintyAll(ctx context.Context, repo *artifact.Repository, keepMaps bool, logger *slog.Logger) ([]models.Uncertainty, []patientError, error) {
	ids, err := repo.PatientIDs(ctx, artifact.Samples)
	if err != nil {
		return nil, nil, err
	}

	var written []models.Uncertainty
	var failed []patientError
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return written, failed, err
		}
		mc, err := repo.LoadSamples(ctx, id)
		if err != nil {
			failed = append(failed, patientError{id, err})
			continue
		}
		unc, err := signals.VolumeUncertainty(id, mc.SliceIDs(), mc.Maps(), keepMaps)
		if err != nil {
			failed = append(failed, patientError{id, err})
			continue
		}
		if err := repo.SaveUncertainty(ctx, unc); err != nil {
			failed = append(failed, patientError{id, err})
			continue
		}
		st := signals.Describe(unc.Scores())
		logger.Debug("uncertainty saved", "patient", id, "mean", st.Mean, "max", st.Max)
		written = append(written, unc)
	}
	return written, failed, nil
}

func printFailures(failed []patientError) {
	if len(failed) == 0 {
		return
	}
	fmt.Printf("\n%d patient(s) failed:\n", len(failed))
	for _, f := range failed {
		fmt.Printf("- %s\n", f.Error())
	}
}

func joinProblems(p []string) string {
	return strings.Join(p, "; ")
}
