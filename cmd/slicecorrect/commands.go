package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"slicecorrect/pkg/artifact"
	"slicecorrect/pkg/evaluation"
	"slicecorrect/pkg/results"
	"slicecorrect/pkg/signals"
	"slicecorrect/pkg/visualization"
)

func cmdEvaluate(ctx context.Context, args []string) error {
	fs, configPath, verbose := newFlagSet("evaluate")
	alpha := fs.Float64("alpha", -1, "Override evaluation.alpha")
	workers := fs.Int("workers", 0, "Override evaluation.workers")
	output := fs.String("output", "", "Override output.resultsFile")
	noStore := fs.Bool("no-store", false, "Do not record the run in the results database")
	fs.Parse(args)

	c, err := setup(*configPath, *verbose)
	if err != nil {
		return err
	}
	if *alpha >= 0 {
		c.cfg.Evaluation.Alpha = *alpha
	}
	if *workers > 0 {
		c.cfg.Evaluation.Workers = *workers
	}
	if *output != "" {
		c.cfg.Output.ResultsFile = *output
	}
	params, err := c.cfg.EvaluationParams()
	if err != nil {
		return err
	}
	repo, err := c.repository(ctx)
	if err != nil {
		return err
	}

	banner("IMPACT-WEIGHTED UNCERTAINTY OPTIMIZATION: STRATEGY EVALUATION")

	metrics := evaluation.NewMetrics()
	harness, err := evaluation.NewHarness(evaluation.RepositorySource{Repo: repo}, params,
		evaluation.WithLogger(c.logger), evaluation.WithMetrics(metrics))
	if err != nil {
		return err
	}

	fmt.Printf("Evaluating %d strategies at %d budgets with %d workers...\n",
		len(harness.Strategies()), len(params.Budgets), params.Workers)
	startTime := time.Now()
	res, err := harness.Run(ctx)
	if err != nil {
		return err
	}
	processingTime := time.Since(startTime)

	if c.cfg.Output.ResultsFile != "" {
		if err := writeJSON(c.cfg.Output.ResultsFile, res); err != nil {
			return err
		}
	}
	resultsKey, err := storeResults(ctx, repo, res)
	if err != nil {
		return err
	}

	fmt.Printf("\nEvaluation completed in %.2f seconds (run %s)\n", processingTime.Seconds(), res.RunID)
	fmt.Printf("Patients evaluated: %d, failed: %d, excluded: %d\n\n",
		len(res.PerPatient), len(res.Failed), len(res.Excluded))

	fmt.Println("Mean volume Dice ± std by budget:")
	fmt.Println("=======================================")
	if err := res.WriteTable(os.Stdout); err != nil {
		return err
	}

	fmt.Println("\nBest strategy per budget:")
	for _, b := range res.Budgets {
		if name, st := res.Best(b); name != "" {
			fmt.Printf("- %s: %s (%.4f)\n", b, name, st.Mean)
		}
	}
	for _, f := range res.Failed {
		fmt.Printf("Warning: patient %s failed: %s\n", f.PatientID, f.Error)
	}

	if c.cfg.Output.ResultsFile != "" {
		fmt.Printf("\nResults saved to: %s\n", c.cfg.Output.ResultsFile)
	}
	fmt.Printf("Results stored under artifact key: %s\n", resultsKey)
	if c.cfg.Results.Database != "" && !*noStore {
		if err := recordRun(ctx, c.cfg.Results.Database, res); err != nil {
			return err
		}
		fmt.Printf("Run recorded in: %s\n", c.cfg.Results.Database)
	}
	if c.cfg.Metrics.Textfile != "" {
		if err := ensureDir(c.cfg.Metrics.Textfile); err != nil {
			return err
		}
		if err := metrics.WriteTextfile(c.cfg.Metrics.Textfile); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
		fmt.Printf("Metrics written to: %s\n", c.cfg.Metrics.Textfile)
	}
	return nil
}

// storeResults writes the results next to the artifacts they were computed from
func storeResults(ctx context.Context, repo *artifact.Repository, res *evaluation.Results) (string, error) {
	key := artifact.ResultsKey(res.RunID)
	if err := repo.PutJSON(ctx, key, res); err != nil {
		return "", fmt.Errorf("failed to store results: %w", err)
	}
	return key, nil
}

func recordRun(ctx context.Context, dbPath string, res *evaluation.Results) error {
	if err := ensureDir(dbPath); err != nil {
		return err
	}
	store, err := results.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SaveRun(ctx, res)
}

func cmdSelect(ctx context.Context, args []string) error {
	fs, configPath, verbose := newFlagSet("select")
	budget := fs.Int("budget", 0, "Absolute number of slices to select per patient")
	fraction := fs.Float64("fraction", 0.1, "Fraction of slices to select when -budget is not set")
	alpha := fs.Float64("alpha", -1, "Uncertainty weight (default evaluation.alpha)")
	fs.Parse(args)

	c, err := setup(*configPath, *verbose)
	if err != nil {
		return err
	}
	opts := selectOptions{Budget: *budget, Fraction: *fraction, Alpha: c.cfg.Evaluation.Alpha}
	if *alpha >= 0 {
		opts.Alpha = *alpha
	}
	repo, err := c.repository(ctx)
	if err != nil {
		return err
	}

	banner("IWUO SLICE SELECTION")
	saved, failed, err := selectAll(ctx, repo, opts, c.logger)
	if err != nil {
		return err
	}
	fmt.Printf("Selections written for %d patient(s) with alpha=%.2f\n", len(saved), opts.Alpha)
	printFailures(failed)
	return nil
}

func cmdVerify(ctx context.Context, args []string) error {
	fs, configPath, verbose := newFlagSet("verify")
	fs.Parse(args)

	c, err := setup(*configPath, *verbose)
	if err != nil {
		return err
	}
	repo, err := c.repository(ctx)
	if err != nil {
		return err
	}

	banner("SELECTION VERIFICATION")
	res, err := verifyAll(ctx, repo)
	if err != nil {
		return err
	}

	bad := 0
	for _, r := range res {
		if r.OK() {
			fmt.Printf("PASS %s\n", r.PatientID)
			continue
		}
		bad++
		fmt.Printf("FAIL %s: %s\n", r.PatientID, joinProblems(r.Problems))
	}
	fmt.Printf("\n%d of %d selection(s) verified\n", len(res)-bad, len(res))
	if bad > 0 {
		return fmt.Errorf("%d selection(s) failed verification", bad)
	}
	return nil
}

func cmdCorrect(ctx context.Context, args []string) error {
	fs, configPath, verbose := newFlagSet("correct")
	fs.Parse(args)

	c, err := setup(*configPath, *verbose)
	if err != nil {
		return err
	}
	repo, err := c.repository(ctx)
	if err != nil {
		return err
	}

	banner("EXPERT CORRECTION SIMULATION")
	summaries, failed, err := correctAll(ctx, repo, c.logger)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Patient\tSlices\tCorrected\tVoxels changed")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", s.PatientID, s.NumSlices, s.NumCorrected, s.VoxelsChanged)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	printFailures(failed)
	return nil
}

func cmdImpact(ctx context.Context, args []string) error {
	fs, configPath, verbose := newFlagSet("impact")
	noConnectivity := fs.Bool("no-connectivity", false, "Disable the inter-slice connectivity weight")
	noSqrt := fs.Bool("no-sqrt", false, "Disable the square-root compression")
	fs.Parse(args)

	c, err := setup(*configPath, *verbose)
	if err != nil {
		return err
	}
	repo, err := c.repository(ctx)
	if err != nil {
		return err
	}

	est := signals.NewImpactEstimator()
	est.UseConnectivity = !*noConnectivity
	est.UseSqrt = !*noSqrt

	banner("VOLUMETRIC IMPACT ESTIMATION")
	written, failed, err := estimateImpactAll(ctx, repo, est, c.logger)
	if err != nil {
		return err
	}
	fmt.Printf("Impact written for %d patient(s) (connectivity=%t, sqrt=%t)\n",
		len(written), est.UseConnectivity, est.UseSqrt)
	printFailures(failed)
	return nil
}

func cmdUncertainty(ctx context.Context, args []string) error {
	fs, configPath, verbose := newFlagSet("uncertainty")
	keepMaps := fs.Bool("keep-maps", false, "Store the per-pixel uncertainty maps in the artifact")
	fs.Parse(args)

	c, err := setup(*configPath, *verbose)
	if err != nil {
		return err
	}
	repo, err := c.repository(ctx)
	if err != nil {
		return err
	}

	banner("EPISTEMIC UNCERTAINTY AGGREGATION")
	written, failed, err := estimateUncertaintyAll(ctx, repo, *keepMaps, c.logger)
	if err != nil {
		return err
	}
	fmt.Printf("Uncertainty written for %d patient(s)\n", len(written))
	printFailures(failed)
	return nil
}

func cmdRender(ctx context.Context, args []string) error {
	fs, configPath, verbose := newFlagSet("render")
	patient := fs.String("patient", "", "Patient to render (required)")
	axes := fs.String("axes", "z", "Comma separated axes to render (x, y, z)")
	predictions := fs.Bool("predictions", false, "Render the uncorrected predictions instead of the corrected volume")
	outDir := fs.String("out", "", "Override output.renderDir")
	fs.Parse(args)

	if *patient == "" {
		fs.Usage()
		return errors.New("-patient is required")
	}
	c, err := setup(*configPath, *verbose)
	if err != nil {
		return err
	}
	if *outDir != "" {
		c.cfg.Output.RenderDir = *outDir
	}
	repo, err := c.repository(ctx)
	if err != nil {
		return err
	}

	gt, err := repo.LoadGroundTruth(ctx, *patient)
	if err != nil {
		return err
	}
	var viewer *visualization.Viewer
	kind := "corrected"
	if *predictions {
		kind = "predictions"
		pred, err := repo.LoadPredictions(ctx, *patient)
		if err != nil {
			return err
		}
		viewer, err = visualization.NewPredictionViewer(pred, gt)
		if err != nil {
			return err
		}
	} else {
		cv, err := repo.LoadCorrected(ctx, *patient)
		if err != nil {
			return err
		}
		viewer, err = visualization.NewViewer(cv, gt)
		if err != nil {
			return err
		}
	}

	for _, axis := range strings.Split(*axes, ",") {
		axis = strings.TrimSpace(axis)
		axisDir := filepath.Join(c.cfg.Output.RenderDir, *patient, kind, axis)
		fmt.Printf("Saving %s-axis overlays to: %s\n", axis, axisDir)
		written, err := viewer.SaveSliceSequence(axis, axisDir)
		if err != nil {
			return fmt.Errorf("%s-axis: %w", axis, err)
		}
		c.logger.Debug("overlays written", "axis", axis, "files", len(written))
	}
	fmt.Println("Overlay rendering completed!")
	return nil
}

func cmdRuns(ctx context.Context, args []string) error {
	fs, configPath, verbose := newFlagSet("runs")
	limit := fs.Int("limit", 20, "Maximum number of runs to list (0 for all)")
	show := fs.String("show", "", "Print the results table of one run")
	latest := fs.Bool("latest", false, "Print the results table of the most recent run")
	fs.Parse(args)

	c, err := setup(*configPath, *verbose)
	if err != nil {
		return err
	}
	if c.cfg.Results.Database == "" {
		return errors.New("results.database is not configured")
	}
	store, err := results.NewStore(c.cfg.Results.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	if *show != "" || *latest {
		var res *evaluation.Results
		if *latest {
			res, err = store.LatestRun(ctx)
		} else {
			res, err = store.LoadRun(ctx, *show)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Run %s (alpha=%.2f, seed=%d, %d patients)\n\n", res.RunID, res.Alpha, res.Seed, len(res.PerPatient))
		return res.WriteTable(os.Stdout)
	}

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Run\tStarted\tDuration\tAlpha\tPatients\tFailed")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%.1fs\t%.2f\t%d\t%d\n", r.RunID, r.StartedAt.Format(time.RFC3339),
			r.FinishedAt.Sub(r.StartedAt).Seconds(), r.Alpha, r.NumPatients, r.NumFailed)
	}
	return tw.Flush()
}

func writeJSON(path string, v interface{}) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0644)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return nil
}
