package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"slicecorrect/pkg/artifact"
	"slicecorrect/pkg/config"
)

const usage = `usage: slicecorrect <command> [flags]

commands:
  evaluate     compare all selection strategies across the cohort
  select       write IWUO selections for every patient
  verify       re-check saved selections
  correct      apply saved selections and write corrected volumes
  impact       estimate volumetric impact from predictions
  uncertainty  aggregate Monte Carlo samples into slice uncertainty
  render       write TP/FP/FN overlay images for one patient
  runs         list or show recorded evaluation runs
  init-config  write a default configuration file
`

// command is the shared state handed to every subcommand
type command struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	name, args := os.Args[1], os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch name {
	case "evaluate":
		err = cmdEvaluate(ctx, args)
	case "select":
		err = cmdSelect(ctx, args)
	case "verify":
		err = cmdVerify(ctx, args)
	case "correct":
		err = cmdCorrect(ctx, args)
	case "impact":
		err = cmdImpact(ctx, args)
	case "uncertainty":
		err = cmdUncertainty(ctx, args)
	case "render":
		err = cmdRender(ctx, args)
	case "runs":
		err = cmdRuns(ctx, args)
	case "init-config":
		err = cmdInitConfig(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", name, err)
	}
}

// newFlagSet returns a flag set carrying the flags every command accepts
func newFlagSet(name string) (*flag.FlagSet, *string, *bool) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "slicecorrect.yaml", "Path to the YAML configuration file")
	verbose := fs.Bool("v", false, "Enable debug logging")
	return fs, configPath, verbose
}

// setup loads the configuration and builds the logger
func setup(configPath string, verbose bool) (*command, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Output.Verbose = true
	}
	return &command{cfg: cfg, logger: newLogger(cfg.Output.Verbose)}, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// repository opens the configured artifact store
func (c *command) repository(ctx context.Context) (*artifact.Repository, error) {
	store, err := c.cfg.OpenArtifactStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}
	return artifact.NewRepository(store, c.cfg.Layout(), c.logger)
}

func banner(title string) {
	fmt.Println("================================")
	fmt.Println(title)
	fmt.Println("Budget-constrained slice selection for segmentation correction")
	fmt.Println("================================")
}

func cmdInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	path := fs.String("config", "slicecorrect.yaml", "Where to write the configuration file")
	force := fs.Bool("force", false, "Overwrite an existing file")
	fs.Parse(args)

	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", *path)
	}
	if err := config.CreateDefaultConfigFile(*path); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to: %s\n", *path)
	return nil
}
