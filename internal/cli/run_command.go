package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"asset-harvester/internal/archive"
	"asset-harvester/internal/config"
	"asset-harvester/internal/model"
	"asset-harvester/internal/observability"
	"asset-harvester/internal/runstore"
)

const logFileName = "harvest.log"

type plannedItem struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	SourceRef string `json:"source_ref"`
}

type discoverOutput struct {
	archive.Result
	Planned []plannedItem `json:"planned"`
}

// runHarvest implements run and discover. Positional arguments are seeds and
// replace --seeds.
func runHarvest(ctx context.Context, name string, args []string, planOnly bool) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	flags := config.BindFlags(fs)
	jsonOut := fs.Bool("json", false, "print JSON output")
	progress := fs.Bool("progress", true, "show the live dashboard when attached to a terminal")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	var extra []config.Override
	if fs.NArg() > 0 {
		extra = append(extra, config.Override{Name: "seeds", Value: strings.Join(fs.Args(), ",")})
	}
	if planOnly {
		extra = append(extra, config.Override{Name: "plan_only", Value: "true"})
	}
	cfg, err := flags.Resolve(extra...)
	if err != nil {
		return err
	}

	dashboard := *progress && !*jsonOut && !cfg.PlanOnly && stdoutIsTTY() && stdinIsTTY()
	logOut, closeLog, err := logDestination(cfg, dashboard)
	if err != nil {
		return err
	}
	defer closeLog()
	log := observability.NewLogger(observability.LogOptions{Level: cfg.LogLevel, JSON: cfg.LogJSON, Out: logOut})
	if cfg.File != "" {
		log.Debug().Str("file", cfg.File).Msg("settings file applied")
	}
	if len(cfg.Seeds) == 0 && !cfg.NoDiscover {
		log.Info().Msg("no seeds given, using the seeds stored in the run state")
	}

	metrics := observability.NewMetrics()
	if cfg.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, log); err != nil {
				log.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	clients, err := archive.NewClients(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := clients.Close(); err != nil {
			log.Warn().Err(err).Msg("close browser")
		}
	}()
	deps := clients.Deps
	deps.Metrics = metrics

	var planned []model.Item
	deps.OnPlan = func(items []model.Item) { planned = items }

	var res archive.Result
	if dashboard {
		res, err = runWithDashboard(ctx, cfg, deps)
		if err == nil {
			fmt.Fprintf(stdout, "log: %s\n", filepath.Join(cfg.StateDir, logFileName))
		}
	} else {
		res, err = archive.Run(ctx, cfg, deps)
	}
	if err != nil {
		return err
	}

	switch {
	case *jsonOut && cfg.PlanOnly:
		out := discoverOutput{Result: res, Planned: make([]plannedItem, 0, len(planned))}
		for _, it := range planned {
			out.Planned = append(out.Planned, plannedItem{ID: it.ID, Path: it.DestPath, SourceRef: it.SourceRef})
		}
		if err := printJSON(out); err != nil {
			return err
		}
	case *jsonOut:
		if err := printJSON(res); err != nil {
			return err
		}
	default:
		if cfg.PlanOnly {
			printPlan(planned)
		}
		printRunSummary(res)
	}

	if code := res.ExitCode(); code != 0 {
		return &ExitError{Code: code, Outcome: res.Outcome, Message: res.Summary()}
	}
	return nil
}

// logDestination sends logs to stderr, or to a file in the state directory
// while the dashboard owns the terminal.
func logDestination(cfg config.Config, dashboard bool) (io.Writer, func(), error) {
	if !dashboard {
		return os.Stderr, func() {}, nil
	}
	if err := runstore.Mkdir(cfg.StateDir); err != nil {
		return nil, nil, model.Wrap(model.ErrConfig, cfg.StateDir, err)
	}
	path := filepath.Join(cfg.StateDir, logFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, model.Wrap(model.ErrConfig, path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

func printPlan(items []model.Item) {
	fmt.Fprintf(stdout, "plan: %d item(s) to download\n", len(items))
	for _, it := range items {
		fmt.Fprintf(stdout, "  %s <- %s\n", it.DestPath, it.SourceRef)
	}
}

func printRunSummary(res archive.Result) {
	w := stdout
	if res.PlanOnly {
		fmt.Fprintln(w, "plan summary")
	} else {
		fmt.Fprintln(w, "run summary")
	}
	fmt.Fprintf(w, "run_id: %s\n", res.RunID)
	fmt.Fprintf(w, "state_dir: %s\n", res.StateDir)
	fmt.Fprintf(w, "manifest: %s\n", orNone(res.ManifestPath))
	fmt.Fprintf(w, "outcome: %s\n", res.Outcome)
	if res.Reason != "" {
		fmt.Fprintf(w, "reason: %s\n", res.Reason)
	}
	fmt.Fprintf(w, "discovered: %d\n", res.Discovered)
	fmt.Fprintf(w, "enqueued: %d\n", res.Enqueued)
	fmt.Fprintf(w, "skipped_verified: %d\n", res.Skipped)
	fmt.Fprintf(w, "exhausted: %d\n", res.Exhausted)
	fmt.Fprintf(w, "completed_total: %d\n", res.Counts.Completed)
	fmt.Fprintf(w, "skipped_total: %d\n", res.Counts.Skipped)
	fmt.Fprintf(w, "failed_total: %d\n", res.Counts.Failed)
	fmt.Fprintf(w, "queued_total: %d\n", res.Counts.Queued)
	fmt.Fprintf(w, "downloaded_bytes: %s\n", archive.FormatBytes(res.Counts.CompletedBytes))
	fmt.Fprintf(w, "duration: %s\n", res.Duration.Round(time.Millisecond))
	if res.Degraded {
		fmt.Fprintln(w, "warning: run state could not be written, progress of this run is not persisted")
	}
	for _, se := range res.SeedErrors {
		fmt.Fprintf(w, "seed_error: %s [%s] %s\n", se.Seed, se.Kind, se.Message)
	}
	const maxListed = 10
	for i, p := range res.Unresolved {
		if i == maxListed {
			fmt.Fprintf(w, "unresolved: ... %d more (see status)\n", len(res.Unresolved)-maxListed)
			break
		}
		fmt.Fprintf(w, "unresolved: %s\n", p)
	}
	switch res.Outcome {
	case archive.OutcomeCancelled:
		fmt.Fprintln(w, "next: rerun `asset-harvester run` to continue where this run stopped")
	case archive.OutcomeCompletedWithFailures:
		if res.Exhausted > 0 {
			fmt.Fprintln(w, "next: items at max attempts need attention; `asset-harvester clear` resets the run")
		} else {
			fmt.Fprintln(w, "next: rerun `asset-harvester run` to retry failed items")
		}
	}
	if res.PlanOnly && res.Enqueued > 0 {
		fmt.Fprintln(w, "next: `asset-harvester run --no-discover` downloads the planned items")
	}
}
