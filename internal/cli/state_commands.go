package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"asset-harvester/internal/archive"
	"asset-harvester/internal/config"
	"asset-harvester/internal/model"
)

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	flags := config.BindFlags(fs)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := flags.Resolve()
	if err != nil {
		return err
	}

	report, err := archive.Status(cfg)
	if errors.Is(err, model.ErrNotFound) {
		if *jsonOut {
			return printJSON(report)
		}
		fmt.Fprintf(stdout, "no run state found in %s\n", cfg.StateDir)
		fmt.Fprintln(stdout, "next: asset-harvester run --seeds <url>")
		return nil
	}
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(report)
	}

	w := stdout
	fmt.Fprintln(w, dashTitleStyle.Render("run status"))
	fmt.Fprintf(w, "run_id: %s\n", report.RunID)
	fmt.Fprintf(w, "state_dir: %s\n", report.StateDir)
	fmt.Fprintf(w, "seeds: %s\n", orNone(strings.Join(report.Seeds, ", ")))
	if !report.LastPersistedAt.IsZero() {
		fmt.Fprintf(w, "last_persisted_at: %s\n", report.LastPersistedAt.Format(time.RFC3339))
	}
	c := report.Counts
	fmt.Fprintf(w, "total: %d\n", c.Total)
	fmt.Fprintf(w, "completed: %d\n", c.Completed)
	fmt.Fprintf(w, "skipped: %d\n", c.Skipped)
	fmt.Fprintf(w, "queued: %d\n", c.Queued+c.Discovered)
	failed := fmt.Sprintf("%d", c.Failed)
	if c.Failed > 0 {
		failed = dashErrorStyle.Render(failed)
	}
	fmt.Fprintf(w, "failed: %s\n", failed)
	fmt.Fprintf(w, "downloaded_bytes: %s\n", archive.FormatBytes(c.CompletedBytes))
	fmt.Fprintf(w, "lock: %s\n", lockSummary(report))
	for _, se := range report.SeedErrors {
		fmt.Fprintf(w, "seed_error: %s [%s] %s\n", se.Seed, se.Kind, se.Message)
	}
	if len(report.Failed) > 0 {
		fmt.Fprintln(w, dashErrorStyle.Render("failed items:"))
		for _, f := range report.Failed {
			marker := ""
			if f.Exhausted {
				marker = " (max attempts)"
			}
			fmt.Fprintf(w, "  %s attempts=%d reason=%s%s\n", f.Path, f.Attempts, orNone(f.Reason), marker)
			if f.LastError != "" {
				fmt.Fprintf(w, "    %s\n", f.LastError)
			}
		}
	}
	return nil
}

func lockSummary(report archive.StatusReport) string {
	l := report.Lock
	switch {
	case !l.Held:
		return dashOKStyle.Render("free")
	case l.Owner == nil && l.Stale:
		return "stale (no owner recorded, recovered by the next run)"
	case l.Owner == nil:
		return "held (owner unknown)"
	case l.Stale:
		return fmt.Sprintf("stale (pid %d since %s, recovered by the next run)", l.Owner.PID, l.Owner.CreatedAt)
	default:
		return fmt.Sprintf("held by pid %d since %s", l.Owner.PID, l.Owner.CreatedAt)
	}
}

func runManifest(args []string) error {
	fs := flag.NewFlagSet("manifest", flag.ContinueOnError)
	flags := config.BindFlags(fs)
	out := fs.String("out", "", "write the manifest here instead of the configured manifest path")
	verify := fs.Bool("verify", false, "check the written manifest against the download root")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := flags.Resolve()
	if err != nil {
		return err
	}

	if *verify {
		mismatches, err := archive.VerifyManifest(cfg, strings.TrimSpace(*out))
		if err != nil {
			return err
		}
		if *jsonOut {
			if err := printJSON(map[string]any{"ok": len(mismatches) == 0, "mismatches": mismatches}); err != nil {
				return err
			}
		} else {
			for _, m := range mismatches {
				fmt.Fprintf(stdout, "mismatch: %s [%s] %s\n", m.Path, m.Status, m.Detail)
			}
			fmt.Fprintf(stdout, "verified: %t\n", len(mismatches) == 0)
		}
		if len(mismatches) > 0 {
			return &ExitError{Code: 2, Message: fmt.Sprintf("%d manifest entries do not match the download root", len(mismatches))}
		}
		return nil
	}

	doc, path, err := archive.ExportManifest(cfg, strings.TrimSpace(*out))
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(doc)
	}
	fmt.Fprintf(stdout, "manifest: %s\n", path)
	fmt.Fprintf(stdout, "files: %d\n", len(doc.Files()))
	fmt.Fprintf(stdout, "unresolved: %d\n", len(doc.Unresolved))
	return nil
}

func runClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	flags := config.BindFlags(fs)
	yes := fs.Bool("yes", false, "skip confirmation prompt")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := flags.Resolve()
	if err != nil {
		return err
	}

	if !*yes {
		ok, err := promptConfirm(fmt.Sprintf("Archive the run state in %s? Downloaded files are kept. [y/N]: ", cfg.StateDir))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(stdout, "clear canceled")
			return nil
		}
	}

	dest, err := archive.Clear(cfg)
	if err != nil {
		return err
	}
	if dest == "" {
		fmt.Fprintf(stdout, "no run state found in %s\n", cfg.StateDir)
		return nil
	}
	fmt.Fprintln(stdout, "run state cleared")
	fmt.Fprintf(stdout, "archived_to: %s\n", dest)
	return nil
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	flags := config.BindFlags(fs)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := flags.Resolve()
	if err != nil {
		return err
	}

	res := archive.Doctor(cfg)
	if *jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		for _, c := range res.Checks {
			status := "ok"
			if !c.OK {
				status = "fail"
			}
			fmt.Fprintf(stdout, "%s: %s (%s)\n", c.Name, status, c.Message)
		}
	}
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	return nil
}
