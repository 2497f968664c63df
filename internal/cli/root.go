package cli

import (
	"context"
	"fmt"

	"asset-harvester/internal/archive"
)

// Version is set at build time with -ldflags "-X asset-harvester/internal/cli.Version=...".
var Version = "dev"

// ExitError reports a command that finished but must exit with a non-zero
// status, such as a run that completed with failures or was cancelled. Its
// output has already been printed.
type ExitError struct {
	Code    int
	Outcome archive.Outcome
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "run":
		return runHarvest(ctx, "run", args[1:], false)
	case "discover":
		return runHarvest(ctx, "discover", args[1:], true)
	case "status":
		return runStatus(args[1:])
	case "manifest":
		return runManifest(args[1:])
	case "clear":
		return runClear(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "config":
		return runConfig(args[1:])
	case "version", "--version":
		fmt.Fprintf(stdout, "asset-harvester %s\n", Version)
		return nil
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	w := stdout
	fmt.Fprintln(w, "asset-harvester: resumable crawler and downloader for web pages, Google Drive folders and S3 prefixes")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Quick Start:")
	fmt.Fprintln(w, "  asset-harvester run --seeds https://example.com/docs/ --download-root downloads")
	fmt.Fprintln(w, "  asset-harvester status")
	fmt.Fprintln(w, "  asset-harvester run            # resume with the seeds stored in the run state")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run       discover, plan and download; safe to rerun at any time")
	fmt.Fprintln(w, "  discover  discover and plan without downloading")
	fmt.Fprintln(w, "  status    show the stored run state, failed items and the run lock")
	fmt.Fprintln(w, "  manifest  export the manifest, or --verify it against the download root")
	fmt.Fprintln(w, "  clear     archive the run state so the next run starts fresh")
	fmt.Fprintln(w, "  doctor    filesystem, disk, lock and credential preflight checks")
	fmt.Fprintln(w, "  config    show or set settings in harvest.json")
	fmt.Fprintln(w, "  version   print the version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - Every setting can come from harvest.json, HARVEST_<NAME> environment variables or --<name> flags")
	fmt.Fprintln(w, "  - Use --json on commands for machine-readable output")
	fmt.Fprintln(w, "  - Exit status: 0 all completed, 2 completed with failures, 130 cancelled, 1 fatal error")
}
