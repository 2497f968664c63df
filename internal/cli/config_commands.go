package cli

import (
	"flag"
	"fmt"
	"strings"

	"asset-harvester/internal/config"
)

func runConfig(args []string) error {
	if len(args) == 0 {
		printConfigUsage()
		return nil
	}
	switch args[0] {
	case "show":
		return runConfigShow(args[1:])
	case "set":
		return runConfigSet(args[1:])
	case "help", "-h", "--help":
		printConfigUsage()
		return nil
	default:
		printConfigUsage()
		return fmt.Errorf("unknown config subcommand %q", args[0])
	}
}

// runConfigShow prints the effective settings after file, environment and
// flags are applied.
func runConfigShow(args []string) error {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
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

	entries := cfg.Entries()
	if *jsonOut {
		return printJSON(map[string]any{
			"config_path": cfg.File,
			"settings":    entries,
		})
	}
	fmt.Fprintf(stdout, "config: %s\n", orNone(cfg.File))
	for _, e := range entries {
		fmt.Fprintf(stdout, "%s: %s\n", e.Name, orNone(e.Value))
	}
	return nil
}

func runConfigSet(args []string) error {
	fs := flag.NewFlagSet("config set", flag.ContinueOnError)
	file := fs.String("file", config.DefaultFileName, "settings file to update")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: asset-harvester config set [--file path] name=value [name=value ...]")
	}

	updates := make([]config.Override, 0, fs.NArg())
	for _, arg := range fs.Args() {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("invalid setting %q (expected name=value)", arg)
		}
		updates = append(updates, config.Override{Name: strings.TrimSpace(name), Value: value})
	}

	path := strings.TrimSpace(*file)
	if err := config.UpdateFile(path, updates); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "settings updated")
	fmt.Fprintf(stdout, "config: %s\n", path)
	for _, u := range updates {
		if strings.TrimSpace(u.Value) == "" {
			fmt.Fprintf(stdout, "%s: (removed)\n", u.Name)
			continue
		}
		fmt.Fprintf(stdout, "%s: set\n", u.Name)
	}
	return nil
}

func printConfigUsage() {
	w := stdout
	fmt.Fprintln(w, "asset-harvester config: manage harvest.json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  show   print the effective settings (file, HARVEST_* environment, flags)")
	fmt.Fprintln(w, "  set    write name=value pairs; an empty value removes the key")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  asset-harvester config set workers=8 download_root=downloads")
	fmt.Fprintln(w, "  asset-harvester config set seeds=https://example.com/docs/,s3://bucket/prefix/")
}
