package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// allowed lists the internal packages each package may import. Lower layers
// never reach up into the run orchestration or the command line.
var allowed = map[string]map[string]bool{
	"cli": {
		"archive":       true,
		"config":        true,
		"model":         true,
		"observability": true,
		"runstore":      true,
	},
	"archive": {
		"config":        true,
		"discovery":     true,
		"manifest":      true,
		"model":         true,
		"observability": true,
		"planner":       true,
		"runstore":      true,
		"transfer":      true,
	},
	"config": {
		"discovery": true,
		"model":     true,
		"retry":     true,
		"runstore":  true,
		"transfer":  true,
	},
	"observability": {
		"model":    true,
		"transfer": true,
	},
	"transfer": {
		"model": true,
		"retry": true,
	},
	"discovery": {"model": true},
	"manifest":  {"model": true, "runstore": true},
	"planner":   {"model": true},
	"retry":     {"model": true},
	"runstore":  {"model": true},
	"model":     {},
}

// restricted third-party imports stay inside the packages that own the
// concern: the terminal UI in cli, browsers and cloud SDKs at the edges.
var restricted = map[string]map[string]bool{
	"github.com/charmbracelet/":           {"cli": true},
	"github.com/playwright-community/":    {"discovery": true},
	"github.com/PuerkitoBio/goquery":      {"discovery": true},
	"github.com/aws/":                     {"discovery": true, "transfer": true, "archive": true},
	"google.golang.org/api/":              {"discovery": true, "transfer": true},
	"github.com/prometheus/client_golang": {"observability": true},
}

func main() {
	var violations []string
	err := filepath.WalkDir("internal", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		found, err := checkFile(path)
		if err != nil {
			return err
		}
		violations = append(violations, found...)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "boundary walk failed: %v\n", err)
		os.Exit(1)
	}

	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "architecture boundary violations detected:")
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "- %s\n", v)
		}
		os.Exit(1)
	}
	fmt.Println("architecture boundary check: OK")
}

func checkFile(path string) ([]string, error) {
	srcPkg := sourcePackage(path)
	if srcPkg == "" {
		return nil, nil
	}
	allowMap, ok := allowed[srcPkg]
	if !ok {
		return []string{fmt.Sprintf("%s: unknown source package %q", path, srcPkg)}, nil
	}

	file, err := parser.ParseFile(token.NewFileSet(), path, nil, parser.ImportsOnly)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, imp := range file.Imports {
		impPath := strings.Trim(imp.Path.Value, "\"")
		if tgtPkg, ok := targetPackage(impPath); ok {
			if tgtPkg != srcPkg && !allowMap[tgtPkg] {
				out = append(out, fmt.Sprintf("%s: %s -> %s is forbidden", path, srcPkg, tgtPkg))
			}
			continue
		}
		for prefix, owners := range restricted {
			if strings.HasPrefix(impPath, prefix) && !owners[srcPkg] {
				out = append(out, fmt.Sprintf("%s: %s may not import %s", path, srcPkg, impPath))
			}
		}
	}
	return out, nil
}

func sourcePackage(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) < 2 || parts[0] != "internal" {
		return ""
	}
	return parts[1]
}

func targetPackage(importPath string) (string, bool) {
	const prefix = "asset-harvester/internal/"
	if !strings.HasPrefix(importPath, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(importPath, prefix)
	if rest == "" {
		return "", false
	}
	parts := strings.Split(rest, "/")
	return parts[0], true
}
