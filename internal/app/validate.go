package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	payloadschema "github.com/skypol2113/magic-worker/schema"
)

type validateResult struct {
	Scanned int
	Valid   int
	Invalid int
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	dir := fs.String("dir", "testdata/intents", "Directory containing .json intent payloads")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	// Positional arguments name payload files directly and replace --dir.
	files := fs.Args()
	if len(files) == 0 {
		var err error
		files, err = collectPayloadFiles(strings.TrimSpace(*dir), *recursive)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Validation setup failed: %v\n", err)
			return 1
		}
	}

	result := validatePayloadFiles(files, os.Stderr)
	fmt.Printf("validate scanned=%d valid=%d invalid=%d\n", result.Scanned, result.Valid, result.Invalid)

	if result.Scanned == 0 {
		fmt.Fprintln(os.Stderr, "Validation failed: no .json payloads found")
		return 1
	}
	if result.Invalid > 0 {
		return 1
	}
	return 0
}

// validatePayloadFiles checks each file and reports every rejection to report.
func validatePayloadFiles(paths []string, report io.Writer) validateResult {
	result := validateResult{}
	for _, path := range paths {
		result.Scanned++

		raw, err := os.ReadFile(path)
		if err != nil {
			result.Invalid++
			fmt.Fprintf(report, "INVALID %s: read failed: %v\n", path, err)
			continue
		}

		payload, err := payloadschema.ValidateIntentPayload(raw)
		if err != nil {
			result.Invalid++
			fmt.Fprintf(report, "INVALID %s: %v\n", path, err)
			continue
		}
		if payload.ID == "" {
			fmt.Fprintf(report, "NOTE %s: no id, one is generated on publish\n", path)
		}

		result.Valid++
	}
	return result
}

func collectPayloadFiles(root string, recursive bool) ([]string, error) {
	if root == "" {
		return nil, fmt.Errorf("directory path is empty")
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		hidden := strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if path == root {
				return nil
			}
			if hidden || !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !hidden && strings.EqualFold(filepath.Ext(d.Name()), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}
