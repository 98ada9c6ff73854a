package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/think-ai-agent/examples"
)

// runInit initializes a Think working directory: the data and drive
// directories plus an example config. Existing files are never
// overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Think workspace in %s\n", dir)

	for _, sub := range []string{"data", "drive_data"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// config.yaml may hold API keys, so keep it private.
	if err := writeIfMissing(w, filepath.Join(dir, "config.yaml"), examples.ConfigYAML, 0o600); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set GEMINI_API_KEY (or edit providers in config.yaml), then run: think serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not already
// exist, reporting what it did to w. This ensures init never overwrites
// user customizations.
func writeIfMissing(w io.Writer, path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  - %s (exists, skipping)\n", path)
		return nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
