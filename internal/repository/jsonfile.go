// Package repository provides the persisted catalogs for recanalyzer:
// tasks, task outputs, and CCTV streams. Each catalog is a JSON array on
// disk; every mutation rewrites the file through a write-temp-plus-rename
// so an unclean termination never leaves a half-written catalog.
package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// loadJSON reads a JSON array file into dst. A missing file is not an
// error; dst is left empty.
func loadJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// saveJSON atomically rewrites path with the JSON encoding of src.
// The two-space indent keeps the files diffable and matches the format
// produced by earlier deployments.
func saveJSON(path string, src any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
