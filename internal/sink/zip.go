// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
)

// WriteArchive writes a zip archive at path holding one <source>.csv per
// source of the footprint. The archive is written next to path and renamed
// once complete; on failure path is left as it was.
func WriteArchive(path string, fp accounting.Footprint) (err error) {
	dir := filepath.Dir(path)
	if err := ensureDir(dir); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	archive := zip.NewWriter(f)
	for _, src := range fp.Sources() {
		w, err := archive.Create(src.String() + ".csv")
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := WriteCSV(w, fp[src]); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := archive.Close(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	// CreateTemp uses 0600
	if err := os.Chmod(tmp, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ArchivePath returns the archive written for the dataset named name
func ArchivePath(dir, name string) string {
	return filepath.Join(dir, name+".zip")
}
