// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
)

// DirSink writes one CSV file per source and run into a directory
type DirSink struct {
	dir string
}

// NewDirSink creates dir if needed. An existing file at dir is an error.
func NewDirSink(dir string) (*DirSink, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &DirSink{dir: dir}, nil
}

// Dir returns the output directory
func (s *DirSink) Dir() string {
	return s.dir
}

// Path returns the file the footprint of src in the given run is written to
func (s *DirSink) Path(src accounting.Source, run int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%d.csv", src, run))
}

// WriteRun writes the footprint of one run and returns the written files
func (s *DirSink) WriteRun(run int, fp accounting.Footprint) ([]string, error) {
	var paths []string
	for _, src := range fp.Sources() {
		path := s.Path(src, run)
		if err := writeFile(path, fp[src]); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, entries []accounting.Entry) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err := WriteCSV(f, entries); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("output path %s exists and is not a directory", dir)
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return os.MkdirAll(dir, 0o755)
	default:
		return err
	}
}
