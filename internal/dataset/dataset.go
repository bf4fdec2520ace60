// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

// Package dataset reads and writes the inputs of the attribution engine:
// flow traces, power samples and datasets bundling both.
package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
)

// Dataset bundles the samples of one sampling session with the flow trace
// recorded over the same time range, if any. CPU and Tasks hold the CPU time
// counters of the host and of the sampled process.
type Dataset struct {
	Flow    []accounting.Node   `json:"flow,omitempty"`
	Samples []accounting.Sample `json:"samples"`
	CPU     []CPUSample         `json:"cpu,omitempty"`
	Tasks   []TaskSample        `json:"tasks,omitempty"`
}

// Decode reads a JSON dataset
func Decode(r io.Reader) (Dataset, error) {
	var d Dataset
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return Dataset{}, fmt.Errorf("failed to decode dataset: %w", err)
	}
	return d, nil
}

// Encode writes d as JSON
func Encode(w io.Writer, d Dataset) error {
	if d.Samples == nil {
		d.Samples = []accounting.Sample{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// ReadFile reads a JSON dataset from path
func ReadFile(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer func() { _ = f.Close() }()

	d, err := Decode(f)
	if err != nil {
		return Dataset{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// WriteFile writes d as JSON to path
func WriteFile(path string, d Dataset) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Encode(f, d)
}

// ReadSamples reads power samples from path. Files ending in .json are read as
// datasets, anything else as power CSV.
func ReadSamples(path string) ([]accounting.Sample, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		d, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		return d.Samples, nil
	}
	return ReadPowerFile(path, KindOfFile(path))
}

// Name returns the file name of path without directory and extension
func Name(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
