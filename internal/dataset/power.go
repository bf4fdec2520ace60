// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
)

// nvmlPrefix marks power files recorded from GPUs
const nvmlPrefix = "nvml-"

// timeLayouts are the textual timestamp formats accepted in power files
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// csvTimestamp is a timestamp given either in microseconds or as a date
type csvTimestamp accounting.Timestamp

func (t *csvTimestamp) UnmarshalCSV(data []byte) error {
	s := strings.TrimSpace(string(data))
	if us, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = csvTimestamp(us)
		return nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			*t = csvTimestamp(accounting.TimestampOf(ts))
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

type powerRow struct {
	Timestamp   csvTimestamp `csv:"timestamp"`
	DeviceIndex *int         `csv:"device_index,omitempty"`
	Socket      *int         `csv:"socket,omitempty"`
	Power       float64      `csv:"power"`
}

// KindOfFile returns the source kind recorded in a power file: files named
// nvml-* hold GPU power, everything else CPU power
func KindOfFile(path string) accounting.Kind {
	if strings.HasPrefix(filepath.Base(path), nvmlPrefix) {
		return accounting.KindGPU
	}
	return accounting.KindCPU
}

// DecodePower reads power samples of the given kind from CSV. The device is
// taken from the device_index column, or the socket column for CPU files.
func DecodePower(r io.Reader, kind accounting.Kind) ([]accounting.Sample, error) {
	if kind == accounting.KindUnknown {
		return nil, fmt.Errorf("unknown source kind")
	}

	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty power file")
		}
		return nil, fmt.Errorf("failed to read power header: %w", err)
	}
	if !slices.Contains(dec.Header(), "timestamp") || !slices.Contains(dec.Header(), "power") {
		return nil, fmt.Errorf("power file needs timestamp and power columns, got %v", dec.Header())
	}

	var samples []accounting.Sample
	for line := 2; ; line++ {
		var row powerRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		index, err := row.device()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		samples = append(samples, accounting.Sample{
			Source:    accounting.Source{Kind: kind, Index: index},
			Timestamp: accounting.Timestamp(row.Timestamp),
			Power:     row.Power,
		})
	}
	return samples, nil
}

// ReadPowerFile reads a power CSV file
func ReadPowerFile(path string, kind accounting.Kind) ([]accounting.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	samples, err := DecodePower(f, kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}

func (r powerRow) device() (int, error) {
	switch {
	case r.DeviceIndex != nil:
		return *r.DeviceIndex, nil
	case r.Socket != nil:
		return *r.Socket, nil
	default:
		return 0, fmt.Errorf("missing device_index or socket")
	}
}
