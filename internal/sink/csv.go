// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

// Package sink writes footprints as CSV files, zip archives and tables.
package sink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
)

// Record is one CSV line of a footprint
type Record struct {
	Name       string  `csv:"name"`
	Start      int64   `csv:"start"`
	End        int64   `csv:"end"`
	DurationUs int64   `csv:"duration_us"`
	Energy     float64 `csv:"energy_j"`
	MeanPower  float64 `csv:"mean_power_w"`
}

// RecordOf converts an entry into its CSV record
func RecordOf(e accounting.Entry) Record {
	return Record{
		Name:       e.Name,
		Start:      int64(e.Start),
		End:        int64(e.End),
		DurationUs: e.Duration.Microseconds(),
		Energy:     e.Energy,
		MeanPower:  e.MeanPower,
	}
}

// WriteCSV writes the entries of one source as CSV, header included
func WriteCSV(w io.Writer, entries []accounting.Entry) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(Record{}); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, e := range entries {
		if err := enc.Encode(RecordOf(e)); err != nil {
			return fmt.Errorf("failed to write %s: %w", e.Name, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads the records written by WriteCSV
func ReadCSV(r io.Reader) ([]Record, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := dec.Decode(&records); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return records, nil
}
