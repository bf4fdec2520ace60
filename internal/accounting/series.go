// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package accounting

import (
	"math"
	"sort"
)

// Sample is an instantaneous power reading of one source, in watts
type Sample struct {
	Source    Source    `json:"source" csv:"source"`
	Timestamp Timestamp `json:"timestamp" csv:"timestamp"`
	Power     float64   `json:"power" csv:"power"`
}

// Reading is a single point of a power series
type Reading struct {
	Timestamp Timestamp
	Power     float64
}

// Series is a power time series ordered by ascending timestamp with unique
// timestamps
type Series []Reading

// PowerIndex maps each source to its power series
type PowerIndex map[Source]Series

// Index groups samples by source, orders them by timestamp and drops
// duplicate timestamps, keeping the later-supplied value.
func Index(samples []Sample) (PowerIndex, error) {
	grouped := map[Source]Series{}
	for _, s := range samples {
		if !validPower(s.Power) {
			return nil, SampleError{Source: s.Source, Timestamp: s.Timestamp, Power: s.Power}
		}
		grouped[s.Source] = append(grouped[s.Source], Reading{Timestamp: s.Timestamp, Power: s.Power})
	}

	index := make(PowerIndex, len(grouped))
	for src, series := range grouped {
		index[src] = dedupe(series)
	}
	return index, nil
}

// dedupe sorts readings in place and keeps the last reading of each timestamp
func dedupe(series Series) Series {
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Timestamp < series[j].Timestamp
	})

	out := series[:0]
	for _, r := range series {
		if n := len(out); n > 0 && out[n-1].Timestamp == r.Timestamp {
			out[n-1] = r
			continue
		}
		out = append(out, r)
	}
	return out
}

// Series returns the series of src
func (p PowerIndex) Series(src Source) (Series, error) {
	series, ok := p[src]
	if !ok {
		return nil, SourceError{Source: src}
	}
	if len(series) == 0 {
		return nil, SeriesError{Source: src}
	}
	return series, nil
}

// Sources returns the indexed sources in a stable order
func (p PowerIndex) Sources() []Source {
	return sortedSources(p)
}

// Validate checks that the series is ordered and every reading is a finite,
// non-negative power
func (s Series) Validate(src Source) error {
	if len(s) == 0 {
		return SeriesError{Source: src}
	}
	for i, r := range s {
		if !validPower(r.Power) {
			return SampleError{Source: src, Timestamp: r.Timestamp, Power: r.Power}
		}
		if i > 0 && r.Timestamp <= s[i-1].Timestamp {
			return SampleError{Source: src, Timestamp: r.Timestamp, Power: r.Power}
		}
	}
	return nil
}

// Span returns the first and last timestamps of the series
func (s Series) Span() (Timestamp, Timestamp) {
	if len(s) == 0 {
		return 0, 0
	}
	return s[0].Timestamp, s[len(s)-1].Timestamp
}

func validPower(p float64) bool {
	return p >= 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
