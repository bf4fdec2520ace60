// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package accounting

import (
	"errors"
	"fmt"
)

var (
	// ErrTraceInconsistency is returned for a malformed flow tree
	ErrTraceInconsistency = errors.New("trace inconsistency")

	// ErrEmptySeries is returned when integrating against a source without samples
	ErrEmptySeries = errors.New("empty power series")

	// ErrInvalidSample is returned for negative or non-finite power readings
	ErrInvalidSample = errors.New("invalid power sample")

	// ErrUnknownSource is returned when the flow references a source that has
	// no power measurements
	ErrUnknownSource = errors.New("unknown source")
)

// TraceError describes where a flow tree is inconsistent
type TraceError struct {
	Path   string
	Reason string
}

func (e TraceError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrTraceInconsistency, e.Path, e.Reason)
}

func (e TraceError) Unwrap() error {
	return ErrTraceInconsistency
}

// SeriesError is returned when a source has no power samples
type SeriesError struct {
	Source Source
}

func (e SeriesError) Error() string {
	return fmt.Sprintf("%s: %s", ErrEmptySeries, e.Source)
}

func (e SeriesError) Unwrap() error {
	return ErrEmptySeries
}

// SampleError names the offending power reading
type SampleError struct {
	Source    Source
	Timestamp Timestamp
	Power     float64
}

func (e SampleError) Error() string {
	return fmt.Sprintf("%s: %s at %d: %vW", ErrInvalidSample, e.Source, e.Timestamp, e.Power)
}

func (e SampleError) Unwrap() error {
	return ErrInvalidSample
}

// SourceError names a traced source that has no power data
type SourceError struct {
	Source Source
}

func (e SourceError) Error() string {
	return fmt.Sprintf("%s: %s is traced but has no power measurements", ErrUnknownSource, e.Source)
}

func (e SourceError) Unwrap() error {
	return ErrUnknownSource
}
