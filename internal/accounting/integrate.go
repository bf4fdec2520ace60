// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package accounting

import (
	"fmt"
	"sort"
	"strings"
)

// Interpolation selects how power evolves between two consecutive readings
type Interpolation int

const (
	// InterpolateLinear treats power as linear between readings
	InterpolateLinear Interpolation = iota
	// InterpolateStep holds each reading until the next one
	InterpolateStep
)

func (i Interpolation) String() string {
	switch i {
	case InterpolateLinear:
		return "linear"
	case InterpolateStep:
		return "step"
	default:
		return "unknown"
	}
}

// ParseInterpolation parses linear or step
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear":
		return InterpolateLinear, nil
	case "step":
		return InterpolateStep, nil
	default:
		return 0, fmt.Errorf("unknown interpolation %q", s)
	}
}

// Extrapolation selects the power assumed outside the sampled range
type Extrapolation int

const (
	// ExtrapolateEdgeHold holds the first/last reading beyond the series
	ExtrapolateEdgeHold Extrapolation = iota
	// ExtrapolateZero assumes no power outside the series
	ExtrapolateZero
)

func (e Extrapolation) String() string {
	switch e {
	case ExtrapolateEdgeHold:
		return "edge-hold"
	case ExtrapolateZero:
		return "zero"
	default:
		return "unknown"
	}
}

// ParseExtrapolation parses edge-hold or zero
func ParseExtrapolation(s string) (Extrapolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "edge-hold":
		return ExtrapolateEdgeHold, nil
	case "zero":
		return ExtrapolateZero, nil
	default:
		return 0, fmt.Errorf("unknown extrapolation %q", s)
	}
}

// Policy describes the power signal reconstructed from a series
type Policy struct {
	Interpolation Interpolation
	Extrapolation Extrapolation
}

// DefaultPolicy interpolates linearly and holds the edge readings
func DefaultPolicy() Policy {
	return Policy{
		Interpolation: InterpolateLinear,
		Extrapolation: ExtrapolateEdgeHold,
	}
}

// Integrate returns the energy in joules of series over iv using DefaultPolicy
func Integrate(iv Interval, series Series) (float64, error) {
	return DefaultPolicy().Integrate(iv, series)
}

// Integrate returns the energy in joules drawn over [iv.Start, iv.End). The
// integral is computed in closed form on each segment, so results are exact
// for piecewise-linear input. The whole series is validated, including the
// readings outside the interval.
func (p Policy) Integrate(iv Interval, series Series) (float64, error) {
	switch {
	case iv.End < iv.Start:
		return 0, TraceError{Path: iv.Name, Reason: fmt.Sprintf("end %d before start %d", iv.End, iv.Start)}
	case iv.End == iv.Start:
		return 0, nil
	}
	if err := series.Validate(iv.Source); err != nil {
		return 0, err
	}
	return p.integrate(iv, series), nil
}

// integrate expects a valid series and an interval with a positive duration
func (p Policy) integrate(iv Interval, series Series) float64 {
	a, b := iv.Start, iv.End
	if len(series) == 1 {
		return series[0].Power * float64(b-a) / microsPerSecond
	}

	first, last := series[0], series[len(series)-1]

	// area accumulates watt-microseconds
	var area float64
	if a < first.Timestamp {
		hi := min(b, first.Timestamp)
		area += p.edge(first) * float64(hi-a)
	}
	if b > last.Timestamp {
		lo := max(a, last.Timestamp)
		area += p.edge(last) * float64(b-lo)
	}

	// first segment whose right end lies after a
	i := sort.Search(len(series)-1, func(k int) bool {
		return series[k+1].Timestamp > a
	})
	for ; i < len(series)-1 && series[i].Timestamp < b; i++ {
		left, right := series[i], series[i+1]
		lo, hi := max(a, left.Timestamp), min(b, right.Timestamp)
		if hi <= lo {
			continue
		}
		area += p.segment(left, right, lo, hi)
	}

	return area / microsPerSecond
}

func (p Policy) edge(r Reading) float64 {
	if p.Extrapolation == ExtrapolateZero {
		return 0
	}
	return r.Power
}

// segment integrates between left and right clipped to [lo, hi]
func (p Policy) segment(left, right Reading, lo, hi Timestamp) float64 {
	width := float64(hi - lo)
	if p.Interpolation == InterpolateStep {
		return left.Power * width
	}
	span := float64(right.Timestamp - left.Timestamp)
	slope := (right.Power - left.Power) / span
	at := func(t Timestamp) float64 {
		return left.Power + slope*float64(t-left.Timestamp)
	}
	return (at(lo) + at(hi)) / 2 * width
}
