// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package accounting

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const second Timestamp = 1_000_000

// rampSeries rises from 10W to 20W over 50s then falls back to 10W
func rampSeries() Series {
	return Series{
		{0, 10},
		{50 * second, 20},
		{100 * second, 10},
	}
}

func cpuInterval(start, end Timestamp) Interval {
	return Interval{Source: CPU(0), Name: "iv", Start: start, End: end}
}

func TestIntegrateLinear(t *testing.T) {
	tt := []struct {
		name       string
		start, end Timestamp
		expected   float64
	}{
		{"head", 0, 20 * second, 240},
		{"across sample", 20 * second, 60 * second, 700},
		{"tail", 60 * second, 100 * second, 560},
		{"whole series", 0, 100 * second, 1500},
		{"centered", 25 * second, 75 * second, 875},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			energy, err := Integrate(cpuInterval(tc.start, tc.end), rampSeries())
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, energy, 1e-9)
		})
	}
}

func TestIntegrateAdditive(t *testing.T) {
	series := rampSeries()
	whole, err := Integrate(cpuInterval(-10*second, 130*second), series)
	require.NoError(t, err)

	var parts float64
	cuts := []Timestamp{-10 * second, 7 * second, 50 * second, 51 * second, 99 * second, 130 * second}
	for i := 1; i < len(cuts); i++ {
		e, err := Integrate(cpuInterval(cuts[i-1], cuts[i]), series)
		require.NoError(t, err)
		parts += e
	}
	assert.InDelta(t, whole, parts, 1e-9)
}

func TestIntegrateConstantIsExact(t *testing.T) {
	series := Series{{0, 50}, {second, 50}, {2 * second, 50}, {3 * second, 50}}
	energy, err := Integrate(cpuInterval(300_000, 1_700_000), series)
	require.NoError(t, err)
	assert.Equal(t, 70.0, energy)
}

func TestIntegrateSingleSample(t *testing.T) {
	series := Series{{10 * second, 7}}
	policies := []Policy{
		DefaultPolicy(),
		{Interpolation: InterpolateStep, Extrapolation: ExtrapolateEdgeHold},
		{Interpolation: InterpolateLinear, Extrapolation: ExtrapolateZero},
		{Interpolation: InterpolateStep, Extrapolation: ExtrapolateZero},
	}
	for _, p := range policies {
		t.Run(p.Interpolation.String()+"/"+p.Extrapolation.String(), func(t *testing.T) {
			energy, err := p.Integrate(cpuInterval(0, 3*second), series)
			require.NoError(t, err)
			assert.Equal(t, 21.0, energy)
		})
	}
}

func TestIntegrateExtrapolation(t *testing.T) {
	series := Series{{10 * second, 5}, {20 * second, 5}}

	t.Run("edge hold", func(t *testing.T) {
		energy, err := Integrate(cpuInterval(0, 30*second), series)
		require.NoError(t, err)
		assert.Equal(t, 150.0, energy)
	})

	t.Run("zero", func(t *testing.T) {
		p := Policy{Interpolation: InterpolateLinear, Extrapolation: ExtrapolateZero}
		energy, err := p.Integrate(cpuInterval(0, 30*second), series)
		require.NoError(t, err)
		assert.Equal(t, 50.0, energy)
	})

	t.Run("entirely before", func(t *testing.T) {
		energy, err := Integrate(cpuInterval(0, 2*second), rampSeries())
		require.NoError(t, err)
		assert.InDelta(t, 20.4, energy, 1e-9) // 10W rising 0.2W/s over 2s

		energy, err = Integrate(cpuInterval(-4*second, -2*second), rampSeries())
		require.NoError(t, err)
		assert.Equal(t, 20.0, energy)
	})

	t.Run("entirely after", func(t *testing.T) {
		energy, err := Integrate(cpuInterval(200*second, 210*second), rampSeries())
		require.NoError(t, err)
		assert.Equal(t, 100.0, energy)

		p := Policy{Extrapolation: ExtrapolateZero}
		energy, err = p.Integrate(cpuInterval(200*second, 210*second), rampSeries())
		require.NoError(t, err)
		assert.Zero(t, energy)
	})
}

func TestIntegrateStep(t *testing.T) {
	p := Policy{Interpolation: InterpolateStep, Extrapolation: ExtrapolateEdgeHold}

	energy, err := p.Integrate(cpuInterval(0, 100*second), rampSeries())
	require.NoError(t, err)
	assert.Equal(t, 1500.0, energy)

	energy, err = p.Integrate(cpuInterval(25*second, 75*second), rampSeries())
	require.NoError(t, err)
	assert.Equal(t, 750.0, energy)
}

func TestIntegrateZeroLength(t *testing.T) {
	energy, err := Integrate(cpuInterval(5*second, 5*second), rampSeries())
	require.NoError(t, err)
	assert.Zero(t, energy)

	// zero-length intervals need no samples
	energy, err = Integrate(cpuInterval(5, 5), nil)
	require.NoError(t, err)
	assert.Zero(t, energy)
}

func TestIntegrateErrors(t *testing.T) {
	t.Run("empty series", func(t *testing.T) {
		_, err := Integrate(cpuInterval(0, 10), nil)
		assert.ErrorIs(t, err, ErrEmptySeries)
	})

	t.Run("reversed interval", func(t *testing.T) {
		_, err := Integrate(cpuInterval(10, 0), rampSeries())
		assert.ErrorIs(t, err, ErrTraceInconsistency)
	})

	t.Run("negative sample", func(t *testing.T) {
		series := Series{{0, 1}, {10, -3}, {20, 1}}
		_, err := Integrate(cpuInterval(0, 20), series)
		require.ErrorIs(t, err, ErrInvalidSample)

		var sampleErr SampleError
		require.ErrorAs(t, err, &sampleErr)
		assert.Equal(t, Timestamp(10), sampleErr.Timestamp)
	})

	t.Run("nan edge", func(t *testing.T) {
		series := Series{{0, math.NaN()}}
		_, err := Integrate(cpuInterval(0, 20), series)
		assert.ErrorIs(t, err, ErrInvalidSample)
	})

	t.Run("negative sample outside the interval", func(t *testing.T) {
		series := Series{{0, 1}, {10, 1}, {20, 1}, {90, -4}, {100, 1}}
		_, err := Integrate(cpuInterval(0, 20), series)
		require.ErrorIs(t, err, ErrInvalidSample)

		var sampleErr SampleError
		require.ErrorAs(t, err, &sampleErr)
		assert.Equal(t, Timestamp(90), sampleErr.Timestamp)
		assert.Equal(t, CPU(0), sampleErr.Source)
	})

	t.Run("unordered series", func(t *testing.T) {
		series := Series{{0, 1}, {30, 1}, {20, 1}}
		_, err := DefaultPolicy().Integrate(cpuInterval(0, 10), series)
		assert.ErrorIs(t, err, ErrInvalidSample)
	})
}

func TestParsePolicy(t *testing.T) {
	i, err := ParseInterpolation("Step")
	require.NoError(t, err)
	assert.Equal(t, InterpolateStep, i)

	_, err = ParseInterpolation("cubic")
	assert.Error(t, err)

	e, err := ParseExtrapolation("zero")
	require.NoError(t, err)
	assert.Equal(t, ExtrapolateZero, e)

	e, err = ParseExtrapolation(" edge-hold ")
	require.NoError(t, err)
	assert.Equal(t, ExtrapolateEdgeHold, e)

	_, err = ParseExtrapolation("mirror")
	assert.Error(t, err)
}
