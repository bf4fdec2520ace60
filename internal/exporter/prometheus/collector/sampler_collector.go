// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sustainable-computing-io/smaragdine/internal/sampler"
)

const samplerSubsystem = "sampler"

// StatsProvider provides the counters of a sampler
type StatsProvider interface {
	Stats() sampler.Stats
}

var samplerStates = []sampler.State{sampler.Idle, sampler.Sampling, sampler.Stopped}

// SamplerCollector exposes the session and sample counters of a sampler
type SamplerCollector struct {
	stats  StatsProvider
	logger *slog.Logger

	sessionsDesc    *prometheus.Desc
	samplesDesc     *prometheus.Desc
	meterErrorsDesc *prometheus.Desc
	stateDesc       *prometheus.Desc
}

var _ prometheus.Collector = (*SamplerCollector)(nil)

// NewSamplerCollector creates a collector for the given sampler
func NewSamplerCollector(stats StatsProvider, logger *slog.Logger) *SamplerCollector {
	return &SamplerCollector{
		stats:  stats,
		logger: logger.With("collector", "sampler"),
		sessionsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(smaragdineNS, samplerSubsystem, "sessions_total"),
			"Number of sampling sessions started",
			nil, nil),
		samplesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(smaragdineNS, samplerSubsystem, "samples_total"),
			"Number of power samples collected",
			nil, nil),
		meterErrorsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(smaragdineNS, samplerSubsystem, "meter_errors_total"),
			"Number of failed power meter reads",
			[]string{"meter"}, nil),
		stateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(smaragdineNS, samplerSubsystem, "state"),
			"Current state of the sampling session",
			[]string{"state"}, nil),
	}
}

func (c *SamplerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsDesc
	ch <- c.samplesDesc
	ch <- c.meterErrorsDesc
	ch <- c.stateDesc
}

func (c *SamplerCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.stats.Stats()

	ch <- prometheus.MustNewConstMetric(c.sessionsDesc, prometheus.CounterValue, float64(stats.Sessions))
	ch <- prometheus.MustNewConstMetric(c.samplesDesc, prometheus.CounterValue, float64(stats.Samples))

	meters := make([]string, 0, len(stats.MeterErrors))
	for name := range stats.MeterErrors {
		meters = append(meters, name)
	}
	slices.Sort(meters)
	for _, name := range meters {
		ch <- prometheus.MustNewConstMetric(c.meterErrorsDesc, prometheus.CounterValue,
			float64(stats.MeterErrors[name]), name)
	}

	for _, state := range samplerStates {
		value := 0.0
		if state == stats.State {
			value = 1
		}
		ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, value, state.String())
	}
	c.logger.Debug("collected sampler metrics", "sessions", stats.Sessions, "samples", stats.Samples)
}
