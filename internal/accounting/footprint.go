// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package accounting

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// Entry is the energy attributed to one flattened interval
type Entry struct {
	Source    Source
	Name      string
	Start     Timestamp
	End       Timestamp
	Energy    float64       // joules
	Duration  time.Duration // End - Start
	MeanPower float64       // watts; zero for zero-length intervals
}

// Footprint maps each source to the entries of its intervals, in flow order
type Footprint map[Source][]Entry

// Sources returns the sources of the footprint in a stable order
func (f Footprint) Sources() []Source {
	return sortedSources(f)
}

// Total returns the energy attributed to src in joules
func (f Footprint) Total(src Source) float64 {
	var total float64
	for _, e := range f[src] {
		total += e.Energy
	}
	return total
}

// Summary aggregates the footprint of one source
type Summary struct {
	Source    Source
	Intervals int
	Energy    float64
	Duration  time.Duration
	MeanPower float64
}

// Summarize returns one Summary per source in a stable order
func (f Footprint) Summarize() []Summary {
	summaries := make([]Summary, 0, len(f))
	for _, src := range f.Sources() {
		s := Summary{Source: src, Intervals: len(f[src])}
		for _, e := range f[src] {
			s.Energy += e.Energy
			s.Duration += e.Duration
		}
		if s.Duration > 0 {
			s.MeanPower = s.Energy / s.Duration.Seconds()
		}
		summaries = append(summaries, s)
	}
	return summaries
}

// Generator attributes the energy of power series to flow intervals
type Generator struct {
	logger      *slog.Logger
	policy      Policy
	parallelism int
}

type Opts struct {
	logger      *slog.Logger
	policy      Policy
	parallelism int
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:      slog.Default(),
		policy:      DefaultPolicy(),
		parallelism: runtime.GOMAXPROCS(0),
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Generator
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithPolicy sets the interpolation and extrapolation policy
func WithPolicy(p Policy) OptionFn {
	return func(o *Opts) {
		o.policy = p
	}
}

// WithParallelism sets how many sources are integrated concurrently; values
// below 1 process one source at a time
func WithParallelism(n int) OptionFn {
	return func(o *Opts) {
		o.parallelism = n
	}
}

// NewGenerator creates a new Generator
func NewGenerator(applyOpts ...OptionFn) *Generator {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}
	if opts.parallelism < 1 {
		opts.parallelism = 1
	}

	return &Generator{
		logger:      opts.logger.With("component", "footprint"),
		policy:      opts.policy,
		parallelism: opts.parallelism,
	}
}

// Generate integrates power over every interval of flow. Every traced source
// must have a power series; sources that are measured but not traced are
// ignored. Any failure aborts the whole run.
func (g *Generator) Generate(flow Flow, power PowerIndex) (Footprint, error) {
	sources := flow.Sources()

	// resolve all sources up front so a mismatch fails before any work
	series := make([]Series, len(sources))
	for i, src := range sources {
		s, err := power.Series(src)
		if err != nil {
			return nil, err
		}
		if err := s.Validate(src); err != nil {
			return nil, err
		}
		series[i] = s
	}

	for _, src := range power.Sources() {
		if _, traced := flow[src]; !traced {
			g.logger.Debug("ignoring untraced source", "source", src)
		}
	}

	results := make([][]Entry, len(sources))
	var eg errgroup.Group
	eg.SetLimit(g.parallelism)
	for i, src := range sources {
		eg.Go(func() error {
			entries, err := g.generate(flow[src], series[i])
			if err != nil {
				return fmt.Errorf("failed to generate footprint of %s: %w", src, err)
			}
			results[i] = entries
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	footprint := make(Footprint, len(sources))
	for i, src := range sources {
		footprint[src] = results[i]
		g.logger.Debug("generated footprint",
			"source", src,
			"intervals", len(results[i]),
			"energy", footprint.Total(src))
	}
	return footprint, nil
}

func (g *Generator) generate(intervals []Interval, series Series) ([]Entry, error) {
	entries := make([]Entry, 0, len(intervals))
	// series was validated once by Generate
	for _, iv := range intervals {
		if iv.End < iv.Start {
			return nil, fmt.Errorf("interval %s: %w", iv,
				TraceError{Path: iv.Name, Reason: fmt.Sprintf("end %d before start %d", iv.End, iv.Start)})
		}
		var energy float64
		if iv.End > iv.Start {
			energy = g.policy.integrate(iv, series)
		}
		e := Entry{
			Source:   iv.Source,
			Name:     iv.Name,
			Start:    iv.Start,
			End:      iv.End,
			Energy:   energy,
			Duration: iv.Duration(),
		}
		if e.Duration > 0 {
			e.MeanPower = energy / e.Duration.Seconds()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Account flattens roots, indexes samples and generates the footprint
func Account(roots []Node, samples []Sample, applyOpts ...OptionFn) (Footprint, error) {
	flow, err := FlattenForest(roots)
	if err != nil {
		return nil, err
	}
	power, err := Index(samples)
	if err != nil {
		return nil, err
	}
	return NewGenerator(applyOpts...).Generate(flow, power)
}
