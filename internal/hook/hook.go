// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

// Package hook samples power around each step of a training loop and writes
// the footprint of every step.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
	"github.com/sustainable-computing-io/smaragdine/internal/dataset"
	"github.com/sustainable-computing-io/smaragdine/internal/sampler"
	"github.com/sustainable-computing-io/smaragdine/internal/sink"
)

// Sampler controls a sampling session, locally or on a sampler server
type Sampler interface {
	Start(ctx context.Context, pid int, period time.Duration) error
	Stop(ctx context.Context) error
	Read(ctx context.Context) (dataset.Dataset, error)
}

// Local adapts an in-process sampler
func Local(s *sampler.Sampler) Sampler {
	return local{s}
}

type local struct {
	s *sampler.Sampler
}

func (l local) Start(_ context.Context, pid int, period time.Duration) error {
	return l.s.Start(pid, period)
}

func (l local) Stop(context.Context) error {
	return l.s.Stop()
}

func (l local) Read(context.Context) (dataset.Dataset, error) {
	return l.s.Read()
}

// StepHook starts sampling before each step and accounts the energy of the
// step once it is done
type StepHook struct {
	logger    *slog.Logger
	sampler   Sampler
	pid       int
	period    time.Duration
	flattener *accounting.Flattener
	generator *accounting.Generator
	sink      *sink.DirSink
	keepRaw   bool

	mu       sync.Mutex
	step     int
	active   bool
	datasets []dataset.Dataset
}

type Opts struct {
	logger  *slog.Logger
	pid     int
	period  time.Duration
	outDir  string
	keepRaw bool
	sep     string
	genOpts []accounting.OptionFn
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		pid:    os.Getpid(),
		sep:    accounting.DefaultSeparator,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the StepHook
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithPid sets the process to sample; defaults to the current process
func WithPid(pid int) OptionFn {
	return func(o *Opts) {
		o.pid = pid
	}
}

// WithPeriod sets the sampling period; zero uses the sampler default
func WithPeriod(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.period = d
	}
}

// WithOutputDir writes the footprint of each step to dir
func WithOutputDir(dir string) OptionFn {
	return func(o *Opts) {
		o.outDir = dir
	}
}

// WithRawDatasets also writes the samples and flow of each step to the
// output directory
func WithRawDatasets(keep bool) OptionFn {
	return func(o *Opts) {
		o.keepRaw = keep
	}
}

// WithSeparator sets the separator of interval names
func WithSeparator(sep string) OptionFn {
	return func(o *Opts) {
		o.sep = sep
	}
}

// WithGeneratorOptions sets the options of the footprint generator
func WithGeneratorOptions(opts ...accounting.OptionFn) OptionFn {
	return func(o *Opts) {
		o.genOpts = opts
	}
}

// NewStepHook creates a StepHook over s
func NewStepHook(s Sampler, applyOpts ...OptionFn) (*StepHook, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	h := &StepHook{
		logger:    opts.logger.With("service", "step-hook"),
		sampler:   s,
		pid:       opts.pid,
		period:    opts.period,
		flattener: accounting.NewFlattener(accounting.WithSeparator(opts.sep)),
		generator: accounting.NewGenerator(append([]accounting.OptionFn{accounting.WithLogger(opts.logger)}, opts.genOpts...)...),
		keepRaw:   opts.keepRaw,
	}
	if opts.outDir != "" {
		ds, err := sink.NewDirSink(opts.outDir)
		if err != nil {
			return nil, err
		}
		h.sink = ds
	}
	return h, nil
}

// BeforeStep starts sampling the process
func (h *StepHook) BeforeStep(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.active {
		return fmt.Errorf("step %d is still running", h.step)
	}
	if err := h.sampler.Start(ctx, h.pid, h.period); err != nil {
		return fmt.Errorf("failed to start sampling: %w", err)
	}
	h.active = true
	return nil
}

// AfterStep stops sampling and returns the footprint of the step traced by
// roots. Without a trace only the samples are kept.
func (h *StepHook) AfterStep(ctx context.Context, roots []accounting.Node) (accounting.Footprint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.active {
		return nil, fmt.Errorf("no step running")
	}
	h.active = false
	if err := h.sampler.Stop(ctx); err != nil {
		return nil, fmt.Errorf("failed to stop sampling: %w", err)
	}
	h.step++

	d, err := h.sampler.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read samples of step %d: %w", h.step, err)
	}
	d.Flow = roots
	h.datasets = append(h.datasets, d)
	if err := h.writeRaw(d); err != nil {
		return nil, err
	}

	if len(roots) == 0 {
		h.logger.Debug("step without trace", "step", h.step,
			"samples", len(d.Samples), "cpu", len(d.CPU), "tasks", len(d.Tasks))
		return nil, nil
	}

	flow, err := h.flattener.FlattenForest(roots)
	if err != nil {
		return nil, fmt.Errorf("step %d: %w", h.step, err)
	}
	power, err := accounting.Index(d.Samples)
	if err != nil {
		return nil, fmt.Errorf("step %d: %w", h.step, err)
	}
	fp, err := h.generator.Generate(flow, power)
	if err != nil {
		return nil, fmt.Errorf("step %d: %w", h.step, err)
	}

	for _, s := range fp.Summarize() {
		h.logger.Info("step footprint", "step", h.step, "source", s.Source,
			"energy", s.Energy, "duration", s.Duration, "power", s.MeanPower)
	}
	if h.sink != nil {
		if _, err := h.sink.WriteRun(h.step, fp); err != nil {
			return nil, fmt.Errorf("failed to write footprint of step %d: %w", h.step, err)
		}
	}
	return fp, nil
}

// End stops any running session and drains its samples
func (h *StepHook) End(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.active = false
	if err := h.sampler.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop sampling: %w", err)
	}
	if _, err := h.sampler.Read(ctx); err != nil && !errors.Is(err, sampler.ErrNoSession) {
		return fmt.Errorf("failed to drain samples: %w", err)
	}
	return nil
}

// Steps returns the number of completed steps
func (h *StepHook) Steps() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.step
}

// Datasets returns the samples and traces of every completed step
func (h *StepHook) Datasets() []dataset.Dataset {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]dataset.Dataset(nil), h.datasets...)
}

func (h *StepHook) writeRaw(d dataset.Dataset) error {
	if !h.keepRaw || h.sink == nil {
		return nil
	}
	path := filepath.Join(h.sink.Dir(), fmt.Sprintf("dataset-%d.json", h.step))
	if err := dataset.WriteFile(path, d); err != nil {
		return fmt.Errorf("failed to write samples of step %d: %w", h.step, err)
	}
	return nil
}
