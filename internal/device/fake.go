// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
)

// NOTE: This fake meter is not intended to be used in production and is for testing only

var defaultFakeSources = []accounting.Source{accounting.CPU(0)}

// fakeMeter emits synthetic power around a base value for each source
type fakeMeter struct {
	logger       *slog.Logger
	sources      []accounting.Source
	base         Power
	randomFactor float64

	mu  sync.Mutex
	rng *rand.Rand
}

var _ Meter = (*fakeMeter)(nil)

// FakeOptFn is a functional option for configuring the fake meter
type FakeOptFn func(*fakeMeter)

// WithFakeSources sets the sources reported by the fake meter
func WithFakeSources(sources ...accounting.Source) FakeOptFn {
	return func(m *fakeMeter) {
		m.sources = sources
	}
}

// WithFakeBasePower sets the power every reading is centered on
func WithFakeBasePower(p Power) FakeOptFn {
	return func(m *fakeMeter) {
		m.base = p
	}
}

// WithFakeRandomFactor sets the relative spread of readings; 0 makes the
// meter constant
func WithFakeRandomFactor(f float64) FakeOptFn {
	return func(m *fakeMeter) {
		m.randomFactor = f
	}
}

// WithFakeSeed makes the readings reproducible
func WithFakeSeed(seed int64) FakeOptFn {
	return func(m *fakeMeter) {
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// WithFakeLogger sets the logger of the fake meter
func WithFakeLogger(logger *slog.Logger) FakeOptFn {
	return func(m *fakeMeter) {
		m.logger = logger.With("meter", "fake")
	}
}

// NewFakeMeter creates a meter producing synthetic power readings
func NewFakeMeter(opts ...FakeOptFn) (*fakeMeter, error) {
	m := &fakeMeter{
		logger:       slog.Default().With("meter", "fake"),
		sources:      defaultFakeSources,
		base:         25 * Watt,
		randomFactor: 0.2,
		rng:          rand.New(rand.NewSource(rand.Int63())),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.randomFactor < 0 || m.randomFactor > 1 {
		return nil, fmt.Errorf("fake meter random factor %v must be within [0, 1]", m.randomFactor)
	}
	if len(m.sources) == 0 {
		return nil, fmt.Errorf("fake meter needs at least one source")
	}
	for _, src := range m.sources {
		if !src.IsValid() {
			return nil, fmt.Errorf("invalid fake meter source %v", src)
		}
	}
	return m, nil
}

func (m *fakeMeter) Name() string {
	return "fake"
}

func (m *fakeMeter) Init() error {
	m.logger.Warn("Using fake power meter; readings are synthetic", "sources", m.sources)
	return nil
}

func (m *fakeMeter) Read() ([]Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	readings := make([]Reading, 0, len(m.sources))
	for _, src := range m.sources {
		jitter := (m.rng.Float64()*2 - 1) * m.randomFactor
		readings = append(readings, Reading{
			Source: src,
			Power:  m.base * Power(1+jitter),
		})
	}
	return readings, nil
}

func (m *fakeMeter) Shutdown() error {
	return nil
}
