// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package hook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
	"github.com/sustainable-computing-io/smaragdine/internal/dataset"
	"github.com/sustainable-computing-io/smaragdine/internal/device"
	"github.com/sustainable-computing-io/smaragdine/internal/sampler"
	"github.com/sustainable-computing-io/smaragdine/internal/sink"
	testingclock "k8s.io/utils/clock/testing"
)

type mockSampler struct {
	mock.Mock
}

func (m *mockSampler) Start(ctx context.Context, pid int, period time.Duration) error {
	return m.Called(ctx, pid, period).Error(0)
}

func (m *mockSampler) Stop(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSampler) Read(ctx context.Context) (dataset.Dataset, error) {
	args := m.Called(ctx)
	return args.Get(0).(dataset.Dataset), args.Error(1)
}

func constantSamples(watts float64) []accounting.Sample {
	return []accounting.Sample{
		{Source: accounting.CPU(0), Timestamp: 0, Power: watts},
		{Source: accounting.CPU(0), Timestamp: 1_000_000, Power: watts},
	}
}

func stepTrace() []accounting.Node {
	return []accounting.Node{{
		Name:   "step",
		Source: accounting.CPU(0),
		Start:  0,
		End:    1_000_000,
		Children: []accounting.Node{
			{Name: "forward", Source: accounting.CPU(0), Start: 0, End: 400_000},
			{Name: "backward", Source: accounting.CPU(0), Start: 400_000, End: 1_000_000},
		},
	}}
}

func TestStepHook(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "out")

	s := &mockSampler{}
	s.On("Start", ctx, 42, 5*time.Millisecond).Return(nil)
	s.On("Stop", ctx).Return(nil)
	s.On("Read", ctx).Return(dataset.Dataset{Samples: constantSamples(10)}, nil)

	h, err := NewStepHook(s, WithPid(42), WithPeriod(5*time.Millisecond), WithOutputDir(dir), WithRawDatasets(true))
	require.NoError(t, err)

	for run := 1; run <= 2; run++ {
		require.NoError(t, h.BeforeStep(ctx))
		fp, err := h.AfterStep(ctx, stepTrace())
		require.NoError(t, err)
		assert.Equal(t, run, h.Steps())

		entries := fp[accounting.CPU(0)]
		require.Len(t, entries, 2)
		assert.Equal(t, "step/forward", entries[0].Name)
		assert.InDelta(t, 4.0, entries[0].Energy, 1e-9)
		assert.Equal(t, "step/backward", entries[1].Name)
		assert.InDelta(t, 6.0, entries[1].Energy, 1e-9)

		ds, err := sink.NewDirSink(dir)
		require.NoError(t, err)
		f, err := os.Open(ds.Path(accounting.CPU(0), run))
		require.NoError(t, err)
		records, err := sink.ReadCSV(f)
		require.NoError(t, f.Close())
		require.NoError(t, err)
		assert.Len(t, records, 2)

		raw, err := dataset.ReadFile(filepath.Join(dir, fmt.Sprintf("dataset-%d.json", run)))
		require.NoError(t, err)
		assert.Equal(t, constantSamples(10), raw.Samples)
		assert.Len(t, raw.Flow, 1)
	}

	assert.Len(t, h.Datasets(), 2)
	s.AssertNumberOfCalls(t, "Start", 2)
	s.AssertExpectations(t)
}

func TestStepHook_WithoutTrace(t *testing.T) {
	ctx := context.Background()
	s := &mockSampler{}
	s.On("Start", ctx, mock.Anything, time.Duration(0)).Return(nil)
	s.On("Stop", ctx).Return(nil)
	s.On("Read", ctx).Return(dataset.Dataset{Samples: constantSamples(3)}, nil)

	h, err := NewStepHook(s)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), h.pid)

	require.NoError(t, h.BeforeStep(ctx))
	fp, err := h.AfterStep(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, fp)
	assert.Equal(t, 1, h.Steps())
	require.Len(t, h.Datasets(), 1)
	assert.Equal(t, constantSamples(3), h.Datasets()[0].Samples)
}

func TestStepHook_Sequencing(t *testing.T) {
	ctx := context.Background()
	s := &mockSampler{}
	s.On("Start", ctx, mock.Anything, mock.Anything).Return(nil)

	h, err := NewStepHook(s)
	require.NoError(t, err)

	_, err = h.AfterStep(ctx, stepTrace())
	assert.Error(t, err)

	require.NoError(t, h.BeforeStep(ctx))
	assert.Error(t, h.BeforeStep(ctx))
	s.AssertNumberOfCalls(t, "Start", 1)
}

func TestStepHook_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("start fails", func(t *testing.T) {
		s := &mockSampler{}
		s.On("Start", ctx, mock.Anything, mock.Anything).Return(sampler.ErrSessionActive)
		h, err := NewStepHook(s)
		require.NoError(t, err)
		assert.ErrorIs(t, h.BeforeStep(ctx), sampler.ErrSessionActive)
	})

	t.Run("missing power series", func(t *testing.T) {
		s := &mockSampler{}
		s.On("Start", ctx, mock.Anything, mock.Anything).Return(nil)
		s.On("Stop", ctx).Return(nil)
		s.On("Read", ctx).Return(dataset.Dataset{Samples: []accounting.Sample{
			{Source: accounting.GPU(0), Timestamp: 0, Power: 100},
			{Source: accounting.GPU(0), Timestamp: 1_000_000, Power: 100},
		}}, nil)

		h, err := NewStepHook(s)
		require.NoError(t, err)
		require.NoError(t, h.BeforeStep(ctx))
		_, err = h.AfterStep(ctx, stepTrace())
		assert.Error(t, err)
		// the samples are kept for later inspection
		assert.Len(t, h.Datasets(), 1)
	})

	t.Run("read fails", func(t *testing.T) {
		s := &mockSampler{}
		s.On("Start", ctx, mock.Anything, mock.Anything).Return(nil)
		s.On("Stop", ctx).Return(nil)
		s.On("Read", ctx).Return(dataset.Dataset{}, assert.AnError)

		h, err := NewStepHook(s)
		require.NoError(t, err)
		require.NoError(t, h.BeforeStep(ctx))
		_, err = h.AfterStep(ctx, stepTrace())
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("output dir is a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		_, err := NewStepHook(&mockSampler{}, WithOutputDir(path))
		assert.Error(t, err)
	})
}

func TestStepHook_End(t *testing.T) {
	ctx := context.Background()

	t.Run("drains samples", func(t *testing.T) {
		s := &mockSampler{}
		s.On("Stop", ctx).Return(nil)
		s.On("Read", ctx).Return(dataset.Dataset{Samples: constantSamples(1)}, nil)
		h, err := NewStepHook(s)
		require.NoError(t, err)
		require.NoError(t, h.End(ctx))
		s.AssertExpectations(t)
	})

	t.Run("no session", func(t *testing.T) {
		s := &mockSampler{}
		s.On("Stop", ctx).Return(nil)
		s.On("Read", ctx).Return(dataset.Dataset{}, sampler.ErrNoSession)
		h, err := NewStepHook(s)
		require.NoError(t, err)
		assert.NoError(t, h.End(ctx))
	})

	t.Run("stop fails", func(t *testing.T) {
		s := &mockSampler{}
		s.On("Stop", ctx).Return(assert.AnError)
		h, err := NewStepHook(s)
		require.NoError(t, err)
		assert.ErrorIs(t, h.End(ctx), assert.AnError)
	})
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	clk := testingclock.NewFakeClock(time.Unix(1, 0))
	meter, err := device.NewFakeMeter(device.WithFakeRandomFactor(0), device.WithFakeBasePower(20*device.Watt))
	require.NoError(t, err)
	s := sampler.NewSampler(sampler.WithMeters(meter), sampler.WithPeriod(time.Second), sampler.WithClock(clk))
	require.NoError(t, s.Init())
	t.Cleanup(func() { _ = s.Shutdown() })

	local := Local(s)
	require.NoError(t, local.Start(ctx, os.Getpid(), 0))
	assert.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(time.Second)
	assert.Eventually(t, func() bool { return s.Status().Samples == 1 }, time.Second, time.Millisecond)
	require.NoError(t, local.Stop(ctx))

	d, err := local.Read(ctx)
	require.NoError(t, err)
	require.Len(t, d.Samples, 1)
	assert.Equal(t, accounting.CPU(0), d.Samples[0].Source)
	assert.Equal(t, accounting.Timestamp(2_000_000), d.Samples[0].Timestamp)
	assert.Equal(t, 20.0, d.Samples[0].Power)

	// this test process has at least one thread, read at start and on the tick
	assert.NotEmpty(t, d.Tasks)
	for _, task := range d.Tasks {
		assert.Contains(t, []accounting.Timestamp{1_000_000, 2_000_000}, task.Timestamp)
	}
}
