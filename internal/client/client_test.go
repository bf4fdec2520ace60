// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
	"github.com/sustainable-computing-io/smaragdine/internal/device"
	"github.com/sustainable-computing-io/smaragdine/internal/sampler"
	testingclock "k8s.io/utils/clock/testing"
)

const testPid = 31337

func newTestServer(t *testing.T) (*httptest.Server, *testingclock.FakeClock) {
	t.Helper()

	proc := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(proc, strconv.Itoa(testPid)), 0o755))

	meter, err := device.NewFakeMeter(
		device.WithFakeSources(accounting.CPU(0), accounting.GPU(0)),
		device.WithFakeBasePower(40*device.Watt),
		device.WithFakeRandomFactor(0),
	)
	require.NoError(t, err)

	clk := testingclock.NewFakeClock(time.UnixMicro(5_000_000))
	s := sampler.NewSampler(
		sampler.WithClock(clk),
		sampler.WithProcFSPath(proc),
		sampler.WithPeriod(time.Millisecond),
		sampler.WithMeters(meter),
	)
	require.NoError(t, s.Init())
	t.Cleanup(func() { _ = s.Shutdown() })

	api := sampler.NewAPI(nil, s, slog.Default())
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv, clk
}

func TestClient_Session(t *testing.T) {
	srv, clk := newTestServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	_, err := c.Read(ctx)
	assert.ErrorIs(t, err, sampler.ErrNoSession)

	require.NoError(t, c.Start(ctx, testPid, 0))
	assert.ErrorIs(t, c.Start(ctx, testPid, 0), sampler.ErrSessionActive)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sampling", st.State)
	assert.Equal(t, "1ms", st.Period)

	require.Eventually(t, clk.HasWaiters, 2*time.Second, time.Millisecond)
	clk.Step(time.Millisecond)
	require.Eventually(t, func() bool {
		st, err := c.Status(ctx)
		return err == nil && st.Samples == 2
	}, 2*time.Second, time.Millisecond)

	_, err = c.Read(ctx)
	assert.ErrorIs(t, err, sampler.ErrSessionActive)

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))

	d, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []accounting.Sample{
		{Source: accounting.CPU(0), Timestamp: 5_001_000, Power: 40},
		{Source: accounting.GPU(0), Timestamp: 5_001_000, Power: 40},
	}, d.Samples)
}

func TestClient_StartErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	c := New(srv.URL)

	err := c.Start(context.Background(), testPid+1, 0)
	assert.ErrorIs(t, err, sampler.ErrInvalidPid)
}

func TestClient_UnexpectedResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case sampler.ReadPath:
			_, _ = w.Write([]byte("not json"))
		case sampler.StopPath:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": "disk on fire", "code": "internal"}`))
		default:
			http.Error(w, "gateway exploded", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithLogger(slog.Default()), WithTimeout(time.Second))
	ctx := context.Background()

	_, err := c.Read(ctx)
	assert.ErrorContains(t, err, "decode")

	err = c.Stop(ctx)
	assert.EqualError(t, err, "disk on fire")

	err = c.Start(ctx, 1, time.Millisecond)
	assert.ErrorContains(t, err, "502")
	assert.ErrorContains(t, err, "gateway exploded")
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()

	c := New(addr, WithTimeout(500*time.Millisecond))
	assert.Error(t, c.Stop(context.Background()))
}

func TestNew(t *testing.T) {
	assert.Equal(t, DefaultAddress, New("").base)
	assert.Equal(t, "http://[::1]:50051", New("[::1]:50051").base)
	assert.Equal(t, "https://sampler.local", New("https://sampler.local/").base)

	hc := &http.Client{}
	assert.Same(t, hc, New("", WithHTTPClient(hc)).http)
}
