// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

// Package client talks to a sampler server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sustainable-computing-io/smaragdine/internal/dataset"
	"github.com/sustainable-computing-io/smaragdine/internal/sampler"
)

// DefaultAddress is the sampler server address used when none is given
const DefaultAddress = "http://localhost:50051"

// Client is the HTTP client of a sampler server
type Client struct {
	logger *slog.Logger
	base   string
	http   *http.Client
}

type Opts struct {
	logger  *slog.Logger
	http    *http.Client
	timeout time.Duration
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:  slog.Default(),
		timeout: 30 * time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Client
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithHTTPClient sets the underlying http client
func WithHTTPClient(c *http.Client) OptionFn {
	return func(o *Opts) {
		o.http = c
	}
}

// WithTimeout sets the timeout of each request
func WithTimeout(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.timeout = d
	}
}

// New creates a client of the sampler server at addr. An address without a
// scheme is taken as http.
func New(addr string, applyOpts ...OptionFn) *Client {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}
	if opts.http == nil {
		opts.http = &http.Client{Timeout: opts.timeout}
	}
	if addr == "" {
		addr = DefaultAddress
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	return &Client{
		logger: opts.logger.With("service", "sampler-client"),
		base:   strings.TrimSuffix(addr, "/"),
		http:   opts.http,
	}
}

// Start asks the server to sample pid every period. A zero period uses the
// server default.
func (c *Client) Start(ctx context.Context, pid int, period time.Duration) error {
	req := sampler.StartRequest{Pid: pid}
	if period > 0 {
		req.Period = period.String()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.logger.Debug("start sampling", "pid", pid, "period", period)
	return c.do(ctx, http.MethodPost, sampler.StartPath, bytes.NewReader(body), nil)
}

// Stop asks the server to stop sampling
func (c *Client) Stop(ctx context.Context) error {
	c.logger.Debug("stop sampling")
	return c.do(ctx, http.MethodPost, sampler.StopPath, nil, nil)
}

// Read fetches the power samples and CPU times of the last session
func (c *Client) Read(ctx context.Context) (dataset.Dataset, error) {
	var d dataset.Dataset
	if err := c.do(ctx, http.MethodGet, sampler.ReadPath, nil, &d); err != nil {
		return dataset.Dataset{}, err
	}
	c.logger.Debug("read samples", "count", len(d.Samples), "cpu", len(d.CPU), "tasks", len(d.Tasks))
	return d, nil
}

// Status fetches the state of the current session
func (c *Client) Status(ctx context.Context) (sampler.StatusResponse, error) {
	var st sampler.StatusResponse
	err := c.do(ctx, http.MethodGet, sampler.StatusPath, nil, &st)
	return st, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sampler request %s %s failed: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode sampler response: %w", err)
	}
	return nil
}

// responseError maps an error response back onto the sampler errors
func responseError(resp *http.Response) error {
	var e sampler.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
		return fmt.Errorf("sampler returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var sentinel error
	switch e.Code {
	case sampler.CodeSessionActive:
		sentinel = sampler.ErrSessionActive
	case sampler.CodeNoSession:
		sentinel = sampler.ErrNoSession
	case sampler.CodeInvalidPid:
		sentinel = sampler.ErrInvalidPid
	}
	if sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, e.Error)
	}
	return errors.New(e.Error)
}
