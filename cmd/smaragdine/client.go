// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sustainable-computing-io/smaragdine/internal/dataset"
	"github.com/sustainable-computing-io/smaragdine/internal/sampler"
)

// samplerClient is the part of the sampler client used by the commands
type samplerClient interface {
	Start(ctx context.Context, pid int, period time.Duration) error
	Stop(ctx context.Context) error
	Read(ctx context.Context) (dataset.Dataset, error)
	Status(ctx context.Context) (sampler.StatusResponse, error)
}

type clientArgs struct {
	pid      int
	period   time.Duration
	duration time.Duration
	out      string // empty writes to the command output
}

func runClient(ctx context.Context, c samplerClient, cmd string, args clientArgs, out io.Writer) error {
	switch strings.TrimPrefix(cmd, "client ") {
	case "start":
		if err := c.Start(ctx, args.pid, args.period); err != nil {
			return err
		}
		return printStatus(ctx, c, out)

	case "stop":
		if err := c.Stop(ctx); err != nil {
			return err
		}
		return printStatus(ctx, c, out)

	case "read":
		return readSamples(ctx, c, args.out, out)

	case "smoke-test":
		if err := c.Start(ctx, args.pid, args.period); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
		case <-time.After(args.duration):
		}
		// stop even when interrupted so the server is left idle
		if err := c.Stop(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return readSamples(ctx, c, args.out, out)
	}
	return fmt.Errorf("unknown client command %q", cmd)
}

func printStatus(ctx context.Context, c samplerClient, out io.Writer) error {
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "state=%s pid=%d period=%s samples=%d\n", st.State, st.Pid, st.Period, st.Samples)
	return err
}

func readSamples(ctx context.Context, c samplerClient, path string, out io.Writer) error {
	d, err := c.Read(ctx)
	if err != nil {
		return err
	}
	if path == "" {
		return dataset.Encode(out, d)
	}
	if err := dataset.WriteFile(path, d); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%d samples %d cpu times %d task times written to %s\n",
		len(d.Samples), len(d.CPU), len(d.Tasks), path)
	return err
}
