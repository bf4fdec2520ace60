// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/sustainable-computing-io/smaragdine/config"
	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
	"github.com/sustainable-computing-io/smaragdine/internal/dataset"
	"github.com/sustainable-computing-io/smaragdine/internal/sink"
)

type accountArgs struct {
	flow    string
	power   []string
	kind    string // empty infers the kind from the file name
	run     int
	entries bool
}

// footprinter flattens, indexes and generates with the configured settings
type footprinter struct {
	flattener *accounting.Flattener
	generator *accounting.Generator
}

func newFootprinter(logger *slog.Logger, cfg *config.Config) (*footprinter, error) {
	policy, err := cfg.Accounting.Policy()
	if err != nil {
		return nil, err
	}
	opts := []accounting.OptionFn{
		accounting.WithLogger(logger),
		accounting.WithPolicy(policy),
	}
	if cfg.Accounting.Parallelism > 0 {
		opts = append(opts, accounting.WithParallelism(cfg.Accounting.Parallelism))
	}
	return &footprinter{
		flattener: accounting.NewFlattener(accounting.WithSeparator(cfg.Accounting.Separator)),
		generator: accounting.NewGenerator(opts...),
	}, nil
}

func (f *footprinter) footprint(roots []accounting.Node, samples []accounting.Sample) (accounting.Footprint, error) {
	flow, err := f.flattener.FlattenForest(roots)
	if err != nil {
		return nil, err
	}
	power, err := accounting.Index(samples)
	if err != nil {
		return nil, err
	}
	return f.generator.Generate(flow, power)
}

func account(logger *slog.Logger, cfg *config.Config, args accountArgs, out io.Writer) error {
	fp, err := newFootprinter(logger, cfg)
	if err != nil {
		return err
	}

	roots, err := dataset.ReadFlowFile(args.flow)
	if err != nil {
		return err
	}
	samples, err := readPower(args.power, args.kind)
	if err != nil {
		return err
	}
	logger.Debug("accounting", "flow", args.flow, "roots", len(roots), "samples", len(samples))

	footprint, err := fp.footprint(roots, samples)
	if err != nil {
		return err
	}

	if args.entries {
		err = sink.WriteEntries(out, footprint)
	} else {
		err = sink.WriteSummary(out, footprint)
	}
	if err != nil {
		return err
	}

	if cfg.Output.Dir == "" {
		return nil
	}
	ds, err := sink.NewDirSink(cfg.Output.Dir)
	if err != nil {
		return err
	}
	paths, err := ds.WriteRun(args.run, footprint)
	if err != nil {
		return err
	}
	logger.Info("footprint written", "files", paths)
	return nil
}

// readPower reads and concatenates the samples of every file
func readPower(paths []string, kind string) ([]accounting.Sample, error) {
	var samples []accounting.Sample
	for _, path := range paths {
		var (
			s   []accounting.Sample
			err error
		)
		if kind == "" || strings.EqualFold(filepath.Ext(path), ".json") {
			s, err = dataset.ReadSamples(path)
		} else {
			var k accounting.Kind
			if k, err = accounting.ParseKind(kind); err == nil {
				s, err = dataset.ReadPowerFile(path, k)
			}
		}
		if err != nil {
			return nil, err
		}
		samples = append(samples, s...)
	}
	return samples, nil
}

// virtualize writes one zip archive of per source CSV files for each dataset.
// Every dataset is processed; the errors are joined.
func virtualize(logger *slog.Logger, cfg *config.Config, paths []string, out io.Writer) error {
	fp, err := newFootprinter(logger, cfg)
	if err != nil {
		return err
	}

	var errs error
	for _, path := range paths {
		archive, err := virtualizeOne(fp, cfg.Output.Dir, path)
		if err != nil {
			logger.Error("failed to virtualize dataset", "dataset", path, "error", err)
			errs = errors.Join(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		logger.Info("dataset virtualized", "dataset", path, "archive", archive)
		fmt.Fprintln(out, archive)
	}
	return errs
}

func virtualizeOne(fp *footprinter, outDir, path string) (string, error) {
	d, err := dataset.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(d.Flow) == 0 {
		return "", fmt.Errorf("dataset has no flow trace")
	}

	footprint, err := fp.footprint(d.Flow, d.Samples)
	if err != nil {
		return "", err
	}

	if outDir == "" {
		outDir = filepath.Dir(path)
	}
	if _, err := sink.NewDirSink(outDir); err != nil {
		return "", err
	}
	archive := sink.ArchivePath(outDir, dataset.Name(path))
	if err := sink.WriteArchive(archive, footprint); err != nil {
		return "", err
	}
	return archive, nil
}
