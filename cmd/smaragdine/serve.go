// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/sustainable-computing-io/smaragdine/config"
	"github.com/sustainable-computing-io/smaragdine/internal/device"
	"github.com/sustainable-computing-io/smaragdine/internal/exporter/prometheus"
	"github.com/sustainable-computing-io/smaragdine/internal/exporter/stdout"
	"github.com/sustainable-computing-io/smaragdine/internal/sampler"
	"github.com/sustainable-computing-io/smaragdine/internal/server"
	"github.com/sustainable-computing-io/smaragdine/internal/service"
	"k8s.io/utils/ptr"
)

func serve(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	services, err := createServices(logger, cfg)
	if err != nil {
		return err
	}
	services = append(services, service.NewSignalHandler(logger, os.Interrupt, syscall.SIGTERM))

	if err := service.Init(logger, services); err != nil {
		return err
	}

	logger.Info("Starting Smaragdine")
	if err := service.Run(ctx, logger, services); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("Graceful shutdown completed")
	return nil
}

// createServices returns the services of the sampler server in init order
func createServices(logger *slog.Logger, cfg *config.Config) ([]service.Service, error) {
	logger.Debug("Creating all services")

	meters, err := createMeters(logger, cfg)
	if err != nil {
		return nil, err
	}

	smp := sampler.NewSampler(
		sampler.WithLogger(logger),
		sampler.WithProcFSPath(cfg.Host.ProcFS),
		sampler.WithPeriod(cfg.Sampler.Period),
		sampler.WithMeters(meters...),
	)
	apiServer := server.NewAPIServer(
		server.WithLogger(logger),
		server.WithListen(cfg.Web.ListenAddresses, cfg.Web.Config),
	)

	services := []service.Service{
		smp,
		sampler.NewAPI(apiServer, smp, logger),
		server.NewHealth(apiServer, smp),
	}

	if ptr.Deref(cfg.Exporter.Prometheus.Enabled, false) {
		services = append(services, prometheus.NewExporter(
			apiServer,
			prometheus.WithLogger(logger),
			prometheus.WithDebugCollectors(cfg.Exporter.Prometheus.DebugCollectors),
			prometheus.WithCollectors(prometheus.CreateCollectors(smp, prometheus.WithLogger(logger))),
		))
	}

	if ptr.Deref(cfg.Debug.Pprof.Enabled, false) {
		services = append(services, server.NewPprof(apiServer))
	}

	if ptr.Deref(cfg.Exporter.Stdout.Enabled, false) {
		services = append(services, stdout.NewExporter(
			smp,
			stdout.WithLogger(logger),
			stdout.WithInterval(cfg.Exporter.Stdout.Interval),
		))
	}

	// the API server is initialized last; every endpoint is registered by then
	return append(services, apiServer), nil
}

// createMeters returns the enabled power meters. Meters that are not present
// on the host are dropped by the sampler when it initializes them.
func createMeters(logger *slog.Logger, cfg *config.Config) ([]device.Meter, error) {
	var meters []device.Meter

	if ptr.Deref(cfg.Sampler.Rapl, false) {
		rapl, err := device.NewRaplMeter(cfg.Host.SysFS, device.WithRaplLogger(logger))
		if err != nil {
			logger.Warn("RAPL power meter not available", "sysfs", cfg.Host.SysFS, "error", err)
		} else {
			meters = append(meters, rapl)
		}
	}

	if ptr.Deref(cfg.Sampler.Nvml, false) {
		meters = append(meters, device.NewNvmlMeter(device.WithNvmlLogger(logger)))
	}

	if ptr.Deref(cfg.Dev.FakeMeter.Enabled, false) {
		sources, err := cfg.Dev.FakeMeter.ParsedSources()
		if err != nil {
			return nil, fmt.Errorf("invalid fake meter: %w", err)
		}
		fake, err := device.NewFakeMeter(
			device.WithFakeSources(sources...),
			device.WithFakeBasePower(device.Power(cfg.Dev.FakeMeter.Power)*device.Watt),
			device.WithFakeLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("invalid fake meter: %w", err)
		}
		logger.Warn("fake power meter enabled; samples are synthetic", "sources", cfg.Dev.FakeMeter.Sources)
		meters = append(meters, fake)
	}

	if len(meters) == 0 {
		return nil, fmt.Errorf("no power meter enabled")
	}
	return meters, nil
}
