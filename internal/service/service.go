// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

// Package service runs the long lived parts of the sampler server: the
// sampler, the API server and the exporters.
package service

import "context"

// Service is the interface that all services must implement
type Service interface {
	// Name returns the name of the service
	Name() string
}

// Initializer is implemented by services that acquire resources before running
type Initializer interface {
	Service
	Init() error
}

// Runner is implemented by services that work in the background
type Runner interface {
	Service
	// Run blocks until ctx is done or the service fails; it must be thread safe
	Run(ctx context.Context) error
}

// Shutdowner is implemented by services that release resources
type Shutdowner interface {
	Service
	Shutdown() error
}
