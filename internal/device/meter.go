// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"

	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
)

// ErrUnavailable is wrapped by meters whose device can not be read at all,
// e.g. missing permissions or a vanished driver. Retrying will not help.
var ErrUnavailable = errors.New("power meter unavailable")

// Reading is the power drawn by one source at the time of the read
type Reading struct {
	Source accounting.Source
	Power  Power
}

// Meter reads instantaneous power from hardware devices like CPU sockets
// and GPUs
type Meter interface {
	// Name returns a string identifying the meter
	Name() string

	// Init prepares the meter and fails if the device can not be read
	Init() error

	// Read returns one reading per source of the meter
	Read() ([]Reading, error)

	// Shutdown releases the device
	Shutdown() error
}
