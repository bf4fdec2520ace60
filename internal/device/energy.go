// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"time"
)

// Energy represents energy usage as an uint64 MicroJoule count.
// The maximum energy that can be captured is 2^64 - 1 MicroJoules
type Energy uint64

const (
	MicroJoule Energy = 1
	MilliJoule        = 1000 * MicroJoule
	Joule             = 1000 * MilliJoule
)

func (e Energy) MicroJoules() uint64 {
	return uint64(e)
}

func (e Energy) Joules() float64 {
	return float64(e) / float64(Joule)
}

func (e Energy) String() string {
	return fmt.Sprintf("%.2fJ", e.Joules())
}

// Power represents power usage as an float64 MicroWatts.
type Power float64

const (
	MicroWatt Power = 1.0
	MilliWatt       = 1000 * MicroWatt
	Watt            = 1000 * MilliWatt
)

func (p Power) MicroWatts() float64 {
	return float64(p)
}

func (p Power) MilliWatts() float64 {
	return float64(p / MilliWatt)
}

func (p Power) Watts() float64 {
	return float64(p / Watt)
}

func (p Power) String() string {
	return fmt.Sprintf("%.2fW", p.Watts())
}

// EnergyDelta returns the energy consumed between two readings of a counter
// that wraps around at maxEnergy. A zero maxEnergy means the counter never wraps.
func EnergyDelta(prev, cur, maxEnergy Energy) Energy {
	if cur >= prev {
		return cur - prev
	}
	if maxEnergy == 0 || prev > maxEnergy {
		// counter was reset rather than wrapped
		return cur
	}
	return (maxEnergy - prev) + cur
}

// AveragePower returns the mean power of e consumed over d
func AveragePower(e Energy, d time.Duration) Power {
	if d <= 0 {
		return 0
	}
	// µJ per second is µW
	return Power(float64(e) / d.Seconds())
}
