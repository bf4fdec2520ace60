// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs/sysfs"
	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
	"k8s.io/utils/clock"
)

const (
	ZonePackage = "package"
	ZoneDRAM    = "dram"
)

// EnergyZone represents a measurable energy zone of a RAPL domain, e.g. the
// package or dram of a socket
type EnergyZone interface {
	// Name returns the zone name
	Name() string

	// Index returns the index of the zone
	Index() int

	// Path returns the path from which the energy usage value is being read
	Path() string

	// Energy returns energy consumed by the zone
	Energy() (Energy, error)

	// MaxEnergy returns the value at which Energy wraps around to zero
	MaxEnergy() Energy
}

// zoneReader lists the RAPL zones of the host; mocked in tests
type zoneReader interface {
	Zones() ([]EnergyZone, error)
}

// socketZones sums the package and dram counters of one CPU socket
type socketZones struct {
	socket int
	zones  []EnergyZone
	last   []Energy
}

// raplMeter reports the power of every CPU socket from the energy counters
// of its package and dram zones
type raplMeter struct {
	reader zoneReader
	clock  clock.PassiveClock
	logger *slog.Logger

	mu       sync.Mutex
	sockets  []*socketZones
	lastRead time.Time
}

var _ Meter = (*raplMeter)(nil)

// RaplOptFn configures the RAPL meter
type RaplOptFn func(*raplMeter)

// WithRaplLogger sets the logger of the RAPL meter
func WithRaplLogger(logger *slog.Logger) RaplOptFn {
	return func(m *raplMeter) {
		m.logger = logger.With("meter", "rapl")
	}
}

// WithRaplClock sets the clock used to turn energy into power
func WithRaplClock(c clock.PassiveClock) RaplOptFn {
	return func(m *raplMeter) {
		m.clock = c
	}
}

// withZoneReader replaces the sysfs zone reader
func withZoneReader(r zoneReader) RaplOptFn {
	return func(m *raplMeter) {
		m.reader = r
	}
}

// NewRaplMeter creates a meter reading powercap zones under sysfsPath
func NewRaplMeter(sysfsPath string, opts ...RaplOptFn) (*raplMeter, error) {
	sysFS, err := sysfs.NewFS(sysfsPath)
	if err != nil {
		return nil, err
	}

	m := &raplMeter{
		reader: sysfsRaplReader{fs: sysFS},
		clock:  clock.RealClock{},
		logger: slog.Default().With("meter", "rapl"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *raplMeter) Name() string {
	return "rapl"
}

// Init groups the package and dram zones by socket and takes the first
// counter readings
func (m *raplMeter) Init() error {
	zones, err := m.reader.Zones()
	if err != nil {
		return unavailable(err)
	}

	bySocket := map[int]*socketZones{}
	for _, zone := range zones {
		socket, ok := socketOf(zone)
		if !ok {
			m.logger.Debug("ignoring RAPL zone", "zone", zone.Name(), "path", zone.Path())
			continue
		}
		s, exists := bySocket[socket]
		if !exists {
			s = &socketZones{socket: socket}
			bySocket[socket] = s
		}
		s.zones = append(s.zones, zone)
	}
	if len(bySocket) == 0 {
		return fmt.Errorf("no RAPL package zones found: %w", ErrUnavailable)
	}

	sockets := make([]*socketZones, 0, len(bySocket))
	for _, s := range bySocket {
		s.last = make([]Energy, len(s.zones))
		for i, zone := range s.zones {
			e, err := zone.Energy()
			if err != nil {
				return unavailable(fmt.Errorf("failed to read %s: %w", zone.Path(), err))
			}
			s.last[i] = e
		}
		sockets = append(sockets, s)
	}
	sort.Slice(sockets, func(i, j int) bool {
		return sockets[i].socket < sockets[j].socket
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sockets = sockets
	m.lastRead = m.clock.Now()

	m.logger.Info("RAPL meter initialized", "sockets", len(sockets))
	return nil
}

// Read returns the mean power of each socket since the previous read
func (m *raplMeter) Read() ([]Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sockets == nil {
		return nil, fmt.Errorf("rapl meter not initialized")
	}

	now := m.clock.Now()
	elapsed := now.Sub(m.lastRead)

	readings := make([]Reading, 0, len(m.sockets))
	for _, s := range m.sockets {
		var consumed Energy
		for i, zone := range s.zones {
			e, err := zone.Energy()
			if err != nil {
				return nil, unavailable(fmt.Errorf("failed to read %s: %w", zone.Path(), err))
			}
			consumed += EnergyDelta(s.last[i], e, zone.MaxEnergy())
			s.last[i] = e
		}
		readings = append(readings, Reading{
			Source: accounting.CPU(s.socket),
			Power:  AveragePower(consumed, elapsed),
		})
	}
	m.lastRead = now

	if elapsed <= 0 {
		// counters were read but no time passed
		return nil, nil
	}
	return readings, nil
}

func (m *raplMeter) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sockets = nil
	return nil
}

// socketOf returns the socket of package and dram zones. Zones are matched
// by their standard powercap directory, intel-rapl:<socket>[:<sub>].
func socketOf(zone EnergyZone) (int, bool) {
	name := strings.ToLower(zone.Name())
	if !strings.HasPrefix(name, ZonePackage) && name != ZoneDRAM {
		return 0, false
	}

	base := filepath.Base(zone.Path())
	if !strings.HasPrefix(base, "intel-rapl:") {
		return 0, false
	}
	parts := strings.Split(base, ":")
	socket, err := strconv.Atoi(parts[1])
	if err != nil || socket < 0 {
		return 0, false
	}
	return socket, true
}

func unavailable(err error) error {
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

type sysfsRaplReader struct {
	fs sysfs.FS
}

func (r sysfsRaplReader) Zones() ([]EnergyZone, error) {
	raplZones, err := sysfs.GetRaplZones(r.fs)
	if err != nil {
		return nil, fmt.Errorf("failed to read rapl zones: %w", err)
	}

	zones := make([]EnergyZone, 0, len(raplZones))
	for _, zone := range raplZones {
		zones = append(zones, sysfsRaplZone{zone})
	}
	return zones, nil
}

// sysfsRaplZone adapts sysfs.RaplZone to EnergyZone
type sysfsRaplZone struct {
	zone sysfs.RaplZone
}

func (s sysfsRaplZone) Name() string {
	return s.zone.Name
}

func (s sysfsRaplZone) Index() int {
	return s.zone.Index
}

func (s sysfsRaplZone) Path() string {
	return s.zone.Path
}

func (s sysfsRaplZone) Energy() (Energy, error) {
	uj, err := s.zone.GetEnergyMicrojoules()
	return Energy(uj), err
}

func (s sysfsRaplZone) MaxEnergy() Energy {
	return Energy(s.zone.MaxMicrojoules)
}
