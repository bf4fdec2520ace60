// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
)

// nvmlLib abstracts the NVML library functions for testability
type nvmlLib interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceGetCount() (int, nvml.Return)
	DeviceGetHandleByIndex(index int) (nvmlDevice, nvml.Return)
	ErrorString(ret nvml.Return) string
}

// nvmlDevice abstracts the operations used on an NVML device handle
type nvmlDevice interface {
	GetName() (string, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
}

// realNvmlLib calls the actual NVML library
type realNvmlLib struct{}

func (realNvmlLib) Init() nvml.Return {
	return nvml.Init()
}

func (realNvmlLib) Shutdown() nvml.Return {
	return nvml.Shutdown()
}

func (realNvmlLib) DeviceGetCount() (int, nvml.Return) {
	return nvml.DeviceGetCount()
}

func (realNvmlLib) DeviceGetHandleByIndex(index int) (nvmlDevice, nvml.Return) {
	handle, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nil, ret
	}
	return handle, ret
}

func (realNvmlLib) ErrorString(ret nvml.Return) string {
	return nvml.ErrorString(ret)
}

// nvmlMeter reports the power usage of every NVIDIA GPU of the host
type nvmlMeter struct {
	lib    nvmlLib
	logger *slog.Logger

	mu      sync.Mutex
	devices []nvmlDevice
}

var _ Meter = (*nvmlMeter)(nil)

// NvmlOptFn configures the NVML meter
type NvmlOptFn func(*nvmlMeter)

// WithNvmlLogger sets the logger of the NVML meter
func WithNvmlLogger(logger *slog.Logger) NvmlOptFn {
	return func(m *nvmlMeter) {
		m.logger = logger.With("meter", "nvml")
	}
}

func withNvmlLib(lib nvmlLib) NvmlOptFn {
	return func(m *nvmlMeter) {
		m.lib = lib
	}
}

// NewNvmlMeter creates a meter for NVIDIA GPUs. The library is loaded by Init.
func NewNvmlMeter(opts ...NvmlOptFn) *nvmlMeter {
	m := &nvmlMeter{
		lib:    realNvmlLib{},
		logger: slog.Default().With("meter", "nvml"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *nvmlMeter) Name() string {
	return "nvml"
}

// Init loads NVML and resolves the device handles
func (m *nvmlMeter) Init() (err error) {
	defer func() {
		// nvml.Init panics when libnvidia-ml.so can not be loaded
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to load NVML: %v: %w", r, ErrUnavailable)
		}
	}()

	if ret := m.lib.Init(); ret != nvml.SUCCESS {
		return fmt.Errorf("failed to initialize NVML: %s: %w", m.lib.ErrorString(ret), ErrUnavailable)
	}

	count, ret := m.lib.DeviceGetCount()
	if ret != nvml.SUCCESS {
		m.lib.Shutdown()
		return fmt.Errorf("failed to get device count: %s: %w", m.lib.ErrorString(ret), ErrUnavailable)
	}
	if count == 0 {
		m.lib.Shutdown()
		return fmt.Errorf("no NVIDIA GPUs found: %w", ErrUnavailable)
	}

	devices := make([]nvmlDevice, 0, count)
	for i := range count {
		dev, ret := m.lib.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			m.lib.Shutdown()
			return fmt.Errorf("failed to get device %d: %s", i, m.lib.ErrorString(ret))
		}
		name, _ := dev.GetName()
		m.logger.Info("Found GPU", "index", i, "name", name)
		devices = append(devices, dev)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = devices
	return nil
}

// Read returns the current power usage of each GPU. NVML reports milliwatts.
func (m *nvmlMeter) Read() ([]Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.devices == nil {
		return nil, fmt.Errorf("nvml meter not initialized")
	}

	readings := make([]Reading, 0, len(m.devices))
	for i, dev := range m.devices {
		mw, ret := dev.GetPowerUsage()
		switch ret {
		case nvml.SUCCESS:
		case nvml.ERROR_GPU_IS_LOST, nvml.ERROR_UNINITIALIZED, nvml.ERROR_NOT_SUPPORTED:
			return nil, fmt.Errorf("failed to read power of GPU %d: %s: %w", i, m.lib.ErrorString(ret), ErrUnavailable)
		default:
			return nil, fmt.Errorf("failed to read power of GPU %d: %s", i, m.lib.ErrorString(ret))
		}
		readings = append(readings, Reading{
			Source: accounting.GPU(i),
			Power:  Power(mw) * MilliWatt,
		})
	}
	return readings, nil
}

func (m *nvmlMeter) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.devices == nil {
		return nil
	}
	m.devices = nil
	if ret := m.lib.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("failed to shutdown NVML: %s", m.lib.ErrorString(ret))
	}
	return nil
}
