// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
	"k8s.io/utils/ptr"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "", cfg.Web.Config)
	assert.Equal(t, []string{DefaultPort}, cfg.Web.ListenAddresses)
	assert.Equal(t, 4*time.Millisecond, cfg.Sampler.Period)
	assert.True(t, *cfg.Sampler.Rapl)
	assert.True(t, *cfg.Sampler.Nvml)
	assert.Equal(t, "linear", cfg.Accounting.Interpolation)
	assert.Equal(t, "edge-hold", cfg.Accounting.Extrapolation)
	assert.Equal(t, "/", cfg.Accounting.Separator)
	assert.False(t, *cfg.Dev.FakeMeter.Enabled)

	assert.False(t, *cfg.Exporter.Stdout.Enabled, "stdout exporter should be disabled by default")
	assert.True(t, *cfg.Exporter.Prometheus.Enabled, "prometheus exporter should be enabled by default")
	assert.Equal(t, []string{"go"}, cfg.Exporter.Prometheus.DebugCollectors)
	assert.False(t, *cfg.Debug.Pprof.Enabled, "pprof should be disabled by default")

	assert.NoError(t, cfg.Validate(SkipHostValidation))
}

func TestLoadFromYAML(t *testing.T) {
	yamlData := `
log:
  level: debug
  format: json
sampler:
  period: 10ms
  nvml: false
accounting:
  interpolation: step
  extrapolation: zero
  parallelism: 2
  separator: "."
output:
  dir: /tmp/footprints
exporter:
  stdout:
    enabled: true
    interval: 1s
  prometheus:
    debugCollectors:
      - go
      - process
dev:
  fake-meter:
    enabled: true
    sources: ["CPU:0", "GPU:1"]
    power: 42
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 10*time.Millisecond, cfg.Sampler.Period)
	assert.True(t, *cfg.Sampler.Rapl, "unset values keep their default")
	assert.False(t, *cfg.Sampler.Nvml)
	assert.Equal(t, 2, cfg.Accounting.Parallelism)
	assert.Equal(t, ".", cfg.Accounting.Separator)
	assert.Equal(t, "/tmp/footprints", cfg.Output.Dir)
	assert.True(t, *cfg.Exporter.Stdout.Enabled)
	assert.Equal(t, time.Second, cfg.Exporter.Stdout.Interval)
	assert.ElementsMatch(t, []string{"go", "process"}, cfg.Exporter.Prometheus.DebugCollectors)
	assert.True(t, *cfg.Dev.FakeMeter.Enabled)
	assert.Equal(t, 42.0, cfg.Dev.FakeMeter.Power)

	policy, err := cfg.Accounting.Policy()
	require.NoError(t, err)
	assert.Equal(t, accounting.Policy{
		Interpolation: accounting.InterpolateStep,
		Extrapolation: accounting.ExtrapolateZero,
	}, policy)

	sources, err := cfg.Dev.FakeMeter.ParsedSources()
	require.NoError(t, err)
	assert.Equal(t, []accounting.Source{accounting.CPU(0), accounting.GPU(1)}, sources)
}

func TestLoadEmptyFromYAML(t *testing.T) {
	cfg, err := Load(strings.NewReader(``))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().String(), cfg.String())
}

func TestLoadInvalidConfigFromYAML(t *testing.T) {
	yamlData := `
log:
  level: FATAL
  format: json
`
	cfg, err := Load(strings.NewReader(yamlData))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Nil(t, cfg)
}

func TestWhitespaceHandling(t *testing.T) {
	yamlData := `
log:
  level: "  debug  "
  format: "  json  "
accounting:
  interpolation: " STEP "
exporter:
  prometheus:
    debugCollectors: ["  go  ", "  process  "]
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "step", cfg.Accounting.Interpolation)
	assert.ElementsMatch(t, []string{"go", "process"}, cfg.Exporter.Prometheus.DebugCollectors)
}

func TestInvalidYAML(t *testing.T) {
	yamlData := `
log:
  level: FATAL
invalid yaml
`
	_, err := Load(strings.NewReader(yamlData))
	assert.Error(t, err)
}

// ErrorReader is a mock io.Reader that always returns an error
type ErrorReader struct{}

func (r *ErrorReader) Read(p []byte) (n int, err error) {
	return 0, os.ErrInvalid
}

func TestReadError(t *testing.T) {
	_, err := Load(&ErrorReader{})
	assert.Error(t, err, "Read error should propagate")
}

func TestCommandLinePrecedence(t *testing.T) {
	yamlData := `
sampler:
  period: 20ms
exporter:
  stdout:
    enabled: false
  prometheus:
    enabled: false
debug:
  pprof:
    enabled: false
accounting:
  separator: "."
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)

	app := kingpin.New("test", "Test application")
	updateConfig := RegisterFlags(app)
	_, err = app.Parse([]string{
		"--exporter.stdout",
		"--debug.pprof",
		"--sampler.period=2ms",
		"--no-sampler.nvml",
		"--accounting.interpolation=step",
		"--accounting.parallelism=3",
		"--output.dir=out",
	})
	require.NoError(t, err)
	require.NoError(t, updateConfig(cfg, SkipHostValidation))

	assert.True(t, *cfg.Exporter.Stdout.Enabled, "stdout exporter should be enabled from flag")
	assert.False(t, *cfg.Exporter.Prometheus.Enabled, "prometheus exporter should remain disabled from yaml")
	assert.True(t, *cfg.Debug.Pprof.Enabled, "pprof should be enabled from flag")
	assert.Equal(t, 2*time.Millisecond, cfg.Sampler.Period)
	assert.False(t, *cfg.Sampler.Nvml)
	assert.True(t, *cfg.Sampler.Rapl)
	assert.Equal(t, "step", cfg.Accounting.Interpolation)
	assert.Equal(t, 3, cfg.Accounting.Parallelism)
	assert.Equal(t, ".", cfg.Accounting.Separator, "separator should remain from yaml")
	assert.Equal(t, "out", cfg.Output.Dir)
}

func TestConfigValidation(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tt := []struct {
		name          string
		mutate        func(*Config)
		expectedError string
	}{
		{"invalid log.level", func(c *Config) { c.Log.Level = "FATAL" }, "invalid log level"},
		{"invalid log.format", func(c *Config) { c.Log.Format = "JASON" }, "invalid log format"},
		{"zero period", func(c *Config) { c.Sampler.Period = 0 }, "invalid sampler period"},
		{"interpolation", func(c *Config) { c.Accounting.Interpolation = "cubic" }, "invalid accounting interpolation"},
		{"extrapolation", func(c *Config) { c.Accounting.Extrapolation = "mirror" }, "invalid accounting extrapolation"},
		{"parallelism", func(c *Config) { c.Accounting.Parallelism = -1 }, "invalid accounting parallelism"},
		{"separator", func(c *Config) { c.Accounting.Separator = "" }, "separator cannot be empty"},
		{"output dir is a file", func(c *Config) { c.Output.Dir = file }, "invalid output dir"},
		{"no listen address", func(c *Config) { c.Web.ListenAddresses = nil }, "at least one web listen address"},
		{"bad listen address", func(c *Config) { c.Web.ListenAddresses = []string{"localhost"} }, "invalid web listen address"},
		{"bad port", func(c *Config) { c.Web.ListenAddresses = []string{":99999"} }, "port must be between"},
		{"stdout interval", func(c *Config) {
			c.Exporter.Stdout.Enabled = ptr.To(true)
			c.Exporter.Stdout.Interval = 0
		}, "invalid stdout exporter interval"},
		{"fake meter sources", func(c *Config) {
			c.Dev.FakeMeter.Enabled = ptr.To(true)
			c.Dev.FakeMeter.Sources = []string{"TPU:0"}
		}, "invalid fake meter sources"},
		{"fake meter without sources", func(c *Config) {
			c.Dev.FakeMeter.Enabled = ptr.To(true)
			c.Dev.FakeMeter.Sources = nil
		}, "invalid fake meter sources"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate(SkipHostValidation)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectedError)
		})
	}
}

func TestHostValidation(t *testing.T) {
	sysfs, procfs := t.TempDir(), t.TempDir()
	for _, dir := range []string{sysfs, procfs} {
		require.NoError(t, os.Mkdir(filepath.Join(dir, "entry"), 0o755))
	}

	cfg := DefaultConfig()
	cfg.Host.SysFS, cfg.Host.ProcFS = sysfs, procfs
	assert.NoError(t, cfg.Validate())

	t.Run("missing dirs", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Host.SysFS = "/non-existent-dir"
		cfg.Host.ProcFS = "/non-existent-dir"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid sysfs")
		assert.Contains(t, err.Error(), "invalid procfs")
		assert.NoError(t, cfg.Validate(SkipHostValidation))
	})

	t.Run("no power meter", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Host.SysFS, cfg.Host.ProcFS = sysfs, procfs
		cfg.Sampler.Rapl = ptr.To(false)
		cfg.Sampler.Nvml = ptr.To(false)
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one power meter")

		cfg.Dev.FakeMeter.Enabled = ptr.To(true)
		assert.NoError(t, cfg.Validate())
	})
}

func TestFlagParseErrors(t *testing.T) {
	tt := []struct {
		name string
		args []string
	}{
		{"invalid log.level", []string{"--log.level=FATAL"}},
		{"invalid log.format", []string{"--log.format=JASON"}},
		{"invalid interpolation", []string{"--accounting.interpolation=cubic"}},
		{"invalid period", []string{"--sampler.period=soon"}},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			app := kingpin.New("test", "Test application")
			RegisterFlags(app)
			_, err := app.Parse(tc.args)
			assert.Error(t, err)
		})
	}
}

func TestConfigString(t *testing.T) {
	tt := []struct {
		name   string
		config *Config
	}{{
		name:   "default config",
		config: DefaultConfig(),
	}, {
		name: "custom config",
		config: &Config{
			Log:  Log{Level: "debug", Format: "json"},
			Host: Host{SysFS: "/sys/fake", ProcFS: "/proc/fake"},
		},
	}}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			str := tc.config.String()
			assert.Contains(t, str, "log:")
			assert.Contains(t, str, "level: "+tc.config.Log.Level)
			assert.Contains(t, str, "format: "+tc.config.Log.Format)
		})
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			str := tc.config.manualString()
			assert.Contains(t, str, "log.level: "+tc.config.Log.Level)
			assert.Contains(t, str, "log.format: "+tc.config.Log.Format)
			assert.Contains(t, str, "host.sysfs: "+tc.config.Host.SysFS)
			assert.Contains(t, str, "host.procfs: "+tc.config.Host.ProcFS)
			assert.Contains(t, str, "sampler.period: "+tc.config.Sampler.Period.String())
		})
	}
}

func TestEnablePprof(t *testing.T) {
	tt := []struct {
		name    string
		args    []string
		enabled bool
	}{{
		name:    "enable pprof with flag",
		args:    []string{"--debug.pprof"},
		enabled: true,
	}, {
		name:    "disable pprof no flag",
		args:    []string{"--log.level=debug"},
		enabled: false,
	}, {
		name:    "disable pprof with flag",
		args:    []string{"--no-debug.pprof"},
		enabled: false,
	}}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			app := kingpin.New("test", "Test application")
			updateConfig := RegisterFlags(app)
			_, parseErr := app.Parse(tc.args)
			assert.NoError(t, parseErr, "unexpected flag parsing error")
			cfg := DefaultConfig()
			err := updateConfig(cfg, SkipHostValidation)
			assert.NoError(t, err, "unexpected config update error")
			assert.Equal(t, tc.enabled, *cfg.Debug.Pprof.Enabled, "unexpected flag value")
		})
	}
}

func TestWebConfig(t *testing.T) {
	t.Run("invalid web config", func(t *testing.T) {
		app := kingpin.New("test", "Test application")
		updateConfig := RegisterFlags(app)
		_, parseErr := app.Parse([]string{"--web.config-file=/fake/web.yml"})
		assert.NoError(t, parseErr, "unexpected flag parsing error")
		cfg := DefaultConfig()
		assert.Error(t, updateConfig(cfg, SkipHostValidation), "expected config update error")
	})
	t.Run("valid web config", func(t *testing.T) {
		webConfig := filepath.Join(t.TempDir(), "web.yml")
		require.NoError(t, os.WriteFile(webConfig, []byte(`
tls_server_config:
  cert_file: cert.pem
  key_file: key.pem
`), 0o644))

		app := kingpin.New("test", "Test application")
		updateConfig := RegisterFlags(app)
		_, parseErr := app.Parse([]string{
			fmt.Sprintf("--web.config-file=%s", webConfig),
			"--web.listen-address=:9000",
			"--web.listen-address=[::1]:9001",
		})
		assert.NoError(t, parseErr, "unexpected flag parsing error")
		cfg := DefaultConfig()
		require.NoError(t, updateConfig(cfg, SkipHostValidation))
		assert.Equal(t, webConfig, cfg.Web.Config)
		assert.Equal(t, []string{":9000", "[::1]:9001"}, cfg.Web.ListenAddresses)
	})
}

func TestBuilder(t *testing.T) {
	t.Run("Build", func(t *testing.T) {
		b := &Builder{}
		got, err := b.Build()
		assert.NoError(t, err)
		assert.Equal(t, DefaultConfig().String(), got.String())
	})

	t.Run("Use", func(t *testing.T) {
		b := &Builder{}
		exp := DefaultConfig()
		exp.Log.Level = "warn"

		got, err := b.Use(exp).Build()
		assert.NoError(t, err)
		assert.Equal(t, exp.String(), got.String())
	})

	t.Run("MergeWithInvalidYAML", func(t *testing.T) {
		b := &Builder{}
		cfg, err := b.Merge().
			Merge(`invalid yaml: [invalid`).
			Build()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse inline config")
		assert.Nil(t, cfg)
	})

	t.Run("MergeFiles", func(t *testing.T) {
		dir := t.TempDir()
		base := filepath.Join(dir, "base.yaml")
		require.NoError(t, os.WriteFile(base, []byte("log:\n  level: debug\n  format: json\naccounting:\n  separator: \".\"\n"), 0o644))
		site := filepath.Join(dir, "site.yaml")
		require.NoError(t, os.WriteFile(site, []byte("log:\n  level: \" warn \"\nsampler:\n  rapl: false\n"), 0o644))

		cfg, err := (&Builder{}).MergeFiles(base, site).Build()
		require.NoError(t, err)
		exp := DefaultConfig()
		exp.Log.Level = "warn"
		exp.Log.Format = "json"
		exp.Accounting.Separator = "."
		exp.Sampler.Rapl = ptr.To(false)
		assert.Equal(t, exp.String(), cfg.String())
	})

	t.Run("MergeFilesMissing", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "missing.yaml")
		cfg, err := (&Builder{}).MergeFiles(missing).Build()
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.ErrorContains(t, err, "failed to read config file")
		assert.Nil(t, cfg)
	})

	t.Run("MergeFilesInvalid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log: [oops"), 0o644))
		_, err := (&Builder{}).MergeFiles(path).Build()
		assert.ErrorContains(t, err, "failed to parse "+path+" config")
	})

	t.Run("BuildValidates", func(t *testing.T) {
		cfg, err := (&Builder{}).Merge("log:\n  level: FATAL\n").Build()
		assert.ErrorContains(t, err, "invalid log level")
		assert.Nil(t, cfg)
	})

	t.Run("MultipleMerges", func(t *testing.T) {
		b := &Builder{}
		cfg, err := b.
			Merge(`
log:
  level: debug
`,
				`
sampler:
  period: 1s
`,
				`
log:
  level: info
`).
			Build()
		assert.NoError(t, err)
		exp := DefaultConfig()
		exp.Log.Level = "info"
		exp.Sampler.Period = time.Second
		assert.Equal(t, exp.String(), cfg.String())
	})

	t.Run("MergeBoolPointers", func(t *testing.T) {
		b := &Builder{}
		cfg, err := b.
			Merge(`
sampler:
  nvml: false
dev:
  fake-meter:
    enabled: true
`).
			Build()
		assert.NoError(t, err)
		exp := DefaultConfig()
		exp.Sampler.Nvml = ptr.To(false)
		exp.Dev.FakeMeter.Enabled = ptr.To(true)
		assert.Equal(t, exp.String(), cfg.String())
	})

	t.Run("MergeArrays", func(t *testing.T) {
		b := &Builder{}
		cfg, err := b.
			Merge(`
exporter:
  prometheus:
    debugCollectors: ["go", "process"]
`).
			Build()
		assert.NoError(t, err)
		exp := DefaultConfig()
		exp.Exporter.Prometheus.DebugCollectors = []string{"go", "process"}
		assert.Equal(t, exp.String(), cfg.String())
	})
}
