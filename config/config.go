// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// DefaultPort is the port the sampler server listens on unless configured
const DefaultPort = ":50051"

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}
	Host struct {
		SysFS  string `yaml:"sysfs"`
		ProcFS string `yaml:"procfs"`
	}

	// Sampler configuration
	Sampler struct {
		Period time.Duration `yaml:"period"` // used when a start request carries no period
		Rapl   *bool         `yaml:"rapl"`
		Nvml   *bool         `yaml:"nvml"`
	}

	// Accounting configuration
	Accounting struct {
		Interpolation string `yaml:"interpolation"`
		Extrapolation string `yaml:"extrapolation"`
		Parallelism   int    `yaml:"parallelism"` // 0 uses GOMAXPROCS
		Separator     string `yaml:"separator"`
	}

	Output struct {
		Dir string `yaml:"dir"`
	}

	// Development mode settings; disabled by default
	FakeMeter struct {
		Enabled *bool    `yaml:"enabled"`
		Sources []string `yaml:"sources"`
		Power   float64  `yaml:"power"` // watts
	}
	Dev struct {
		FakeMeter FakeMeter `yaml:"fake-meter"`
	}
	Web struct {
		Config          string   `yaml:"configFile"`
		ListenAddresses []string `yaml:"listenAddresses"`
	}

	// Exporter configuration
	StdoutExporter struct {
		Enabled  *bool         `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
	}

	PrometheusExporter struct {
		Enabled         *bool    `yaml:"enabled"`
		DebugCollectors []string `yaml:"debugCollectors"`
	}

	Exporter struct {
		Stdout     StdoutExporter     `yaml:"stdout"`
		Prometheus PrometheusExporter `yaml:"prometheus"`
	}

	// Debug configuration
	PprofDebug struct {
		Enabled *bool `yaml:"enabled"`
	}

	Debug struct {
		Pprof PprofDebug `yaml:"pprof"`
	}

	Config struct {
		Log        Log        `yaml:"log"`
		Host       Host       `yaml:"host"`
		Sampler    Sampler    `yaml:"sampler"`
		Accounting Accounting `yaml:"accounting"`
		Output     Output     `yaml:"output"`
		Exporter   Exporter   `yaml:"exporter"`
		Web        Web        `yaml:"web"`
		Debug      Debug      `yaml:"debug"`
		Dev        Dev        `yaml:"dev"` // WARN: do not expose dev settings as flags
	}
)

type SkipValidation int

const (
	// SkipHostValidation skips the checks that only matter to the sampler
	// server: host paths and power meters
	SkipHostValidation SkipValidation = 1
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	HostSysFSFlag  = "host.sysfs"
	HostProcFSFlag = "host.procfs"

	SamplerPeriodFlag = "sampler.period"
	SamplerRaplFlag   = "sampler.rapl"
	SamplerNvmlFlag   = "sampler.nvml"

	AccountingInterpolationFlag = "accounting.interpolation"
	AccountingExtrapolationFlag = "accounting.extrapolation"
	AccountingParallelismFlag   = "accounting.parallelism"
	AccountingSeparatorFlag     = "accounting.separator"

	OutputDirFlag = "output.dir"

	pprofEnabledFlag = "debug.pprof"

	WebConfigFlag        = "web.config-file"
	WebListenAddressFlag = "web.listen-address"

	// Exporters
	ExporterStdoutEnabledFlag = "exporter.stdout"
	// NOTE: not a flag
	ExporterStdoutInterval = "exporter.stdout.interval"

	ExporterPrometheusEnabledFlag = "exporter.prometheus"
	// NOTE: not a flag
	ExporterPrometheusDebugCollectors = "exporter.prometheus.debug-collectors"

	// NOTE: not flags
	DevFakeMeterEnabled = "dev.fake-meter.enabled"
	DevFakeMeterSources = "dev.fake-meter.sources"

// WARN:  dev settings shouldn't be exposed as flags as flags are intended for end users
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			SysFS:  "/sys",
			ProcFS: "/proc",
		},
		Sampler: Sampler{
			Period: 4 * time.Millisecond,
			Rapl:   ptr.To(true),
			Nvml:   ptr.To(true),
		},
		Accounting: Accounting{
			Interpolation: accounting.InterpolateLinear.String(),
			Extrapolation: accounting.ExtrapolateEdgeHold.String(),
			Separator:     accounting.DefaultSeparator,
		},
		Exporter: Exporter{
			Stdout: StdoutExporter{
				Enabled:  ptr.To(false),
				Interval: 5 * time.Second,
			},
			Prometheus: PrometheusExporter{
				Enabled:         ptr.To(true),
				DebugCollectors: []string{"go"},
			},
		},
		Debug: Debug{
			Pprof: PprofDebug{
				Enabled: ptr.To(false),
			},
		},
		Web: Web{
			ListenAddresses: []string{DefaultPort},
		},
	}

	cfg.Dev.FakeMeter.Enabled = ptr.To(false)
	cfg.Dev.FakeMeter.Sources = []string{"CPU:0"}
	cfg.Dev.FakeMeter.Power = 100
	return cfg
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(SkipHostValidation); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigUpdaterFn applies the parsed flags to a config and validates it
type ConfigUpdaterFn func(*Config, ...SkipValidation) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// Clear the map in case this function is called multiple times
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")
	// host
	hostSysFS := app.Flag(HostSysFSFlag, "Host sysfs path").Default("/sys").String()
	hostProcFS := app.Flag(HostProcFSFlag, "Host procfs path").Default("/proc").String()

	// sampler
	samplerPeriod := app.Flag(SamplerPeriodFlag, "Default sampling period of a session").Default("4ms").Duration()
	samplerRapl := app.Flag(SamplerRaplFlag, "Sample CPU package power through RAPL").Default("true").Bool()
	samplerNvml := app.Flag(SamplerNvmlFlag, "Sample GPU power through NVML").Default("true").Bool()

	// accounting
	interpolation := app.Flag(AccountingInterpolationFlag, "Power between two samples: linear or step").Default("linear").Enum("linear", "step")
	extrapolation := app.Flag(AccountingExtrapolationFlag, "Power outside the sampled range: edge-hold or zero").Default("edge-hold").Enum("edge-hold", "zero")
	parallelism := app.Flag(AccountingParallelismFlag, "Sources accounted concurrently; 0 for one per CPU").Default("0").Int()
	separator := app.Flag(AccountingSeparatorFlag, "Separator joining nested interval names").Default(accounting.DefaultSeparator).String()

	outputDir := app.Flag(OutputDirFlag, "Directory footprints are written to").Default("").String()

	enablePprof := app.Flag(pprofEnabledFlag, "Enable pprof debug endpoints").Default("false").Bool()
	webConfig := app.Flag(WebConfigFlag, "Web config file path").Default("").String()
	webListenAddresses := app.Flag(WebListenAddressFlag, "Web server listen addresses").Default(DefaultPort).Strings()

	// exporters
	stdoutExporterEnabled := app.Flag(ExporterStdoutEnabledFlag, "Enable stdout exporter").Default("false").Bool()
	prometheusExporterEnabled := app.Flag(ExporterPrometheusEnabledFlag, "Enable Prometheus exporter").Default("true").Bool()

	return func(cfg *Config, skips ...SkipValidation) error {
		// Logging settings
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}

		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[HostSysFSFlag] {
			cfg.Host.SysFS = *hostSysFS
		}

		if flagsSet[HostProcFSFlag] {
			cfg.Host.ProcFS = *hostProcFS
		}

		// sampler settings
		if flagsSet[SamplerPeriodFlag] {
			cfg.Sampler.Period = *samplerPeriod
		}
		if flagsSet[SamplerRaplFlag] {
			cfg.Sampler.Rapl = samplerRapl
		}
		if flagsSet[SamplerNvmlFlag] {
			cfg.Sampler.Nvml = samplerNvml
		}

		// accounting settings
		if flagsSet[AccountingInterpolationFlag] {
			cfg.Accounting.Interpolation = *interpolation
		}
		if flagsSet[AccountingExtrapolationFlag] {
			cfg.Accounting.Extrapolation = *extrapolation
		}
		if flagsSet[AccountingParallelismFlag] {
			cfg.Accounting.Parallelism = *parallelism
		}
		if flagsSet[AccountingSeparatorFlag] {
			cfg.Accounting.Separator = *separator
		}

		if flagsSet[OutputDirFlag] {
			cfg.Output.Dir = *outputDir
		}

		if flagsSet[pprofEnabledFlag] {
			cfg.Debug.Pprof.Enabled = enablePprof
		}

		if flagsSet[WebConfigFlag] {
			cfg.Web.Config = *webConfig
		}

		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddresses = *webListenAddresses
		}

		if flagsSet[ExporterStdoutEnabledFlag] {
			cfg.Exporter.Stdout.Enabled = stdoutExporterEnabled
		}

		if flagsSet[ExporterPrometheusEnabledFlag] {
			cfg.Exporter.Prometheus.Enabled = prometheusExporterEnabled
		}

		cfg.sanitize()
		return cfg.Validate(skips...)
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Host.SysFS = strings.TrimSpace(c.Host.SysFS)
	c.Host.ProcFS = strings.TrimSpace(c.Host.ProcFS)
	c.Accounting.Interpolation = strings.ToLower(strings.TrimSpace(c.Accounting.Interpolation))
	c.Accounting.Extrapolation = strings.ToLower(strings.TrimSpace(c.Accounting.Extrapolation))
	c.Output.Dir = strings.TrimSpace(c.Output.Dir)
	c.Web.Config = strings.TrimSpace(c.Web.Config)
	for i := range c.Web.ListenAddresses {
		c.Web.ListenAddresses[i] = strings.TrimSpace(c.Web.ListenAddresses[i])
	}

	for i := range c.Exporter.Prometheus.DebugCollectors {
		c.Exporter.Prometheus.DebugCollectors[i] = strings.TrimSpace(c.Exporter.Prometheus.DebugCollectors[i])
	}
	for i := range c.Dev.FakeMeter.Sources {
		c.Dev.FakeMeter.Sources[i] = strings.TrimSpace(c.Dev.FakeMeter.Sources[i])
	}
}

// Validate checks for configuration errors
func (c *Config) Validate(skips ...SkipValidation) error {
	validationSkipped := make(map[SkipValidation]bool, len(skips))
	for _, v := range skips {
		validationSkipped[v] = true
	}
	var errs []string
	{ // log level

		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}

		// Validate logging settings
		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}

	{ // Validate host settings
		if _, skip := validationSkipped[SkipHostValidation]; !skip {
			if err := canReadDir(c.Host.SysFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid sysfs path: %s: %s ", c.Host.SysFS, err.Error()))
			}
			if err := canReadDir(c.Host.ProcFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid procfs path: %s: %s ", c.Host.ProcFS, err.Error()))
			}
			if !ptr.Deref(c.Sampler.Rapl, false) && !ptr.Deref(c.Sampler.Nvml, false) && !ptr.Deref(c.Dev.FakeMeter.Enabled, false) {
				errs = append(errs, "at least one power meter must be enabled")
			}
		}
	}
	{ // Sampler
		if c.Sampler.Period <= 0 {
			errs = append(errs, fmt.Sprintf("invalid sampler period: %s must be positive", c.Sampler.Period))
		}
	}
	{ // Accounting
		if _, err := accounting.ParseInterpolation(c.Accounting.Interpolation); err != nil {
			errs = append(errs, fmt.Sprintf("invalid accounting interpolation: %s", err.Error()))
		}
		if _, err := accounting.ParseExtrapolation(c.Accounting.Extrapolation); err != nil {
			errs = append(errs, fmt.Sprintf("invalid accounting extrapolation: %s", err.Error()))
		}
		if c.Accounting.Parallelism < 0 {
			errs = append(errs, fmt.Sprintf("invalid accounting parallelism: %d can't be negative", c.Accounting.Parallelism))
		}
		if c.Accounting.Separator == "" {
			errs = append(errs, "accounting separator cannot be empty")
		}
	}
	{ // Output dir
		if c.Output.Dir != "" {
			if info, err := os.Stat(c.Output.Dir); err == nil && !info.IsDir() {
				errs = append(errs, fmt.Sprintf("invalid output dir: %s is not a directory", c.Output.Dir))
			}
		}
	}
	{ // Web config file
		if c.Web.Config != "" {
			if err := canReadFile(c.Web.Config); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web config file. path: %q: %s", c.Web.Config, err.Error()))
			}
		}
	}
	{ // Web listen addresses
		if len(c.Web.ListenAddresses) == 0 {
			errs = append(errs, "at least one web listen address must be specified")
		}
		for _, addr := range c.Web.ListenAddresses {
			if addr == "" {
				errs = append(errs, "web listen address cannot be empty")
				continue
			}
			if err := validateListenAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web listen address %q: %s", addr, err.Error()))
			}
		}
	}
	{ // Exporters
		if ptr.Deref(c.Exporter.Stdout.Enabled, false) && c.Exporter.Stdout.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("invalid stdout exporter interval: %s must be positive", c.Exporter.Stdout.Interval))
		}
	}
	{ // Fake meter
		if ptr.Deref(c.Dev.FakeMeter.Enabled, false) {
			if _, err := c.Dev.FakeMeter.ParsedSources(); err != nil {
				errs = append(errs, fmt.Sprintf("invalid fake meter sources: %s", err.Error()))
			}
			if c.Dev.FakeMeter.Power < 0 {
				errs = append(errs, fmt.Sprintf("invalid fake meter power: %g can't be negative", c.Dev.FakeMeter.Power))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

// Policy returns the integration policy of the accounting settings
func (a Accounting) Policy() (accounting.Policy, error) {
	interp, err := accounting.ParseInterpolation(a.Interpolation)
	if err != nil {
		return accounting.Policy{}, err
	}
	extrap, err := accounting.ParseExtrapolation(a.Extrapolation)
	if err != nil {
		return accounting.Policy{}, err
	}
	return accounting.Policy{Interpolation: interp, Extrapolation: extrap}, nil
}

// ParsedSources returns the configured sources of the fake meter
func (f FakeMeter) ParsedSources() ([]accounting.Source, error) {
	if len(f.Sources) == 0 {
		return nil, errors.New("no source configured")
	}
	sources := make([]accounting.Source, 0, len(f.Sources))
	for _, s := range f.Sources {
		src, err := accounting.ParseSource(s)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func canReadDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	_, err = f.ReadDir(1)
	if err != nil {
		return err
	}

	return nil
}

func canReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()
	buf := make([]byte, 8)
	_, err = f.Read(buf)
	if err != nil {
		return err
	}

	return nil
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	// host can be empty to listen on all interfaces
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	if err := validatePort(port); err != nil {
		return err
	}

	return nil
}

func validatePort(port string) error {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric, got %s", port)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", portNum)
	}
	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE:  this code path should not happen but if it does (i.e if yaml marshal) fails
	// for some reason, manually build the string
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{HostSysFSFlag, c.Host.SysFS},
		{HostProcFSFlag, c.Host.ProcFS},
		{SamplerPeriodFlag, c.Sampler.Period.String()},
		{SamplerRaplFlag, fmt.Sprintf("%v", ptr.Deref(c.Sampler.Rapl, false))},
		{SamplerNvmlFlag, fmt.Sprintf("%v", ptr.Deref(c.Sampler.Nvml, false))},
		{AccountingInterpolationFlag, c.Accounting.Interpolation},
		{AccountingExtrapolationFlag, c.Accounting.Extrapolation},
		{AccountingParallelismFlag, strconv.Itoa(c.Accounting.Parallelism)},
		{AccountingSeparatorFlag, c.Accounting.Separator},
		{OutputDirFlag, c.Output.Dir},
		{ExporterStdoutEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Stdout.Enabled, false))},
		{ExporterStdoutInterval, c.Exporter.Stdout.Interval.String()},
		{ExporterPrometheusEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Prometheus.Enabled, false))},
		{ExporterPrometheusDebugCollectors, strings.Join(c.Exporter.Prometheus.DebugCollectors, ", ")},
		{pprofEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Debug.Pprof.Enabled, false))},
		{WebConfigFlag, c.Web.Config},
		{WebListenAddressFlag, strings.Join(c.Web.ListenAddresses, ", ")},
		{DevFakeMeterEnabled, fmt.Sprintf("%v", ptr.Deref(c.Dev.FakeMeter.Enabled, false))},
		{DevFakeMeterSources, strings.Join(c.Dev.FakeMeter.Sources, ", ")},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}
