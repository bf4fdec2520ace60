// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sustainable-computing-io/smaragdine/config"
	"github.com/sustainable-computing-io/smaragdine/internal/client"
	"github.com/sustainable-computing-io/smaragdine/internal/logger"
	"github.com/sustainable-computing-io/smaragdine/internal/version"
)

// cli holds the parsed command line
type cli struct {
	app          *kingpin.Application
	configFiles  *[]string
	updateConfig config.ConfigUpdaterFn

	serve *kingpin.CmdClause

	account      *kingpin.CmdClause
	accountFlow  *string
	accountPower *[]string
	accountKind  *string
	accountRun   *int
	accountWide  *bool

	virtualize         *kingpin.CmdClause
	virtualizeDatasets *[]string

	clientStart     *kingpin.CmdClause
	clientStop      *kingpin.CmdClause
	clientRead      *kingpin.CmdClause
	clientSmokeTest *kingpin.CmdClause
	clientAddr      *string
	clientPid       *int
	clientPeriod    *time.Duration
	clientDuration  *time.Duration
	clientOut       *string
}

func newCLI() *cli {
	app := kingpin.New("smaragdine", "Attributes the energy of a traced process to its execution intervals.")
	app.Version(version.Info().String())
	app.HelpFlag.Short('h')

	c := &cli{
		app:          app,
		configFiles:  app.Flag("config.file", "Path to YAML configuration file, repeat to layer overlays").Strings(),
		updateConfig: config.RegisterFlags(app),
	}

	c.serve = app.Command("serve", "Run the sampler server").Default()

	c.account = app.Command("account", "Attribute energy to the intervals of a flow trace")
	c.accountFlow = c.account.Arg("flow", "Flow trace (JSON)").Required().ExistingFile()
	c.accountPower = c.account.Arg("power", "Power samples: sampler datasets (JSON) or power CSV files").Required().ExistingFiles()
	c.accountKind = c.account.Flag("kind", "Source kind of power CSV files (CPU or GPU); inferred from the file name when empty").Default("").Enum("", "CPU", "GPU", "cpu", "gpu")
	c.accountRun = c.account.Flag("run", "Run index used in output file names").Default("1").Int()
	c.accountWide = c.account.Flag("entries", "Print every interval instead of one line per source").Bool()

	c.virtualize = app.Command("virtualize", "Write the footprint of sampler datasets as zip archives of per source CSV files")
	c.virtualizeDatasets = c.virtualize.Arg("dataset", "Dataset files holding a flow trace and its samples").Required().ExistingFiles()

	clientCmd := app.Command("client", "Control a sampler server")
	c.clientAddr = clientCmd.Flag("addr", "Address of the sampler server").Default(client.DefaultAddress).String()
	c.clientPid = clientCmd.Flag("pid", "Process to sample").Default(fmt.Sprint(os.Getpid())).Int()
	c.clientPeriod = clientCmd.Flag("period", "Sampling period; the server default when zero").Default("0s").Duration()
	c.clientOut = clientCmd.Flag("out", "File the samples are written to; stdout when empty").Default("").String()
	c.clientStart = clientCmd.Command("start", "Start sampling a process")
	c.clientStop = clientCmd.Command("stop", "Stop sampling")
	c.clientRead = clientCmd.Command("read", "Read the samples of the last session")
	c.clientSmokeTest = clientCmd.Command("smoke-test", "Sample for a while and read the samples back")
	c.clientDuration = c.clientSmokeTest.Flag("duration", "How long to sample").Default("1s").Duration()

	return c
}

// parse parses args and returns the selected command with its configuration
func (c *cli) parse(args []string) (string, *config.Config, error) {
	cmd, err := c.app.Parse(args)
	if err != nil {
		return "", nil, err
	}

	// later files override earlier ones
	cfg, err := (&config.Builder{}).MergeFiles(*c.configFiles...).Build()
	if err != nil {
		return "", nil, fmt.Errorf("error loading config file: %w", err)
	}

	// only the server needs the host and its power meters
	var skips []config.SkipValidation
	if cmd != c.serve.FullCommand() {
		skips = append(skips, config.SkipHostValidation)
	}

	// command line flags override config file settings
	if err := c.updateConfig(cfg, skips...); err != nil {
		return "", nil, fmt.Errorf("error applying command line flags: %w", err)
	}
	return cmd, cfg, nil
}

func main() {
	c := newCLI()
	cmd, cfg, err := c.parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "smaragdine: %v\n", err)
		os.Exit(2)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.run(ctx, log, cmd, cfg, os.Stdout); err != nil {
		log.Error("smaragdine terminated with an error", "command", cmd, "error", err)
		stop()
		os.Exit(1)
	}
}

func (c *cli) run(ctx context.Context, log *slog.Logger, cmd string, cfg *config.Config, out io.Writer) error {
	switch cmd {
	case c.serve.FullCommand():
		logVersionInfo(log)
		printConfigInfo(log, cfg, out)
		return serve(ctx, log, cfg)

	case c.account.FullCommand():
		return account(log, cfg, accountArgs{
			flow:    *c.accountFlow,
			power:   *c.accountPower,
			kind:    *c.accountKind,
			run:     *c.accountRun,
			entries: *c.accountWide,
		}, out)

	case c.virtualize.FullCommand():
		return virtualize(log, cfg, *c.virtualizeDatasets, out)

	case c.clientStart.FullCommand(), c.clientStop.FullCommand(),
		c.clientRead.FullCommand(), c.clientSmokeTest.FullCommand():
		cl := client.New(*c.clientAddr, client.WithLogger(log))
		args := clientArgs{
			pid:      *c.clientPid,
			period:   *c.clientPeriod,
			duration: *c.clientDuration,
			out:      *c.clientOut,
		}
		return runClient(ctx, cl, cmd, args, out)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func logVersionInfo(logger *slog.Logger) {
	v := version.Info()
	logger.Info("Smaragdine version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func printConfigInfo(logger *slog.Logger, cfg *config.Config, out io.Writer) {
	if !logger.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Fprintf(out, `
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}
