// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/sustainable-computing-io/smaragdine/internal/version"
)

const (
	smaragdineNS   = "smaragdine"
	buildSubsystem = "build"
)

var buildInfoLabels = []string{"version", "revision", "branch", "built", "goversion", "goos", "goarch"}

// BuildInfoCollector exposes smaragdine_build_info, a constant 1 labeled with
// the version of the running binary
type BuildInfoCollector struct {
	desc   *prom.Desc
	values []string
}

var _ prom.Collector = (*BuildInfoCollector)(nil)

// NewBuildInfoCollector creates a new collector for build information
func NewBuildInfoCollector() *BuildInfoCollector {
	return newBuildInfoCollector(version.Info())
}

func newBuildInfoCollector(info version.VersionInfo) *BuildInfoCollector {
	ver := info.Version
	if ver == "" {
		ver = "dev"
	}
	return &BuildInfoCollector{
		desc: prom.NewDesc(
			prom.BuildFQName(smaragdineNS, buildSubsystem, "info"),
			"A metric with a constant '1' value labeled with the smaragdine version",
			buildInfoLabels, nil),
		values: []string{ver, info.GitCommit, info.GitBranch, info.BuildTime, info.GoVersion, info.GoOS, info.GoArch},
	}
}

func (c *BuildInfoCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.desc
}

func (c *BuildInfoCollector) Collect(ch chan<- prom.Metric) {
	ch <- prom.MustNewConstMetric(c.desc, prom.GaugeValue, 1, c.values...)
}
