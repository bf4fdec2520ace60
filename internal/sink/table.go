// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
)

// WriteSummary renders the per-source totals of fp as a table
func WriteSummary(out io.Writer, fp accounting.Footprint) error {
	rows := [][]string{}
	for _, s := range fp.Summarize() {
		rows = append(rows, []string{
			s.Source.String(),
			strconv.Itoa(s.Intervals),
			s.Duration.String(),
			formatFloat(s.Energy),
			formatFloat(s.MeanPower),
		})
	}
	return render(out, []string{"Source", "Intervals", "Duration", "Energy(J)", "Mean Power(W)"}, rows)
}

// WriteEntries renders every entry of fp as a table, grouped by source
func WriteEntries(out io.Writer, fp accounting.Footprint) error {
	rows := [][]string{}
	for _, src := range fp.Sources() {
		for _, e := range fp[src] {
			rows = append(rows, []string{
				src.String(),
				e.Name,
				strconv.FormatInt(int64(e.Start), 10),
				strconv.FormatInt(int64(e.End), 10),
				formatFloat(e.Energy),
				formatFloat(e.MeanPower),
			})
		}
	}
	return render(out, []string{"Source", "Name", "Start", "End", "Energy(J)", "Mean Power(W)"}, rows)
}

func render(out io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header(header)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
