// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/dnnbridge/pkg/layers"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				s = headerRowStyle
				return
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

// timings accumulates the time spent on each step of the network.
type timings struct {
	names  []string
	totals []time.Duration
}

func newTimings(names []string) *timings {
	return &timings{names: names, totals: make([]time.Duration, len(names))}
}

func (t *timings) add(idx int, d time.Duration) { t.totals[idx] += d }

func (t *timings) total() (total time.Duration) {
	for _, d := range t.totals {
		total += d
	}
	return
}

// durationRegexp matches durations with a single unit, like "1.234567ms".
var durationRegexp = regexp.MustCompile(`^(\d+\.?\d*)([µa-z]+)$`)

// formatDuration pretty prints duration without a long list of decimal points. Durations of
// a minute or more are rounded to the second, e.g. "1m30s".
func formatDuration(d time.Duration) string {
	if d >= time.Minute {
		return d.Round(time.Second).String()
	}
	s := d.String()
	matches := durationRegexp.FindStringSubmatch(s)
	if len(matches) != 3 {
		return s
	}
	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%s", num, matches[2])
}

func printTimings(net *alexNet, t *timings, iters int) {
	fmt.Println(titleStyle.Render("Layers"))
	table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Layer", "Output", "Mean time", "Share")
	total := t.total()
	for ii, s := range net.steps {
		var mean time.Duration
		var share float64
		if iters > 0 {
			mean = t.totals[ii] / time.Duration(iters)
		}
		if total > 0 {
			share = 100 * float64(t.totals[ii]) / float64(total)
		}
		table.Row(s.name, s.output.String(), formatDuration(mean), fmt.Sprintf("%.1f%%", share))
	}
	fmt.Println(table.Render())
}

func printSummary(rt *layers.Runtime, warmUp, total time.Duration, iters int, afterWarmUp layers.Stats) {
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("warm-up pass (builds layers)", formatDuration(warmUp))
	if iters > 0 {
		table.Row("mean pass", formatDuration(total/time.Duration(iters)))
	}
	table.Row("passes", humanize.Comma(int64(iters)))
	stats := rt.Factory().Stats()
	table.Row("layer cache", stats.String())
	table.Row("misses after warm-up", humanize.Comma(stats.Misses-afterWarmUp.Misses))
	table.Row("plain outputs", strconv.FormatBool(rt.PlainOutputs()))
	fmt.Println(table.Render())
}

func printLayers(rt *layers.Runtime) {
	fmt.Println(titleStyle.Render("Cached layers"))
	table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Name", "Primitives", "Reorders")
	for _, info := range rt.Factory().Layers() {
		kinds := make([]string, len(info.Kinds))
		for ii, kind := range info.Kinds {
			kinds[ii] = kind.String()
		}
		table.Row(info.Name, strings.Join(kinds, ", "), strconv.Itoa(info.NumReorders))
	}
	fmt.Println(table.Render())
}
