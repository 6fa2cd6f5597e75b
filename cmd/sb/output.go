package main

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/zulandar/switchboard/internal/review"
)

var (
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// statusColor colors a review status for terminal output.
func statusColor(status string) string {
	switch status {
	case review.StatusPending:
		return yellow(status)
	case review.StatusProcessing:
		return cyan(status)
	case review.StatusCompleted:
		return green(status)
	case review.StatusFailed:
		return red(status)
	default:
		return status
	}
}

// impactColor colors a finding's impact level.
func impactColor(impact string) string {
	switch strings.ToLower(impact) {
	case "critical", "high":
		return red(impact)
	case "medium":
		return yellow(impact)
	default:
		return impact
	}
}

// newTable creates a borderless left-aligned table.
func newTable(out io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// formatAge renders how long ago t was, e.g. "42s", "5m", "3h", "2d".
func formatAge(t time.Time, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return formatUnit(d/time.Second, "s")
	case d < time.Hour:
		return formatUnit(d/time.Minute, "m")
	case d < 24*time.Hour:
		return formatUnit(d/time.Hour, "h")
	default:
		return formatUnit(d/(24*time.Hour), "d")
	}
}

func formatUnit(n time.Duration, unit string) string {
	if n < 0 {
		n = 0
	}
	return strconv.FormatInt(int64(n), 10) + unit
}
