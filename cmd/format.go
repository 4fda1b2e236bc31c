// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/tempbus/internal/daemon"
	"github.com/Thermoquad/tempbus/pkg/filter"
)

// formatHeader returns the column header of the read output
func formatHeader(channels int) string {
	var b strings.Builder
	b.WriteString("# Date                ")
	for i := 1; i <= channels; i++ {
		fmt.Fprintf(&b, "  Ch%d", i)
	}
	return b.String()
}

// formatValues renders temperatures with one decimal; unavailable
// channels print as NaN
func formatValues(values []float64) string {
	var b strings.Builder
	for _, v := range values {
		if filter.IsUnavailable(v) {
			b.WriteString("  NaN")
		} else {
			fmt.Fprintf(&b, " %.1f", v)
		}
	}
	return b.String()
}

// formatSample renders a timestamped line of the read output
func formatSample(s filter.Sample) string {
	return s.Time.Format(daemon.TimestampFormat) + " " + formatValues(s.Values)
}

// formatCorrections renders the correction table
func formatCorrections(values []float64) string {
	var b strings.Builder
	b.WriteString("Temperature correction [C]\n")
	for i := 1; i <= len(values); i++ {
		fmt.Fprintf(&b, "  Ch%d", i)
	}
	b.WriteString("\n")
	b.WriteString(formatValues(values))
	b.WriteString("\n")
	return b.String()
}

// formatUptime converts a duration to a human-readable string
func formatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours%24, minutes%60)
	} else if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes%60, seconds%60)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	}
	return fmt.Sprintf("%ds", seconds)
}
