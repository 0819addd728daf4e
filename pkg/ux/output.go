// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders analyses and batch plans for the terminal.
package ux

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/analyzer"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/batch"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/storage"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")
	ColorWarning     = lipgloss.Color("#F4D03F")
	ColorError       = lipgloss.Color("#E74C3C")
)

// Styles holds the styles used in styled mode.
var Styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Label:   lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Mode selects styled or plain output.
type Mode int

const (
	// ModePlain writes undecorated, tab separated text.
	ModePlain Mode = iota

	// ModeStyled writes colored boxes for an interactive terminal.
	ModeStyled
)

// DetectMode returns ModeStyled when f is a terminal and NO_COLOR is unset.
func DetectMode(f *os.File) Mode {
	if os.Getenv("NO_COLOR") != "" || f == nil {
		return ModePlain
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return ModeStyled
	}
	return ModePlain
}

// Printer writes summaries to a writer.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter creates a printer writing to w in mode.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// Stdout returns a printer for os.Stdout with the detected mode.
func Stdout() *Printer {
	return NewPrinter(os.Stdout, DetectMode(os.Stdout))
}

// Success prints a success line.
func (p *Printer) Success(format string, args ...any) {
	p.status("✓", "OK", Styles.Success, format, args...)
}

// Warning prints a warning line.
func (p *Printer) Warning(format string, args ...any) {
	p.status("⚠", "WARN", Styles.Warning, format, args...)
}

func (p *Printer) status(icon, tag string, style lipgloss.Style, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "%s: %s\n", tag, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", style.Render(icon), style.Render(text))
}

// PrintPlan prints a plan header followed by one block per batch.
func (p *Printer) PrintPlan(plan *batch.Plan) {
	s := plan.Statistics
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "plan\t%s\nproject\t%s\nphase\t%s\n", plan.ID, plan.Project, phaseLabel(plan.Phase))
		fmt.Fprintf(p.w, "tests\t%d\nbatches\t%d\nmerged\t%d\ntotal\t%s\nparallel\t%s\n",
			s.TotalTests, s.TotalBatches, s.MergedBatches,
			formatMs(s.TotalEstimatedDurationMs), formatMs(s.EstimatedParallelDurationMs))
		for _, b := range plan.Batches {
			fmt.Fprintf(p.w, "%s\t%d tests\t%s\tconcurrency=%d\n",
				b.ID, b.Statistics.TestCount, formatMs(b.Statistics.TotalEstimatedDurationMs), b.Execution.MaxConcurrency)
			for _, t := range b.Tests {
				fmt.Fprintf(p.w, "\t%s\t%s\t%s\n", t.File, t.Category, formatMs(t.EstimatedDurationMs))
			}
		}
		return
	}

	header := strings.Join([]string{
		Styles.Title.Render("Batch plan " + plan.ID),
		row("project", plan.Project),
		row("phase", phaseLabel(plan.Phase)),
		row("strategy", string(plan.Options.BalanceStrategy)),
		row("tests", fmt.Sprintf("%d in %d batches (%d merged)", s.TotalTests, s.TotalBatches, s.MergedBatches)),
		row("estimated", fmt.Sprintf("%s total, %s parallel",
			formatMs(s.TotalEstimatedDurationMs), formatMs(s.EstimatedParallelDurationMs))),
	}, "\n")
	fmt.Fprintln(p.w, Styles.Box.Render(header))

	for _, b := range plan.Batches {
		title := fmt.Sprintf("%s  %d tests  %s", b.ID, b.Statistics.TestCount, formatMs(b.Statistics.TotalEstimatedDurationMs))
		if b.Group != "" {
			title += "  group " + b.Group
		}
		fmt.Fprintln(p.w, Styles.Label.Render(title))
		for _, t := range b.Tests {
			line := fmt.Sprintf("  %s %s", t.File, Styles.Muted.Render(fmt.Sprintf("%s, %s", t.Category, formatMs(t.EstimatedDurationMs))))
			if len(t.External) > 0 {
				line += " " + Styles.Warning.Render(strings.Join(t.External, ","))
			}
			fmt.Fprintln(p.w, line)
		}
	}
}

// PrintAnalysis prints per-category test counts and skipped files.
func (p *Printer) PrintAnalysis(a *analyzer.ProjectAnalysis) {
	categories := make([]string, 0, len(a.Categories))
	for c := range a.Categories {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var total int64
	for _, t := range a.Tests {
		total += t.EstimatedDurationMs
	}

	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "project\t%s\ntests\t%d\nedges\t%d\nestimated\t%s\n",
			a.Project, len(a.Tests), a.Graph.EdgeCount(), formatMs(total))
		for _, c := range categories {
			fmt.Fprintf(p.w, "category\t%s\t%d\n", c, len(a.Categories[c]))
		}
		for _, s := range a.Skipped {
			fmt.Fprintf(p.w, "skipped\t%s\t%s\n", s.File, s.Reason)
		}
		return
	}

	lines := []string{
		Styles.Title.Render("Analysis " + a.Project),
		row("tests", fmt.Sprintf("%d", len(a.Tests))),
		row("edges", fmt.Sprintf("%d", a.Graph.EdgeCount())),
		row("estimated", formatMs(total)),
	}
	for _, c := range categories {
		lines = append(lines, row(c, fmt.Sprintf("%d", len(a.Categories[c]))))
	}
	fmt.Fprintln(p.w, Styles.Box.Render(strings.Join(lines, "\n")))
	for _, s := range a.Skipped {
		p.Warning("skipped %s: %s", s.File, s.Reason)
	}
}

// PrintPlanList prints stored plan metadata, one plan per line.
func (p *Printer) PrintPlanList(plans []*storage.PlanMetadata) {
	for _, m := range plans {
		created := time.UnixMilli(m.CreatedAtMilli).UTC().Format(time.RFC3339)
		if p.mode == ModePlain {
			fmt.Fprintf(p.w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				m.PlanID, m.Project, phaseLabel(m.Phase), m.TotalTests, m.TotalBatches, created)
			continue
		}
		fmt.Fprintf(p.w, "%s %s %s\n",
			Styles.Label.Render(m.PlanID),
			m.Project,
			Styles.Muted.Render(fmt.Sprintf("%s, %d tests, %d batches, %s",
				phaseLabel(m.Phase), m.TotalTests, m.TotalBatches, created)))
	}
}

func row(label, value string) string {
	return Styles.Label.Render(fmt.Sprintf("%-10s", label)) + " " + value
}

func phaseLabel(phase testunit.Phase) string {
	if phase == "" {
		return "all"
	}
	return string(phase)
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}
