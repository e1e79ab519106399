// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tui renders a live terminal dashboard for a running fuzzing
// campaign. It is a pure consumer of engine state: the engine hands it
// a snapshot function and the dashboard polls it once per second.
package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/peelfuzz/peelfuzz/pkg/stat"
	"github.com/peelfuzz/peelfuzz/pkg/triage"
)

// Snapshot is one consistent view of the campaign state.
type Snapshot struct {
	Target    string
	Scheduler string
	Workers   int
	Started   time.Time
	Metrics   []stat.UI
	Bugs      []triage.Bug
	// Log is the cached tail of recent log output; stdout logging is
	// suppressed while the dashboard owns the terminal.
	Log string
}

// Run drives the dashboard until ctx is cancelled or the user quits.
// A user quit returns without error; the caller decides whether that
// stops the campaign.
func Run(ctx context.Context, snap func() Snapshot) error {
	program := tea.NewProgram(newDashboard(snap),
		tea.WithOutput(os.Stdout), tea.WithContext(ctx))
	_, err := program.Run()
	if err == tea.ErrProgramKilled && ctx.Err() != nil {
		return nil
	}
	return err
}

type tickMsg time.Time

type dashboard struct {
	snap    func() Snapshot
	spinner spinner.Model
	cur     Snapshot
	width   int
}

func newDashboard(snap func() Snapshot) *dashboard {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	return &dashboard{
		snap:    snap,
		spinner: sp,
		cur:     snap(),
		width:   80,
	}
}

func (m *dashboard) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.cur = m.snap()
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	crashStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
)

func (m *dashboard) View() string {
	snap := m.cur
	var b strings.Builder

	header := fmt.Sprintf("%s peelfuzz: %s [%s, %d workers, up %v]",
		m.spinner.View(), snap.Target, snap.Scheduler, snap.Workers,
		time.Since(snap.Started).Round(time.Second))
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	nameWidth := 0
	for _, ui := range snap.Metrics {
		if len(ui.Name) > nameWidth {
			nameWidth = len(ui.Name)
		}
	}
	for _, ui := range snap.Metrics {
		b.WriteString(fmt.Sprintf("  %s  %s\n",
			labelStyle.Render(fmt.Sprintf("%-*s", nameWidth, ui.Name)), ui.Value))
	}

	if len(snap.Bugs) != 0 {
		b.WriteString("\n")
		b.WriteString(crashStyle.Render(fmt.Sprintf("bugs (%d)", len(snap.Bugs))))
		b.WriteString("\n")
		for _, bug := range snap.Bugs {
			title := bug.Title
			if m.width > 20 && len(title) > m.width-20 {
				title = title[:m.width-20] + "..."
			}
			b.WriteString(fmt.Sprintf("  %3dx %s\n", bug.Count, title))
		}
	}

	if lines := logTail(snap.Log, 5); len(lines) != 0 {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("log"))
		b.WriteString("\n")
		for _, line := range lines {
			if m.width > 4 && len(line) > m.width-4 {
				line = line[:m.width-4]
			}
			b.WriteString("  " + line + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(labelStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}

func logTail(log string, n int) []string {
	lines := strings.Split(strings.TrimRight(log, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
