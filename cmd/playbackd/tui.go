// ABOUTME: Status TUI for the playback daemon
// ABOUTME: Adapted from internal/server/tui.go, repurposed from client-list stats to queue/sink/transport status
package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/resonatehub/playbackd/internal/engine"
)

// statusTUI implements engine.Notifier, forwarding the coalesced
// status signal into a bubbletea refresh message.
type statusTUI struct {
	program *tea.Program
}

func (s *statusTUI) Notify() {
	if s.program != nil {
		s.program.Send(refreshMsg{})
	}
}

type refreshMsg struct{}
type tickMsg time.Time

type tuiModel struct {
	eng      *engine.Engine
	name     string
	startTime time.Time
	quitting bool
}

func newTUIModel(eng *engine.Engine, name string) tuiModel {
	return tuiModel{eng: eng, name: name, startTime: time.Now()}
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m tuiModel) Init() tea.Cmd {
	return tickEvery()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.eng.Shutdown()
			return m, tea.Quit
		case " ":
			if m.eng.GetStatus().Status == engine.StatusPaused {
				m.eng.PlaybackStart(0)
			} else {
				m.eng.PlaybackPause()
			}
		case "n":
			m.eng.PlaybackNext()
		case "p":
			m.eng.PlaybackPrev()
		}
		return m, nil

	case tickMsg:
		return m, tickEvery()

	case refreshMsg:
		return m, nil
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down playbackd...\n"
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	sinkHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))

	snap := m.eng.GetStatus()

	var b strings.Builder
	b.WriteString(titleStyle.Render("playbackd"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Daemon: "))
	b.WriteString(valueStyle.Render(m.name))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Uptime: "))
	b.WriteString(valueStyle.Render(time.Since(m.startTime).Round(time.Second).String()))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Status: "))
	b.WriteString(valueStyle.Render(snap.Status.String()))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Position: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%dms", snap.PositionMs)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Now playing: "))
	if snap.NowPlaying == 0 {
		b.WriteString(valueStyle.Render("(nothing)"))
	} else {
		b.WriteString(valueStyle.Render(fmt.Sprintf("track %d", snap.NowPlaying)))
	}
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Volume: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d%%", snap.Volume)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Repeat/Shuffle: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%s / %v", snap.Repeat.String(), snap.Shuffle)))
	b.WriteString("\n\n")

	var sinks []string
	m.eng.SpeakerEnumerate(func(id uint64, name string, selected, hasPassword bool) {
		mark := " "
		if selected {
			mark = "*"
		}
		locked := ""
		if hasPassword {
			locked = " [locked]"
		}
		sinks = append(sinks, fmt.Sprintf("  %s %s%s", mark, name, locked))
	})
	b.WriteString(sinkHeaderStyle.Render(fmt.Sprintf("Sinks (%d)", len(sinks))))
	b.WriteString("\n\n")
	for _, s := range sinks {
		b.WriteString(valueStyle.Render(s))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("space=pause/resume  n=next  p=prev  q=quit"))

	return b.String()
}
