// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"
	"time"

	"pvrec/internal/app"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// StatsSource is satisfied by *app.Runner.
type StatsSource interface {
	Stats() app.Stats
}

// refreshInterval is how often the status view polls its source.
const refreshInterval = 200 * time.Millisecond

type tickMsg time.Time

// DoneMsg tells the status view that the run ended, with its error if any.
type DoneMsg struct{ Err error }

// StatusModel shows live session counters and the last detection.
type StatusModel struct {
	src   StatsSource
	title string
	stats app.Stats
	done  bool
	err   error
}

// NewStatusModel creates a status view over src.
func NewStatusModel(title string, src StatsSource) StatusModel {
	return StatusModel{src: src, title: title}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m StatusModel) Init() tea.Cmd {
	return tick()
}

func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.stats = m.src.Stats()
		if m.done {
			return m, nil
		}
		return m, tick()
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		m.stats = m.src.Stats()
		return m, nil
	case tea.KeyMsg:
		if key.Matches(msg, quitKeys) {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m StatusModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString("\n\n")

	st := m.stats
	state := st.Session.State.String()
	if st.Session.Faulted {
		state = alertStyle.Render(state)
	}
	fmt.Fprintf(&sb, "  State:      %s\n", state)
	fmt.Fprintf(&sb, "  Frames:     %d\n", st.Frames)
	fmt.Fprintf(&sb, "  Overruns:   %d\n", st.Session.Overruns)
	fmt.Fprintf(&sb, "  Transfers:  %d\n", st.Session.Transfers)
	fmt.Fprintf(&sb, "  Detections: %d\n", st.Detections)
	if st.Detections > 0 {
		d := st.LastDetection
		sb.WriteString(highlightStyle.Render(fmt.Sprintf("  Last: %q in frame %d at %s",
			d.Keyword, d.Seq, d.Time.Format("15:04:05.000"))))
		sb.WriteString("\n")
	}

	if m.done {
		if m.err != nil {
			sb.WriteString("\n" + alertStyle.Render("Stopped: "+m.err.Error()) + "\n")
		} else {
			sb.WriteString("\n  Finished.\n")
		}
	}
	sb.WriteString("\n" + infoStyle.Render("q: Quit"))
	return sb.String()
}

// StatusUI is a status view program. Done may be called from any goroutine.
type StatusUI struct {
	p *tea.Program
}

// NewStatusUI prepares a full-screen status view.
func NewStatusUI(title string, src StatsSource) *StatusUI {
	return &StatusUI{p: tea.NewProgram(NewStatusModel(title, src), tea.WithAltScreen())}
}

// Run blocks until the user quits.
func (u *StatusUI) Run() error {
	_, err := u.p.Run()
	return err
}

// Done reports the end of the run to the view.
func (u *StatusUI) Done(err error) {
	u.p.Send(DoneMsg{Err: err})
}

// Quit closes the view.
func (u *StatusUI) Quit() {
	u.p.Quit()
}
