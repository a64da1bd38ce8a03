// SPDX-License-Identifier: MIT

// Package tui holds the Bubble Tea front ends: an input device picker and a
// live capture status view.
package tui

import (
	"fmt"
	"strings"

	"pvrec/internal/audio"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	alertStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F56")).
			Bold(true)
)

var (
	quitKeys   = key.NewBinding(key.WithKeys("q", "ctrl+c"))
	upKeys     = key.NewBinding(key.WithKeys("up", "k"))
	downKeys   = key.NewBinding(key.WithKeys("down", "j"))
	selectKeys = key.NewBinding(key.WithKeys("enter"))
)

// DeviceListModel lists capture-capable devices and lets the user pick one.
type DeviceListModel struct {
	fetch         func() ([]audio.Device, error)
	devices       []audio.Device
	selectedIndex int
	chosen        bool
	viewport      viewport.Model
	ready         bool
	err           error
}

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

// NewDeviceListModel creates a picker over audio.GetDevices.
func NewDeviceListModel() DeviceListModel {
	return DeviceListModel{fetch: audio.GetDevices}
}

// Init initializes the Bubble Tea model
func (m DeviceListModel) Init() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		devices, err := fetch()
		if err != nil {
			return errMsg{err}
		}
		inputs := devices[:0:0]
		for _, d := range devices {
			if d.CanCapture() {
				inputs = append(inputs, d)
			}
		}
		return devicesMsg{inputs}
	}
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.viewport.SetContent(m.renderDevices())

	case devicesMsg:
		m.devices = msg.devices
		m.viewport.SetContent(m.renderDevices())

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, quitKeys):
			return m, tea.Quit
		case key.Matches(msg, upKeys):
			if m.selectedIndex > 0 {
				m.selectedIndex--
			}
		case key.Matches(msg, downKeys):
			if m.selectedIndex < len(m.devices)-1 {
				m.selectedIndex++
			}
		case key.Matches(msg, selectKeys):
			if len(m.devices) > 0 {
				m.chosen = true
				return m, tea.Quit
			}
		}
		m.viewport.SetContent(m.renderDevices())
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// Selected returns the device picked with Enter.
func (m DeviceListModel) Selected() (audio.Device, bool) {
	if !m.chosen || m.selectedIndex >= len(m.devices) {
		return audio.Device{}, false
	}
	return m.devices[m.selectedIndex], true
}

// View renders the UI
func (m DeviceListModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to exit.", m.err)
	}
	if !m.ready {
		return "Initializing..."
	}

	title := titleStyle.Render("Input Devices")
	help := infoStyle.Render("↑/↓: Navigate • Enter: Select • q: Quit")
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No input devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		info := fmt.Sprintf("[%d] %s\n", device.ID, device.Name)
		info += fmt.Sprintf("    Input channels: %d, default rate: %.0f Hz, latency: %s\n",
			device.MaxInputChannels, device.DefaultSampleRate, device.LowInputLatency)
		if i == m.selectedIndex {
			info = highlightStyle.Render(info)
		}
		sb.WriteString(info)
		sb.WriteString("\n")
	}
	return sb.String()
}

// PickDevice runs the picker full screen and returns the chosen device.
func PickDevice() (audio.Device, bool, error) {
	p := tea.NewProgram(NewDeviceListModel(), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return audio.Device{}, false, err
	}
	d, ok := final.(DeviceListModel).Selected()
	return d, ok, nil
}
