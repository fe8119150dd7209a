// Package chattui is the terminal render surface for the timeline engine.
package chattui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tbrandal/backscroll/internal/readtrack"
	"github.com/tbrandal/backscroll/internal/timeline"
	"github.com/tbrandal/backscroll/internal/viewport"
)

// Config wires the app to its collaborators.
type Config struct {
	ChannelID string
	SelfID    string
	Theme     string

	// UnreadBoundaryID is the viewer's last-read message id, empty when the
	// channel has never been read.
	UnreadBoundaryID string

	Registry *timeline.Registry
	Tracker  readtrack.Tracker
	Viewport viewport.Config
}

// Model is the root bubbletea model: a chrome line plus the channel view.
type Model struct {
	cfg     Config
	width   int
	height  int
	channel *channelView
}

// NewModel builds the app model.
func NewModel(cfg Config) (*Model, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("channel id required")
	}
	return &Model{
		cfg:     cfg,
		channel: newChannelView(cfg),
	}, nil
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.channel.Init()
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.channel.setSize(typed.Width, typed.Height-1)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "q", "ctrl+c":
			m.channel.Close()
			return m, tea.Quit
		}
	}
	return m, m.channel.Update(msg)
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width <= 0 || m.height <= 0 {
		return ""
	}
	chrome := m.chromeLine()
	return lipgloss.JoinVertical(lipgloss.Left, chrome, m.channel.View())
}

func (m *Model) chromeLine() string {
	theme := themePalette(m.cfg.Theme)
	status := m.channel.statusLabel()
	head := fmt.Sprintf(" #%s  %s  j/k scroll  u unread  G bottom  q quit", m.cfg.ChannelID, status)
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(theme.ChromeFg)).
		Background(lipgloss.Color(theme.ChromeBg)).
		Width(m.width).
		Render(truncate(head, m.width))
}

// Run starts the program.
func Run(cfg Config) error {
	model, err := NewModel(cfg)
	if err != nil {
		return err
	}
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}
