package chattui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tbrandal/backscroll/internal/timeline"
	"github.com/tbrandal/backscroll/internal/viewport"
)

const headerTimeLayout = "15:04"

func (v *channelView) renderItem(item timeline.DisplayItem, theme palette, width int) string {
	switch typed := item.(type) {
	case timeline.MessageItem:
		return v.renderMessage(typed, theme, width)
	case timeline.DateSeparator:
		return renderRule(typed.Date.Format("Mon 2 Jan 2006"), theme.Separator, width, false)
	case timeline.UnreadSeparator:
		return renderRule("new messages", theme.Unread, width, true)
	case timeline.LoadMoreSentinel:
		return v.renderSentinel(typed, theme, width)
	case timeline.ChannelStartSentinel:
		return renderRule("beginning of channel", theme.Sentinel, width, false)
	}
	return ""
}

func (v *channelView) renderMessage(item timeline.MessageItem, theme palette, width int) string {
	msg := item.Message

	if msg.Deleted {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Deleted)).Italic(true)
		return style.Render(truncate("  (message deleted)", width))
	}

	body := strings.ReplaceAll(msg.Body, "\n", " ")
	if n := len(msg.Attachments); n > 0 {
		body = fmt.Sprintf("%s [%d attachment(s)]", body, n)
	}

	if msg.System {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(theme.System)).Italic(true)
		return style.Render(truncate("  * "+body, width))
	}

	bodyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Body))
	if !item.GroupHeaderVisible {
		return bodyStyle.Render(truncate(strings.Repeat(" ", 8)+body, width))
	}

	authorColor := theme.Author
	if msg.AuthorID == v.cfg.SelfID {
		authorColor = theme.SelfBadge
	}
	stamp := lipgloss.NewStyle().
		Foreground(lipgloss.Color(theme.Timestamp)).
		Render(msg.CreatedAt.Local().Format(headerTimeLayout))
	author := lipgloss.NewStyle().
		Foreground(lipgloss.Color(authorColor)).
		Bold(true).
		Render(msg.AuthorID)
	edited := ""
	if !msg.EditedAt.IsZero() {
		edited = lipgloss.NewStyle().
			Foreground(lipgloss.Color(theme.Timestamp)).
			Render(" (edited)")
	}

	line := fmt.Sprintf("%s %s%s %s", stamp, author, edited, bodyStyle.Render(body))
	return truncate(line, width)
}

func (v *channelView) renderSentinel(item timeline.LoadMoreSentinel, theme palette, width int) string {
	loading := false
	label := ""
	switch item.Direction {
	case timeline.DirectionOlder:
		loading = v.ctrl.LoadingOlder()
		label = "load older messages"
	case timeline.DirectionNewer:
		loading = v.ctrl.LoadingNewer()
		label = "load newer messages"
	}
	if loading {
		label = "loading…"
	}
	if err := v.ctrl.LastError(); err != nil && !loading {
		label = label + "  (last attempt failed, scroll to retry)"
	}
	return renderRule(label, theme.Sentinel, width, false)
}

// renderRule draws "── label ──" padded to the full width.
func renderRule(label, color string, width int, bold bool) string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(bold)
	text := " " + label + " "
	side := (width - lipgloss.Width(text)) / 2
	if side < 2 {
		side = 2
	}
	rule := strings.Repeat("─", side) + text + strings.Repeat("─", side)
	return style.Render(truncate(rule, width))
}

var _ viewport.Surface = (*channelView)(nil)
