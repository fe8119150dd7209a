package chattui

import "github.com/charmbracelet/lipgloss"

// palette holds the color set for one theme.
type palette struct {
	ChromeFg string
	ChromeBg string

	Author    string
	SelfBadge string
	Timestamp string
	Body      string
	System    string
	Deleted   string

	Separator string
	Unread    string
	Sentinel  string
	Error     string
}

func themePalette(name string) palette {
	switch name {
	case "high-contrast":
		return palette{
			ChromeFg:  "15",
			ChromeBg:  "0",
			Author:    "15",
			SelfBadge: "11",
			Timestamp: "7",
			Body:      "15",
			System:    "14",
			Deleted:   "8",
			Separator: "7",
			Unread:    "9",
			Sentinel:  "11",
			Error:     "9",
		}
	default:
		return palette{
			ChromeFg:  "230",
			ChromeBg:  "62",
			Author:    "212",
			SelfBadge: "117",
			Timestamp: "243",
			Body:      "252",
			System:    "109",
			Deleted:   "240",
			Separator: "240",
			Unread:    "203",
			Sentinel:  "179",
			Error:     "196",
		}
	}
}

func errorStyle(theme palette) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(theme.Error)).Bold(true)
}
