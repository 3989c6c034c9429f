package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/gosuda/market-chat/chatwire"
)

var (
	selfBubbleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("63")).Padding(0, 1)
	otherBubbleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Background(lipgloss.Color("238")).Padding(0, 1)
	senderStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("111")).Bold(true)
	timestampStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	codeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	alertStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	enabledStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("84")).Bold(true)
	disabledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Strikethrough(false)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// renderMessage is the pure message renderer: one two-line unit (body,
// timestamp), right-aligned when self-authored, left-aligned with the
// sender name otherwise. It never mutates prior transcript entries.
func renderMessage(m chatwire.Message, selfID int64, width int) string {
	if width <= 0 {
		width = 60
	}
	ts := timestampStyle.Render(m.Timestamp)
	if m.SenderID == selfID {
		block := selfBubbleStyle.Render(m.Content) + "\n" + ts
		return lipgloss.NewStyle().Width(width).Align(lipgloss.Right).Render(block)
	}
	block := senderStyle.Render(m.Sender) + " " + otherBubbleStyle.Render(m.Content) + "\n" + ts
	return lipgloss.NewStyle().Width(width).Align(lipgloss.Left).Render(block)
}

func renderControl(c controlView) string {
	label := "[ " + c.label + " ]"
	if c.enabled {
		return enabledStyle.Render(label)
	}
	return disabledStyle.Render(label)
}

type controlView struct {
	label   string
	enabled bool
}
