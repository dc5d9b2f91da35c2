package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"chamber/internal/messages"
	"chamber/internal/types"
)

const (
	bubblePaddingVertical   = 0
	bubblePaddingHorizontal = 1
	reasoningPreviewLines   = 3
	reasoningPreviewChars   = 280
)

var (
	userBubbleStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Background(lipgloss.Color("236")).Padding(bubblePaddingVertical, bubblePaddingHorizontal)
	agentBubbleStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(bubblePaddingVertical, bubblePaddingHorizontal)
	reasoningBubbleStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("237")).Foreground(lipgloss.Color("244")).Faint(true).Padding(bubblePaddingVertical, bubblePaddingHorizontal)
	toolLineStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	sendingStatusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	abortedMarkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Italic(true)
)

// renderTranscript turns a session snapshot into display lines, newest at the
// bottom. pending holds the ids of optimistic sends still awaiting a server
// echo. maxLines keeps the tail when the transcript outgrows the budget.
func renderTranscript(snap messages.Snapshot, pending map[string]bool, width, maxLines int) []string {
	if width <= 0 {
		width = 80
	}
	lines := make([]string, 0, len(snap.Messages)*4)
	for i := range snap.Messages {
		msg := &snap.Messages[i]
		blockLines := renderMessage(msg, pending, width)
		if len(blockLines) == 0 {
			continue
		}
		lines = append(lines, blockLines...)
		lines = append(lines, "")
	}
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines
}

func renderMessage(msg *types.Message, pending map[string]bool, width int) []string {
	if msg.Role == types.MessageRoleUser || msg.ClientAuthored {
		return renderUserMessage(msg, pending[msg.ID], width)
	}
	lines := make([]string, 0, 8)
	for _, part := range msg.Parts {
		switch part.Type {
		case types.PartTypeText:
			lines = append(lines, renderBubble(renderMarkdown(part.Text, innerWidth(width)), agentBubbleStyle, lipgloss.Left, width)...)
		case types.PartTypeReasoning:
			preview := reasoningPreview(part.Text)
			if preview == "" {
				continue
			}
			lines = append(lines, renderBubble(preview, reasoningBubbleStyle, lipgloss.Left, width)...)
		case types.PartTypeTool:
			if line := renderToolLine(part, width); line != "" {
				lines = append(lines, line)
			}
		}
	}
	if msg.Aborted {
		lines = append(lines, abortedMarkStyle.Render("(stopped)"))
	}
	return lines
}

func renderUserMessage(msg *types.Message, pending bool, width int) []string {
	text := strings.TrimSpace(msg.Text())
	if text == "" {
		return nil
	}
	rendered := renderMarkdown(escapeMarkdown(text), innerWidth(width))
	lines := renderBubble(rendered, userBubbleStyle, lipgloss.Right, width)
	if pending {
		status := sendingStatusStyle.Render("(sending…)")
		lines = append(lines, lipgloss.PlaceHorizontal(width, lipgloss.Right, status))
	}
	return lines
}

func renderBubble(content string, style lipgloss.Style, align lipgloss.Position, width int) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	bubble := style.Render(content)
	placed := lipgloss.PlaceHorizontal(width, align, bubble)
	return strings.Split(placed, "\n")
}

func renderToolLine(part types.Part, width int) string {
	name := strings.TrimSpace(part.ToolName)
	if name == "" {
		return ""
	}
	var marker string
	switch part.ToolStatus {
	case types.ToolStatusCompleted:
		marker = "✓"
	case types.ToolStatusError:
		marker = "✗"
	default:
		marker = "⚙"
	}
	line := marker + " " + name
	if part.ToolStatus != "" && part.ToolStatus != types.ToolStatusCompleted {
		line += " (" + string(part.ToolStatus) + ")"
	}
	return toolLineStyle.Render(truncatePlain(line, width))
}

func reasoningPreview(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	truncated := false
	if len(lines) > reasoningPreviewLines {
		lines = lines[:reasoningPreviewLines]
		truncated = true
	}
	preview := strings.Join(lines, "\n")
	if len(preview) > reasoningPreviewChars {
		preview = preview[:reasoningPreviewChars]
		truncated = true
	}
	preview = strings.TrimSpace(preview)
	if truncated {
		preview += "\n…"
	}
	return preview
}

func innerWidth(width int) int {
	inner := width - 4 - 2 - 2
	if inner < 1 {
		inner = 1
	}
	return inner
}
