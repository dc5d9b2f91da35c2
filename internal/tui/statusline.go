package tui

import (
	"strings"

	"charm.land/lipgloss/v2"

	"chamber/internal/status"
	"chamber/internal/stream"
)

func connectionLabel(state stream.ConnectionState) string {
	switch state {
	case stream.StateConnected:
		return ""
	case stream.StateReconnecting:
		return "reconnecting…"
	case stream.StateConnecting:
		return "connecting…"
	case stream.StatePaused:
		return "paused"
	case stream.StateOffline:
		return "offline"
	default:
		return string(state)
	}
}

// renderStatusLine composes the one-line footer above the input: assistant
// activity on the left, connection health on the right.
func renderStatusLine(snap status.Snapshot, conn stream.ConnectionState, width int) string {
	left := snap.StatusText
	switch {
	case snap.WaitingForPermission:
		left = permissionStyle.Render(" approval needed (y)es / (a)lways / (n)o ")
	case snap.IsWorking:
		left = activityStyle.Render(left)
	case left != "":
		left = statusStyle.Render(left)
	}

	right := connectionLabel(conn)
	if right != "" {
		if conn == stream.StateConnected {
			right = connectedStyle.Render(right)
		} else {
			right = degradedStyle.Render(right)
		}
	}

	if width <= 0 {
		if right == "" {
			return left
		}
		return left + " " + right
	}
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return truncateToWidth(left, width)
	}
	return left + strings.Repeat(" ", gap) + right
}
