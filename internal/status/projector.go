package status

import (
	"strings"
	"time"

	"chamber/internal/messages"
	"chamber/internal/types"
)

type Activity string

const (
	ActivityIdle       Activity = "idle"
	ActivityStreaming  Activity = "streaming"
	ActivityThinking   Activity = "thinking"
	ActivityWriting    Activity = "writing"
	ActivityTooling    Activity = "tooling"
	ActivityEditing    Activity = "editing"
	ActivityCooldown   Activity = "cooldown"
	ActivityPermission Activity = "permission"
	ActivityCompacting Activity = "compacting"
)

// Snapshot is the single summary object the UI renders from. It is derived
// state only; nothing in here is written back to the store.
type Snapshot struct {
	Activity             Activity
	StatusText           string
	IsWorking            bool
	IsStreaming          bool
	IsCooldown           bool
	IsComplete           bool
	IsForming            bool
	WaitingForPermission bool
	CanAbort             bool
	LastCompletionID     string
	MessageID            string
	ToolName             string
}

type Options struct {
	// CompletionFlash is how long a finished turn still surfaces its
	// completion id so the UI can flash "Done" without latching it forever.
	CompletionFlash time.Duration
}

var editingTools = map[string]struct{}{
	"edit":        {},
	"write":       {},
	"multiedit":   {},
	"apply_patch": {},
	"patch":       {},
}

// Project derives the assistant status for one session from a store
// snapshot. Pure function; recompute on every relevant mutation.
func Project(snap messages.Snapshot, opts Options) Snapshot {
	flash := opts.CompletionFlash
	if flash <= 0 {
		flash = 1700 * time.Millisecond
	}

	out := Snapshot{Activity: ActivityIdle, CanAbort: false}

	msg := latestAssistant(snap.Messages)
	if msg != nil {
		out.MessageID = msg.ID
		out = projectMessage(snap, msg, flash)
	}

	// Overlays run last and in priority order: permissions trump everything
	// and block aborting, compaction blocks aborting too.
	if len(snap.Permissions) > 0 {
		out.Activity = ActivityPermission
		out.StatusText = "waiting for permission"
		out.WaitingForPermission = true
		out.IsWorking = true
		out.CanAbort = false
		return out
	}
	if !snap.CompactingUntil.IsZero() && snap.Now.Before(snap.CompactingUntil) {
		out.Activity = ActivityCompacting
		out.StatusText = "compacting context"
		out.IsWorking = true
		out.CanAbort = false
		return out
	}
	return out
}

func projectMessage(snap messages.Snapshot, msg *types.Message, flash time.Duration) Snapshot {
	out := Snapshot{Activity: ActivityIdle, MessageID: msg.ID}

	if stopped, abortedReason := terminalReason(msg); stopped {
		if abortedReason || msg.Aborted || !snap.AbortedAt.IsZero() || strings.EqualFold(msg.Status, "aborted") {
			out.Activity = ActivityCooldown
			out.StatusText = "stopped"
			out.IsCooldown = true
			return out
		}
		out.IsComplete = true
		if within(msg.CompletedAt, snap.Now, flash) {
			out.LastCompletionID = msg.ID
			out.StatusText = "done"
		}
		return out
	}

	if msg.Aborted || !snap.AbortedAt.IsZero() || strings.EqualFold(msg.Status, "aborted") {
		out.Activity = ActivityCooldown
		out.StatusText = "stopped"
		out.IsCooldown = true
		return out
	}

	phase, tracked := snap.Phases[msg.ID]
	streaming := snap.StreamingID == msg.ID || (tracked && phase == messages.PhaseStreaming)

	// Scan parts newest-first for the most recent unfinished unit of work.
	for i := len(msg.Parts) - 1; i >= 0; i-- {
		part := msg.Parts[i]
		switch part.Type {
		case types.PartTypeTool:
			if part.ToolStatus == types.ToolStatusRunning || part.ToolStatus == types.ToolStatusPending {
				out.MessageID = msg.ID
				out.ToolName = part.ToolName
				out.Activity = ActivityTooling
				out.StatusText = "running " + part.ToolName
				if isEditingTool(part.ToolName) {
					out.Activity = ActivityEditing
					out.StatusText = "editing files"
				}
				out.IsWorking = true
				out.IsStreaming = streaming
				out.CanAbort = true
				out.IsForming = forming(msg)
				return out
			}
		case types.PartTypeReasoning:
			if part.EndedAt.IsZero() {
				out.Activity = ActivityThinking
				out.StatusText = "thinking"
				out.IsWorking = true
				out.IsStreaming = streaming
				out.CanAbort = true
				out.IsForming = forming(msg)
				return out
			}
		case types.PartTypeText:
			if part.EndedAt.IsZero() && strings.TrimSpace(part.Text) != "" {
				out.Activity = ActivityWriting
				out.StatusText = "writing"
				out.IsWorking = true
				out.IsStreaming = streaming
				out.CanAbort = true
				out.IsForming = forming(msg)
				return out
			}
		}
	}

	if streaming || (tracked && phase == messages.PhaseCooldown) {
		if tracked && phase == messages.PhaseCooldown {
			out.Activity = ActivityCooldown
			out.StatusText = "finishing"
			out.IsCooldown = true
			return out
		}
		out.Activity = ActivityStreaming
		out.StatusText = "working"
		out.IsWorking = true
		out.IsStreaming = true
		out.CanAbort = true
		out.IsForming = forming(msg)
		return out
	}
	return out
}

// latestAssistant picks the newest server-authored assistant message. The
// list is already ordered by creation time with id as tie-break.
func latestAssistant(msgs []types.Message) *types.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.MessageRoleAssistant && !msgs[i].ClientAuthored {
			return &msgs[i]
		}
	}
	return nil
}

func terminalReason(msg *types.Message) (stopped, aborted bool) {
	for _, part := range msg.Parts {
		if part.Type != types.PartTypeStepFinish {
			continue
		}
		if types.StopReason(part.Reason) {
			return true, false
		}
		if types.AbortReason(part.Reason) {
			return true, true
		}
	}
	return false, false
}

func within(at, now time.Time, window time.Duration) bool {
	if at.IsZero() {
		return false
	}
	return now.Sub(at) >= 0 && now.Sub(at) <= window
}

// forming reports the "composing" affordance: the message has no tool parts
// at all and carries in-progress, non-whitespace text.
func forming(msg *types.Message) bool {
	hasText := false
	for _, part := range msg.Parts {
		if part.Type == types.PartTypeTool {
			return false
		}
		if part.Type == types.PartTypeText && part.EndedAt.IsZero() && strings.TrimSpace(part.Text) != "" {
			hasText = true
		}
	}
	return hasText
}

func isEditingTool(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := editingTools[name]; ok {
		return true
	}
	return strings.Contains(name, "edit") || strings.Contains(name, "write")
}
