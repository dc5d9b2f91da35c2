package tui

import (
	"strings"
	"testing"
	"time"

	xansi "github.com/charmbracelet/x/ansi"

	"chamber/internal/messages"
	"chamber/internal/types"
)

func transcriptSnapshot(msgs ...types.Message) messages.Snapshot {
	return messages.Snapshot{
		SessionID: "s1",
		Messages:  msgs,
		Now:       time.Now(),
	}
}

func userMessage(id, text string) types.Message {
	return types.Message{
		ID: id, SessionID: "s1", Role: types.MessageRoleUser, ClientAuthored: true,
		Parts: []types.Part{{ID: id + ":part", Type: types.PartTypeText, Text: text}},
	}
}

func assistantMessage(id string, parts ...types.Part) types.Message {
	return types.Message{ID: id, SessionID: "s1", Role: types.MessageRoleAssistant, Parts: parts}
}

func TestRenderTranscriptShowsBothRoles(t *testing.T) {
	snap := transcriptSnapshot(
		userMessage("u1", "what time is it"),
		assistantMessage("a1", types.Part{ID: "p1", Type: types.PartTypeText, Text: "It is noon."}),
	)
	// Markdown styling splits the text into spans; compare the plain text.
	out := xansi.Strip(strings.Join(renderTranscript(snap, nil, 100, 0), "\n"))
	if !strings.Contains(out, "what time is it") {
		t.Fatalf("user text missing:\n%s", out)
	}
	if !strings.Contains(out, "It is noon.") {
		t.Fatalf("assistant text missing:\n%s", out)
	}
}

func TestRenderTranscriptMarksPendingSends(t *testing.T) {
	snap := transcriptSnapshot(userMessage("local-1", "queued question"))
	out := strings.Join(renderTranscript(snap, map[string]bool{"local-1": true}, 100, 0), "\n")
	if !strings.Contains(out, "sending") {
		t.Fatalf("pending send marker missing:\n%s", out)
	}
	out = strings.Join(renderTranscript(snap, nil, 100, 0), "\n")
	if strings.Contains(out, "sending") {
		t.Fatalf("settled message must not show the pending marker:\n%s", out)
	}
}

func TestRenderTranscriptToolLines(t *testing.T) {
	snap := transcriptSnapshot(assistantMessage("a1",
		types.Part{ID: "t1", Type: types.PartTypeTool, ToolName: "bash", ToolStatus: types.ToolStatusRunning},
		types.Part{ID: "t2", Type: types.PartTypeTool, ToolName: "read", ToolStatus: types.ToolStatusCompleted},
	))
	out := strings.Join(renderTranscript(snap, nil, 100, 0), "\n")
	if !strings.Contains(out, "bash (running)") {
		t.Fatalf("running tool line missing:\n%s", out)
	}
	if !strings.Contains(out, "✓ read") {
		t.Fatalf("completed tool line missing:\n%s", out)
	}
}

func TestRenderTranscriptAbortedMark(t *testing.T) {
	msg := assistantMessage("a1", types.Part{ID: "p1", Type: types.PartTypeText, Text: "partial answer"})
	msg.Aborted = true
	out := strings.Join(renderTranscript(transcriptSnapshot(msg), nil, 100, 0), "\n")
	if !strings.Contains(out, "(stopped)") {
		t.Fatalf("aborted mark missing:\n%s", out)
	}
}

func TestRenderTranscriptSkipsEmptyAndFileParts(t *testing.T) {
	snap := transcriptSnapshot(assistantMessage("a1",
		types.Part{ID: "p1", Type: types.PartTypeText, Text: "   "},
		types.Part{ID: "p2", Type: types.PartTypeFile, Text: "attachment"},
	))
	lines := renderTranscript(snap, nil, 100, 0)
	if len(lines) != 0 {
		t.Fatalf("expected no output for blank and file parts, got %#v", lines)
	}
}

func TestRenderTranscriptTailBudget(t *testing.T) {
	msgs := make([]types.Message, 0, 10)
	for i := 0; i < 10; i++ {
		msgs = append(msgs, assistantMessage(
			"a"+string(rune('0'+i)),
			types.Part{ID: "p", Type: types.PartTypeText, Text: "line of output"},
		))
	}
	lines := renderTranscript(transcriptSnapshot(msgs...), nil, 100, 8)
	if len(lines) != 8 {
		t.Fatalf("tail budget not applied: %d lines", len(lines))
	}
}

func TestReasoningPreviewTruncates(t *testing.T) {
	long := strings.Repeat("thinking hard\n", 10)
	preview := reasoningPreview(long)
	if !strings.HasSuffix(preview, "…") {
		t.Fatalf("long reasoning must be truncated: %q", preview)
	}
	if got := reasoningPreview("  "); got != "" {
		t.Fatalf("blank reasoning yields nothing, got %q", got)
	}
}
