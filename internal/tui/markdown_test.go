package tui

import (
	"strings"
	"testing"

	xansi "github.com/charmbracelet/x/ansi"
)

func TestRenderMarkdownEmptyInput(t *testing.T) {
	if got := renderMarkdown("", 80); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
	if got := renderMarkdown("\n\n", 80); got != "" {
		t.Fatalf("expected empty output for blank lines, got %q", got)
	}
}

func TestRenderMarkdownKeepsContent(t *testing.T) {
	// Styling splits the text into per-word spans; compare the plain text.
	out := xansi.Strip(renderMarkdown("plain words survive rendering", 120))
	if !strings.Contains(out, "plain words survive rendering") {
		t.Fatalf("content lost: %q", out)
	}
}

func TestRenderMarkdownRendererIsCached(t *testing.T) {
	first := markdownRenderer(64, true)
	second := markdownRenderer(64, true)
	if first == nil || first != second {
		t.Fatalf("expected one renderer per width/background pair")
	}
	if other := markdownRenderer(65, true); other == first {
		t.Fatalf("different widths must not share a renderer")
	}
}

func TestEscapeMarkdown(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain text", "plain text"},
		{"# heading", "\\# heading"},
		{"> quote", "\\> quote"},
		{"- bullet", "\\- bullet"},
		{"* bullet", "\\* bullet"},
		{"+ bullet", "\\+ bullet"},
		{"1. numbered", "\\1. numbered"},
		{"10. numbered", "\\10. numbered"},
		{"  # indented", "  \\# indented"},
		{"has `code` span", "has \\`code\\` span"},
		{"1.missing space", "1.missing space"},
	}
	for _, tc := range cases {
		if got := escapeMarkdown(tc.in); got != tc.want {
			t.Fatalf("escapeMarkdown(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsNumberedList(t *testing.T) {
	if !isNumberedList("2. item") {
		t.Fatalf("expected numbered list")
	}
	if isNumberedList(". item") || isNumberedList("a. item") || isNumberedList("3.item") {
		t.Fatalf("false positives in numbered list detection")
	}
}
