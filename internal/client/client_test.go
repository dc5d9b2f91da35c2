package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chamber/internal/messages"
	"chamber/internal/types"
)

func TestListMessagesDecodesInfoAndParts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/s1/message" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{
				"info": map[string]any{
					"id":         "m1",
					"role":       "assistant",
					"providerID": "anthropic",
					"modelID":    "claude",
					"time":       map[string]any{"created": 1756540800000, "completed": 1756540805000},
				},
				"parts": []map[string]any{
					{"id": "p1", "type": "text", "text": "hello"},
					{"id": "f1", "type": "step-finish", "reason": "stop"},
				},
			},
		})
	}))
	defer server.Close()

	c := New(server.URL, time.Second)
	msgs, err := c.ListMessages(context.Background(), "s1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	msg := msgs[0]
	if msg.ID != "m1" || msg.Role != types.MessageRoleAssistant || msg.ProviderID != "anthropic" {
		t.Fatalf("unexpected message: %#v", msg)
	}
	if msg.CreatedAt.IsZero() || msg.CompletedAt.IsZero() {
		t.Fatalf("timestamps not decoded: %#v", msg)
	}
	if len(msg.Parts) != 2 || msg.Parts[0].Text != "hello" || msg.Parts[1].Reason != "stop" {
		t.Fatalf("unexpected parts: %#v", msg.Parts)
	}
	if msg.Parts[0].MessageID != "m1" || msg.Parts[0].SessionID != "s1" {
		t.Fatalf("part ownership not filled in: %#v", msg.Parts[0])
	}
}

func TestSendMessagePostsPartsBody(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/session/s1/message" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, time.Second)
	err := c.SendMessage(context.Background(), "s1", messages.SendBody{
		MessageID:  "local-1",
		Text:       "hello",
		ProviderID: "anthropic",
		ModelID:    "claude",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got["messageID"] != "local-1" || got["providerID"] != "anthropic" {
		t.Fatalf("unexpected body: %#v", got)
	}
	parts, ok := got["parts"].([]any)
	if !ok || len(parts) != 1 {
		t.Fatalf("expected one text part: %#v", got["parts"])
	}
}

func TestSendMessageCommandUsesCommandEndpoint(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/s1/command" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer server.Close()

	c := New(server.URL, time.Second)
	if err := c.SendMessage(context.Background(), "s1", messages.SendBody{Command: "init"}); err != nil {
		t.Fatalf("command failed: %v", err)
	}
	if got["command"] != "init" {
		t.Fatalf("unexpected body: %#v", got)
	}
}

func TestRequestErrorCarriesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream timed out", http.StatusGatewayTimeout)
	}))
	defer server.Close()

	c := New(server.URL, time.Second)
	err := c.AbortSession(context.Background(), "s1")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T: %v", err, err)
	}
	if reqErr.StatusCode() != http.StatusGatewayTimeout {
		t.Fatalf("unexpected status %d", reqErr.StatusCode())
	}
}

func TestCommandTemplateLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"name": "review", "template": "Review: $ARGUMENTS"},
		})
	}))
	defer server.Close()

	c := New(server.URL, time.Second)
	template, err := c.CommandTemplate(context.Background(), "review")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if template != "Review: $ARGUMENTS" {
		t.Fatalf("unexpected template %q", template)
	}
	if _, err := c.CommandTemplate(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown command")
	}
}

func TestDirectoryQueryAppended(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("directory") != "/work/repo" {
			t.Fatalf("expected directory query, got %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer server.Close()

	c := New(server.URL, time.Second, WithDirectory("/work/repo"))
	if _, err := c.ListSessions(context.Background()); err != nil {
		t.Fatalf("list failed: %v", err)
	}
}
