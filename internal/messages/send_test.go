package messages

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"chamber/internal/types"
)

type httpError struct{ code int }

func (e httpError) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e httpError) StatusCode() int { return e.code }

func TestSendMessageCreatesOptimisticUserMessage(t *testing.T) {
	sched := newManualScheduler()
	api := &fakeAPI{}
	store := newTestStore(api, sched)

	deliver(store, sched, "s1", "m1", deltaPart("p1", "earlier"), types.MessageRoleAssistant)
	if err := store.SendMessage(context.Background(), "s1", "hello", "anthropic", "claude", "build"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	msgs := store.Messages("s1")
	if len(msgs) != 2 {
		t.Fatalf("expected exactly one new message, got %d total", len(msgs))
	}
	last := msgs[len(msgs)-1]
	if last.Role != types.MessageRoleUser || !last.ClientAuthored {
		t.Fatalf("unexpected optimistic message: %#v", last)
	}
	if last.Text() != "hello" {
		t.Fatalf("unexpected text %q", last.Text())
	}
	if len(api.sent) != 1 || api.sent[0].Text != "hello" || api.sent[0].ProviderID != "anthropic" {
		t.Fatalf("unexpected request body: %#v", api.sent)
	}
	pending := store.PendingUserIDs()
	if len(pending) != 1 || pending[0] != last.ID {
		t.Fatalf("expected pending id for the optimistic message, got %v", pending)
	}
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	store := newTestStore(nil, newManualScheduler())
	if err := store.SendMessage(context.Background(), "s1", "   ", "", "", ""); err == nil {
		t.Fatalf("expected error for empty content")
	}
}

func TestSendMessageGatewayTimeoutIsNonFatal(t *testing.T) {
	sched := newManualScheduler()
	api := &fakeAPI{sendErr: httpError{code: 504}}
	store := newTestStore(api, sched)

	if err := store.SendMessage(context.Background(), "s1", "hello", "", "", ""); err != nil {
		t.Fatalf("gateway timeout must not surface: %v", err)
	}
	if len(store.Messages("s1")) != 1 {
		t.Fatalf("optimistic message must survive a timeout; stream delivers the result")
	}
}

func TestSendMessageFatalErrorRollsBack(t *testing.T) {
	sched := newManualScheduler()
	api := &fakeAPI{sendErr: errors.New("boom")}
	store := newTestStore(api, sched)

	if err := store.SendMessage(context.Background(), "s1", "hello", "", "", ""); err == nil {
		t.Fatalf("expected send failure surfaced")
	}
	if len(store.Messages("s1")) != 0 {
		t.Fatalf("failed send must remove the optimistic message")
	}
	if len(store.PendingUserIDs()) != 0 {
		t.Fatalf("failed send must clear the pending id")
	}
}

func TestSendSilentCommandSkipsLocalEcho(t *testing.T) {
	sched := newManualScheduler()
	api := &fakeAPI{}
	store := newTestStore(api, sched)

	if err := store.SendMessage(context.Background(), "s1", "/init", "", "", ""); err != nil {
		t.Fatalf("command failed: %v", err)
	}
	if len(store.Messages("s1")) != 0 {
		t.Fatalf("silent commands must not produce a local echo")
	}
	if len(api.sent) != 1 || api.sent[0].Command != "init" {
		t.Fatalf("unexpected request: %#v", api.sent)
	}
}

func TestSendTemplateCommandExpandsArguments(t *testing.T) {
	sched := newManualScheduler()
	api := &fakeAPI{templates: map[string]string{"review": "Review the following: $ARGUMENTS"}}
	store := newTestStore(api, sched)

	if err := store.SendMessage(context.Background(), "s1", "/review main.go", "", "", ""); err != nil {
		t.Fatalf("command failed: %v", err)
	}
	msgs := store.Messages("s1")
	if len(msgs) != 1 {
		t.Fatalf("expected expanded echo, got %d messages", len(msgs))
	}
	if msgs[0].Text() != "Review the following: main.go" {
		t.Fatalf("unexpected expansion %q", msgs[0].Text())
	}
}

func TestAbortSessionCallsCollaborator(t *testing.T) {
	sched := newManualScheduler()
	api := &fakeAPI{}
	store := newTestStore(api, sched)

	deliver(store, sched, "s1", "m1", deltaPart("p1", "running"), types.MessageRoleAssistant)
	if err := store.AbortSession(context.Background(), "s1"); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if len(api.aborts) != 1 || api.aborts[0] != "s1" {
		t.Fatalf("unexpected abort calls: %v", api.aborts)
	}
	if sched.has(idleKey("m1")) {
		t.Fatalf("abort must clear the idle timer for the streaming message")
	}
}
