package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serveSSE(t *testing.T, frames []string, gotHeader chan<- string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotHeader != nil {
			gotHeader <- r.Header.Get("Last-Event-ID")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			_, _ = w.Write([]byte(frame))
			flusher.Flush()
		}
	}))
}

func TestSubscribeDecodesFrames(t *testing.T) {
	frames := []string{
		": heartbeat\n\n",
		"id: 41\ndata: {\"type\":\"server.connected\",\"properties\":{}}\n\n",
		"id: 42\ndata: {\"type\":\"message.part.updated\",\"properties\":{\"part\":{\"id\":\"p1\"}}}\n\n",
	}
	server := serveSSE(t, frames, nil)
	defer server.Close()

	c := New(server.URL, time.Second)
	events, cancel, err := c.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	first := <-events
	if first.Type != "server.connected" || first.ID != "41" {
		t.Fatalf("unexpected first event: %#v", first)
	}
	second := <-events
	if second.Type != "message.part.updated" || second.ID != "42" {
		t.Fatalf("unexpected second event: %#v", second)
	}
	if second.Properties["part"] == nil {
		t.Fatalf("properties not decoded: %#v", second.Properties)
	}
}

func TestSubscribeUnwrapsEnvelope(t *testing.T) {
	frames := []string{
		"data: {\"directory\":\"/work\",\"payload\":{\"type\":\"session.updated\",\"properties\":{\"info\":{\"id\":\"s1\"}}}}\n\n",
	}
	server := serveSSE(t, frames, nil)
	defer server.Close()

	c := New(server.URL, time.Second)
	events, cancel, err := c.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	event := <-events
	if event.Type != "session.updated" {
		t.Fatalf("envelope not unwrapped: %#v", event)
	}
}

func TestSubscribeSendsLastEventIDOnReconnect(t *testing.T) {
	headers := make(chan string, 2)
	frames := []string{"id: 99\ndata: {\"type\":\"server.connected\"}\n\n"}
	server := serveSSE(t, frames, headers)
	defer server.Close()

	c := New(server.URL, time.Second)
	events, cancel, err := c.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("first subscribe failed: %v", err)
	}
	if got := <-headers; got != "" {
		t.Fatalf("first connect must not send Last-Event-ID, got %q", got)
	}
	<-events
	for range events {
	}
	cancel()

	_, cancel2, err := c.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("second subscribe failed: %v", err)
	}
	defer cancel2()
	if got := <-headers; got != "99" {
		t.Fatalf("expected resume from event 99, got %q", got)
	}
}

func TestSubscribeResumePositionIsPerClient(t *testing.T) {
	headers := make(chan string, 2)
	frames := []string{"id: 7\ndata: {\"type\":\"server.connected\"}\n\n"}
	server := serveSSE(t, frames, headers)
	defer server.Close()

	first := New(server.URL, time.Second)
	events, cancel, err := first.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	<-headers
	for range events {
	}
	cancel()
	if first.recallEventID() != "7" {
		t.Fatalf("expected resume id 7, got %q", first.recallEventID())
	}

	second := New(server.URL, time.Second)
	_, cancel2, err := second.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel2()
	if got := <-headers; got != "" {
		t.Fatalf("a fresh client must not inherit another client's position, got %q", got)
	}
}

func TestSubscribeErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no stream for you", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New(server.URL, time.Second)
	if _, _, err := c.Subscribe(context.Background()); err == nil {
		t.Fatalf("expected error on non-2xx subscribe")
	}
}
