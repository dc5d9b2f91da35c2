package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"chamber/internal/logging"
	"chamber/internal/types"
)

// rememberEventID records the id of the last delivered event so the next
// subscription from this client can ask the server to resume there.
func (c *Client) rememberEventID(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	c.lastEventMu.Lock()
	c.lastEventID = id
	c.lastEventMu.Unlock()
}

func (c *Client) recallEventID() string {
	c.lastEventMu.Lock()
	defer c.lastEventMu.Unlock()
	return c.lastEventID
}

// Subscribe opens the server's event stream and decodes each event frame
// into a StreamEvent. The returned cancel func is safe to call more than
// once; the channel closes when the stream ends for any reason.
func (c *Client) Subscribe(ctx context.Context) (<-chan types.StreamEvent, func(), error) {
	streamCtx, streamCancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+c.withDirectory("/event"), nil)
	if err != nil {
		streamCancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if id := c.recallEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}
	if c.token != "" {
		req.SetBasicAuth(c.username, c.token)
	}

	// The subscription outlives any request timeout; reuse only the transport.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		streamCancel()
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		streamCancel()
		return nil, nil, &RequestError{
			Method:  http.MethodGet,
			Path:    "/event",
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(raw)),
		}
	}

	out := make(chan types.StreamEvent, 256)
	go func() {
		defer close(out)
		defer streamCancel()
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		dataLines := make([]string, 0, 8)
		eventID := ""

		emit := func(payload string) bool {
			payload = strings.TrimSpace(payload)
			if payload == "" {
				return true
			}
			event, ok := decodeStreamEvent(payload, c.log)
			if !ok {
				return true
			}
			event.ID = eventID
			c.rememberEventID(eventID)
			select {
			case <-streamCtx.Done():
				return false
			case out <- event:
			}
			return true
		}

		for scanner.Scan() {
			line := scanner.Text()
			// Comment lines are heartbeats; they keep the connection warm but
			// carry no payload.
			if strings.HasPrefix(line, ":") {
				continue
			}
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "id:") {
				eventID = strings.TrimSpace(strings.TrimPrefix(trimmed, "id:"))
				continue
			}
			if strings.HasPrefix(trimmed, "data:") {
				dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
				continue
			}
			if trimmed != "" {
				continue
			}
			if len(dataLines) == 0 {
				continue
			}
			payload := strings.Join(dataLines, "\n")
			dataLines = dataLines[:0]
			if !emit(payload) {
				return
			}
			eventID = ""
		}
		if len(dataLines) > 0 {
			_ = emit(strings.Join(dataLines, "\n"))
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			streamCancel()
			_ = resp.Body.Close()
		})
	}
	return out, cancel, nil
}

// decodeStreamEvent unwraps the optional {directory, payload} envelope some
// server builds emit and decodes the typed event inside.
func decodeStreamEvent(raw string, log logging.Logger) (types.StreamEvent, bool) {
	var envelope struct {
		Type       string          `json:"type"`
		Properties map[string]any  `json:"properties"`
		Payload    json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		log.Debug("dropping undecodable stream frame", logging.F("error", err))
		return types.StreamEvent{}, false
	}
	if strings.TrimSpace(envelope.Type) == "" && len(envelope.Payload) > 0 {
		return decodeStreamEvent(string(envelope.Payload), log)
	}
	eventType := strings.TrimSpace(envelope.Type)
	if eventType == "" {
		return types.StreamEvent{}, false
	}
	return types.StreamEvent{Type: eventType, Properties: envelope.Properties}, true
}
