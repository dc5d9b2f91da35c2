package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"chamber/internal/logging"
	"chamber/internal/messages"
	"chamber/internal/types"
)

// RequestError carries the HTTP context of a failed call so callers can
// classify transient gateway failures without string matching.
type RequestError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e == nil {
		return "request error"
	}
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, message)
}

func (e *RequestError) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.Status
}

// Client talks to the assistant server's HTTP API. It implements the
// collaborator surfaces the message store and stream controller consume.
type Client struct {
	baseURL    string
	username   string
	token      string
	directory  string
	httpClient *http.Client
	log        logging.Logger

	// Stream resume position for this client's subscriptions.
	lastEventMu sync.Mutex
	lastEventID string
}

type Option func(*Client)

func WithBasicAuth(username, token string) Option {
	return func(c *Client) {
		c.username = strings.TrimSpace(username)
		c.token = strings.TrimSpace(token)
	}
}

func WithDirectory(directory string) Option {
	return func(c *Client) {
		c.directory = strings.TrimSpace(directory)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithLogger(log logging.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	path = "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
	endpoint := c.baseURL + path

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.SetBasicAuth(c.username, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		message := strings.TrimSpace(string(raw))
		if message == "" {
			message = resp.Status
		}
		return &RequestError{Method: method, Path: path, Status: resp.StatusCode, Message: message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) withDirectory(path string) string {
	if c.directory == "" {
		return path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + "directory=" + url.QueryEscape(c.directory)
}

// Health probes the server. Used by the staleness watchdog before forcing a
// reconnect.
func (c *Client) Health(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.doJSON(probeCtx, http.MethodGet, "/app", nil, nil)
}

func (c *Client) ListSessions(ctx context.Context) ([]types.Session, error) {
	var wire []sessionWire
	if err := c.doJSON(ctx, http.MethodGet, c.withDirectory("/session"), nil, &wire); err != nil {
		return nil, err
	}
	sessions := make([]types.Session, 0, len(wire))
	for _, entry := range wire {
		sessions = append(sessions, entry.toSession())
	}
	return sessions, nil
}

func (c *Client) CreateSession(ctx context.Context, title string) (types.Session, error) {
	body := map[string]any{}
	if title = strings.TrimSpace(title); title != "" {
		body["title"] = title
	}
	var wire sessionWire
	if err := c.doJSON(ctx, http.MethodPost, c.withDirectory("/session"), body, &wire); err != nil {
		return types.Session{}, err
	}
	return wire.toSession(), nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	return c.doJSON(ctx, http.MethodDelete, c.withDirectory("/session/"+url.PathEscape(sessionID)), nil, nil)
}

func (c *Client) SessionInfo(ctx context.Context, sessionID string) (types.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return types.Session{}, fmt.Errorf("session id is required")
	}
	var wire sessionWire
	path := c.withDirectory("/session/" + url.PathEscape(sessionID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return types.Session{}, err
	}
	return wire.toSession(), nil
}

// ListMessages fetches the full message history for a session.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	var wire []messageWire
	path := c.withDirectory("/session/" + url.PathEscape(sessionID) + "/message")
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(wire))
	for _, entry := range wire {
		out = append(out, entry.toMessage(sessionID))
	}
	return out, nil
}

// SendMessage dispatches user content or a command to a session.
func (c *Client) SendMessage(ctx context.Context, sessionID string, body messages.SendBody) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if body.Command != "" {
		payload := map[string]any{"command": body.Command}
		if body.Text != "" {
			payload["arguments"] = body.Text
		}
		path := c.withDirectory("/session/" + url.PathEscape(sessionID) + "/command")
		return c.doJSON(ctx, http.MethodPost, path, payload, nil)
	}

	payload := map[string]any{
		"parts": []map[string]any{{"type": "text", "text": body.Text}},
	}
	if body.MessageID != "" {
		payload["messageID"] = body.MessageID
	}
	if body.ProviderID != "" && body.ModelID != "" {
		payload["providerID"] = body.ProviderID
		payload["modelID"] = body.ModelID
	}
	if body.Agent != "" {
		payload["agent"] = body.Agent
	}
	path := c.withDirectory("/session/" + url.PathEscape(sessionID) + "/message")
	return c.doJSON(ctx, http.MethodPost, path, payload, nil)
}

func (c *Client) AbortSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	path := c.withDirectory("/session/" + url.PathEscape(sessionID) + "/abort")
	return c.doJSON(ctx, http.MethodPost, path, map[string]any{}, nil)
}

// CommandTemplate fetches the template text of a slash command.
func (c *Client) CommandTemplate(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("command name is required")
	}
	var wire []commandWire
	if err := c.doJSON(ctx, http.MethodGet, "/command", nil, &wire); err != nil {
		return "", err
	}
	for _, cmd := range wire {
		if strings.EqualFold(strings.TrimSpace(cmd.Name), name) {
			return cmd.Template, nil
		}
	}
	return "", fmt.Errorf("unknown command %q", name)
}

// RespondPermission answers a pending permission request.
func (c *Client) RespondPermission(ctx context.Context, sessionID, permissionID string, decision types.PermissionDecision) error {
	sessionID = strings.TrimSpace(sessionID)
	permissionID = strings.TrimSpace(permissionID)
	if sessionID == "" || permissionID == "" {
		return fmt.Errorf("session and permission ids are required")
	}
	path := c.withDirectory("/session/" + url.PathEscape(sessionID) + "/permissions/" + url.PathEscape(permissionID))
	return c.doJSON(ctx, http.MethodPost, path, map[string]any{"response": string(decision)}, nil)
}
