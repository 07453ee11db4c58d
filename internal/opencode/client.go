package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dzianisv/opencode-plugins-sub001/internal/models"
)

// Client is the subset of the agent host API the plugins need:
// create/delete sessions, enqueue prompts, and read message history.
type Client interface {
	CreateSession(ctx context.Context, title string) (string, error)
	DeleteSession(ctx context.Context, sessionID string) error
	// SendMessage enqueues a user prompt and returns once the host accepted
	// it, not once the agent answered.
	SendMessage(ctx context.Context, sessionID, text string) error
	Messages(ctx context.Context, sessionID string) ([]*models.Message, error)
}

// HTTPClient implements Client against the OpenCode server REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for the host server at baseURL
// (e.g. http://localhost:4096).
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// --- wire types ---

type sessionInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type messagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type messageTime struct {
	Completed int64 `json:"completed,omitempty"` // unix millis, 0 = still streaming
}

type messageError struct {
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

type messageInfo struct {
	ID        string        `json:"id"`
	SessionID string        `json:"sessionID"`
	Role      string        `json:"role"`
	Time      messageTime   `json:"time"`
	Error     *messageError `json:"error,omitempty"`
}

type messageEnvelope struct {
	Info  messageInfo   `json:"info"`
	Parts []messagePart `json:"parts"`
}

// abortErrorName is how the host labels an interrupted assistant turn.
const abortErrorName = "MessageAbortedError"

func (c *HTTPClient) CreateSession(ctx context.Context, title string) (string, error) {
	body, _ := json.Marshal(map[string]string{"title": title})
	var info sessionInfo
	if err := c.do(ctx, http.MethodPost, "/session", body, &info); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if info.ID == "" {
		return "", fmt.Errorf("create session: host returned no session id")
	}
	return info.ID, nil
}

func (c *HTTPClient) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodDelete, "/session/"+sessionID, nil, nil); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, sessionID, text string) error {
	body, _ := json.Marshal(map[string]any{
		"parts": []messagePart{{Type: "text", Text: text}},
	})
	// prompt_async enqueues and returns; the reply arrives via Messages.
	if err := c.do(ctx, http.MethodPost, "/session/"+sessionID+"/prompt_async", body, nil); err != nil {
		return fmt.Errorf("send message to %s: %w", sessionID, err)
	}
	return nil
}

func (c *HTTPClient) Messages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	var envelopes []messageEnvelope
	if err := c.do(ctx, http.MethodGet, "/session/"+sessionID+"/message", nil, &envelopes); err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", sessionID, err)
	}

	msgs := make([]*models.Message, 0, len(envelopes))
	for _, env := range envelopes {
		msgs = append(msgs, decodeMessage(env))
	}
	return msgs, nil
}

// decodeMessage maps a wire envelope to the internal message model.
func decodeMessage(env messageEnvelope) *models.Message {
	m := &models.Message{
		ID:        env.Info.ID,
		SessionID: env.Info.SessionID,
		Role:      models.Role(env.Info.Role),
	}

	if env.Info.Time.Completed > 0 {
		t := time.UnixMilli(env.Info.Time.Completed).UTC()
		m.Completed = &t
	}

	if env.Info.Error != nil {
		kind := env.Info.Error.Name
		if kind == abortErrorName {
			kind = models.ErrorKindAborted
		}
		m.Error = &models.MessageError{Kind: kind, Message: env.Info.Error.Message}
	}

	for _, p := range env.Parts {
		switch p.Type {
		case "text":
			m.Parts = append(m.Parts, models.Part{Type: models.PartTypeText, Text: p.Text})
		case "tool", "tool-call", "tool_use":
			m.Parts = append(m.Parts, models.Part{Type: models.PartTypeToolCall, Text: p.Text})
		case "tool-result", "tool_result":
			m.Parts = append(m.Parts, models.Part{Type: models.PartTypeToolResult, Text: p.Text})
		}
	}
	return m
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
