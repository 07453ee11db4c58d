package opencode

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// EventType classifies host events the plugins react to.
type EventType string

const (
	EventSessionIdle    EventType = "session.idle"
	EventSessionAborted EventType = "session.aborted"
	EventSessionUpdated EventType = "session.updated"
)

// Event is one host notification tied to a session.
type Event struct {
	Type      EventType
	SessionID string
}

// wire shape of one SSE data payload from the host's /event endpoint.
type eventPayload struct {
	Type       string `json:"type"`
	Properties struct {
		SessionID string `json:"sessionID"`
		Info      struct {
			ID string `json:"id"`
		} `json:"info"`
		Error struct {
			Name string `json:"name"`
		} `json:"error"`
	} `json:"properties"`
}

// Events subscribes to the host's SSE event stream and delivers decoded
// events on the returned channel until ctx is cancelled. The stream
// reconnects after transient failures; the channel is closed on cancel.
func (c *HTTPClient) Events(ctx context.Context, logger *slog.Logger) <-chan Event {
	ch := make(chan Event, 16)

	go func() {
		defer close(ch)
		for {
			if err := c.streamEvents(ctx, ch); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("event stream disconnected, reconnecting", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}()

	return ch
}

// streamEvents reads one SSE connection until error or cancel.
func (c *HTTPClient) streamEvents(ctx context.Context, ch chan<- Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// No overall timeout: the stream stays open indefinitely.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.New("event stream: " + resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		ev, ok := decodeEvent([]byte(data))
		if !ok {
			continue
		}

		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("event stream closed by host")
}

// decodeEvent maps a raw payload to an Event. Host "session.error" events
// carrying an abort are normalized to EventSessionAborted.
func decodeEvent(data []byte) (Event, bool) {
	var p eventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Event{}, false
	}

	sessionID := p.Properties.SessionID
	if sessionID == "" {
		sessionID = p.Properties.Info.ID
	}
	if sessionID == "" {
		return Event{}, false
	}

	switch p.Type {
	case "session.idle":
		return Event{Type: EventSessionIdle, SessionID: sessionID}, true
	case "session.aborted":
		return Event{Type: EventSessionAborted, SessionID: sessionID}, true
	case "session.error":
		if p.Properties.Error.Name == abortErrorName {
			return Event{Type: EventSessionAborted, SessionID: sessionID}, true
		}
		return Event{}, false
	case "session.updated":
		return Event{Type: EventSessionUpdated, SessionID: sessionID}, true
	default:
		return Event{}, false
	}
}
