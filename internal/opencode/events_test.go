package opencode

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Event
		ok   bool
	}{
		{
			name: "idle",
			data: `{"type": "session.idle", "properties": {"sessionID": "ses_1"}}`,
			want: Event{Type: EventSessionIdle, SessionID: "ses_1"},
			ok:   true,
		},
		{
			name: "aborted",
			data: `{"type": "session.aborted", "properties": {"sessionID": "ses_1"}}`,
			want: Event{Type: EventSessionAborted, SessionID: "ses_1"},
			ok:   true,
		},
		{
			name: "abort via session.error",
			data: `{"type": "session.error", "properties": {"sessionID": "ses_1", "error": {"name": "MessageAbortedError"}}}`,
			want: Event{Type: EventSessionAborted, SessionID: "ses_1"},
			ok:   true,
		},
		{
			name: "non-abort session.error is dropped",
			data: `{"type": "session.error", "properties": {"sessionID": "ses_1", "error": {"name": "ProviderAuthError"}}}`,
			ok:   false,
		},
		{
			name: "session id from info",
			data: `{"type": "session.updated", "properties": {"info": {"id": "ses_2"}}}`,
			want: Event{Type: EventSessionUpdated, SessionID: "ses_2"},
			ok:   true,
		},
		{
			name: "unknown type",
			data: `{"type": "file.edited", "properties": {"sessionID": "ses_1"}}`,
			ok:   false,
		},
		{
			name: "no session id",
			data: `{"type": "session.idle", "properties": {}}`,
			ok:   false,
		},
		{
			name: "garbage",
			data: `not json`,
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeEvent([]byte(tt.data))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestEvents_StreamsAndClosesOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/event", r.URL.Path)
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "data: {\"type\": \"session.idle\", \"properties\": {\"sessionID\": \"ses_1\"}}\n\n")
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, "data: {\"type\": \"session.aborted\", \"properties\": {\"sessionID\": \"ses_2\"}}\n\n")
		flusher.Flush()

		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewHTTPClient(srv.URL)
	ch := client.Events(ctx, slog.New(slog.DiscardHandler))

	var got []Event
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}

	assert.Equal(t, Event{Type: EventSessionIdle, SessionID: "ses_1"}, got[0])
	assert.Equal(t, Event{Type: EventSessionAborted, SessionID: "ses_2"}, got[1])

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open, "channel closes after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after cancel")
	}
}
