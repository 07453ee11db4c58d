package notify

import (
	"context"

	"github.com/dzianisv/opencode-plugins-sub001/internal/output"
)

// Terminal prints notifications to the watcher's terminal.
type Terminal struct {
	ui *output.UI
}

// NewTerminal creates a terminal notifier writing through the given UI.
func NewTerminal(ui *output.UI) *Terminal {
	return &Terminal{ui: ui}
}

func (t *Terminal) Notify(_ context.Context, title, message string) error {
	if title != "" {
		t.ui.Warning("%s: %s", title, message)
	} else {
		t.ui.Warning("%s", message)
	}
	return nil
}
