package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Speech speaks notifications aloud by shelling out to a TTS command
// (say on macOS, espeak on Linux, or any script taking the text as the
// final argument).
type Speech struct {
	command string
	args    []string
}

// NewSpeech creates a speech notifier from a command line such as
// "say -v Samantha". Returns nil if the command line is empty.
func NewSpeech(commandLine string) *Speech {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil
	}
	return &Speech{command: fields[0], args: fields[1:]}
}

func (s *Speech) Notify(ctx context.Context, title, message string) error {
	text := message
	if title != "" {
		text = title + ". " + message
	}

	args := append(append([]string(nil), s.args...), text)
	cmd := exec.CommandContext(ctx, s.command, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("speech command %s: %w (output: %s)", s.command, err, strings.TrimSpace(string(out)))
	}
	return nil
}
