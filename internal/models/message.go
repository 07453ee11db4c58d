package models

import (
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType identifies the kind of content a message part carries.
type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeToolCall   PartType = "tool-call"
	PartTypeToolResult PartType = "tool-result"
)

// Part is one piece of a message: prose or a tool interaction.
type Part struct {
	Type PartType
	Text string
}

// MessageError describes a failure attached to an assistant message.
type MessageError struct {
	Kind    string
	Message string
}

// ErrorKindAborted marks an assistant turn the user interrupted.
const ErrorKindAborted = "aborted"

// Message is one turn in an agent session.
type Message struct {
	ID        string
	SessionID string
	Role      Role
	Parts     []Part
	Completed *time.Time // set once an assistant turn has finished
	Error     *MessageError
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartTypeText && p.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// IsCompleted reports whether the assistant turn has a completion timestamp.
func (m *Message) IsCompleted() bool {
	return m.Completed != nil && !m.Completed.IsZero()
}

// IsAborted reports whether the message carries an abort-type error.
func (m *Message) IsAborted() bool {
	return m.Error != nil && m.Error.Kind == ErrorKindAborted
}
