package reflection

import (
	"strings"

	"github.com/dzianisv/opencode-plugins-sub001/internal/models"
)

// Marker strings embedded in prompts this package generates. Any session
// containing one of them is internal machinery, not user work.
const (
	markerSelfAssessment = "SELF-ASSESSMENT CHECK"
	markerJudgeRequest   = "SESSION VERDICT REQUEST"
	markerContinuation   = "SELF-REVIEW FOLLOW-UP"
)

// DefaultMarkers returns the built-in marker set.
func DefaultMarkers() []string {
	return []string{markerSelfAssessment, markerJudgeRequest, markerContinuation}
}

// InternalSessionDetector decides whether a session is internal machinery
// (judge sessions, reflection prompts) that must never be reflected on.
// The marker set is pluggable so it can evolve without touching the
// coordinator.
type InternalSessionDetector func(messages []*models.Message) bool

// MarkerDetector returns a detector that checks the session's opening
// message for any of the given marker substrings. Internal sessions (judge
// sessions in particular) always start with a generated prompt; markers
// appearing later in a session are injected prompts inside ordinary user
// work and must not flag the whole session.
func MarkerDetector(markers []string) InternalSessionDetector {
	return func(messages []*models.Message) bool {
		if len(messages) == 0 {
			return false
		}
		text := messages[0].Text()
		for _, marker := range markers {
			if strings.Contains(text, marker) {
				return true
			}
		}
		return false
	}
}

// isReflectionMessage reports whether a user message was generated by this
// package (self-assessment ask or continuation feedback) rather than typed
// by a human. Such messages are not "relevant" for anchoring.
func isReflectionMessage(m *models.Message, markers []string) bool {
	text := m.Text()
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// lastRelevantUserMessageID returns the id of the most recent user message
// that a human actually sent, or "" when there is none.
func lastRelevantUserMessageID(messages []*models.Message, markers []string) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != models.RoleUser {
			continue
		}
		if isReflectionMessage(m, markers) {
			continue
		}
		return m.ID
	}
	return ""
}
