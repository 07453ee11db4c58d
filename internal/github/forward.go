package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dzianisv/opencode-plugins-sub001/internal/models"
	"github.com/dzianisv/opencode-plugins-sub001/internal/opencode"
)

// Forwarder posts a completion summary to the GitHub issue a session was
// working on, once the judge has certified the session complete. The issue
// is located by scanning the session's user messages for an issue reference.
type Forwarder struct {
	gh          Client
	sessions    opencode.Client
	defaultRepo string // used when the reference has no repo part
	logger      *slog.Logger
}

// NewForwarder creates a forwarder. defaultRepo may be empty; sessions
// without a resolvable repo reference are skipped.
func NewForwarder(gh Client, sessions opencode.Client, defaultRepo string, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{gh: gh, sessions: sessions, defaultRepo: defaultRepo, logger: logger}
}

// SessionConfirmed implements the coordinator's completion hook.
func (f *Forwarder) SessionConfirmed(ctx context.Context, sessionID string, verdict *models.Verdict) {
	messages, err := f.sessions.Messages(ctx, sessionID)
	if err != nil {
		f.logger.Warn("forwarder: read session failed", "session", sessionID, "error", err)
		return
	}

	repo, number, ok := f.findIssueRef(messages)
	if !ok {
		f.logger.Debug("forwarder: no issue reference in session", "session", sessionID)
		return
	}

	body := buildCompletionComment(sessionID, verdict)
	if err := f.gh.PostIssueComment(repo, number, body); err != nil {
		f.logger.Warn("forwarder: comment failed", "repo", repo, "issue", number, "error", err)
		return
	}
	f.logger.Info("forwarder: posted completion comment", "repo", repo, "issue", number, "session", sessionID)
}

// findIssueRef scans user messages (newest first) for an issue reference.
func (f *Forwarder) findIssueRef(messages []*models.Message) (string, int, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != models.RoleUser {
			continue
		}
		text := m.Text()
		if repo, number, ok := ParseIssueRef(text); ok {
			return repo, number, true
		}
		if f.defaultRepo == "" {
			continue
		}
		// Bare "#123" refs resolve against the configured default repo.
		if repo, number, ok := ParseIssueRef(f.defaultRepo + findBareRef(text)); ok && repo == f.defaultRepo {
			return repo, number, true
		}
		// Branch-style tokens (fix-123, feature/gh-7-cleanup). Prefer the
		// open PR for that branch; fall back to the embedded issue number.
		if branch, number, ok := findBranchRef(text); ok {
			if pr, err := f.gh.PRForBranch(f.defaultRepo, branch); err == nil {
				return f.defaultRepo, pr.Number, true
			}
			return f.defaultRepo, number, true
		}
	}
	return "", 0, false
}

// findBranchRef returns the first branch-like token carrying an issue number.
func findBranchRef(text string) (string, int, bool) {
	for _, field := range strings.Fields(text) {
		trimmed := strings.TrimRight(field, ".,;:)")
		if n, ok := BranchIssueNumber(trimmed); ok {
			return trimmed, n, true
		}
	}
	return "", 0, false
}

// findBareRef returns the first "#123" token in the text, or "".
func findBareRef(text string) string {
	for _, field := range strings.Fields(text) {
		if len(field) > 1 && field[0] == '#' {
			trimmed := strings.TrimRight(field, ".,;:)")
			if isDigits(trimmed[1:]) {
				return trimmed
			}
		}
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// buildCompletionComment formats the verdict as a GitHub comment.
func buildCompletionComment(sessionID string, v *models.Verdict) string {
	var sb strings.Builder
	sb.WriteString("Agent session completed and passed self-review.\n\n")
	if v != nil && v.Reason != "" {
		sb.WriteString(v.Reason)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "_Session `%s`, verified automatically._", sessionID)
	return sb.String()
}
