package reflection

import (
	"strings"

	"github.com/dzianisv/opencode-plugins-sub001/internal/models"
)

// selfAssessmentPrompt is the fixed question block sent into an idle session.
// The leading marker line keeps the coordinator from reflecting on its own
// prompts.
const selfAssessmentPrompt = markerSelfAssessment + `

Before this session is considered finished, answer the following about the
work you just did. Be honest and specific; do not start new work.

1. What was the user's original request?
2. What did you actually complete, and how did you verify it?
3. What remains unfinished, unverified, or was deliberately skipped?
4. Did you hit errors you worked around instead of fixing?
5. Is there anything only the user can do before this is done?`

// buildJudgePrompt constructs the analysis prompt for an ephemeral judge
// session evaluating a self-assessment.
func buildJudgePrompt(assessment string) string {
	var sb strings.Builder
	sb.WriteString(markerJudgeRequest)
	sb.WriteString(`

You are reviewing an AI coding agent's self-assessment of its own session.
Decide whether the work is actually complete. Return ONLY a JSON object with
these fields:
- "complete": true only if nothing of substance remains
- "should_continue": true if the agent should keep working without the user
- "severity": one of "NONE", "LOW", "MEDIUM", "HIGH", "CRITICAL" grading how
  serious the remaining gaps are
- "missing": array of concrete unfinished or unverified items (empty if none)
- "next_actions": array of concrete steps the agent should take next
- "requires_human_action": true if progress is blocked on the user
- "reason": one or two sentences justifying the verdict

Rules:
- An agent that is legitimately waiting on the user gets severity "NONE" and
  empty "missing"/"next_actions".
- Claims of completion without verification count as gaps.
- Return valid JSON only, no markdown fencing or explanation.

Self-assessment to evaluate:

`)
	sb.WriteString(assessment)
	return sb.String()
}

// buildContinuationPrompt constructs the feedback message pushed into a
// session whose verdict listed remaining work.
func buildContinuationPrompt(v *models.Verdict) string {
	var sb strings.Builder
	sb.WriteString(markerContinuation)
	sb.WriteString("\n\nYour self-review found unfinished work. Address the following before stopping:\n")
	for _, item := range v.Missing {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	if len(v.NextActions) > 0 {
		sb.WriteString("\nSuggested next steps:\n")
		for _, item := range v.NextActions {
			sb.WriteString("- ")
			sb.WriteString(item)
			sb.WriteString("\n")
		}
	}
	if v.Reason != "" {
		sb.WriteString("\nReviewer note: ")
		sb.WriteString(v.Reason)
		sb.WriteString("\n")
	}
	return sb.String()
}
