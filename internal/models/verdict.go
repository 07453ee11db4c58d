package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity grades how badly a session falls short of completion.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Verdict is the judge's structured assessment of a session's self-review.
type Verdict struct {
	Complete            bool     `json:"complete"`
	ShouldContinue      bool     `json:"should_continue"`
	Severity            Severity `json:"severity"`
	Reason              string   `json:"reason"`
	Missing             []string `json:"missing"`
	NextActions         []string `json:"next_actions"`
	RequiresHumanAction bool     `json:"requires_human_action"`
}

// HasGaps reports whether the verdict lists any remaining work.
func (v *Verdict) HasGaps() bool {
	return len(v.Missing) > 0 || len(v.NextActions) > 0
}

// DefaultVerdict is the safe fallback used when the judge fails:
// not complete, but no continuation either.
func DefaultVerdict(reason string) *Verdict {
	return &Verdict{
		Complete:       false,
		ShouldContinue: false,
		Severity:       SeverityNone,
		Reason:         reason,
	}
}

// ParseVerdict extracts the first JSON object from free-form model output
// and decodes it as a Verdict. Markdown fencing is tolerated.
func ParseVerdict(text string) (*Verdict, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty judge response")
	}

	// Strip markdown fencing if present
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in judge response")
	}

	var v Verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("parse verdict JSON: %w", err)
	}

	if v.Severity == "" {
		v.Severity = SeverityNone
	} else {
		v.Severity = Severity(strings.ToUpper(string(v.Severity)))
	}

	return &v, nil
}
