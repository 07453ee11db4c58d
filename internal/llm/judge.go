package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dzianisv/opencode-plugins-sub001/internal/models"
)

// Judge evaluates self-assessments with a direct Anthropic API call instead
// of routing through an ephemeral host session. It keeps judge traffic out
// of the host entirely, at the cost of a second API key.
type Judge struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewJudge creates an Anthropic-backed judge with the given API key and model.
func NewJudge(apiKey, model string) *Judge {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Judge{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildJudgePrompt constructs the system and user prompts for verdict calls.
func buildJudgePrompt(assessment string) (system string, user string) {
	system = `You review an AI coding agent's self-assessment of its own session and decide whether the work is actually complete. Return ONLY a JSON object with these fields:
- "complete": true only if nothing of substance remains
- "should_continue": true if the agent should keep working without the user
- "severity": one of "NONE", "LOW", "MEDIUM", "HIGH", "CRITICAL" grading how serious the remaining gaps are
- "missing": array of concrete unfinished or unverified items (empty if none)
- "next_actions": array of concrete steps the agent should take next
- "requires_human_action": true if progress is blocked on the user
- "reason": one or two sentences justifying the verdict

Rules:
- An agent legitimately waiting on the user gets severity "NONE" and empty "missing"/"next_actions"
- Claims of completion without verification count as gaps
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Evaluate this self-assessment:\n\n")
	sb.WriteString(assessment)
	user = sb.String()
	return
}

// Evaluate sends the self-assessment to the Anthropic API and returns the
// parsed verdict.
func (j *Judge) Evaluate(ctx context.Context, assessment string) (*models.Verdict, error) {
	systemPrompt, userPrompt := buildJudgePrompt(assessment)

	msg, err := j.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     j.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	verdict, err := models.ParseVerdict(text)
	if err != nil {
		return nil, fmt.Errorf("parse verdict: %w\nraw response: %s", err, text)
	}
	return verdict, nil
}
