package reflection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dzianisv/opencode-plugins-sub001/internal/models"
	"github.com/dzianisv/opencode-plugins-sub001/internal/opencode"
)

// Judge scores a self-assessment into a structured verdict.
type Judge interface {
	Evaluate(ctx context.Context, assessment string) (*models.Verdict, error)
}

// SessionJudge runs the verdict call inside an ephemeral host session:
// it opens a fresh session, sends the analysis prompt, awaits the reply with
// the same polling used for self-assessments, and deletes the session again
// whatever happens.
type SessionJudge struct {
	client opencode.Client
	cfg    Config
	logger *slog.Logger
}

// NewSessionJudge creates a judge backed by ephemeral host sessions.
func NewSessionJudge(client opencode.Client, cfg Config, logger *slog.Logger) *SessionJudge {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionJudge{client: client, cfg: cfg, logger: logger}
}

func (j *SessionJudge) Evaluate(ctx context.Context, assessment string) (*models.Verdict, error) {
	sessionID, err := j.client.CreateSession(ctx, "verdict-"+time.Now().UTC().Format("20060102-150405"))
	if err != nil {
		return nil, fmt.Errorf("create judge session: %w", err)
	}

	// Leaked judge sessions would later be mistaken for user sessions, so
	// deletion must survive both failures and a cancelled ctx.
	defer func() {
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := j.client.DeleteSession(cleanup, sessionID); err != nil {
			j.logger.Warn("delete judge session failed", "session", sessionID, "error", err)
		}
	}()

	if err := j.client.SendMessage(ctx, sessionID, buildJudgePrompt(assessment)); err != nil {
		return nil, fmt.Errorf("send judge prompt: %w", err)
	}

	reply, err := awaitAssistantReply(ctx, j.client, sessionID, 1, j.cfg)
	if err != nil {
		return nil, fmt.Errorf("await judge reply: %w", err)
	}

	verdict, err := models.ParseVerdict(reply)
	if err != nil {
		return nil, fmt.Errorf("judge session %s: %w", sessionID, err)
	}
	return verdict, nil
}

// awaitAssistantReply polls a session until a completed, non-empty assistant
// message appears after the first afterCount messages, then returns its text.
func awaitAssistantReply(ctx context.Context, client opencode.Client, sessionID string, afterCount int, cfg Config) (string, error) {
	var reply string

	err := AwaitCondition(ctx, cfg.PollInterval, cfg.ResponseTimeout, func(ctx context.Context) (bool, error) {
		messages, err := client.Messages(ctx, sessionID)
		if err != nil {
			// Transient read errors just mean "not yet".
			return false, nil
		}
		if len(messages) <= afterCount {
			return false, nil
		}
		last := messages[len(messages)-1]
		if last.Role != models.RoleAssistant || !last.IsCompleted() {
			return false, nil
		}
		text := last.Text()
		if text == "" {
			return false, nil
		}
		reply = text
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}
