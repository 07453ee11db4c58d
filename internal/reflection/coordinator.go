package reflection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dzianisv/opencode-plugins-sub001/internal/models"
	"github.com/dzianisv/opencode-plugins-sub001/internal/opencode"
)

// Notifier is the subset of the notification layer the coordinator needs.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// CycleStore records finished reflection cycles. Recording is best-effort;
// failures never affect the cycle outcome.
type CycleStore interface {
	RecordCycle(ctx context.Context, c *models.ReflectionCycle) error
}

// CompletionHandler is invoked when the judge certifies a session complete.
type CompletionHandler interface {
	SessionConfirmed(ctx context.Context, sessionID string, verdict *models.Verdict)
}

// Coordinator runs one reflection cycle per idle session: it asks the agent
// to assess its own work, has a judge score the answer, and either pushes a
// continuation, confirms completion, or escalates to the user.
//
// State lives in memory for the life of the process; a restart clears it.
// Events arrive on separate goroutines, so the bookkeeping maps are mutex
// guarded, but the invariant is per session: at most one cycle at a time.
type Coordinator struct {
	client     opencode.Client
	judge      Judge
	notifier   Notifier
	history    CycleStore        // may be nil
	completion CompletionHandler // may be nil
	isInternal InternalSessionDetector
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time

	mu            sync.Mutex
	active        map[string]bool      // sessions mid-cycle
	lastReflected map[string]string    // session id -> last reflected anchor id
	aborted       map[string]time.Time // session id -> abort timestamp
	confirmed     map[string]bool      // sessions the judge certified complete
}

// NewCoordinator creates a reflection coordinator. notifier is required;
// history and completion may be nil.
func NewCoordinator(client opencode.Client, judge Judge, notifier Notifier, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		client:        client,
		judge:         judge,
		notifier:      notifier,
		isInternal:    MarkerDetector(cfg.Markers),
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
		active:        make(map[string]bool),
		lastReflected: make(map[string]string),
		aborted:       make(map[string]time.Time),
		confirmed:     make(map[string]bool),
	}
}

// SetHistory attaches a cycle store for observability.
func (c *Coordinator) SetHistory(s CycleStore) { c.history = s }

// SetCompletionHandler attaches a handler for confirmed-complete sessions.
func (c *Coordinator) SetCompletionHandler(h CompletionHandler) { c.completion = h }

// SetDetector replaces the internal-session predicate.
func (c *Coordinator) SetDetector(d InternalSessionDetector) { c.isInternal = d }

// OnAbort records that a session's run was interrupted. Idle events for the
// session are ignored for the configured cooldown window afterwards.
func (c *Coordinator) OnAbort(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted[sessionID] = c.now()
	c.logger.Debug("session aborted, cooldown started", "session", sessionID)
}

// IsConfirmedComplete reports whether the judge certified the session.
func (c *Coordinator) IsConfirmedComplete(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed[sessionID]
}

// OnIdle handles a session.idle event. It never returns an error and never
// panics: every failure is absorbed here, logged, and bookkept so an
// identical idle event does not retry the same cycle.
func (c *Coordinator) OnIdle(ctx context.Context, sessionID string) {
	c.mu.Lock()
	if until, ok := c.aborted[sessionID]; ok && c.now().Sub(until) < c.cfg.AbortCooldown {
		c.mu.Unlock()
		c.logger.Debug("idle ignored, abort cooldown", "session", sessionID)
		return
	}
	if c.active[sessionID] {
		c.mu.Unlock()
		return
	}
	// Claimed before the precondition reads below so a concurrent idle event
	// for the same session cannot start a second cycle.
	c.active[sessionID] = true
	c.mu.Unlock()

	proceed := false
	defer func() {
		if !proceed {
			c.release(sessionID, "")
		}
	}()

	messages, err := c.client.Messages(ctx, sessionID)
	if err != nil {
		c.logger.Warn("read session messages failed", "session", sessionID, "error", err)
		return
	}

	anchorID, ok := c.shouldReflect(sessionID, messages)
	if !ok {
		return
	}

	proceed = true
	c.runCycle(ctx, sessionID, anchorID, len(messages))
}

// shouldReflect applies the precondition checks. It returns the anchor id
// (the user message this cycle is for) when a cycle should run.
func (c *Coordinator) shouldReflect(sessionID string, messages []*models.Message) (string, bool) {
	if len(messages) < 2 {
		return "", false
	}
	if c.isInternal(messages) {
		c.logger.Debug("skipping internal session", "session", sessionID)
		return "", false
	}

	last := lastAssistantMessage(messages)
	if last == nil || !last.IsCompleted() || last.IsAborted() {
		return "", false
	}

	anchorID := lastRelevantUserMessageID(messages, c.cfg.Markers)
	if anchorID == "" {
		return "", false
	}

	c.mu.Lock()
	seen := c.lastReflected[sessionID]
	c.mu.Unlock()
	if anchorID == seen {
		return "", false
	}

	return anchorID, true
}

// runCycle executes Ask, Await, Judge, Act for one session. The anchor is
// always recorded as reflected on exit, including panics, so a failed cycle
// cannot turn into a retry storm.
func (c *Coordinator) runCycle(ctx context.Context, sessionID, anchorID string, messageCount int) {
	started := c.now()
	finalAnchor := anchorID
	outcome := models.OutcomeError
	var verdict *models.Verdict

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("reflection cycle panicked", "session", sessionID, "panic", r)
			outcome = models.OutcomeError
		}
		c.recordCycle(sessionID, finalAnchor, outcome, verdict, started)
		c.release(sessionID, finalAnchor)
	}()

	// Ask
	if err := c.client.SendMessage(ctx, sessionID, selfAssessmentPrompt); err != nil {
		c.logger.Warn("self-assessment prompt failed", "session", sessionID, "error", err)
		return
	}

	// Await
	assessment, err := awaitAssistantReply(ctx, c.client, sessionID, messageCount, c.cfg)
	if err != nil {
		c.logger.Warn("no self-assessment received", "session", sessionID, "error", err)
		assessment = ""
	}

	// Judge: any failure resolves to the safe default, never retried.
	if assessment == "" {
		verdict = models.DefaultVerdict("no self-assessment received")
	} else {
		verdict, err = c.judge.Evaluate(ctx, assessment)
		if err != nil {
			c.logger.Warn("judge failed, using default verdict", "session", sessionID, "error", err)
			verdict = models.DefaultVerdict("judge unavailable: " + err.Error())
		}
	}

	// Re-validate: the human may have sent something, or aborted, while the
	// judge was thinking. A stale cycle still records its anchor so it does
	// not re-fire, but sends nothing.
	if newAnchor, stale := c.checkStale(ctx, sessionID, anchorID); stale {
		if newAnchor != "" {
			finalAnchor = newAnchor
		}
		outcome = models.OutcomeStale
		c.logger.Info("cycle went stale, discarding verdict", "session", sessionID)
		return
	}

	// Act
	outcome = c.act(ctx, sessionID, verdict)
}

// checkStale re-reads the session and reports whether the cycle's anchor is
// no longer the latest relevant user message, or an abort landed mid-cycle.
func (c *Coordinator) checkStale(ctx context.Context, sessionID, anchorID string) (string, bool) {
	c.mu.Lock()
	abortedAt, wasAborted := c.aborted[sessionID]
	c.mu.Unlock()
	if wasAborted && c.now().Sub(abortedAt) < c.cfg.AbortCooldown {
		return "", true
	}

	messages, err := c.client.Messages(ctx, sessionID)
	if err != nil {
		// Unreadable session: keep the original anchor, do not act.
		return "", true
	}
	current := lastRelevantUserMessageID(messages, c.cfg.Markers)
	if current != "" && current != anchorID {
		return current, true
	}
	return "", false
}

// act applies the verdict and returns the cycle outcome.
func (c *Coordinator) act(ctx context.Context, sessionID string, v *models.Verdict) models.CycleOutcome {
	switch {
	case v.RequiresHumanAction:
		// Never send anything back into the session; surface to the user.
		c.notify(ctx, "Agent needs your input", sessionID, v.Reason)
		return models.OutcomeHumanAction

	case v.Complete:
		c.mu.Lock()
		c.confirmed[sessionID] = true
		c.mu.Unlock()
		if c.completion != nil {
			c.completion.SessionConfirmed(ctx, sessionID, v)
		}
		return models.OutcomeConfirmed

	case v.Severity != models.SeverityNone || v.HasGaps():
		// Missing items override a NONE severity.
		if err := c.client.SendMessage(ctx, sessionID, buildContinuationPrompt(v)); err != nil {
			c.logger.Warn("continuation prompt failed", "session", sessionID, "error", err)
			return models.OutcomeError
		}
		return models.OutcomeContinued

	default:
		// Severity NONE with no gaps: the agent is legitimately waiting.
		return models.OutcomeStopped
	}
}

func (c *Coordinator) notify(ctx context.Context, title, sessionID, reason string) {
	msg := "Session " + sessionID
	if reason != "" {
		msg += ": " + reason
	}
	if err := c.notifier.Notify(ctx, title, msg); err != nil {
		c.logger.Warn("notification failed", "session", sessionID, "error", err)
	}
}

// release records the reflected anchor (when non-empty) and drops the
// active-cycle guard.
func (c *Coordinator) release(sessionID, anchorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if anchorID != "" {
		c.lastReflected[sessionID] = anchorID
	}
	delete(c.active, sessionID)
}

func (c *Coordinator) recordCycle(sessionID, anchorID string, outcome models.CycleOutcome, v *models.Verdict, started time.Time) {
	if c.history == nil {
		return
	}

	cycle := &models.ReflectionCycle{
		SessionID:       sessionID,
		AnchorMessageID: anchorID,
		Outcome:         outcome,
		Severity:        models.SeverityNone,
		StartedAt:       started,
		FinishedAt:      c.now(),
	}
	if v != nil {
		cycle.Severity = v.Severity
		cycle.Reason = v.Reason
		if data, err := json.Marshal(v); err == nil {
			cycle.VerdictJSON = string(data)
		}
	}

	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.history.RecordCycle(recordCtx, cycle); err != nil {
		c.logger.Warn("record cycle failed", "session", sessionID, "error", err)
	}
}

// lastAssistantMessage returns the most recent assistant message, or nil.
func lastAssistantMessage(messages []*models.Message) *models.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			return messages[i]
		}
	}
	return nil
}
