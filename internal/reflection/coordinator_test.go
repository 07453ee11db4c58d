package reflection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dzianisv/opencode-plugins-sub001/internal/models"
)

// fakeClient implements opencode.Client with in-memory sessions.
type fakeClient struct {
	mu       sync.Mutex
	messages map[string][]*models.Message
	sent     []string // texts sent via SendMessage, in order
	created  []string
	deleted  []string
	sendErr  error
	// autoReply, when non-empty, makes SendMessage append the prompt and a
	// completed assistant reply so awaits resolve immediately.
	autoReply string
	nextID    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{messages: make(map[string][]*models.Message)}
}

func (f *fakeClient) CreateSession(_ context.Context, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("ephemeral-%d", f.nextID)
	f.messages[id] = nil
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeClient) DeleteSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, sessionID)
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeClient) SendMessage(_ context.Context, sessionID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	f.nextID++
	f.messages[sessionID] = append(f.messages[sessionID], &models.Message{
		ID:    fmt.Sprintf("msg-%d", f.nextID),
		Role:  models.RoleUser,
		Parts: []models.Part{{Type: models.PartTypeText, Text: text}},
	})
	if f.autoReply != "" {
		now := time.Now().UTC()
		f.nextID++
		f.messages[sessionID] = append(f.messages[sessionID], &models.Message{
			ID:        fmt.Sprintf("msg-%d", f.nextID),
			Role:      models.RoleAssistant,
			Parts:     []models.Part{{Type: models.PartTypeText, Text: f.autoReply}},
			Completed: &now,
		})
	}
	return nil
}

func (f *fakeClient) Messages(_ context.Context, sessionID string) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Message(nil), f.messages[sessionID]...), nil
}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeClient) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeClient) addUserMessage(sessionID, id, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[sessionID] = append(f.messages[sessionID], &models.Message{
		ID:    id,
		Role:  models.RoleUser,
		Parts: []models.Part{{Type: models.PartTypeText, Text: text}},
	})
}

// fakeJudge returns a canned verdict, optionally running a hook first.
type fakeJudge struct {
	verdict    *models.Verdict
	err        error
	onEvaluate func()
	mu         sync.Mutex
	calls      int
}

func (j *fakeJudge) Evaluate(_ context.Context, _ string) (*models.Verdict, error) {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	if j.onEvaluate != nil {
		j.onEvaluate()
	}
	return j.verdict, j.err
}

// fakeNotifier records notifications.
type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) Notify(_ context.Context, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.titles)
}

// fakeHistory records cycles.
type fakeHistory struct {
	mu     sync.Mutex
	cycles []*models.ReflectionCycle
}

func (h *fakeHistory) RecordCycle(_ context.Context, c *models.ReflectionCycle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cycles = append(h.cycles, c)
	return nil
}

func (h *fakeHistory) last() *models.ReflectionCycle {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.cycles) == 0 {
		return nil
	}
	return h.cycles[len(h.cycles)-1]
}

// completionRecorder implements CompletionHandler.
type completionRecorder struct {
	mu       sync.Mutex
	sessions []string
}

func (r *completionRecorder) SessionConfirmed(_ context.Context, sessionID string, _ *models.Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, sessionID)
}

func testConfig() Config {
	return Config{
		PollInterval:    time.Millisecond,
		ResponseTimeout: 50 * time.Millisecond,
		AbortCooldown:   10 * time.Second,
		Markers:         DefaultMarkers(),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// seedSession installs a finished user/assistant exchange.
func seedSession(f *fakeClient, sessionID string) {
	now := time.Now().UTC()
	f.messages[sessionID] = []*models.Message{
		{ID: "u1", Role: models.RoleUser, Parts: []models.Part{{Type: models.PartTypeText, Text: "fix the bug"}}},
		{ID: "a1", Role: models.RoleAssistant, Parts: []models.Part{{Type: models.PartTypeText, Text: "fixed it"}}, Completed: &now},
	}
}

func newTestCoordinator(client *fakeClient, judge Judge) (*Coordinator, *fakeNotifier) {
	notifier := &fakeNotifier{}
	c := NewCoordinator(client, judge, notifier, testConfig(), testLogger())
	return c, notifier
}

func TestOnIdle_AsksAndConfirmsComplete(t *testing.T) {
	client := newFakeClient()
	seedSession(client, "sess-1")
	client.autoReply = "I fixed the bug and verified with the test suite."

	judge := &fakeJudge{verdict: &models.Verdict{Complete: true, Severity: models.SeverityNone, Reason: "done"}}
	c, _ := newTestCoordinator(client, judge)
	done := &completionRecorder{}
	c.SetCompletionHandler(done)

	c.OnIdle(context.Background(), "sess-1")

	sent := client.sentTexts()
	require.Len(t, sent, 1, "exactly one self-assessment prompt")
	assert.Contains(t, sent[0], markerSelfAssessment)

	assert.True(t, c.IsConfirmedComplete("sess-1"))
	assert.Equal(t, []string{"sess-1"}, done.sessions)
}

func TestOnIdle_IdenticalIdleEventsAreIdempotent(t *testing.T) {
	client := newFakeClient()
	seedSession(client, "sess-1")
	client.autoReply = "all done"

	judge := &fakeJudge{verdict: models.DefaultVerdict("waiting on user")}
	c, _ := newTestCoordinator(client, judge)

	c.OnIdle(context.Background(), "sess-1")
	c.OnIdle(context.Background(), "sess-1")
	c.OnIdle(context.Background(), "sess-1")

	assert.Equal(t, 1, client.sentCount(), "unchanged session reflects once")
}

func TestOnIdle_NewUserMessageAllowsNewCycle(t *testing.T) {
	client := newFakeClient()
	seedSession(client, "sess-1")
	client.autoReply = "all done"

	judge := &fakeJudge{verdict: models.DefaultVerdict("ok")}
	c, _ := newTestCoordinator(client, judge)

	c.OnIdle(context.Background(), "sess-1")
	require.Equal(t, 1, client.sentCount())

	// Human sends a follow-up, and the agent answers it.
	client.addUserMessage("sess-1", "u2", "also update the docs")
	now := time.Now().UTC()
	client.mu.Lock()
	client.messages["sess-1"] = append(client.messages["sess-1"], &models.Message{
		ID: "a2", Role: models.RoleAssistant,
		Parts:     []models.Part{{Type: models.PartTypeText, Text: "docs updated"}},
		Completed: &now,
	})
	client.mu.Unlock()

	c.OnIdle(context.Background(), "sess-1")
	assert.Equal(t, 2, client.sentCount(), "new relevant user message re-arms reflection")
}

func TestOnIdle_ConcurrentCyclesAreExclusive(t *testing.T) {
	client := newFakeClient()
	seedSession(client, "sess-1")
	client.autoReply = "working on it"

	judgeEntered := make(chan struct{})
	judgeRelease := make(chan struct{})
	judge := &fakeJudge{
		verdict: models.DefaultVerdict("ok"),
		onEvaluate: func() {
			close(judgeEntered)
			<-judgeRelease
		},
	}
	c, _ := newTestCoordinator(client, judge)

	go c.OnIdle(context.Background(), "sess-1")
	<-judgeEntered

	// Second idle while the first cycle is still judging.
	c.OnIdle(context.Background(), "sess-1")
	close(judgeRelease)

	// Wait for the first cycle to finish.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.active) == 0
	}, time.Second, time.Millisecond)

	assert.Equal(t, 1, client.sentCount(), "only one cycle may ask")
	assert.Equal(t, 1, judge.calls)
}

func TestOnIdle_SkipsInternalSessions(t *testing.T) {
	client := newFakeClient()
	now := time.Now().UTC()
	client.messages["judge-1"] = []*models.Message{
		{ID: "u1", Role: models.RoleUser, Parts: []models.Part{{Type: models.PartTypeText, Text: markerJudgeRequest + "\nassess this"}}},
		{ID: "a1", Role: models.RoleAssistant, Parts: []models.Part{{Type: models.PartTypeText, Text: "{}"}}, Completed: &now},
	}

	judge := &fakeJudge{verdict: models.DefaultVerdict("ok")}
	c, _ := newTestCoordinator(client, judge)

	c.OnIdle(context.Background(), "judge-1")
	assert.Zero(t, client.sentCount(), "internal sessions are never reflected on")
}

func TestOnIdle_SkipsShortAndUnfinishedSessions(t *testing.T) {
	judge := &fakeJudge{verdict: models.DefaultVerdict("ok")}

	t.Run("fewer than two messages", func(t *testing.T) {
		client := newFakeClient()
		client.messages["s"] = []*models.Message{
			{ID: "u1", Role: models.RoleUser, Parts: []models.Part{{Type: models.PartTypeText, Text: "hi"}}},
		}
		c, _ := newTestCoordinator(client, judge)
		c.OnIdle(context.Background(), "s")
		assert.Zero(t, client.sentCount())
	})

	t.Run("assistant turn not completed", func(t *testing.T) {
		client := newFakeClient()
		client.messages["s"] = []*models.Message{
			{ID: "u1", Role: models.RoleUser, Parts: []models.Part{{Type: models.PartTypeText, Text: "hi"}}},
			{ID: "a1", Role: models.RoleAssistant, Parts: []models.Part{{Type: models.PartTypeText, Text: "thinking"}}},
		}
		c, _ := newTestCoordinator(client, judge)
		c.OnIdle(context.Background(), "s")
		assert.Zero(t, client.sentCount())
	})

	t.Run("assistant turn aborted", func(t *testing.T) {
		client := newFakeClient()
		now := time.Now().UTC()
		client.messages["s"] = []*models.Message{
			{ID: "u1", Role: models.RoleUser, Parts: []models.Part{{Type: models.PartTypeText, Text: "hi"}}},
			{ID: "a1", Role: models.RoleAssistant, Completed: &now,
				Parts: []models.Part{{Type: models.PartTypeText, Text: "partial"}},
				Error: &models.MessageError{Kind: models.ErrorKindAborted}},
		}
		c, _ := newTestCoordinator(client, judge)
		c.OnIdle(context.Background(), "s")
		assert.Zero(t, client.sentCount())
	})
}

func TestVerdict_NoneWithoutGapsSendsNothing(t *testing.T) {
	client := newFakeClient()
	seedSession(client, "sess-1")
	client.autoReply = "waiting for user input"

	judge := &fakeJudge{verdict: &models.Verdict{
		Complete: false, Severity: models.SeverityNone,
	}}
	c, _ := newTestCoordinator(client, judge)
	history := &fakeHistory{}
	c.SetHistory(history)

	c.OnIdle(context.Background(), "sess-1")

	assert.Equal(t, 1, client.sentCount(), "only the self-assessment ask")
	require.NotNil(t, history.last())
	assert.Equal(t, models.OutcomeStopped, history.last().Outcome)
}

func TestVerdict_MissingItemsOverrideNoneSeverity(t *testing.T) {
	client := newFakeClient()
	seedSession(client, "sess-1")
	client.autoReply = "mostly done"

	judge := &fakeJudge{verdict: &models.Verdict{
		Complete: false, Severity: models.SeverityNone,
		Missing: []string{"run tests"},
	}}
	c, _ := newTestCoordinator(client, judge)

	c.OnIdle(context.Background(), "sess-1")

	sent := client.sentTexts()
	require.Len(t, sent, 2, "ask plus one continuation")
	assert.Contains(t, sent[1], markerContinuation)
	assert.Contains(t, sent[1], "run tests")
}

func TestVerdict_SeveritySendsContinuation(t *testing.T) {
	client := newFakeClient()
	seedSession(client, "sess-1")
	client.autoReply = "done but tests fail"

	judge := &fakeJudge{verdict: &models.Verdict{
		Complete: false, Severity: models.SeverityHigh,
		Reason: "tests are failing",
	}}
	c, _ := newTestCoordinator(client, judge)

	c.OnIdle(context.Background(), "sess-1")

	sent := client.sentTexts()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1], "tests are failing")
}

func TestVerdict_RequiresHumanActionOnlyNotifies(t *testing.T) {
	client := newFakeClient()
	seedSession(client, "sess-1")
	client.autoReply = "I need credentials to proceed"

	judge := &fakeJudge{verdict: &models.Verdict{
		RequiresHumanAction: true, Reason: "needs API credentials",
	}}
	c, notifier := newTestCoordinator(client, judge)

	c.OnIdle(context.Background(), "sess-1")

	assert.Equal(t, 1, client.sentCount(), "nothing beyond the ask goes into the session")
	assert.Equal(t, 1, notifier.count(), "exactly one user-facing notification")
}

func TestJudgeFailure_NoContinuationButAnchorAdvances(t *testing.T) {
	client := newFakeClient()
	seedSession(client, "sess-1")
	client.autoReply = "did things"

	judge := &fakeJudge{err: fmt.Errorf("judge exploded")}
	c, _ := newTestCoordinator(client, judge)
	history := &fakeHistory{}
	c.SetHistory(history)

	c.OnIdle(context.Background(), "sess-1")
	assert.Equal(t, 1, client.sentCount(), "no continuation after judge failure")

	// An identical idle event must not retry.
	c.OnIdle(context.Background(), "sess-1")
	assert.Equal(t, 1, client.sentCount())
	assert.Equal(t, 1, judge.calls)
}

func TestStaleCycle_NewUserMessageSuppressesFeedback(t *testing.T) {
	client := newFakeClient()
	seedSession(client, "sess-1")
	client.autoReply = "finished"

	judge := &fakeJudge{
		verdict: &models.Verdict{Complete: false, Severity: models.SeverityHigh, Missing: []string{"more work"}},
	}
	// Human sends a new message while the judge is thinking.
	judge.onEvaluate = func() {
		client.addUserMessage("sess-1", "u-new", "actually, do it differently")
	}
	c, _ := newTestCoordinator(client, judge)
	history := &fakeHistory{}
	c.SetHistory(history)

	c.OnIdle(context.Background(), "sess-1")

	assert.Equal(t, 1, client.sentCount(), "stale cycle sends no feedback")
	require.NotNil(t, history.last())
	assert.Equal(t, models.OutcomeStale, history.last().Outcome)
	assert.Equal(t, "u-new", history.last().AnchorMessageID, "fresh anchor recorded so the stale cycle does not re-fire")
}

func TestAbortCooldown(t *testing.T) {
	client := newFakeClient()
	seedSession(client, "sess-1")
	client.autoReply = "done"

	judge := &fakeJudge{verdict: models.DefaultVerdict("ok")}
	c, _ := newTestCoordinator(client, judge)

	base := time.Now()
	c.now = func() time.Time { return base }

	c.OnAbort("sess-1")

	// T+5s: inside the 10s cooldown.
	c.now = func() time.Time { return base.Add(5 * time.Second) }
	c.OnIdle(context.Background(), "sess-1")
	assert.Zero(t, client.sentCount(), "idle during cooldown is a no-op")

	// T+11s: cooldown expired.
	c.now = func() time.Time { return base.Add(11 * time.Second) }
	c.OnIdle(context.Background(), "sess-1")
	assert.Equal(t, 1, client.sentCount(), "idle after cooldown proceeds")
}

func TestAskFailure_IsAbsorbedAndNotRetried(t *testing.T) {
	client := newFakeClient()
	seedSession(client, "sess-1")
	client.sendErr = fmt.Errorf("transport down")

	judge := &fakeJudge{verdict: models.DefaultVerdict("ok")}
	c, _ := newTestCoordinator(client, judge)
	history := &fakeHistory{}
	c.SetHistory(history)

	require.NotPanics(t, func() {
		c.OnIdle(context.Background(), "sess-1")
	})
	require.NotNil(t, history.last())
	assert.Equal(t, models.OutcomeError, history.last().Outcome)
	assert.Zero(t, judge.calls)

	// Anchor advanced: clearing the transport error must not cause a retry.
	client.mu.Lock()
	client.sendErr = nil
	client.mu.Unlock()
	c.OnIdle(context.Background(), "sess-1")
	assert.Zero(t, client.sentCount())
}

func TestSelfAssessmentTimeout_UsesDefaultVerdict(t *testing.T) {
	client := newFakeClient()
	seedSession(client, "sess-1")
	// No autoReply: the await times out.

	judge := &fakeJudge{verdict: &models.Verdict{Severity: models.SeverityHigh, Missing: []string{"x"}}}
	c, _ := newTestCoordinator(client, judge)
	history := &fakeHistory{}
	c.SetHistory(history)

	c.OnIdle(context.Background(), "sess-1")

	assert.Zero(t, judge.calls, "no assessment means the judge is never consulted")
	assert.Equal(t, 1, client.sentCount(), "no continuation on timeout")
	require.NotNil(t, history.last())
	assert.Equal(t, models.OutcomeStopped, history.last().Outcome)
}

func TestSelfAssessmentPrompt_IsNumberedQuestionBlock(t *testing.T) {
	for _, q := range []string{"1.", "2.", "3.", "4.", "5."} {
		assert.True(t, strings.Contains(selfAssessmentPrompt, q), "prompt should contain %q", q)
	}
}
