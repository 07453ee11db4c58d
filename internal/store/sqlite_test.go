package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dzianisv/opencode-plugins-sub001/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ocp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testCycle(sessionID string, outcome models.CycleOutcome, finished time.Time) *models.ReflectionCycle {
	return &models.ReflectionCycle{
		SessionID:       sessionID,
		AnchorMessageID: "msg-1",
		Outcome:         outcome,
		Severity:        models.SeverityMedium,
		Reason:          "tests incomplete",
		VerdictJSON:     `{"complete": false}`,
		StartedAt:       finished.Add(-10 * time.Second),
		FinishedAt:      finished,
	}
}

func TestRecordAndGetCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testCycle("ses_1", models.OutcomeContinued, time.Now().UTC())
	require.NoError(t, s.RecordCycle(ctx, c))
	require.NotEmpty(t, c.ID, "an id is assigned on insert")

	got, err := s.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.SessionID, got.SessionID)
	assert.Equal(t, c.AnchorMessageID, got.AnchorMessageID)
	assert.Equal(t, models.OutcomeContinued, got.Outcome)
	assert.Equal(t, models.SeverityMedium, got.Severity)
	assert.Equal(t, c.Reason, got.Reason)
	assert.Equal(t, c.VerdictJSON, got.VerdictJSON)
}

func TestGetCycle_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetCycle(context.Background(), "nope")
	assert.ErrorContains(t, err, "not found")
}

func TestListCycles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, s.RecordCycle(ctx, testCycle("ses_1", models.OutcomeContinued, base.Add(-2*time.Hour))))
	require.NoError(t, s.RecordCycle(ctx, testCycle("ses_1", models.OutcomeConfirmed, base.Add(-1*time.Hour))))
	require.NoError(t, s.RecordCycle(ctx, testCycle("ses_2", models.OutcomeStopped, base)))

	t.Run("all sessions, newest first", func(t *testing.T) {
		cycles, err := s.ListCycles(ctx, "", 0)
		require.NoError(t, err)
		require.Len(t, cycles, 3)
		assert.Equal(t, "ses_2", cycles[0].SessionID)
		assert.Equal(t, models.OutcomeConfirmed, cycles[1].Outcome)
		assert.Equal(t, models.OutcomeContinued, cycles[2].Outcome)
	})

	t.Run("filtered by session", func(t *testing.T) {
		cycles, err := s.ListCycles(ctx, "ses_1", 0)
		require.NoError(t, err)
		require.Len(t, cycles, 2)
		for _, c := range cycles {
			assert.Equal(t, "ses_1", c.SessionID)
		}
	})

	t.Run("limit", func(t *testing.T) {
		cycles, err := s.ListCycles(ctx, "", 1)
		require.NoError(t, err)
		require.Len(t, cycles, 1)
		assert.Equal(t, "ses_2", cycles[0].SessionID)
	})
}

func TestLastCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	t.Run("no cycles returns nil", func(t *testing.T) {
		c, err := s.LastCycle(ctx, "ses_1")
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	require.NoError(t, s.RecordCycle(ctx, testCycle("ses_1", models.OutcomeContinued, base.Add(-time.Hour))))
	require.NoError(t, s.RecordCycle(ctx, testCycle("ses_1", models.OutcomeConfirmed, base)))

	c, err := s.LastCycle(ctx, "ses_1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, models.OutcomeConfirmed, c.Outcome)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()), "running migrations twice is safe")
}
