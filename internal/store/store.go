package store

import (
	"context"

	"github.com/dzianisv/opencode-plugins-sub001/internal/models"
)

// Store defines the persistence interface for reflection history.
type Store interface {
	RecordCycle(ctx context.Context, c *models.ReflectionCycle) error
	GetCycle(ctx context.Context, id string) (*models.ReflectionCycle, error)
	// ListCycles returns cycles newest first. sessionID filters when
	// non-empty; limit 0 means no limit.
	ListCycles(ctx context.Context, sessionID string, limit int) ([]*models.ReflectionCycle, error)
	// LastCycle returns the most recent cycle for a session, or nil when
	// the session has none.
	LastCycle(ctx context.Context, sessionID string) (*models.ReflectionCycle, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
