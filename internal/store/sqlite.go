package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dzianisv/opencode-plugins-sub001/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes all access through Go's connection pool, preventing
	// "database is locked" errors when several cycles finish at once.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Migrate applies any unapplied SQL migrations in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordCycle(ctx context.Context, c *models.ReflectionCycle) error {
	if c.ID == "" {
		c.ID = newULID()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	if c.FinishedAt.IsZero() {
		c.FinishedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO reflection_cycles
		(id, session_id, anchor_message_id, outcome, severity, reason, verdict_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.AnchorMessageID, string(c.Outcome), string(c.Severity),
		c.Reason, c.VerdictJSON, c.StartedAt, c.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCycle(ctx context.Context, id string) (*models.ReflectionCycle, error) {
	row := s.db.QueryRowContext(ctx, selectCycle+" WHERE id = ?", id)
	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cycle %s not found", id)
	}
	return c, err
}

func (s *SQLiteStore) ListCycles(ctx context.Context, sessionID string, limit int) ([]*models.ReflectionCycle, error) {
	query := selectCycle
	var args []any
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY finished_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cycles []*models.ReflectionCycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

func (s *SQLiteStore) LastCycle(ctx context.Context, sessionID string) (*models.ReflectionCycle, error) {
	row := s.db.QueryRowContext(ctx,
		selectCycle+" WHERE session_id = ? ORDER BY finished_at DESC LIMIT 1", sessionID)
	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

const selectCycle = `SELECT id, session_id, anchor_message_id, outcome, severity, reason, verdict_json, started_at, finished_at
	FROM reflection_cycles`

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(row scanner) (*models.ReflectionCycle, error) {
	var c models.ReflectionCycle
	var outcome, severity string
	err := row.Scan(&c.ID, &c.SessionID, &c.AnchorMessageID, &outcome, &severity,
		&c.Reason, &c.VerdictJSON, &c.StartedAt, &c.FinishedAt)
	if err != nil {
		return nil, err
	}
	c.Outcome = models.CycleOutcome(outcome)
	c.Severity = models.Severity(severity)
	return &c, nil
}
