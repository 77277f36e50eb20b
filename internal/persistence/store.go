package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// ErrInvalidKey is returned when a session, principal, or task id is empty.
var ErrInvalidKey = errors.New("session id, principal id and task id are required")

// ErrPrincipalMismatch is returned when an upsert targets a task owned by
// another principal. The whole batch is rejected.
var ErrPrincipalMismatch = errors.New("task belongs to another principal")

// Store is the durable, authoritative task tier.
// Tasks are keyed by (sessionID, task ID).
type Store interface {
	// UpsertTasks inserts new tasks or merges fields into existing ones.
	// Empty strings, nil slices, a nil CompletedAt and a zero CreatedAt are
	// "unspecified" and leave the stored value untouched.
	// A task owned by another principal fails the batch with
	// ErrPrincipalMismatch and nothing is written.
	UpsertTasks(ctx context.Context, sessionID, principalID string, tasks []scheduler.Task) error

	// GetTasks returns the session's tasks in creation order.
	// Returns an empty slice (not nil) if the session has no tasks.
	GetTasks(ctx context.Context, sessionID, principalID string) ([]scheduler.Task, error)

	// Close releases the underlying database.
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	// Create parent directories
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	return openSQLite(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Each call gets its own named database shared only by this store's connections.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:taskgraph-%s?mode=memory&cache=shared", uuid.NewString())
	return openSQLite(ctx, connStr)
}

func openSQLite(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: every transaction is serialized by the pool, which is
	// what keeps the in-memory database alive and avoids SQLITE_LOCKED
	// between shared-cache connections. Queries never nest.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func validateKeys(sessionID, principalID string) error {
	if sessionID == "" || principalID == "" {
		return ErrInvalidKey
	}
	return nil
}
