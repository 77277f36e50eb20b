// Package mirror keeps a searchable, human-readable copy of every plan in an
// external memory service.
//
// The mirror is best-effort: it is refreshed after each durable write, is
// never awaited by callers, and its failures are logged and counted only.
// Delivery is at-least-once. If an update fails and the following create
// succeeds, a session can end up with two records; readers must tolerate
// that, and the durable store remains the source of truth.
package mirror

import (
	"context"
	"errors"
	"time"
)

// ContentTypeTaskPlan tags records that hold a rendered plan.
const ContentTypeTaskPlan = "task_plan"

// ErrRecordNotFound is returned by UpdateRecord when the record id is unknown.
var ErrRecordNotFound = errors.New("mirror record not found")

// Metadata is stored alongside a record so it can be found again after a restart.
type Metadata struct {
	SessionID   string    `json:"sessionId"`
	PrincipalID string    `json:"principalId"`
	ContentType string    `json:"contentType"`
	Tags        []string  `json:"tags,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Record is one entry of the external memory.
type Record struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Memory is the external memory service the mirror writes to.
type Memory interface {
	// Search returns up to limit records owned by principalID that match query.
	Search(ctx context.Context, principalID, query string, limit int) ([]Record, error)

	// CreateRecord stores a new record and returns its id.
	CreateRecord(ctx context.Context, principalID, content string, metadata Metadata) (string, error)

	// UpdateRecord replaces the content and metadata of an existing record.
	UpdateRecord(ctx context.Context, recordID, content string, metadata Metadata) error
}
