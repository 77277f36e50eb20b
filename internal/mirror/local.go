package mirror

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// LocalMemory is an in-process Memory. It backs the mirror when no external
// service is configured and serves as the reference implementation in tests.
type LocalMemory struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

// NewLocalMemory creates an empty LocalMemory.
func NewLocalMemory() *LocalMemory {
	return &LocalMemory{records: make(map[string]Record)}
}

// Search matches query case-insensitively against content and session id.
// An empty query matches every record of the principal.
func (m *LocalMemory) Search(ctx context.Context, principalID, query string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(query)
	var out []Record
	for _, id := range m.order {
		rec := m.records[id]
		if rec.Metadata.PrincipalID != principalID {
			continue
		}
		if needle != "" &&
			rec.Metadata.SessionID != query &&
			!strings.Contains(strings.ToLower(rec.Content), needle) {
			continue
		}
		out = append(out, cloneRecord(rec))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CreateRecord stores a new record under a fresh id.
func (m *LocalMemory) CreateRecord(ctx context.Context, principalID, content string, metadata Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	metadata.PrincipalID = principalID
	m.records[id] = cloneRecord(Record{ID: id, Content: content, Metadata: metadata})
	m.order = append(m.order, id)
	return id, nil
}

// UpdateRecord replaces an existing record; unknown ids yield ErrRecordNotFound.
func (m *LocalMemory) UpdateRecord(ctx context.Context, recordID, content string, metadata Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordID]
	if !ok {
		return ErrRecordNotFound
	}
	if metadata.PrincipalID == "" {
		metadata.PrincipalID = rec.Metadata.PrincipalID
	}
	m.records[recordID] = cloneRecord(Record{ID: recordID, Content: content, Metadata: metadata})
	return nil
}

// Records returns every stored record in creation order.
func (m *LocalMemory) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, cloneRecord(m.records[id]))
	}
	return out
}

func cloneRecord(r Record) Record {
	if r.Metadata.Tags != nil {
		r.Metadata.Tags = append([]string{}, r.Metadata.Tags...)
	}
	return r
}
