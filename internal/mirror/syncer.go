package mirror

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/observability"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// DefaultSearchLimit bounds the record lookup after a restart.
const DefaultSearchLimit = 10

// Syncer applies plan writes to a Memory in the background.
//
// It keeps a session -> record id table. On a miss (for example after a
// restart) it searches the memory for a task_plan record of the session.
// A known id is updated in place; if the update fails, or no record exists,
// a new record is created.
type Syncer struct {
	memory      Memory
	searchLimit int
	metrics     *observability.Metrics
	logger      *slog.Logger

	mu      sync.Mutex
	records map[string]string // sessionID -> record id

	bus    *events.EventBus
	sub    <-chan events.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithSearchLimit sets how many records a lookup inspects.
func WithSearchLimit(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.searchLimit = n
		}
	}
}

// WithSyncerMetrics enables sync and failure counters.
func WithSyncerMetrics(m *observability.Metrics) SyncerOption {
	return func(s *Syncer) { s.metrics = m }
}

// WithSyncerLogger sets the logger. Defaults to slog.Default().
func WithSyncerLogger(l *slog.Logger) SyncerOption {
	return func(s *Syncer) { s.logger = l }
}

// NewSyncer creates a Syncer writing to memory.
func NewSyncer(memory Memory, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		memory:      memory,
		searchLimit: DefaultSearchLimit,
		records:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "mirror")
	return s
}

// Start subscribes to plan events on bus and processes them in order on a
// single goroutine. queueSize is the subscription buffer; events beyond it
// are dropped by the bus, and the next write of the session catches up.
func (s *Syncer) Start(bus *events.EventBus, queueSize int) {
	s.bus = bus
	s.sub = bus.Subscribe(events.TopicPlan, queueSize)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})

	go s.run()
}

func (s *Syncer) run() {
	defer close(s.done)

	for ev := range s.sub {
		saved, ok := ev.(events.PlanSavedEvent)
		if !ok {
			continue
		}
		s.Sync(s.ctx, saved.Session, saved.Principal, saved.Tasks)
	}
}

// Close stops receiving events and waits for queued ones to be written.
// When ctx expires first, in-flight calls are cancelled and ctx.Err() is returned.
func (s *Syncer) Close(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	s.bus.Unsubscribe(s.sub)

	select {
	case <-s.done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-s.done
		return ctx.Err()
	}
}

// RecordID returns the known record id of a session.
func (s *Syncer) RecordID(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.records[sessionID]
	return id, ok
}

// Sync writes the rendered plan of a session to the memory. Errors are
// logged and counted, never returned.
func (s *Syncer) Sync(ctx context.Context, sessionID, principalID string, tasks []scheduler.Task) {
	content := Render(sessionID, tasks)
	metadata := Metadata{
		SessionID:   sessionID,
		PrincipalID: principalID,
		ContentType: ContentTypeTaskPlan,
		Tags:        planTags(tasks),
		UpdatedAt:   time.Now().UTC(),
	}

	if recordID, ok := s.lookup(ctx, sessionID, principalID); ok {
		err := s.memory.UpdateRecord(ctx, recordID, content, metadata)
		if err == nil {
			s.metrics.MirrorSynced("update")
			return
		}
		s.metrics.MirrorFailed("update")
		s.logger.Warn("mirror update failed, creating a new record",
			"session_id", sessionID,
			"record_id", recordID,
			slog.String("error", err.Error()))
	}

	recordID, err := s.memory.CreateRecord(ctx, principalID, content, metadata)
	if err != nil {
		s.metrics.MirrorFailed("create")
		s.logger.Error("mirror create failed",
			"session_id", sessionID,
			slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	s.records[sessionID] = recordID
	s.mu.Unlock()
	s.metrics.MirrorSynced("create")
	s.logger.Debug("mirror record created", "session_id", sessionID, "record_id", recordID)
}

// lookup resolves a session's record id from the table, then by search.
func (s *Syncer) lookup(ctx context.Context, sessionID, principalID string) (string, bool) {
	if id, ok := s.RecordID(sessionID); ok {
		return id, true
	}

	found, err := s.memory.Search(ctx, principalID, sessionID, s.searchLimit)
	if err != nil {
		s.metrics.MirrorFailed("search")
		s.logger.Warn("mirror search failed",
			"session_id", sessionID,
			slog.String("error", err.Error()))
		return "", false
	}

	for _, rec := range found {
		if rec.ID == "" || rec.Metadata.SessionID != sessionID || rec.Metadata.ContentType != ContentTypeTaskPlan {
			continue
		}
		s.mu.Lock()
		s.records[sessionID] = rec.ID
		s.mu.Unlock()
		return rec.ID, true
	}
	return "", false
}
