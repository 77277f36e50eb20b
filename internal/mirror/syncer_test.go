package mirror

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/observability"
	"github.com/aristath/taskgraph/internal/scheduler"
)

var errUnavailable = errors.New("memory unavailable")

// faultyMemory wraps LocalMemory and fails selected calls.
type faultyMemory struct {
	*LocalMemory
	mu         sync.Mutex
	failSearch bool
	failCreate bool
	failUpdate bool
	searches   int
	creates    int
	updates    int
}

func newFaultyMemory() *faultyMemory {
	return &faultyMemory{LocalMemory: NewLocalMemory()}
}

func (m *faultyMemory) Search(ctx context.Context, principalID, query string, limit int) ([]Record, error) {
	m.mu.Lock()
	m.searches++
	fail := m.failSearch
	m.mu.Unlock()
	if fail {
		return nil, errUnavailable
	}
	return m.LocalMemory.Search(ctx, principalID, query, limit)
}

func (m *faultyMemory) CreateRecord(ctx context.Context, principalID, content string, md Metadata) (string, error) {
	m.mu.Lock()
	m.creates++
	fail := m.failCreate
	m.mu.Unlock()
	if fail {
		return "", errUnavailable
	}
	return m.LocalMemory.CreateRecord(ctx, principalID, content, md)
}

func (m *faultyMemory) UpdateRecord(ctx context.Context, recordID, content string, md Metadata) error {
	m.mu.Lock()
	m.updates++
	fail := m.failUpdate
	m.mu.Unlock()
	if fail {
		return errUnavailable
	}
	return m.LocalMemory.UpdateRecord(ctx, recordID, content, md)
}

func (m *faultyMemory) counts() (searches, creates, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searches, m.creates, m.updates
}

func plan(statuses ...scheduler.Status) []scheduler.Task {
	tasks := make([]scheduler.Task, len(statuses))
	for i, st := range statuses {
		tasks[i] = scheduler.Task{
			ID:     string(rune('a' + i)),
			Title:  "task " + string(rune('a'+i)),
			Status: st,
			Tags:   []string{"testing"},
		}
	}
	return tasks
}

func TestSyncer_CreatesOnceThenUpdatesInPlace(t *testing.T) {
	mem := newFaultyMemory()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s := NewSyncer(mem, WithSyncerMetrics(metrics))
	ctx := context.Background()

	s.Sync(ctx, "s1", "p1", plan(scheduler.StatusPending, scheduler.StatusPending))
	s.Sync(ctx, "s1", "p1", plan(scheduler.StatusCompleted, scheduler.StatusPending))

	records := mem.Records()
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Content, "● task a")
	assert.Contains(t, records[0].Content, "(50%)")
	assert.Equal(t, "s1", records[0].Metadata.SessionID)
	assert.Equal(t, ContentTypeTaskPlan, records[0].Metadata.ContentType)
	assert.Equal(t, []string{"testing"}, records[0].Metadata.Tags)

	id, ok := s.RecordID("s1")
	require.True(t, ok)
	assert.Equal(t, records[0].ID, id)

	searches, creates, updates := mem.counts()
	assert.Equal(t, 1, searches, "only the first miss searches")
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MirrorSyncsTotal.WithLabelValues("create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MirrorSyncsTotal.WithLabelValues("update")))
}

func TestSyncer_RecoversRecordIDBySearchAfterRestart(t *testing.T) {
	mem := newFaultyMemory()
	ctx := context.Background()

	first := NewSyncer(mem)
	first.Sync(ctx, "s1", "p1", plan(scheduler.StatusPending))
	original, ok := first.RecordID("s1")
	require.True(t, ok)

	// A fresh syncer has an empty table, as after a process restart
	restarted := NewSyncer(mem)
	restarted.Sync(ctx, "s1", "p1", plan(scheduler.StatusCompleted))

	records := mem.Records()
	require.Len(t, records, 1, "restart must not duplicate the record")
	assert.Contains(t, records[0].Content, "● task a")

	recovered, ok := restarted.RecordID("s1")
	require.True(t, ok)
	assert.Equal(t, original, recovered)
}

func TestSyncer_UpdateFailureFallsBackToCreate(t *testing.T) {
	mem := newFaultyMemory()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s := NewSyncer(mem, WithSyncerMetrics(metrics))
	ctx := context.Background()

	s.Sync(ctx, "s1", "p1", plan(scheduler.StatusPending))
	first, _ := s.RecordID("s1")

	mem.failUpdate = true
	s.Sync(ctx, "s1", "p1", plan(scheduler.StatusCompleted))

	// At-least-once: the session now has two records
	records := mem.Records()
	require.Len(t, records, 2)
	second, _ := s.RecordID("s1")
	assert.NotEqual(t, first, second, "table must point at the newest record")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MirrorFailuresTotal.WithLabelValues("update")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.MirrorSyncsTotal.WithLabelValues("create")))
}

func TestSyncer_SearchFailureStillCreates(t *testing.T) {
	mem := newFaultyMemory()
	mem.failSearch = true
	s := NewSyncer(mem)

	s.Sync(context.Background(), "s1", "p1", plan(scheduler.StatusPending))

	assert.Len(t, mem.Records(), 1)
}

func TestSyncer_CreateFailureIsSwallowed(t *testing.T) {
	mem := newFaultyMemory()
	mem.failCreate = true
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s := NewSyncer(mem, WithSyncerMetrics(metrics))

	assert.NotPanics(t, func() {
		s.Sync(context.Background(), "s1", "p1", plan(scheduler.StatusPending))
	})
	_, ok := s.RecordID("s1")
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MirrorFailuresTotal.WithLabelValues("create")))
}

func TestSyncer_IgnoresOtherSessionsAndPrincipals(t *testing.T) {
	mem := newFaultyMemory()
	ctx := context.Background()

	// A record of another principal mentioning the same session id
	_, err := mem.LocalMemory.CreateRecord(ctx, "p2", "Task plan for session s1", Metadata{SessionID: "s1", ContentType: ContentTypeTaskPlan})
	require.NoError(t, err)
	// A record of the same principal with a different content type
	_, err = mem.LocalMemory.CreateRecord(ctx, "p1", "notes about s1", Metadata{SessionID: "s1", ContentType: "note"})
	require.NoError(t, err)

	s := NewSyncer(mem)
	s.Sync(ctx, "s1", "p1", plan(scheduler.StatusPending))

	_, creates, updates := mem.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 0, updates)
}

func TestSyncer_ProcessesBusEventsAndDrainsOnClose(t *testing.T) {
	mem := newFaultyMemory()
	bus := events.NewEventBus()
	defer bus.Close()

	s := NewSyncer(mem)
	s.Start(bus, 16)

	for i := 0; i < 3; i++ {
		bus.Publish(events.TopicPlan, events.PlanSavedEvent{
			Session:   "s1",
			Principal: "p1",
			Tasks:     plan(scheduler.StatusPending),
			Timestamp: time.Now(),
		})
	}
	bus.Publish(events.TopicPlan, events.PlanSavedEvent{
		Session:   "s1",
		Principal: "p1",
		Tasks:     plan(scheduler.StatusCompleted),
		Timestamp: time.Now(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx), "close is idempotent")

	records := mem.Records()
	require.Len(t, records, 1)
	assert.True(t, strings.Contains(records[0].Content, "● task a"), "last event wins: %q", records[0].Content)
}

func TestSyncer_CloseWithoutStart(t *testing.T) {
	s := NewSyncer(NewLocalMemory())
	assert.NoError(t, s.Close(context.Background()))
}
