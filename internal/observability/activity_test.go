package observability

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/scheduler"
)

func TestActivity_CountsTaskEventsFromBus(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	bus := events.NewEventBus()
	defer bus.Close()
	a := NewActivity(m, logger)
	a.Start(bus, 16)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	bus.Publish(events.TopicPlan, events.PlanSavedEvent{Session: "s1", Tasks: []scheduler.Task{{ID: "a"}}})
	bus.Publish(events.TopicTask, events.TaskUpdatedEvent{
		Session: "s1", TaskID: "a",
		Previous: scheduler.StatusPending, Status: scheduler.StatusInProgress, Timestamp: now,
	})
	bus.Publish(events.TopicTask, events.TaskUpdatedEvent{
		Session: "s1", TaskID: "a",
		Previous: scheduler.StatusInProgress, Status: scheduler.StatusCompleted, Timestamp: now,
	})
	bus.Publish(events.TopicTask, events.TaskCompletedEvent{
		Session: "s1", TaskID: "a", CompletedAt: now,
		Progress: scheduler.Progress{Completed: 1, Total: 1, Percentage: 100},
	})
	a.Stop()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskTransitionsTotal.WithLabelValues("pending", "in_progress")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskTransitionsTotal.WithLabelValues("in_progress", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksCompletedTotal))

	out := buf.String()
	assert.Contains(t, out, "plan saved")
	assert.Contains(t, out, "task status changed")
	assert.Contains(t, out, "task completed")
	assert.Contains(t, out, "component=activity")
}

func TestActivity_IgnoresUnchangedStatus(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	a := NewActivity(m, slog.New(slog.DiscardHandler))

	a.Handle(events.TaskUpdatedEvent{
		Session: "s1", TaskID: "a",
		Previous: scheduler.StatusCompleted, Status: scheduler.StatusCompleted,
	})

	assert.Equal(t, 0, testutil.CollectAndCount(m.TaskTransitionsTotal))
}

func TestActivity_StopWithoutStart(t *testing.T) {
	a := NewActivity(nil, nil)
	assert.NotPanics(t, a.Stop)
}
