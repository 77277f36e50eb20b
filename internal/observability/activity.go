package observability

import (
	"log/slog"

	"github.com/aristath/taskgraph/internal/events"
)

// Activity logs every bus event and counts task transitions and completions.
type Activity struct {
	metrics *Metrics
	logger  *slog.Logger

	bus  *events.EventBus
	sub  <-chan events.Event
	done chan struct{}
}

// NewActivity creates an Activity. A nil logger means slog.Default().
func NewActivity(metrics *Metrics, logger *slog.Logger) *Activity {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activity{
		metrics: metrics,
		logger:  logger.With("component", "activity"),
	}
}

// Start subscribes to all topics of bus and handles events on one goroutine.
func (a *Activity) Start(bus *events.EventBus, bufSize int) {
	a.bus = bus
	a.sub = bus.SubscribeAll(bufSize)
	a.done = make(chan struct{})

	go a.run()
}

func (a *Activity) run() {
	defer close(a.done)

	for ev := range a.sub {
		a.Handle(ev)
	}
}

// Handle records one event.
func (a *Activity) Handle(ev events.Event) {
	switch e := ev.(type) {
	case events.PlanSavedEvent:
		a.logger.Debug("plan saved",
			slog.String("session", e.Session),
			slog.Int("tasks", len(e.Tasks)))
	case events.TaskUpdatedEvent:
		if e.Previous == e.Status {
			return
		}
		a.metrics.TaskTransition(string(e.Previous), string(e.Status))
		a.logger.Info("task status changed",
			slog.String("session", e.Session),
			slog.String("task_id", e.TaskID),
			slog.String("from", string(e.Previous)),
			slog.String("to", string(e.Status)))
	case events.TaskCompletedEvent:
		a.metrics.TaskCompleted()
		a.logger.Info("task completed",
			slog.String("session", e.Session),
			slog.String("task_id", e.TaskID),
			slog.Int("completed", e.Progress.Completed),
			slog.Int("total", e.Progress.Total))
	}
}

// Stop unsubscribes and waits for queued events to be handled.
func (a *Activity) Stop() {
	if a.done == nil {
		return
	}
	a.bus.Unsubscribe(a.sub)
	<-a.done
}
