package events

import (
	"time"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	SessionID() string
}

// Topic constants
const (
	TopicPlan = "plan"
	TopicTask = "task"
)

// Event type constants
const (
	EventTypePlanSaved     = "plan.saved"
	EventTypeTaskUpdated   = "task.updated"
	EventTypeTaskCompleted = "task.completed"
)

// PlanSavedEvent is published after a plan write reached the store.
// Tasks is the full snapshot the mirror regenerates its record from.
type PlanSavedEvent struct {
	Session   string
	Principal string
	Tasks     []scheduler.Task
	Timestamp time.Time
}

func (e PlanSavedEvent) EventType() string { return EventTypePlanSaved }
func (e PlanSavedEvent) SessionID() string { return e.Session }

// TaskUpdatedEvent is published when a task's status changes.
type TaskUpdatedEvent struct {
	Session   string
	TaskID    string
	Previous  scheduler.Status
	Status    scheduler.Status
	Timestamp time.Time
}

func (e TaskUpdatedEvent) EventType() string { return EventTypeTaskUpdated }
func (e TaskUpdatedEvent) SessionID() string { return e.Session }

// TaskCompletedEvent is published when a task reaches completed.
type TaskCompletedEvent struct {
	Session     string
	TaskID      string
	CompletedAt time.Time
	Progress    scheduler.Progress
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) SessionID() string { return e.Session }
