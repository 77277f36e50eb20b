package scheduler

import "time"

// Status represents the current state of a task.
// Any status may be set from any other; there is no transition table.
type Status string

const (
	StatusPending    Status = "pending"     // Waiting to be picked up
	StatusInProgress Status = "in_progress" // Picked up by an agent
	StatusCompleted  Status = "completed"   // Finished; satisfies dependents
	StatusBlocked    Status = "blocked"     // Waiting on something outside the plan
	StatusCancelled  Status = "cancelled"   // Will not be done
	StatusApproved   Status = "approved"    // Reviewed and accepted
	StatusSkipped    Status = "skipped"     // Intentionally not run
)

// Statuses lists every known status in declaration order.
var Statuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusCompleted,
	StatusBlocked,
	StatusCancelled,
	StatusApproved,
	StatusSkipped,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Task represents a unit of work in a session's plan.
type Task struct {
	ID                string     `json:"id"`
	SessionID         string     `json:"sessionId"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Status            Status     `json:"status"`
	Dependencies      []string   `json:"dependencies"` // Task IDs that must be completed first
	CreatedAt         time.Time  `json:"createdAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"` // Set on completion, never cleared
	EstimatedDuration string     `json:"estimatedDuration,omitempty"`
	ActualDuration    string     `json:"actualDuration,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
}

// Spec is the planner-supplied description of a task to create.
type Spec struct {
	Title             string   `json:"title" validate:"required"`
	Description       string   `json:"description,omitempty"`
	Dependencies      []string `json:"dependencies,omitempty" validate:"omitempty,dive,required"`
	EstimatedDuration string   `json:"estimatedDuration,omitempty"`
}

// Progress is a derived, non-persisted aggregate over a plan.
type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	cp := t
	if t.Dependencies != nil {
		cp.Dependencies = append(make([]string, 0, len(t.Dependencies)), t.Dependencies...)
	}
	if t.Tags != nil {
		cp.Tags = append(make([]string, 0, len(t.Tags)), t.Tags...)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return cp
}

// CloneTasks deep-copies a task list, preserving order.
func CloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	for i, task := range tasks {
		out[i] = task.Clone()
	}
	return out
}
