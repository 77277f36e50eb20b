package orchestrator

import (
	"github.com/aristath/taskgraph/internal/scheduler"
)

// Scope identifies whose plan an operation works on. Both ids are required.
type Scope struct {
	SessionID   string `json:"sessionId"`
	PrincipalID string `json:"principalId"`
}

// Validate fails fast on missing ids.
func (s Scope) Validate() error {
	if s.SessionID == "" {
		return ErrMissingSession
	}
	if s.PrincipalID == "" {
		return ErrMissingPrincipal
	}
	return nil
}

// Result is the success flag and error code every operation returns.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// StatusResult bundles a plan with everything a caller needs to pick the
// next step without a follow-up read.
type StatusResult struct {
	Result
	Tasks        []scheduler.Task   `json:"tasks"`
	NextTask     *scheduler.Task    `json:"nextTask"`
	Progress     scheduler.Progress `json:"progress"`
	AllCompleted bool               `json:"allCompleted"`
}

// PlanResult is returned by CreatePlan. Created is false when an existing
// plan was returned unchanged.
type PlanResult struct {
	StatusResult
	Created bool `json:"created"`
}

// TaskResult is returned by UpdateTask and CompleteTask.
type TaskResult struct {
	StatusResult
	Task *scheduler.Task `json:"task,omitempty"`
}

// AddResult is returned by AddTasks.
type AddResult struct {
	StatusResult
	Added []scheduler.Task `json:"added"`
}

// newStatusResult derives the successful status bundle of a plan.
func newStatusResult(tasks []scheduler.Task) StatusResult {
	if tasks == nil {
		tasks = []scheduler.Task{}
	}
	res := StatusResult{
		Result:       Result{Success: true},
		Tasks:        tasks,
		Progress:     scheduler.ComputeProgress(tasks),
		AllCompleted: scheduler.AllCompleted(tasks),
	}
	if next, ok := scheduler.NextAvailable(tasks); ok {
		res.NextTask = &next
	}
	return res
}

func failure(err error) Result {
	return Result{Success: false, Error: errorCode(err)}
}
