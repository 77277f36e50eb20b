package scheduler

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gammazero/toposort"
)

// ErrInvalidGraph is returned by ValidateGraph when a plan would contain
// dangling dependency references or a cycle.
var ErrInvalidGraph = errors.New("invalid task graph")

// IsAvailable reports whether task can be picked up: it must be pending and
// every dependency must exist in allTasks with status completed.
// A dependency id with no matching task is never satisfied.
func IsAvailable(task Task, allTasks []Task) bool {
	if task.Status != StatusPending {
		return false
	}

	for _, depID := range task.Dependencies {
		dep, ok := find(allTasks, depID)
		if !ok || dep.Status != StatusCompleted {
			return false
		}
	}

	return true
}

// NextAvailable returns the first available task in plan order.
// Returns false if no task is available.
func NextAvailable(allTasks []Task) (Task, bool) {
	for _, task := range allTasks {
		if IsAvailable(task, allTasks) {
			return task, true
		}
	}
	return Task{}, false
}

// ComputeProgress counts completed tasks. Percentage is rounded and is 0
// for an empty plan.
func ComputeProgress(allTasks []Task) Progress {
	p := Progress{Total: len(allTasks)}
	for _, task := range allTasks {
		if task.Status == StatusCompleted {
			p.Completed++
		}
	}
	if p.Total > 0 {
		p.Percentage = int(math.Round(float64(p.Completed) / float64(p.Total) * 100))
	}
	return p
}

// AllCompleted reports whether a non-empty plan has every task completed.
// An empty plan is not complete.
func AllCompleted(allTasks []Task) bool {
	if len(allTasks) == 0 {
		return false
	}
	for _, task := range allTasks {
		if task.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// GraphOptions selects which checks ValidateGraph performs.
type GraphOptions struct {
	RejectUnknownDependencies bool
	RejectCycles              bool
}

// ValidateGraph checks the plan formed by existing followed by added.
// With both options off it accepts anything; the resolution functions
// already treat dangling or cyclic dependencies as never satisfiable.
// Returns the topological order of task IDs when cycles are checked.
func ValidateGraph(existing, added []Task, opts GraphOptions) ([]string, error) {
	all := make([]Task, 0, len(existing)+len(added))
	all = append(all, existing...)
	all = append(all, added...)

	ids := make(map[string]bool, len(all))
	for _, task := range all {
		ids[task.ID] = true
	}

	if opts.RejectUnknownDependencies {
		for _, task := range added {
			for _, depID := range task.Dependencies {
				if !ids[depID] {
					return nil, fmt.Errorf("%w: task %q depends on non-existent task %q", ErrInvalidGraph, task.ID, depID)
				}
			}
		}
	}

	if !opts.RejectCycles {
		return nil, nil
	}

	// Build edges for topological sort; dangling ids are left out so that
	// cycle detection works independently of the dependency check.
	var edges []toposort.Edge
	for _, task := range all {
		edges = append(edges, toposort.Edge{nil, task.ID})
		for _, depID := range task.Dependencies {
			if !ids[depID] {
				continue
			}
			// Edge (depID, taskID) means depID must come before taskID
			edges = append(edges, toposort.Edge{depID, task.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: plan contains cycle: %v", ErrInvalidGraph, err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	// Verify all tasks are in the sorted result
	if len(order) != len(ids) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for id := range ids {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: topological sort lost %d tasks: %s", ErrInvalidGraph, len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// find returns the task with the given id.
func find(tasks []Task, id string) (Task, bool) {
	for _, task := range tasks {
		if task.ID == id {
			return task, true
		}
	}
	return Task{}, false
}

// IndexOf returns the position of the task with the given id, or -1.
func IndexOf(tasks []Task, id string) int {
	for i, task := range tasks {
		if task.ID == id {
			return i
		}
	}
	return -1
}
