package scheduler

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func task(id string, status Status, deps ...string) Task {
	return Task{ID: id, Status: status, Dependencies: deps}
}

// TestIsAvailable tests availability with various dependency states.
func TestIsAvailable(t *testing.T) {
	tests := []struct {
		name  string
		task  Task
		all   []Task
		avail bool
	}{
		{
			name:  "pending without deps",
			task:  task("A", StatusPending),
			avail: true,
		},
		{
			name:  "not pending",
			task:  task("A", StatusInProgress),
			avail: false,
		},
		{
			name:  "dependency completed",
			task:  task("B", StatusPending, "A"),
			all:   []Task{task("A", StatusCompleted)},
			avail: true,
		},
		{
			name:  "dependency approved is not completed",
			task:  task("B", StatusPending, "A"),
			all:   []Task{task("A", StatusApproved)},
			avail: false,
		},
		{
			name:  "dependency skipped is not completed",
			task:  task("B", StatusPending, "A"),
			all:   []Task{task("A", StatusSkipped)},
			avail: false,
		},
		{
			name:  "one of two dependencies pending",
			task:  task("C", StatusPending, "A", "B"),
			all:   []Task{task("A", StatusCompleted), task("B", StatusPending)},
			avail: false,
		},
		{
			name:  "dangling dependency",
			task:  task("D", StatusPending, "ghost"),
			all:   []Task{task("A", StatusCompleted)},
			avail: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			all := append(append([]Task{}, tt.all...), tt.task)
			if got := IsAvailable(tt.task, all); got != tt.avail {
				t.Errorf("IsAvailable() = %v, want %v", got, tt.avail)
			}
		})
	}
}

// TestNextAvailable_Scenario walks the A -> {B, C} plan to completion.
func TestNextAvailable_Scenario(t *testing.T) {
	tasks := []Task{
		task("A", StatusPending),
		task("B", StatusPending, "A"),
		task("C", StatusPending, "A"),
	}

	next, ok := NextAvailable(tasks)
	if !ok || next.ID != "A" {
		t.Fatalf("expected A first, got %v (ok=%v)", next.ID, ok)
	}

	tasks[0].Status = StatusCompleted
	next, ok = NextAvailable(tasks)
	if !ok || next.ID != "B" {
		t.Fatalf("expected B (creation order), got %v (ok=%v)", next.ID, ok)
	}

	tasks[1].Status = StatusCompleted
	next, ok = NextAvailable(tasks)
	if !ok || next.ID != "C" {
		t.Fatalf("expected C, got %v (ok=%v)", next.ID, ok)
	}
	if AllCompleted(tasks) {
		t.Fatal("plan should not be complete while C is pending")
	}

	tasks[2].Status = StatusCompleted
	if _, ok := NextAvailable(tasks); ok {
		t.Error("expected no available task once all are completed")
	}
	if !AllCompleted(tasks) {
		t.Error("expected AllCompleted after completing A, B and C")
	}
}

// TestNextAvailable_DanglingNeverReturned verifies a task depending on a
// nonexistent id is never picked regardless of other task states.
func TestNextAvailable_DanglingNeverReturned(t *testing.T) {
	statuses := Statuses
	for _, s := range statuses {
		tasks := []Task{
			task("A", s),
			task("D", StatusPending, "ghost"),
		}
		if next, ok := NextAvailable(tasks); ok && next.ID == "D" {
			t.Errorf("D returned with A=%s", s)
		}
	}
}

func TestNextAvailable_Empty(t *testing.T) {
	if _, ok := NextAvailable(nil); ok {
		t.Error("expected no task for an empty plan")
	}
}

// TestNextAvailable_Property checks the contract on random plans: the
// returned task is pending with all deps completed, and when nothing is
// returned no such task exists.
func TestNextAvailable_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := []string{"a", "b", "c", "d", "e", "f", "ghost"}

	for iter := 0; iter < 500; iter++ {
		n := rng.Intn(6)
		tasks := make([]Task, n)
		for i := range tasks {
			var deps []string
			for j := 0; j < rng.Intn(3); j++ {
				deps = append(deps, ids[rng.Intn(len(ids))])
			}
			tasks[i] = task(ids[i], Statuses[rng.Intn(len(Statuses))], deps...)
		}

		next, ok := NextAvailable(tasks)
		if ok {
			if next.Status != StatusPending {
				t.Fatalf("iter %d: returned non-pending task %+v", iter, next)
			}
			for _, depID := range next.Dependencies {
				dep, found := find(tasks, depID)
				if !found || dep.Status != StatusCompleted {
					t.Fatalf("iter %d: returned task %s with unresolved dep %s", iter, next.ID, depID)
				}
			}
			continue
		}

		for _, candidate := range tasks {
			if IsAvailable(candidate, tasks) {
				t.Fatalf("iter %d: nothing returned but %s is available", iter, candidate.ID)
			}
		}
	}
}

func TestComputeProgress(t *testing.T) {
	tests := []struct {
		name  string
		tasks []Task
		want  Progress
	}{
		{"empty", nil, Progress{0, 0, 0}},
		{"none done", []Task{task("A", StatusPending)}, Progress{0, 1, 0}},
		{"one of three", []Task{task("A", StatusCompleted), task("B", StatusPending), task("C", StatusBlocked)}, Progress{1, 3, 33}},
		{"two of three rounds up", []Task{task("A", StatusCompleted), task("B", StatusCompleted), task("C", StatusPending)}, Progress{2, 3, 67}},
		{"all done", []Task{task("A", StatusCompleted), task("B", StatusCompleted)}, Progress{2, 2, 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeProgress(tt.tasks)
			if got != tt.want {
				t.Errorf("ComputeProgress() = %+v, want %+v", got, tt.want)
			}
			if got.Percentage < 0 || got.Percentage > 100 {
				t.Errorf("percentage out of range: %d", got.Percentage)
			}
		})
	}
}

func TestAllCompleted(t *testing.T) {
	if AllCompleted(nil) {
		t.Error("empty plan must not be all completed")
	}
	if AllCompleted([]Task{task("A", StatusCompleted), task("B", StatusApproved)}) {
		t.Error("approved is not completed")
	}
	if !AllCompleted([]Task{task("A", StatusCompleted)}) {
		t.Error("single completed task should be all completed")
	}
}

// TestValidateGraph tests optional graph validation with various structures.
func TestValidateGraph(t *testing.T) {
	strict := GraphOptions{RejectUnknownDependencies: true, RejectCycles: true}

	tests := []struct {
		name        string
		existing    []Task
		added       []Task
		opts        GraphOptions
		wantErr     bool
		errContains string
	}{
		{
			name:  "valid linear chain",
			added: []Task{task("A", StatusPending), task("B", StatusPending, "A"), task("C", StatusPending, "B")},
			opts:  strict,
		},
		{
			name:     "added tasks depend on existing",
			existing: []Task{task("A", StatusCompleted)},
			added:    []Task{task("B", StatusPending, "A")},
			opts:     strict,
		},
		{
			name:        "direct cycle",
			added:       []Task{task("A", StatusPending, "B"), task("B", StatusPending, "A")},
			opts:        strict,
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name:        "self-loop",
			added:       []Task{task("A", StatusPending, "A")},
			opts:        strict,
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name:        "missing dependency",
			added:       []Task{task("A", StatusPending, "nonexistent")},
			opts:        strict,
			wantErr:     true,
			errContains: "nonexistent",
		},
		{
			name:  "missing dependency accepted when not checked",
			added: []Task{task("A", StatusPending, "nonexistent")},
			opts:  GraphOptions{RejectCycles: true},
		},
		{
			name:  "cycle accepted with defaults",
			added: []Task{task("A", StatusPending, "B"), task("B", StatusPending, "A")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateGraph(tt.existing, tt.added, tt.opts)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrInvalidGraph) {
					t.Errorf("expected ErrInvalidGraph, got %v", err)
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q does not contain %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateGraph_Order(t *testing.T) {
	order, err := ValidateGraph(nil, []Task{
		task("C", StatusPending, "B"),
		task("B", StatusPending, "A"),
		task("A", StatusPending),
	}, GraphOptions{RejectCycles: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	if !(pos["A"] < pos["B"] && pos["B"] < pos["C"]) {
		t.Errorf("order %v does not respect dependencies", order)
	}
}

func TestTaskClone(t *testing.T) {
	orig := Task{ID: "A", Dependencies: []string{"x"}, Tags: []string{"docs"}}
	cp := orig.Clone()
	cp.Dependencies[0] = "y"
	cp.Tags[0] = "testing"
	if orig.Dependencies[0] != "x" || orig.Tags[0] != "docs" {
		t.Error("Clone shares slices with the original")
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("done").Valid() {
		t.Error(`"done" should not be valid`)
	}
}
