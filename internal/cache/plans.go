// Package cache holds the volatile, process-local tier of task plans.
package cache

import (
	"container/list"
	"sync"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// DefaultMaxSessions bounds the cache when no capacity is configured.
const DefaultMaxSessions = 1024

// Observer receives hit and miss notifications. Implementations must be
// safe for concurrent use.
type Observer interface {
	CacheHit()
	CacheMiss()
}

// PlanCache maps a session id to the last known task list of that session.
// The least recently used session is evicted once MaxSessions is reached.
// Values are copied in and out, so callers never share slices with the cache.
type PlanCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recent
	observer Observer
}

type entry struct {
	sessionID string
	tasks     []scheduler.Task
}

// New creates a cache holding at most maxSessions plans.
// obs may be nil.
func New(maxSessions int, obs Observer) *PlanCache {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &PlanCache{
		capacity: maxSessions,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		observer: obs,
	}
}

// Get returns a copy of the session's cached tasks.
func (c *PlanCache) Get(sessionID string) ([]scheduler.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[sessionID]
	if !ok {
		if c.observer != nil {
			c.observer.CacheMiss()
		}
		return nil, false
	}

	c.order.MoveToFront(elem)
	if c.observer != nil {
		c.observer.CacheHit()
	}
	return scheduler.CloneTasks(elem.Value.(*entry).tasks), true
}

// Peek is Get without touching recency or the observer.
func (c *PlanCache) Peek(sessionID string) ([]scheduler.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[sessionID]
	if !ok {
		return nil, false
	}
	return scheduler.CloneTasks(elem.Value.(*entry).tasks), true
}

// Put replaces the session's entry with tasks.
func (c *PlanCache) Put(sessionID string, tasks []scheduler.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.set(sessionID, scheduler.CloneTasks(tasks))
}

// Undo records what a Merge changed so Restore can revert exactly that.
type Undo struct {
	prior   map[string]scheduler.Task // changed ids that were cached before
	changed []string
}

// Merge writes snapshot with changed laid over the current entry by task id,
// and returns the Undo of the changed tasks.
// Tasks present in the current entry but absent from snapshot are kept,
// which keeps a concurrent writer's cached mutations in place.
func (c *PlanCache) Merge(sessionID string, snapshot, changed []scheduler.Task) Undo {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current []scheduler.Task
	if elem, ok := c.items[sessionID]; ok {
		current = elem.Value.(*entry).tasks
	}

	undo := Undo{
		prior:   make(map[string]scheduler.Task, len(changed)),
		changed: make([]string, 0, len(changed)),
	}
	merged := scheduler.CloneTasks(current)
	for _, task := range snapshot {
		if scheduler.IndexOf(merged, task.ID) < 0 {
			merged = append(merged, task.Clone())
		}
	}
	for _, task := range changed {
		undo.changed = append(undo.changed, task.ID)
		if i := scheduler.IndexOf(current, task.ID); i >= 0 {
			undo.prior[task.ID] = current[i].Clone()
		}
		if i := scheduler.IndexOf(merged, task.ID); i >= 0 {
			merged[i] = task.Clone()
		} else {
			merged = append(merged, task.Clone())
		}
	}

	c.set(sessionID, merged)
	return undo
}

// Restore reverts the tasks recorded in undo to their cached values before
// the Merge, dropping those that were not cached. Other tasks of the entry,
// including ones other writers changed since, are left alone. An entry left
// empty is removed.
func (c *PlanCache) Restore(sessionID string, undo Undo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[sessionID]
	if !ok {
		return
	}
	current := elem.Value.(*entry).tasks

	restored := make([]scheduler.Task, 0, len(current))
	for _, task := range current {
		if !contains(undo.changed, task.ID) {
			restored = append(restored, task)
			continue
		}
		if prior, ok := undo.prior[task.ID]; ok {
			restored = append(restored, prior)
		}
	}

	if len(restored) == 0 {
		c.remove(sessionID)
		return
	}
	c.set(sessionID, restored)
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// Delete drops the session's entry.
func (c *PlanCache) Delete(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(sessionID)
}

// Len returns the number of cached sessions.
func (c *PlanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *PlanCache) set(sessionID string, tasks []scheduler.Task) {
	if elem, ok := c.items[sessionID]; ok {
		elem.Value.(*entry).tasks = tasks
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).sessionID)
		}
	}

	c.items[sessionID] = c.order.PushFront(&entry{sessionID: sessionID, tasks: tasks})
}

func (c *PlanCache) remove(sessionID string) {
	if elem, ok := c.items[sessionID]; ok {
		c.order.Remove(elem)
		delete(c.items, sessionID)
	}
}
