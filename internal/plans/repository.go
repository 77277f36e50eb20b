// Package plans reconciles the durable store and the volatile cache.
//
// Reads prefer the store and fall back to the cache. Writes go to the cache,
// then the store, then schedule a mirror refresh through the event bus.
// The store write is the durability boundary: once it returns, the change
// survives process restarts.
package plans

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aristath/taskgraph/internal/cache"
	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/observability"
	"github.com/aristath/taskgraph/internal/persistence"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// Publisher is the part of the event bus the repository needs.
type Publisher interface {
	Publish(topic string, event events.Event)
}

// Repository loads and saves task plans across the store and cache tiers.
type Repository struct {
	store   persistence.Store
	cache   *cache.PlanCache
	bus     Publisher
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithPublisher sets where PlanSavedEvent is published after a save.
func WithPublisher(p Publisher) Option {
	return func(r *Repository) { r.bus = p }
}

// WithMetrics enables fallback accounting.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Repository) { r.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// NewRepository creates a repository over store and c.
func NewRepository(store persistence.Store, c *cache.PlanCache, opts ...Option) *Repository {
	r := &Repository{
		store: store,
		cache: c,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "plans")
	return r
}

// Load returns the session's tasks in plan order.
//
// A non-empty store result refreshes the cache and is returned. When the
// store fails or has nothing, the cached entry is returned instead (possibly
// empty). Load never returns an error; a store failure is logged and counted.
func (r *Repository) Load(ctx context.Context, sessionID, principalID string) []scheduler.Task {
	tasks, err := r.store.GetTasks(ctx, sessionID, principalID)
	if err == nil && len(tasks) > 0 {
		r.cache.Put(cacheKey(sessionID, principalID), tasks)
		return tasks
	}

	cached, ok := r.cache.Get(cacheKey(sessionID, principalID))
	if err != nil {
		r.logger.Warn("store read failed, falling back to cache",
			"session_id", sessionID,
			"cached_tasks", len(cached),
			slog.String("error", err.Error()))
	}
	if err != nil || len(cached) > 0 {
		r.metrics.StoreFallback()
	}

	if !ok || cached == nil {
		return []scheduler.Task{}
	}
	return cached
}

// Save persists a write and returns the plan as the cache now holds it.
//
// snapshot is the full plan as the caller sees it after the write; changed
// holds only the tasks the caller created or modified. Only changed tasks
// are sent to the store, so concurrent writers of different tasks never
// overwrite each other with stale copies. The returned plan includes
// changes other writers cached in the meantime.
//
// A store failure reverts the changed tasks in the cache, leaving tasks
// other writers cached in the meantime alone. The error is returned wrapped
// and the mirror is not scheduled.
func (r *Repository) Save(ctx context.Context, sessionID, principalID string, snapshot, changed []scheduler.Task) ([]scheduler.Task, error) {
	key := cacheKey(sessionID, principalID)
	undo := r.cache.Merge(key, snapshot, changed)

	if err := r.store.UpsertTasks(ctx, sessionID, principalID, changed); err != nil {
		r.cache.Restore(key, undo)
		return nil, fmt.Errorf("persist tasks for session %s: %w", sessionID, err)
	}

	current, ok := r.cache.Peek(key)
	if !ok {
		// Evicted by a concurrent write to another session
		current = scheduler.CloneTasks(snapshot)
	}

	if r.bus != nil {
		r.bus.Publish(events.TopicPlan, events.PlanSavedEvent{
			Session:   sessionID,
			Principal: principalID,
			Tasks:     scheduler.CloneTasks(current),
			Timestamp: time.Now(),
		})
	}

	return current, nil
}

// cacheKey scopes cache entries to the principal so a fallback read never
// returns another principal's plan.
func cacheKey(sessionID, principalID string) string {
	return principalID + "\x00" + sessionID
}
