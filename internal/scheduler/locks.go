package scheduler

import (
	"sync"
)

// PlanLocker serializes writes within a session.
// Each key gets its own reference-counted mutex: a whole-plan key for
// operations that create tasks, and a (session, task) key for status writes.
// Writes to different tasks of the same plan do not block each other.
type PlanLocker struct {
	mu    sync.Mutex            // Guards the locks map itself
	locks map[string]*keyedLock // Per-key mutexes
}

type keyedLock struct {
	mu   sync.Mutex
	refs int // Holders plus waiters; entry is dropped at zero
}

// NewPlanLocker creates a new PlanLocker.
func NewPlanLocker() *PlanLocker {
	return &PlanLocker{
		locks: make(map[string]*keyedLock),
	}
}

// LockPlan acquires the whole-plan lock for a session and returns its release func.
func (l *PlanLocker) LockPlan(sessionID string) func() {
	return l.lock("plan\x00" + sessionID)
}

// LockTask acquires the lock for one task of a session and returns its release func.
func (l *PlanLocker) LockTask(sessionID, taskID string) func() {
	return l.lock("task\x00" + sessionID + "\x00" + taskID)
}

// lock acquires the mutex for key, creating it on first access.
func (l *PlanLocker) lock(key string) func() {
	l.mu.Lock()
	kl, exists := l.locks[key]
	if !exists {
		kl = &keyedLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	// Acquire the per-key lock (outside the manager lock to avoid contention)
	kl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			kl.mu.Unlock()

			l.mu.Lock()
			kl.refs--
			if kl.refs == 0 {
				delete(l.locks, key)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (l *PlanLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
