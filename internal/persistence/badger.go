package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes; the store is the durability boundary.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection. 0 disables.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64

	// MaxConflictRetries bounds retries of a merge transaction on write conflicts.
	MaxConflictRetries int

	// Logger for BadgerDB and GC events. If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults for a store at path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:               path,
		SyncWrites:         true,
		GCInterval:         5 * time.Minute,
		GCDiscardRatio:     0.5,
		MaxConflictRetries: 10,
	}
}

// badgerRecord is the stored form of a task.
type badgerRecord struct {
	Task        scheduler.Task `json:"task"`
	PrincipalID string         `json:"principalId"`
	Seq         uint64         `json:"seq"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// BadgerStore implements Store on an embedded BadgerDB.
// Each task is one key; merges run inside a badger transaction and are
// retried on ErrConflict, so concurrent upserts of different tasks never
// lose each other's writes.
type BadgerStore struct {
	db         *badger.DB
	maxRetries int
	logger     *slog.Logger
	stopGC     chan struct{}
	gcDone     chan struct{}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadgerStore opens a BadgerDB-backed store.
// Starts a value log GC runner when GCInterval is set on a persistent database.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := cfg.MaxConflictRetries
	if retries <= 0 {
		retries = 10
	}

	store := &BadgerStore{db: db, maxRetries: retries, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		store.stopGC = make(chan struct{})
		store.gcDone = make(chan struct{})
		go store.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	return store, nil
}

// NewBadgerMemoryStore opens an in-memory BadgerStore for testing.
func NewBadgerMemoryStore() (*BadgerStore, error) {
	return NewBadgerStore(BadgerConfig{InMemory: true})
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means no GC was needed, not an error
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops the GC runner and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
		s.stopGC = nil
	}
	return s.db.Close()
}

func taskPrefix(sessionID string) []byte {
	return []byte("task/" + sessionID + "/")
}

func seqKey(sessionID string) []byte {
	return []byte("seq/" + sessionID)
}

// UpsertTasks merges tasks into the store in a single transaction.
func (s *BadgerStore) UpsertTasks(ctx context.Context, sessionID, principalID string, tasks []scheduler.Task) error {
	if err := validateKeys(sessionID, principalID); err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}
	for _, task := range tasks {
		if task.ID == "" {
			return ErrInvalidKey
		}
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upsert cancelled: %w", err)
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			return s.mergeTasks(txn, sessionID, principalID, tasks)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) || attempt >= s.maxRetries {
			return fmt.Errorf("failed to upsert tasks: %w", err)
		}
		s.logger.Debug("badger write conflict, retrying",
			"session_id", sessionID, "attempt", attempt+1)
	}
}

func (s *BadgerStore) mergeTasks(txn *badger.Txn, sessionID, principalID string, tasks []scheduler.Task) error {
	seq, err := readSeq(txn, sessionID)
	if err != nil {
		return err
	}
	startSeq := seq
	now := time.Now().UTC()

	for _, task := range tasks {
		key := append(taskPrefix(sessionID), task.ID...)

		var rec badgerRecord
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			seq++
			rec = badgerRecord{PrincipalID: principalID, Seq: seq, Task: task.Clone()}
			if rec.Task.CreatedAt.IsZero() {
				rec.Task.CreatedAt = now
			}
			if rec.Task.Dependencies == nil {
				rec.Task.Dependencies = []string{}
			}
		case err != nil:
			return fmt.Errorf("failed to read task %s: %w", task.ID, err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to decode task %s: %w", task.ID, err)
			}
			if rec.PrincipalID != principalID {
				return fmt.Errorf("upsert task %s: %w", task.ID, ErrPrincipalMismatch)
			}
			rec.Task = mergeTask(rec.Task, task)
		}

		rec.Task.SessionID = sessionID
		rec.UpdatedAt = now

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode task %s: %w", task.ID, err)
		}
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("failed to write task %s: %w", task.ID, err)
		}
	}

	// Pure updates leave the counter alone so they don't conflict with each other
	if seq == startSeq {
		return nil
	}
	return writeSeq(txn, sessionID, seq)
}

// mergeTask applies the specified fields of patch onto stored.
// CreatedAt is immutable once stored.
func mergeTask(stored, patch scheduler.Task) scheduler.Task {
	merged := stored.Clone()
	if patch.Title != "" {
		merged.Title = patch.Title
	}
	if patch.Description != "" {
		merged.Description = patch.Description
	}
	if patch.Status != "" {
		merged.Status = patch.Status
	}
	if patch.Dependencies != nil {
		merged.Dependencies = append([]string{}, patch.Dependencies...)
	}
	if patch.CompletedAt != nil {
		at := *patch.CompletedAt
		merged.CompletedAt = &at
	}
	if patch.EstimatedDuration != "" {
		merged.EstimatedDuration = patch.EstimatedDuration
	}
	if patch.ActualDuration != "" {
		merged.ActualDuration = patch.ActualDuration
	}
	if patch.Tags != nil {
		merged.Tags = append([]string{}, patch.Tags...)
	}
	return merged
}

func readSeq(txn *badger.Txn, sessionID string) (uint64, error) {
	item, err := txn.Get(seqKey(sessionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence: %w", err)
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &seq)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to decode sequence: %w", err)
	}
	return seq, nil
}

func writeSeq(txn *badger.Txn, sessionID string, seq uint64) error {
	data, err := json.Marshal(seq)
	if err != nil {
		return err
	}
	return txn.Set(seqKey(sessionID), data)
}

// GetTasks returns the session's tasks in creation order.
func (s *BadgerStore) GetTasks(ctx context.Context, sessionID, principalID string) ([]scheduler.Task, error) {
	if err := validateKeys(sessionID, principalID); err != nil {
		return nil, err
	}

	var records []badgerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = taskPrefix(sessionID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec badgerRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}
			if rec.PrincipalID == principalID {
				records = append(records, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	tasks := make([]scheduler.Task, 0, len(records))
	for _, rec := range records {
		tasks = append(tasks, rec.Task)
	}
	return tasks, nil
}
