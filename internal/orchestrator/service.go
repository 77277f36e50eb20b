// Package orchestrator exposes the plan operations an orchestrating agent
// calls: create a plan, update or complete a task, add tasks, read status.
//
// Every operation validates its scope before touching any tier, reads the
// plan store-first, and persists only the tasks it changed. Configuration
// and not-found errors come back as an unsuccessful Result with a nil error.
// A failed store write comes back as an unsuccessful Result and a non-nil
// error: nothing is reported as done unless the store accepted it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/observability"
	"github.com/aristath/taskgraph/internal/plans"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// Operation names used in metrics and spans.
const (
	OpCreatePlan   = "create_plan"
	OpUpdateTask   = "update_task"
	OpCompleteTask = "complete_task"
	OpGetStatus    = "get_status"
	OpAddTasks     = "add_tasks"
)

// Config configures a Service. Every field is optional.
type Config struct {
	Validation scheduler.GraphOptions // Graph checks on create/add (default off)
	Locker     *scheduler.PlanLocker  // Write serialization (default: private locker)
	Events     plans.Publisher        // Receives task events (nil disables)
	Metrics    *observability.Metrics // nil disables metrics
	Tracer     trace.Tracer           // default observability.Tracer()
	Logger     *slog.Logger           // default slog.Default()
	Now        func() time.Time       // default time.Now
	NewID      func() string          // default uuid.NewString
}

// Service implements the orchestration operations over a plan repository.
type Service struct {
	repo     *plans.Repository
	cfg      Config
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(repo *plans.Repository, cfg Config) *Service {
	if cfg.Locker == nil {
		cfg.Locker = scheduler.NewPlanLocker()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.Tracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	return &Service{
		repo:     repo,
		cfg:      cfg,
		validate: validator.New(),
		logger:   cfg.Logger.With("component", "orchestrator"),
	}
}

// CreatePlan returns the session's plan if it has one; otherwise it creates
// a pending task per spec and persists them.
func (s *Service) CreatePlan(ctx context.Context, scope Scope, specs []scheduler.Spec) (res PlanResult, err error) {
	ctx, finish := s.begin(ctx, OpCreatePlan, scope)
	defer func() { finish(res.Result, err) }()

	if verr := scope.Validate(); verr != nil {
		res.Result = failure(verr)
		return res, nil
	}

	unlock := s.cfg.Locker.LockPlan(scope.SessionID)
	defer unlock()

	existing := s.repo.Load(ctx, scope.SessionID, scope.PrincipalID)
	if len(existing) > 0 {
		res.StatusResult = newStatusResult(existing)
		return res, nil
	}

	created, verr := s.newTasks(scope, existing, specs)
	if verr != nil {
		res.Result = failure(verr)
		return res, nil
	}

	current, serr := s.repo.Save(ctx, scope.SessionID, scope.PrincipalID, created, created)
	if serr != nil {
		res.Result = Result{Success: false, Error: CodeStoreWriteFailed}
		return res, fmt.Errorf("create plan: %w", serr)
	}

	s.logger.Info("plan created", "session_id", scope.SessionID, "tasks", len(created))
	res.StatusResult = newStatusResult(current)
	res.Created = true
	return res, nil
}

// UpdateTask sets the status of one task. Completing a task stamps
// CompletedAt; no other transition is restricted.
func (s *Service) UpdateTask(ctx context.Context, scope Scope, taskID string, status scheduler.Status) (TaskResult, error) {
	return s.updateTask(ctx, OpUpdateTask, scope, taskID, status)
}

// CompleteTask is UpdateTask with StatusCompleted.
func (s *Service) CompleteTask(ctx context.Context, scope Scope, taskID string) (TaskResult, error) {
	return s.updateTask(ctx, OpCompleteTask, scope, taskID, scheduler.StatusCompleted)
}

func (s *Service) updateTask(ctx context.Context, op string, scope Scope, taskID string, status scheduler.Status) (res TaskResult, err error) {
	ctx, finish := s.begin(ctx, op, scope)
	defer func() { finish(res.Result, err) }()

	if verr := scope.Validate(); verr != nil {
		res.Result = failure(verr)
		return res, nil
	}
	if !status.Valid() {
		res.Result = failure(ErrInvalidStatus)
		return res, nil
	}

	unlock := s.cfg.Locker.LockTask(scope.SessionID, taskID)
	defer unlock()

	tasks := s.repo.Load(ctx, scope.SessionID, scope.PrincipalID)
	i := scheduler.IndexOf(tasks, taskID)
	if taskID == "" || i < 0 {
		res.Result = failure(ErrTaskNotFound)
		return res, nil
	}

	previous := tasks[i].Status
	tasks[i].Status = status
	// CompletedAt marks the transition; completing twice keeps the first stamp
	if status == scheduler.StatusCompleted && (previous != scheduler.StatusCompleted || tasks[i].CompletedAt == nil) {
		now := s.cfg.Now()
		tasks[i].CompletedAt = &now
		if tasks[i].ActualDuration == "" && !tasks[i].CreatedAt.IsZero() {
			tasks[i].ActualDuration = now.Sub(tasks[i].CreatedAt).Round(time.Second).String()
		}
	}
	updated := tasks[i].Clone()

	current, serr := s.repo.Save(ctx, scope.SessionID, scope.PrincipalID, tasks, []scheduler.Task{updated})
	if serr != nil {
		res.Result = Result{Success: false, Error: CodeStoreWriteFailed}
		return res, fmt.Errorf("update task %s: %w", taskID, serr)
	}

	s.publishTaskEvents(scope.SessionID, updated, previous, current)

	res.StatusResult = newStatusResult(current)
	res.Task = &updated
	return res, nil
}

// GetStatus reads the plan without changing it.
func (s *Service) GetStatus(ctx context.Context, scope Scope) (res StatusResult, err error) {
	ctx, finish := s.begin(ctx, OpGetStatus, scope)
	defer func() { finish(res.Result, err) }()

	if verr := scope.Validate(); verr != nil {
		res.Result = failure(verr)
		return res, nil
	}

	return newStatusResult(s.repo.Load(ctx, scope.SessionID, scope.PrincipalID)), nil
}

// AddTasks appends new pending tasks to the plan. Existing tasks are not
// modified.
func (s *Service) AddTasks(ctx context.Context, scope Scope, specs []scheduler.Spec) (res AddResult, err error) {
	ctx, finish := s.begin(ctx, OpAddTasks, scope)
	defer func() { finish(res.Result, err) }()

	if verr := scope.Validate(); verr != nil {
		res.Result = failure(verr)
		return res, nil
	}

	unlock := s.cfg.Locker.LockPlan(scope.SessionID)
	defer unlock()

	existing := s.repo.Load(ctx, scope.SessionID, scope.PrincipalID)

	added, verr := s.newTasks(scope, existing, specs)
	if verr != nil {
		res.Result = failure(verr)
		return res, nil
	}

	snapshot := append(scheduler.CloneTasks(existing), added...)
	current, serr := s.repo.Save(ctx, scope.SessionID, scope.PrincipalID, snapshot, added)
	if serr != nil {
		res.Result = Result{Success: false, Error: CodeStoreWriteFailed}
		return res, fmt.Errorf("add tasks: %w", serr)
	}

	s.logger.Info("tasks added", "session_id", scope.SessionID, "added", len(added), "total", len(current))
	res.StatusResult = newStatusResult(current)
	res.Added = added
	return res, nil
}

// newTasks validates specs and turns them into pending tasks with fresh ids.
//
// A dependency entry is kept as is when it names a task id of the plan or
// batch. Otherwise, if it equals the title of a task in the plan or batch,
// it is replaced by that task's id. Anything else is kept verbatim and
// never resolves unless the graph checks reject it.
func (s *Service) newTasks(scope Scope, existing []scheduler.Task, specs []scheduler.Spec) ([]scheduler.Task, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: at least one task is required", ErrInvalidSpec)
	}
	for i, spec := range specs {
		if err := s.validate.Struct(spec); err != nil {
			return nil, fmt.Errorf("%w: task %d: %v", ErrInvalidSpec, i, err)
		}
	}

	now := s.cfg.Now()
	ids := make(map[string]bool, len(existing)+len(specs))
	titles := make(map[string]string, len(existing)+len(specs))
	for _, task := range existing {
		ids[task.ID] = true
		if _, taken := titles[task.Title]; !taken {
			titles[task.Title] = task.ID
		}
	}

	created := make([]scheduler.Task, len(specs))
	for i, spec := range specs {
		id := s.cfg.NewID()
		ids[id] = true
		if _, taken := titles[spec.Title]; !taken {
			titles[spec.Title] = id
		}
		created[i] = scheduler.Task{
			ID:                id,
			SessionID:         scope.SessionID,
			Title:             spec.Title,
			Description:       spec.Description,
			Status:            scheduler.StatusPending,
			CreatedAt:         now,
			EstimatedDuration: spec.EstimatedDuration,
			Tags:              scheduler.SuggestTags(spec.Title, spec.Description),
		}
	}

	for i, spec := range specs {
		deps := make([]string, 0, len(spec.Dependencies))
		for _, ref := range spec.Dependencies {
			if !ids[ref] {
				if id, ok := titles[ref]; ok {
					ref = id
				}
			}
			deps = append(deps, ref)
		}
		created[i].Dependencies = deps
	}

	if _, err := scheduler.ValidateGraph(existing, created, s.cfg.Validation); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}

	return created, nil
}

func (s *Service) publishTaskEvents(sessionID string, task scheduler.Task, previous scheduler.Status, plan []scheduler.Task) {
	if s.cfg.Events == nil {
		return
	}

	now := s.cfg.Now()
	s.cfg.Events.Publish(events.TopicTask, events.TaskUpdatedEvent{
		Session:   sessionID,
		TaskID:    task.ID,
		Previous:  previous,
		Status:    task.Status,
		Timestamp: now,
	})
	if task.Status == scheduler.StatusCompleted && previous != scheduler.StatusCompleted && task.CompletedAt != nil {
		s.cfg.Events.Publish(events.TopicTask, events.TaskCompletedEvent{
			Session:     sessionID,
			TaskID:      task.ID,
			CompletedAt: *task.CompletedAt,
			Progress:    scheduler.ComputeProgress(plan),
		})
	}
}

// begin opens the span of an operation and returns the func that closes it
// and records metrics.
func (s *Service) begin(ctx context.Context, op string, scope Scope) (context.Context, func(Result, error)) {
	start := time.Now()
	ctx, span := s.cfg.Tracer.Start(ctx, "orchestrator."+op,
		trace.WithAttributes(
			attribute.String("operation", op),
			attribute.String("session_id", scope.SessionID),
		))

	return ctx, func(res Result, err error) {
		defer span.End()

		outcome := observability.OutcomeSuccess
		switch {
		case err != nil:
			outcome = observability.OutcomeStoreFailure
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error("operation failed",
				"operation", op,
				"session_id", scope.SessionID,
				slog.String("error", err.Error()))
		case !res.Success:
			outcome = observability.OutcomeRejected
			if res.Error == CodeTaskNotFound {
				outcome = observability.OutcomeNotFound
			}
			span.SetAttributes(attribute.String("error_code", res.Error))
			span.SetStatus(codes.Error, res.Error)
			s.logger.Debug("operation rejected",
				"operation", op,
				"session_id", scope.SessionID,
				"code", res.Error)
		default:
			span.SetStatus(codes.Ok, "")
		}

		s.cfg.Metrics.ObserveOperation(op, outcome, time.Since(start))
	}
}

// IsConfigError reports whether err is a caller mistake that never touched
// any tier.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrMissingSession) ||
		errors.Is(err, ErrMissingPrincipal) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidSpec) ||
		errors.Is(err, ErrInvalidPlan)
}
