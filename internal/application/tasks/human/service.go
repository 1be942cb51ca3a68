// Package human implements the human task service (spec §4.5): the
// pending → assigned → in_progress → completed|failed|cancelled state
// machine for tasks bound to a human processor, plus the read-side
// list/detail operations a UI consumes.
package human

import (
	"context"
	"time"

	"github.com/smilemakc/workflow-core/internal/domain"
	"github.com/smilemakc/workflow-core/internal/infrastructure/logger"
)

// NodeCompletionChecker is the narrow slice of the engine the human
// service needs after Submit (§4.7); kept narrow so this package never
// imports the engine package directly (spec §9).
type NodeCompletionChecker interface {
	NodeCompletionCheck(ctx context.Context, taskID string) error
}

// Service implements engine.TaskDispatcher for ProcessorKindHuman and
// the human-facing task operations of §4.5.
type Service struct {
	log    *logger.Logger
	repo   domain.InstanceRepository
	engine NodeCompletionChecker
}

// New constructs a human task service.
func New(log *logger.Logger, repo domain.InstanceRepository, engine NodeCompletionChecker) *Service {
	return &Service{log: log, repo: repo, engine: engine}
}

// Dispatch implements engine.TaskDispatcher: a human task has nothing
// to kick off asynchronously, it simply becomes assigned and waits for
// its assignee to call Start.
func (s *Service) Dispatch(ctx context.Context, task *domain.TaskInstance) error {
	now := time.Now()
	task.Status = domain.TaskStatusAssigned
	task.AssignedAt = &now
	task.UpdatedAt = now
	return s.repo.UpdateTask(ctx, task)
}

// Cancel implements engine.TaskDispatcher. The engine has already
// persisted the cancelled status by the time this runs; the human
// service has no in-flight work of its own to stop.
func (s *Service) Cancel(ctx context.Context, task *domain.TaskInstance) error {
	s.log.Info("human task cancelled", "task_id", task.TaskID)
	return nil
}

// ListUserTasks implements §4.5 List-user-tasks. It returns the stored
// task rows as they are: Priority is the stored field, and no duration
// or estimated deadline is computed or added to the results.
func (s *Service) ListUserTasks(ctx context.Context, userID string, statusFilter domain.TaskStatus, limit int) ([]*domain.TaskInstance, error) {
	return s.repo.ListTasksByUser(ctx, userID, statusFilter, limit)
}

// GetTaskDetails implements §4.5 Get-task-details: returns the task
// with its full context bundle, after authorising the caller.
func (s *Service) GetTaskDetails(ctx context.Context, taskID, userID string) (*domain.TaskInstance, error) {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.NewNotFoundError("task not found: " + taskID)
	}
	if err := s.authorise(task, userID); err != nil {
		return nil, err
	}
	return task, nil
}

// Start implements §4.5 Start: assigned|pending -> in_progress.
func (s *Service) Start(ctx context.Context, taskID, userID string) (*domain.TaskInstance, error) {
	task, err := s.loadForMutation(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskStatusAssigned && task.Status != domain.TaskStatusPending {
		return nil, domain.NewConflictError("task is not assigned or pending: " + string(task.Status))
	}
	now := time.Now()
	task.Status = domain.TaskStatusInProgress
	task.StartedAt = &now
	task.UpdatedAt = now
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Submit implements §4.5 Submit: in_progress -> completed, records
// completed_at (from which TaskInstance.ActualDuration derives the
// duration), writes the result, then invokes the node-completion
// check (§4.7) so the engine's event-driven propagation can continue.
func (s *Service) Submit(ctx context.Context, taskID, userID string, resultData map[string]interface{}, summary string) (*domain.TaskInstance, error) {
	task, err := s.loadForMutation(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskStatusInProgress {
		return nil, domain.NewConflictError("task is not in progress: " + string(task.Status))
	}
	now := time.Now()
	task.Status = domain.TaskStatusCompleted
	task.ResultData = resultData
	task.ResultSummary = summary
	task.CompletedAt = &now
	task.UpdatedAt = now
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	// actual_duration is derived on read via TaskInstance.ActualDuration;
	// time-calculation-failure (unstarted task) degrades to zero, §4.5.
	if err := s.engine.NodeCompletionCheck(ctx, task.TaskID); err != nil {
		s.log.Error("node-completion check failed after submit", "task_id", task.TaskID, "error", err)
	}
	return task, nil
}

// Pause implements §4.5 Pause: in_progress -> assigned, reason recorded.
func (s *Service) Pause(ctx context.Context, taskID, userID, reason string) (*domain.TaskInstance, error) {
	task, err := s.loadForMutation(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionTask(task.Status, domain.TaskStatusAssigned) {
		return nil, domain.NewConflictError("cannot pause task from status " + string(task.Status))
	}
	task.Status = domain.TaskStatusAssigned
	task.FailureReason = reason
	task.UpdatedAt = time.Now()
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Reject implements §4.5 Reject: -> failed, notifies the engine, which
// may cascade-fail the node via the node-completion check.
func (s *Service) Reject(ctx context.Context, taskID, userID, reason string) (*domain.TaskInstance, error) {
	task, err := s.loadForMutation(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionTask(task.Status, domain.TaskStatusFailed) {
		return nil, domain.NewConflictError("cannot reject task from status " + string(task.Status))
	}
	now := time.Now()
	task.Status = domain.TaskStatusFailed
	task.FailureReason = reason
	task.CompletedAt = &now
	task.UpdatedAt = now
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	if err := s.engine.NodeCompletionCheck(ctx, task.TaskID); err != nil {
		s.log.Error("node-completion check failed after reject", "task_id", task.TaskID, "error", err)
	}
	return task, nil
}

// CancelTask implements §4.5 Cancel (the assignee-initiated operation,
// distinct from the Dispatch-er's Cancel hook above).
func (s *Service) CancelTask(ctx context.Context, taskID, userID, reason string) (*domain.TaskInstance, error) {
	task, err := s.loadForMutation(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionTask(task.Status, domain.TaskStatusCancelled) {
		return nil, domain.NewConflictError("cannot cancel task from status " + string(task.Status))
	}
	now := time.Now()
	task.Status = domain.TaskStatusCancelled
	task.FailureReason = reason
	task.CompletedAt = &now
	task.UpdatedAt = now
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	if err := s.engine.NodeCompletionCheck(ctx, task.TaskID); err != nil {
		s.log.Error("node-completion check failed after cancel", "task_id", task.TaskID, "error", err)
	}
	return task, nil
}

// RequestHelp implements §4.5 Request-help: a pure logging hook, not
// state-changing.
func (s *Service) RequestHelp(ctx context.Context, taskID, userID, message string) error {
	s.log.Info("task help requested", "task_id", taskID, "user_id", userID, "message", message)
	return nil
}

func (s *Service) loadForMutation(ctx context.Context, taskID, userID string) (*domain.TaskInstance, error) {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.NewNotFoundError("task not found: " + taskID)
	}
	if err := s.authorise(task, userID); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Service) authorise(task *domain.TaskInstance, userID string) error {
	if task.AssignedUserID != userID {
		return domain.NewAuthorizationError("user " + userID + " is not assigned to task " + task.TaskID)
	}
	return nil
}
