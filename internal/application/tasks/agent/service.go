// Package agent implements the agent and simulator task services (spec
// §4.6): a plain agent task calls a bound model once and writes its
// parsed result, while a simulator task runs the bounded weak/strong
// model consult protocol before writing a result of its own.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/workflow-core/internal/application/engine"
	"github.com/smilemakc/workflow-core/internal/domain"
	"github.com/smilemakc/workflow-core/internal/infrastructure/logger"
)

// NodeCompletionChecker is the narrow slice of the engine this service
// calls back into after a task finishes, kept narrow so this package
// never imports the engine package for more than RetryPolicy (spec §9).
type NodeCompletionChecker interface {
	NodeCompletionCheck(ctx context.Context, taskID string) error
}

const (
	defaultAgentModel  = "gpt-4o"
	defaultWeakModel   = "gpt-4o-mini"
	defaultStrongModel = "gpt-4o"
	defaultMaxRounds   = 20
	llmCallTimeout     = 30 * time.Second
)

// chatClient is the slice of LLMClient the service depends on; narrowed
// to an interface so tests can substitute a fake model backend instead
// of hitting a real API.
type chatClient interface {
	Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
	StructuredCall(ctx context.Context, model, prompt string, fn FunctionSpec, out interface{}) error
}

// Service implements engine.TaskDispatcher for ProcessorKindAgent and
// ProcessorKindSimulator.
type Service struct {
	log        *logger.Logger
	repo       domain.InstanceRepository
	processors domain.ProcessorRepository
	sessions   domain.SimulatorRepository
	checker    NodeCompletionChecker
	client     chatClient
	retry      *engine.RetryPolicy

	mu        sync.Mutex
	cancelFns map[string]context.CancelFunc
}

// New constructs an agent/simulator task service. client may be shared
// across many concurrent tasks; it holds no per-call state.
func New(
	log *logger.Logger,
	repo domain.InstanceRepository,
	processors domain.ProcessorRepository,
	sessions domain.SimulatorRepository,
	checker NodeCompletionChecker,
	client *LLMClient,
) *Service {
	return &Service{
		log:        log,
		repo:       repo,
		processors: processors,
		sessions:   sessions,
		checker:    checker,
		client:     client,
		retry: &engine.RetryPolicy{
			MaxAttempts:     3,
			InitialDelay:    500 * time.Millisecond,
			MaxDelay:        4 * time.Second,
			BackoffStrategy: engine.BackoffExponential,
		},
		cancelFns: make(map[string]context.CancelFunc),
	}
}

// Dispatch implements engine.TaskDispatcher. The model call (and, for a
// simulator task, the whole consult loop) runs in its own goroutine so
// a slow model never blocks the engine's dispatch path; the task is
// left in whatever status Dispatch finds it in until the goroutine
// completes it.
func (s *Service) Dispatch(ctx context.Context, task *domain.TaskInstance) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelFns[task.TaskID] = cancel
	s.mu.Unlock()

	go func() {
		defer s.clearCancel(task.TaskID)
		var err error
		switch task.ProcessorKind {
		case domain.ProcessorKindSimulator:
			err = s.runSimulatorTask(runCtx, task)
		default:
			err = s.runAgentTask(runCtx, task)
		}
		if err != nil {
			s.log.Error("agent/simulator task failed", "task_id", task.TaskID, "error", err)
			s.failTask(context.Background(), task, err.Error())
		}
	}()
	return nil
}

// Cancel implements engine.TaskDispatcher. In-flight model calls are not
// killed (§5): the goroutine's context is cancelled so the next retry
// or round boundary observes it and stops, but a call already in
// flight runs to completion with its result discarded.
func (s *Service) Cancel(ctx context.Context, task *domain.TaskInstance) error {
	s.mu.Lock()
	cancel, ok := s.cancelFns[task.TaskID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (s *Service) clearCancel(taskID string) {
	s.mu.Lock()
	delete(s.cancelFns, taskID)
	s.mu.Unlock()
}

// runAgentTask implements §4.6's plain agent task: build a prompt from
// the task's instructions and upstream-outputs bundle, call the model,
// write completed with the raw content as the result.
func (s *Service) runAgentTask(ctx context.Context, task *domain.TaskInstance) error {
	model := defaultAgentModel
	if p, err := s.processors.Get(ctx, task.ProcessorID); err == nil && p != nil {
		if m, ok := p.Metadata["model"].(string); ok && m != "" {
			model = m
		}
	}

	prompt := buildAgentPrompt(task)

	var content string
	err := s.retry.Execute(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, llmCallTimeout)
		defer cancel()
		out, callErr := s.client.Complete(callCtx, model, "", prompt)
		if callErr != nil {
			return callErr
		}
		content = out
		return nil
	})
	if err != nil {
		return fmt.Errorf("agent model call: %w", err)
	}

	return s.completeTask(ctx, task, map[string]interface{}{
		"content": content,
		"model":   model,
	})
}

// buildAgentPrompt concatenates the task's instructions with the
// upstream outputs it was dispatched with, the bundle §4.6 calls out
// by name.
func buildAgentPrompt(task *domain.TaskInstance) string {
	prompt := task.Instructions
	if task.Context == nil || len(task.Context.UpstreamOutputs) == 0 {
		return prompt
	}
	prompt += "\n\nUpstream results:\n"
	for _, up := range task.Context.UpstreamOutputs {
		prompt += fmt.Sprintf("- %s: %v\n", up.NodeName, up.Output)
	}
	return prompt
}

// completeTask writes a completed task and invokes the node-completion
// check (§4.7), mirroring what the human service's Submit does.
func (s *Service) completeTask(ctx context.Context, task *domain.TaskInstance, result map[string]interface{}) error {
	now := time.Now()
	task.Status = domain.TaskStatusCompleted
	task.ResultData = result
	task.CompletedAt = &now
	task.UpdatedAt = now
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return err
	}
	if err := s.checker.NodeCompletionCheck(ctx, task.TaskID); err != nil {
		s.log.Error("node-completion check failed after agent task", "task_id", task.TaskID, "error", err)
	}
	return nil
}

// failTask writes a failed task and still invokes the node-completion
// check, since §4.7 aggregates failures exactly like successes.
func (s *Service) failTask(ctx context.Context, task *domain.TaskInstance, reason string) {
	now := time.Now()
	task.Status = domain.TaskStatusFailed
	task.FailureReason = reason
	task.CompletedAt = &now
	task.UpdatedAt = now
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		s.log.Error("failed to persist failed agent task", "task_id", task.TaskID, "error", err)
		return
	}
	if err := s.checker.NodeCompletionCheck(ctx, task.TaskID); err != nil {
		s.log.Error("node-completion check failed after agent task failure", "task_id", task.TaskID, "error", err)
	}
}

func newID() string {
	return uuid.NewString()
}
