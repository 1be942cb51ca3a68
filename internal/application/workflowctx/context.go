// Package workflowctx implements the workflow-scoped context manager
// (spec §4.3): it owns the canonical per-instance runtime state — the
// context blob, the per-instance async lock, and the delayed-cleanup
// policy — and is the only component allowed to mutate
// workflow_contexts, node_completion_status and pending_triggers for a
// given instance.
package workflowctx

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/smilemakc/workflow-core/internal/application/dependency"
	"github.com/smilemakc/workflow-core/internal/application/observer"
	"github.com/smilemakc/workflow-core/internal/domain"
	"github.com/smilemakc/workflow-core/internal/infrastructure/logger"
)

// ReadyCallback is invoked with the node instance ids that just became
// dispatchable. The engine registers exactly one of these (spec §9: "no
// two-way imports" — the manager calls out through a narrow callback
// instead of importing the engine).
type ReadyCallback func(workflowInstanceID string, nodeInstanceIDs []string)

// WorkflowContext is the in-memory runtime state for one instance
// (spec §3 "Runtime context").
type WorkflowContext struct {
	WorkflowInstanceID  string
	GlobalData          map[string]interface{}
	NodeOutputs         map[string]map[string]interface{} // node_id -> payload
	ExecutionPath        []string
	CurrentExecutingNodes map[string]struct{}
	CompletedNodes        map[string]struct{}
	FailedNodes           map[string]struct{}
	StartTime             time.Time
	TotalNodes            int
}

// InstanceRepository is the narrow slice of domain.InstanceRepository
// the context manager needs for its database verification pass.
type InstanceRepository interface {
	AllNodeInstancesCompleted(ctx context.Context, instanceID string) (bool, error)
	UpdateWorkflowInstance(ctx context.Context, inst *domain.WorkflowInstance) error
	GetWorkflowInstance(ctx context.Context, instanceID string) (*domain.WorkflowInstance, error)
	ListNodeInstances(ctx context.Context, instanceID string) ([]*domain.NodeInstance, error)
	UpdateNodeInstance(ctx context.Context, ni *domain.NodeInstance) error
}

// Manager is the workflow context manager of §4.3.
type Manager struct {
	log  *logger.Logger
	deps *dependency.Manager
	repo InstanceRepository
	obs  *observer.ObserverManager

	// locks maps workflow_instance_id -> *sync.Mutex, guarded only by
	// xsync's own internal sharding — this is exactly the "concurrent
	// map from id to mutex" spec §9 calls for, sourced from the sibling
	// variant of the teacher repo that carries puzpuzpuz/xsync.
	locks *xsync.MapOf[string, *sync.Mutex]

	// contexts holds the actual per-instance state. Protected by each
	// instance's own lock for mutation; Cleanup removes the entry (and
	// the lock itself) only after the delayed-cleanup policy settles.
	mu       sync.RWMutex
	contexts map[string]*WorkflowContext

	onReady ReadyCallback

	// pendingCleanups tracks instances with a scheduled delayed cleanup
	// so a second Mark-failed doesn't schedule a duplicate timer.
	cleanupMu       sync.Mutex
	pendingCleanups map[string]struct{}
}

// New constructs a context manager. onReady is invoked (outside any
// instance lock) whenever MarkCompleted causes new nodes to become
// ready; the engine is expected to register this at startup.
func New(log *logger.Logger, deps *dependency.Manager, repo InstanceRepository, obs *observer.ObserverManager, onReady ReadyCallback) *Manager {
	return &Manager{
		log:             log,
		deps:            deps,
		repo:            repo,
		obs:             obs,
		locks:           xsync.NewMapOf[string, *sync.Mutex](),
		contexts:        make(map[string]*WorkflowContext),
		onReady:         onReady,
		pendingCleanups: make(map[string]struct{}),
	}
}

func (m *Manager) lockFor(workflowInstanceID string) *sync.Mutex {
	lock, _ := m.locks.LoadOrStore(workflowInstanceID, &sync.Mutex{})
	return lock
}

// Initialize creates an empty context for a newly started instance
// (§4.3 Initialize). The pending-triggers set is not created here; it
// lives in dependency.Manager.
func (m *Manager) Initialize(workflowInstanceID string, totalNodes int) {
	lock := m.lockFor(workflowInstanceID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[workflowInstanceID] = &WorkflowContext{
		WorkflowInstanceID:    workflowInstanceID,
		GlobalData:            make(map[string]interface{}),
		NodeOutputs:           make(map[string]map[string]interface{}),
		CurrentExecutingNodes: make(map[string]struct{}),
		CompletedNodes:        make(map[string]struct{}),
		FailedNodes:           make(map[string]struct{}),
		StartTime:             time.Now(),
		TotalNodes:            totalNodes,
	}
}

func (m *Manager) getContext(workflowInstanceID string) *WorkflowContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contexts[workflowInstanceID]
}

// MarkExecuting records that a node instance started running.
func (m *Manager) MarkExecuting(workflowInstanceID, nodeID string) {
	lock := m.lockFor(workflowInstanceID)
	lock.Lock()
	wc := m.getContext(workflowInstanceID)
	if wc == nil {
		lock.Unlock()
		m.log.Warn("mark-executing on missing context", "workflow_instance_id", workflowInstanceID, "node_id", nodeID)
		return
	}
	wc.CurrentExecutingNodes[nodeID] = struct{}{}
	lock.Unlock()
}

// MarkCompleted records a node's completion, appends it to the
// execution path, stores its output, then — outside the lock, to avoid
// re-entrance (§4.3) — propagates to the dependency manager and checks
// for workflow completion after a short settle delay.
func (m *Manager) MarkCompleted(ctx context.Context, workflowInstanceID, nodeID, nodeInstanceID string, payload map[string]interface{}) {
	lock := m.lockFor(workflowInstanceID)
	lock.Lock()
	wc := m.getContext(workflowInstanceID)
	if wc == nil {
		lock.Unlock()
		m.log.Warn("mark-completed on missing context (already cleaned up)", "workflow_instance_id", workflowInstanceID, "node_id", nodeID)
		return
	}
	delete(wc.CurrentExecutingNodes, nodeID)
	wc.CompletedNodes[nodeID] = struct{}{}
	wc.ExecutionPath = append(wc.ExecutionPath, nodeID)
	wc.NodeOutputs[nodeID] = payload
	lock.Unlock()

	newlyReady := m.deps.MarkCompleted(workflowInstanceID, nodeID)
	if len(newlyReady) > 0 && m.onReady != nil {
		m.onReady(workflowInstanceID, newlyReady)
	}

	time.Sleep(100 * time.Millisecond)
	m.checkWorkflowCompletion(ctx, workflowInstanceID)
}

// MarkFailed records a node's failure and schedules the context's
// delayed cleanup (§4.3 cleanup policy for FAILED instances).
func (m *Manager) MarkFailed(ctx context.Context, workflowInstanceID, nodeID string, reason string) {
	lock := m.lockFor(workflowInstanceID)
	lock.Lock()
	wc := m.getContext(workflowInstanceID)
	if wc == nil {
		lock.Unlock()
		m.log.Warn("mark-failed on missing context", "workflow_instance_id", workflowInstanceID, "node_id", nodeID)
		return
	}
	delete(wc.CurrentExecutingNodes, nodeID)
	wc.FailedNodes[nodeID] = struct{}{}
	lock.Unlock()

	m.checkWorkflowCompletion(ctx, workflowInstanceID)
}

// Status is the computed overall instance status §4.3 describes.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
)

// checkWorkflowCompletion combines in-memory counts with a database
// verification pass, per §4.3 Check-workflow-completion.
func (m *Manager) checkWorkflowCompletion(ctx context.Context, workflowInstanceID string) Status {
	wc := m.getContext(workflowInstanceID)
	if wc == nil {
		return StatusUnknown
	}

	if len(wc.FailedNodes) > 0 {
		m.finalizeTerminal(ctx, workflowInstanceID, wc, domain.InstanceStatusFailed)
		m.scheduleDelayedCleanup(workflowInstanceID)
		return StatusFailed
	}

	m.mu.RLock()
	completedCount := len(wc.CompletedNodes)
	total := wc.TotalNodes
	m.mu.RUnlock()

	if completedCount < total {
		return StatusRunning
	}

	allDone, err := m.repo.AllNodeInstancesCompleted(ctx, workflowInstanceID)
	if err != nil {
		m.log.Error("database verification pass failed", "workflow_instance_id", workflowInstanceID, "error", err)
		return StatusUnknown
	}
	if !allDone {
		return StatusRunning
	}

	m.finalizeTerminal(ctx, workflowInstanceID, wc, domain.InstanceStatusCompleted)
	m.Cleanup(workflowInstanceID)
	return StatusCompleted
}

func (m *Manager) finalizeTerminal(ctx context.Context, workflowInstanceID string, wc *WorkflowContext, status domain.InstanceStatus) {
	inst, err := m.repo.GetWorkflowInstance(ctx, workflowInstanceID)
	if err != nil {
		m.log.Error("failed to load instance for terminal write", "workflow_instance_id", workflowInstanceID, "error", err)
		return
	}
	if inst.Status.IsTerminal() {
		return
	}

	now := time.Now()
	inst.Status = status
	inst.CompletedAt = &now
	inst.Output = map[string]interface{}{
		"completion_time": now,
		"node_outputs":    wc.NodeOutputs,
		"execution_path":  wc.ExecutionPath,
	}
	if err := m.repo.UpdateWorkflowInstance(ctx, inst); err != nil {
		m.log.Error("failed to persist terminal status", "workflow_instance_id", workflowInstanceID, "error", err)
		return
	}

	if m.obs != nil {
		eventType := observer.EventTypeExecutionCompleted
		if status == domain.InstanceStatusFailed {
			eventType = observer.EventTypeExecutionFailed
		}
		m.obs.Notify(ctx, observer.Event{
			Type:        eventType,
			ExecutionID: workflowInstanceID,
			Timestamp:   now,
			Status:      string(status),
		})
	}
}

// scheduleDelayedCleanup implements the FAILED cleanup policy (§4.3):
// wait ~3s, retry up to two extra rounds while current_executing_nodes
// is non-empty, then force cleanup regardless.
func (m *Manager) scheduleDelayedCleanup(workflowInstanceID string) {
	m.cleanupMu.Lock()
	if _, scheduled := m.pendingCleanups[workflowInstanceID]; scheduled {
		m.cleanupMu.Unlock()
		return
	}
	m.pendingCleanups[workflowInstanceID] = struct{}{}
	m.cleanupMu.Unlock()

	go func() {
		defer func() {
			m.cleanupMu.Lock()
			delete(m.pendingCleanups, workflowInstanceID)
			m.cleanupMu.Unlock()
		}()

		const rounds = 3
		for i := 0; i < rounds; i++ {
			time.Sleep(3 * time.Second)
			wc := m.getContext(workflowInstanceID)
			if wc == nil {
				return
			}
			lock := m.lockFor(workflowInstanceID)
			lock.Lock()
			stillExecuting := len(wc.CurrentExecutingNodes) > 0
			lock.Unlock()
			if !stillExecuting {
				break
			}
		}
		m.Cleanup(workflowInstanceID)
	}()
}

// Cleanup removes the instance's context, the dependency manager's
// entries, and the lock itself (§4.3, invariant 7 §8).
func (m *Manager) Cleanup(workflowInstanceID string) {
	lock := m.lockFor(workflowInstanceID)
	lock.Lock()
	m.mu.Lock()
	delete(m.contexts, workflowInstanceID)
	m.mu.Unlock()
	lock.Unlock()

	m.deps.Cleanup(workflowInstanceID)
	m.locks.Delete(workflowInstanceID)
}

// UpstreamContext is the one-hop bundle §4.3 "Upstream context
// retrieval" returns.
type UpstreamContext struct {
	ImmediateUpstreamResults map[string]map[string]interface{}
	UpstreamNodeCount        int
	ExecutionPath            []string
	GlobalData               map[string]interface{}
	ExecutionStartTime       time.Time
}

// GetUpstreamContext returns the first-order dependency bundle for a
// node instance. Missing upstream outputs are reported as zero-length,
// never as an error (§4.3).
func (m *Manager) GetUpstreamContext(workflowInstanceID string, upstreamNodeIDs []string) *UpstreamContext {
	wc := m.getContext(workflowInstanceID)
	if wc == nil {
		return &UpstreamContext{ImmediateUpstreamResults: map[string]map[string]interface{}{}}
	}

	lock := m.lockFor(workflowInstanceID)
	lock.Lock()
	defer lock.Unlock()

	results := make(map[string]map[string]interface{}, len(upstreamNodeIDs))
	for _, nodeID := range upstreamNodeIDs {
		if out, ok := wc.NodeOutputs[nodeID]; ok {
			results[nodeID] = out
		} else {
			m.log.Warn("upstream output missing, degrading to empty", "workflow_instance_id", workflowInstanceID, "node_id", nodeID)
			results[nodeID] = map[string]interface{}{}
		}
	}

	pathCopy := make([]string, len(wc.ExecutionPath))
	copy(pathCopy, wc.ExecutionPath)

	return &UpstreamContext{
		ImmediateUpstreamResults: results,
		UpstreamNodeCount:        len(upstreamNodeIDs),
		ExecutionPath:            pathCopy,
		GlobalData:               wc.GlobalData,
		ExecutionStartTime:       wc.StartTime,
	}
}

// HasContext reports whether an instance still has live runtime state
// (used by callers that must tolerate "already cleaned up", §4.3).
func (m *Manager) HasContext(workflowInstanceID string) bool {
	return m.getContext(workflowInstanceID) != nil
}
