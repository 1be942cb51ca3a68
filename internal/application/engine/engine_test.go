package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/workflow-core/internal/application/dependency"
	"github.com/smilemakc/workflow-core/internal/application/observer"
	"github.com/smilemakc/workflow-core/internal/config"
	"github.com/smilemakc/workflow-core/internal/domain"
	"github.com/smilemakc/workflow-core/internal/infrastructure/logger"
)

type fakeWorkflowRepo struct {
	current map[string]*domain.Workflow
}

func (r *fakeWorkflowRepo) GetCurrentVersion(ctx context.Context, workflowBaseID string) (*domain.Workflow, error) {
	wf, ok := r.current[workflowBaseID]
	if !ok {
		return nil, nil
	}
	return wf, nil
}
func (r *fakeWorkflowRepo) GetVersion(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	return nil, nil
}
func (r *fakeWorkflowRepo) CreateNewVersion(ctx context.Context, workflowBaseID string, mutate func(next *domain.Workflow) error) (*domain.Workflow, error) {
	return nil, nil
}
func (r *fakeWorkflowRepo) CreateInitial(ctx context.Context, wf *domain.Workflow) (*domain.Workflow, error) {
	return wf, nil
}
func (r *fakeWorkflowRepo) CascadeDelete(ctx context.Context, workflowBaseID string, hard bool) (*domain.CascadeDeleteReport, error) {
	return &domain.CascadeDeleteReport{}, nil
}

type fakeInstanceRepo struct {
	mu            sync.Mutex
	instances     map[string]*domain.WorkflowInstance
	nodeInstances map[string]*domain.NodeInstance
	tasks         map[string]*domain.TaskInstance
}

func newFakeInstanceRepo() *fakeInstanceRepo {
	return &fakeInstanceRepo{
		instances:     make(map[string]*domain.WorkflowInstance),
		nodeInstances: make(map[string]*domain.NodeInstance),
		tasks:         make(map[string]*domain.TaskInstance),
	}
}

func (r *fakeInstanceRepo) CreateWorkflowInstance(ctx context.Context, inst *domain.WorkflowInstance) (*domain.WorkflowInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.InstanceID] = inst
	return inst, nil
}
func (r *fakeInstanceRepo) UpdateWorkflowInstance(ctx context.Context, inst *domain.WorkflowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.InstanceID] = inst
	return nil
}
func (r *fakeInstanceRepo) GetWorkflowInstance(ctx context.Context, instanceID string) (*domain.WorkflowInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instances[instanceID], nil
}
func (r *fakeInstanceRepo) CreateNodeInstance(ctx context.Context, ni *domain.NodeInstance) (*domain.NodeInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodeInstances[ni.NodeInstanceID] = ni
	return ni, nil
}
func (r *fakeInstanceRepo) UpdateNodeInstance(ctx context.Context, ni *domain.NodeInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodeInstances[ni.NodeInstanceID] = ni
	return nil
}
func (r *fakeInstanceRepo) GetNodeInstance(ctx context.Context, nodeInstanceID string) (*domain.NodeInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodeInstances[nodeInstanceID], nil
}
func (r *fakeInstanceRepo) ListNodeInstances(ctx context.Context, instanceID string) ([]*domain.NodeInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.NodeInstance
	for _, ni := range r.nodeInstances {
		if ni.InstanceID == instanceID {
			out = append(out, ni)
		}
	}
	return out, nil
}
func (r *fakeInstanceRepo) AllNodeInstancesCompleted(ctx context.Context, instanceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ni := range r.nodeInstances {
		if ni.InstanceID == instanceID && ni.Status != domain.NodeInstanceStatusCompleted {
			return false, nil
		}
	}
	return true, nil
}
func (r *fakeInstanceRepo) CreateTask(ctx context.Context, t *domain.TaskInstance) (*domain.TaskInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.TaskID] = t
	return t, nil
}
func (r *fakeInstanceRepo) UpdateTask(ctx context.Context, t *domain.TaskInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.TaskID] = t
	return nil
}
func (r *fakeInstanceRepo) GetTask(ctx context.Context, taskID string) (*domain.TaskInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[taskID], nil
}
func (r *fakeInstanceRepo) ListTasksByNodeInstance(ctx context.Context, nodeInstanceID string) ([]*domain.TaskInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.TaskInstance
	for _, t := range r.tasks {
		if t.NodeInstanceID == nodeInstanceID {
			out = append(out, t)
		}
	}
	return out, nil
}
func (r *fakeInstanceRepo) ListTasksByUser(ctx context.Context, userID string, statusFilter domain.TaskStatus, limit int) ([]*domain.TaskInstance, error) {
	return nil, nil
}

func (r *fakeInstanceRepo) ListRunningInstances(ctx context.Context) ([]*domain.WorkflowInstance, error) {
	return nil, nil
}

type recordingDispatcher struct {
	mu       sync.Mutex
	received []*domain.TaskInstance
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, task *domain.TaskInstance) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received = append(d.received, task)
	return nil
}
func (d *recordingDispatcher) Cancel(ctx context.Context, task *domain.TaskInstance) error { return nil }

func testLogger() *logger.Logger {
	return logger.New(config.LoggingConfig{Level: "error", Format: "text"})
}

// linearWorkflow builds start -> work -> end, with one human binding on
// "work".
func linearWorkflow(baseID string) *domain.Workflow {
	proc := &domain.Processor{ProcessorID: "proc-1", Kind: domain.ProcessorKindHuman, UserID: "user-1", Name: "Reviewer"}
	nodes := []*domain.Node{
		{NodeID: "start", Name: "Start", Type: domain.NodeTypeStart},
		{NodeID: "work", Name: "Work", Type: domain.NodeTypeProcessor, Bindings: []*domain.ProcessorBinding{
			{BindingID: "b1", NodeID: "work", ProcessorID: "proc-1", Processor: proc},
		}},
		{NodeID: "end", Name: "End", Type: domain.NodeTypeEnd},
	}
	edges := []*domain.Edge{
		{EdgeID: "e1", FromNodeID: "start", ToNodeID: "work", Type: domain.EdgeTypeNormal},
		{EdgeID: "e2", FromNodeID: "work", ToNodeID: "end", Type: domain.EdgeTypeNormal},
	}
	return &domain.Workflow{
		WorkflowID:       uuid.NewString(),
		WorkflowBaseID:   baseID,
		Version:          1,
		Name:             "Linear",
		IsCurrentVersion: true,
		Nodes:            nodes,
		Edges:            edges,
	}
}

func newTestEngine() (*Engine, *fakeInstanceRepo, *recordingDispatcher) {
	wfRepo := &fakeWorkflowRepo{current: make(map[string]*domain.Workflow)}
	instRepo := newFakeInstanceRepo()
	deps := dependency.NewManager()
	obs := observer.NewObserverManager()
	e := New(testLogger(), wfRepo, instRepo, deps, obs)
	dispatcher := &recordingDispatcher{}
	e.RegisterDispatcher(domain.ProcessorKindHuman, dispatcher)
	return e, instRepo, dispatcher
}

func TestStartInstance_DispatchesStartAndHumanNode(t *testing.T) {
	e, instRepo, dispatcher := newTestEngine()
	wf := linearWorkflow("base-1")
	e.workflowRepo.(*fakeWorkflowRepo).current["base-1"] = wf

	inst, err := e.StartInstance(context.Background(), "base-1", map[string]interface{}{"a": 1}, "exec-1", "user-1", "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceStatusRunning, inst.Status)

	require.Eventually(t, func() bool {
		dispatcher.mu.Lock()
		defer dispatcher.mu.Unlock()
		return len(dispatcher.received) == 1
	}, time.Second, 10*time.Millisecond)

	nodeInstances, err := instRepo.ListNodeInstances(context.Background(), inst.InstanceID)
	require.NoError(t, err)

	var startStatus, workStatus domain.NodeInstanceStatus
	for _, ni := range nodeInstances {
		switch ni.NodeID {
		case "start":
			startStatus = ni.Status
		case "work":
			workStatus = ni.Status
		}
	}
	assert.Equal(t, domain.NodeInstanceStatusCompleted, startStatus)
	assert.Equal(t, domain.NodeInstanceStatusRunning, workStatus)
}

func TestNodeCompletionCheck_CompletesNodeAndReachesEnd(t *testing.T) {
	e, instRepo, dispatcher := newTestEngine()
	wf := linearWorkflow("base-2")
	e.workflowRepo.(*fakeWorkflowRepo).current["base-2"] = wf

	inst, err := e.StartInstance(context.Background(), "base-2", nil, "exec-1", "user-1", "run-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		dispatcher.mu.Lock()
		defer dispatcher.mu.Unlock()
		return len(dispatcher.received) == 1
	}, time.Second, 10*time.Millisecond)

	dispatcher.mu.Lock()
	task := dispatcher.received[0]
	dispatcher.mu.Unlock()

	task.Status = domain.TaskStatusCompleted
	task.ResultData = map[string]interface{}{"ok": true}
	now := time.Now()
	task.CompletedAt = &now
	require.NoError(t, instRepo.UpdateTask(context.Background(), task))

	require.NoError(t, e.NodeCompletionCheck(context.Background(), task.TaskID))

	require.Eventually(t, func() bool {
		got, err := instRepo.GetWorkflowInstance(context.Background(), inst.InstanceID)
		require.NoError(t, err)
		return got.Status == domain.InstanceStatusCompleted
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCancel_MarksNonTerminalNodesAndTasksCancelled(t *testing.T) {
	e, instRepo, dispatcher := newTestEngine()
	wf := linearWorkflow("base-3")
	e.workflowRepo.(*fakeWorkflowRepo).current["base-3"] = wf

	inst, err := e.StartInstance(context.Background(), "base-3", nil, "exec-1", "user-1", "run-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		dispatcher.mu.Lock()
		defer dispatcher.mu.Unlock()
		return len(dispatcher.received) == 1
	}, time.Second, 10*time.Millisecond)

	cancelled, err := e.Cancel(context.Background(), inst.InstanceID, "user requested cancellation")
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	got, err := instRepo.GetWorkflowInstance(context.Background(), inst.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceStatusCancelled, got.Status)
}

func TestDispatchNode_SkipsWhenConditionalEdgeFalse(t *testing.T) {
	e, instRepo, dispatcher := newTestEngine()
	proc := &domain.Processor{ProcessorID: "proc-1", Kind: domain.ProcessorKindHuman, UserID: "user-1", Name: "Reviewer"}
	wf := &domain.Workflow{
		WorkflowID:       uuid.NewString(),
		WorkflowBaseID:   "base-4",
		IsCurrentVersion: true,
		Nodes: []*domain.Node{
			{NodeID: "start", Name: "Start", Type: domain.NodeTypeStart},
			{NodeID: "gated", Name: "Gated", Type: domain.NodeTypeProcessor, Bindings: []*domain.ProcessorBinding{
				{BindingID: "b1", NodeID: "gated", ProcessorID: "proc-1", Processor: proc},
			}},
		},
		Edges: []*domain.Edge{
			{EdgeID: "e1", FromNodeID: "start", ToNodeID: "gated", Type: domain.EdgeTypeConditional, Condition: "output.approved == true"},
		},
	}
	e.workflowRepo.(*fakeWorkflowRepo).current["base-4"] = wf

	inst, err := e.StartInstance(context.Background(), "base-4", nil, "exec-1", "user-1", "run-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		nodeInstances, err := instRepo.ListNodeInstances(context.Background(), inst.InstanceID)
		require.NoError(t, err)
		for _, ni := range nodeInstances {
			if ni.NodeID == "gated" {
				return ni.Status == domain.NodeInstanceStatusCompleted
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	assert.Empty(t, dispatcher.received, "gated node should never reach the dispatcher because its condition was unmet")
}
