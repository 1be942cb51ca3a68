package workflowctx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/workflow-core/internal/application/dependency"
	"github.com/smilemakc/workflow-core/internal/application/observer"
	"github.com/smilemakc/workflow-core/internal/config"
	"github.com/smilemakc/workflow-core/internal/domain"
	"github.com/smilemakc/workflow-core/internal/infrastructure/logger"
)

type fakeRepo struct {
	mu        sync.Mutex
	instances map[string]*domain.WorkflowInstance
	allDone   bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{instances: make(map[string]*domain.WorkflowInstance)}
}

func (f *fakeRepo) AllNodeInstancesCompleted(ctx context.Context, instanceID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allDone, nil
}

func (f *fakeRepo) UpdateWorkflowInstance(ctx context.Context, inst *domain.WorkflowInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[inst.InstanceID] = inst
	return nil
}

func (f *fakeRepo) GetWorkflowInstance(ctx context.Context, instanceID string) (*domain.WorkflowInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.instances[instanceID]; ok {
		return inst, nil
	}
	return &domain.WorkflowInstance{InstanceID: instanceID, Status: domain.InstanceStatusRunning}, nil
}

func (f *fakeRepo) ListNodeInstances(ctx context.Context, instanceID string) ([]*domain.NodeInstance, error) {
	return nil, nil
}

func (f *fakeRepo) UpdateNodeInstance(ctx context.Context, ni *domain.NodeInstance) error { return nil }

func testLogger() *logger.Logger {
	return logger.New(config.LoggingConfig{Level: "error", Format: "text"})
}

func newManager(t *testing.T) (*Manager, *fakeRepo, *[]string) {
	deps := dependency.NewManager()
	repo := newFakeRepo()
	obs := observer.NewObserverManager()
	var ready []string
	var mu sync.Mutex
	m := New(testLogger(), deps, repo, obs, func(workflowInstanceID string, nodeInstanceIDs []string) {
		mu.Lock()
		ready = append(ready, nodeInstanceIDs...)
		mu.Unlock()
	})
	return m, repo, &ready
}

func TestInitialize_CreatesEmptyContext(t *testing.T) {
	m, _, _ := newManager(t)
	m.Initialize("wi1", 3)
	assert.True(t, m.HasContext("wi1"))
}

func TestMarkCompleted_AppendsExecutionPathAndStoresOutput(t *testing.T) {
	m, repo, _ := newManager(t)
	repo.allDone = true
	m.Initialize("wi1", 1)

	m.MarkCompleted(context.Background(), "wi1", "S", "ni-s", map[string]interface{}{"x": 1})

	// Completed + verified done -> context cleaned up immediately.
	require.Eventually(t, func() bool { return !m.HasContext("wi1") }, 2*time.Second, 10*time.Millisecond)

	inst, err := repo.GetWorkflowInstance(context.Background(), "wi1")
	require.NoError(t, err)
	assert.Equal(t, []string{"S"}, inst.Output["execution_path"])
	assert.Equal(t, map[string]map[string]interface{}{"S": {"x": 1}}, inst.Output["node_outputs"])
}

func TestMarkCompleted_NotAllDoneStaysRunning(t *testing.T) {
	m, repo, _ := newManager(t)
	repo.allDone = false
	m.Initialize("wi1", 2)

	m.MarkCompleted(context.Background(), "wi1", "S", "ni-s", map[string]interface{}{})

	assert.True(t, m.HasContext("wi1"))
}

func TestMarkFailed_SchedulesDelayedCleanup(t *testing.T) {
	m, _, _ := newManager(t)
	m.Initialize("wi1", 2)

	m.MarkFailed(context.Background(), "wi1", "A", "boom")

	assert.True(t, m.HasContext("wi1"))
	require.Eventually(t, func() bool { return !m.HasContext("wi1") }, 15*time.Second, 100*time.Millisecond)
}

func TestGetUpstreamContext_MissingOutputDegradesToEmpty(t *testing.T) {
	m, _, _ := newManager(t)
	m.Initialize("wi1", 2)

	upstream := m.GetUpstreamContext("wi1", []string{"missing-node"})
	require.NotNil(t, upstream)
	assert.Contains(t, upstream.ImmediateUpstreamResults, "missing-node")
	assert.Empty(t, upstream.ImmediateUpstreamResults["missing-node"])
}

func TestCleanup_RemovesContextAndDependencies(t *testing.T) {
	m, _, _ := newManager(t)
	m.Initialize("wi1", 1)
	m.Cleanup("wi1")
	assert.False(t, m.HasContext("wi1"))
}
