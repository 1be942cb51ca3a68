package human

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/workflow-core/internal/config"
	"github.com/smilemakc/workflow-core/internal/domain"
	"github.com/smilemakc/workflow-core/internal/infrastructure/logger"
)

type fakeInstanceRepo struct {
	mu    sync.Mutex
	tasks map[string]*domain.TaskInstance
}

func newFakeRepo(tasks ...*domain.TaskInstance) *fakeInstanceRepo {
	r := &fakeInstanceRepo{tasks: make(map[string]*domain.TaskInstance)}
	for _, t := range tasks {
		r.tasks[t.TaskID] = t
	}
	return r
}

func (r *fakeInstanceRepo) CreateWorkflowInstance(ctx context.Context, inst *domain.WorkflowInstance) (*domain.WorkflowInstance, error) {
	return inst, nil
}
func (r *fakeInstanceRepo) UpdateWorkflowInstance(ctx context.Context, inst *domain.WorkflowInstance) error {
	return nil
}
func (r *fakeInstanceRepo) GetWorkflowInstance(ctx context.Context, instanceID string) (*domain.WorkflowInstance, error) {
	return nil, nil
}
func (r *fakeInstanceRepo) CreateNodeInstance(ctx context.Context, ni *domain.NodeInstance) (*domain.NodeInstance, error) {
	return ni, nil
}
func (r *fakeInstanceRepo) UpdateNodeInstance(ctx context.Context, ni *domain.NodeInstance) error {
	return nil
}
func (r *fakeInstanceRepo) GetNodeInstance(ctx context.Context, nodeInstanceID string) (*domain.NodeInstance, error) {
	return nil, nil
}
func (r *fakeInstanceRepo) ListNodeInstances(ctx context.Context, instanceID string) ([]*domain.NodeInstance, error) {
	return nil, nil
}
func (r *fakeInstanceRepo) AllNodeInstancesCompleted(ctx context.Context, instanceID string) (bool, error) {
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
	return nil, nil
}
func (r *fakeInstanceRepo) ListTasksByUser(ctx context.Context, userID string, statusFilter domain.TaskStatus, limit int) ([]*domain.TaskInstance, error) {
	var out []*domain.TaskInstance
	for _, t := range r.tasks {
		if t.AssignedUserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeInstanceRepo) ListRunningInstances(ctx context.Context) ([]*domain.WorkflowInstance, error) {
	return nil, nil
}

type fakeChecker struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeChecker) NodeCompletionCheck(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, taskID)
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(config.LoggingConfig{Level: "error", Format: "text"})
}

func TestStart_TransitionsAssignedToInProgress(t *testing.T) {
	task := &domain.TaskInstance{TaskID: "t1", AssignedUserID: "u1", Status: domain.TaskStatusAssigned}
	repo := newFakeRepo(task)
	svc := New(testLogger(), repo, &fakeChecker{})

	got, err := svc.Start(context.Background(), "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusInProgress, got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestStart_WrongUserIsUnauthorised(t *testing.T) {
	task := &domain.TaskInstance{TaskID: "t1", AssignedUserID: "u1", Status: domain.TaskStatusAssigned}
	repo := newFakeRepo(task)
	svc := New(testLogger(), repo, &fakeChecker{})

	_, err := svc.Start(context.Background(), "t1", "someone-else")
	require.Error(t, err)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}

func TestSubmit_RequiresInProgressAndInvokesNodeCompletionCheck(t *testing.T) {
	task := &domain.TaskInstance{TaskID: "t1", AssignedUserID: "u1", Status: domain.TaskStatusInProgress}
	repo := newFakeRepo(task)
	checker := &fakeChecker{}
	svc := New(testLogger(), repo, checker)

	got, err := svc.Submit(context.Background(), "t1", "u1", map[string]interface{}{"ok": true}, "done")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, []string{"t1"}, checker.calls)
}

func TestSubmit_FromWrongStatusIsConflict(t *testing.T) {
	task := &domain.TaskInstance{TaskID: "t1", AssignedUserID: "u1", Status: domain.TaskStatusPending}
	repo := newFakeRepo(task)
	svc := New(testLogger(), repo, &fakeChecker{})

	_, err := svc.Submit(context.Background(), "t1", "u1", nil, "")
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestPause_ReturnsToAssignedWithReason(t *testing.T) {
	task := &domain.TaskInstance{TaskID: "t1", AssignedUserID: "u1", Status: domain.TaskStatusInProgress}
	repo := newFakeRepo(task)
	svc := New(testLogger(), repo, &fakeChecker{})

	got, err := svc.Pause(context.Background(), "t1", "u1", "need more info")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusAssigned, got.Status)
	assert.Equal(t, "need more info", got.FailureReason)
}

func TestReject_MarksFailedAndNotifiesEngine(t *testing.T) {
	task := &domain.TaskInstance{TaskID: "t1", AssignedUserID: "u1", Status: domain.TaskStatusInProgress}
	repo := newFakeRepo(task)
	checker := &fakeChecker{}
	svc := New(testLogger(), repo, checker)

	got, err := svc.Reject(context.Background(), "t1", "u1", "cannot complete")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, []string{"t1"}, checker.calls)
}

func TestDispatch_AssignsTaskImmediately(t *testing.T) {
	task := &domain.TaskInstance{TaskID: "t1", AssignedUserID: "u1", Status: domain.TaskStatusPending}
	repo := newFakeRepo(task)
	svc := New(testLogger(), repo, &fakeChecker{})

	require.NoError(t, svc.Dispatch(context.Background(), task))
	assert.Equal(t, domain.TaskStatusAssigned, task.Status)
	require.NotNil(t, task.AssignedAt)
}
