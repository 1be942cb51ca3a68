package rest

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/workflow-core/internal/application/subdivision"
	"github.com/smilemakc/workflow-core/internal/domain"
)

type subFakeSubdivisionRepo struct {
	mu        sync.Mutex
	subs      map[string]*domain.Subdivision
	adoptions []*domain.Adoption
}

func newSubFakeSubdivisionRepo() *subFakeSubdivisionRepo {
	return &subFakeSubdivisionRepo{subs: make(map[string]*domain.Subdivision)}
}

func (r *subFakeSubdivisionRepo) Create(ctx context.Context, s *domain.Subdivision) (*domain.Subdivision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[s.SubdivisionID] = s
	return s, nil
}
func (r *subFakeSubdivisionRepo) Get(ctx context.Context, subdivisionID string) (*domain.Subdivision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[subdivisionID], nil
}
func (r *subFakeSubdivisionRepo) ListByTask(ctx context.Context, taskID string, withInstancesOnly bool) ([]*domain.Subdivision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Subdivision
	for _, s := range r.subs {
		if s.OriginalTaskID == taskID {
			out = append(out, s)
		}
	}
	return out, nil
}
func (r *subFakeSubdivisionRepo) Update(ctx context.Context, s *domain.Subdivision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[s.SubdivisionID] = s
	return nil
}
func (r *subFakeSubdivisionRepo) UnselectSiblings(ctx context.Context, taskID string, exceptSubdivisionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.OriginalTaskID == taskID && s.SubdivisionID != exceptSubdivisionID {
			s.IsSelected = false
		}
	}
	return nil
}
func (r *subFakeSubdivisionRepo) DeleteExceptMostRecent(ctx context.Context, taskID string, keepCount int) error {
	return nil
}
func (r *subFakeSubdivisionRepo) CreateAdoption(ctx context.Context, a *domain.Adoption) (*domain.Adoption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adoptions = append(r.adoptions, a)
	return a, nil
}

var _ domain.SubdivisionRepository = (*subFakeSubdivisionRepo)(nil)

type subFakeInstanceStarter struct {
	started bool
}

func (f *subFakeInstanceStarter) StartInstance(ctx context.Context, workflowBaseID string, input map[string]interface{}, executorID, triggerUserID, instanceName string) (*domain.WorkflowInstance, error) {
	f.started = true
	return &domain.WorkflowInstance{InstanceID: "inst-1", WorkflowID: workflowBaseID}, nil
}

func newSubdivisionTestRouter(sub *subdivision.Service, repo domain.SubdivisionRepository) *gin.Engine {
	r := gin.New()
	rg := r.Group("/")
	NewSubdivisionHandlers(sub, repo).Register(rg)
	return r
}

func TestSubdivisionHandlers_Subdivide_RequiresUserIDHeader(t *testing.T) {
	instances := newTaskFakeInstanceRepo(&domain.TaskInstance{TaskID: "t1", AssignedUserID: "u1"})
	subs := newSubFakeSubdivisionRepo()
	svc := subdivision.New(taskTestLogger(), instances, newFakeWorkflowRepo(), subs, &subFakeInstanceStarter{})
	router := newSubdivisionTestRouter(svc, subs)

	body := `{"subdivision_name":"clarify","sub_workflow_data":{"name":"clarify","nodes":[{"key":"s1","name":"Start","type":"start"}]}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/task-subdivision/tasks/t1/subdivide", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, 401, w.Code)
}

func TestSubdivisionHandlers_Subdivide_Success(t *testing.T) {
	instances := newTaskFakeInstanceRepo(&domain.TaskInstance{TaskID: "t1", AssignedUserID: "u1"})
	subs := newSubFakeSubdivisionRepo()
	starter := &subFakeInstanceStarter{}
	svc := subdivision.New(taskTestLogger(), instances, newFakeWorkflowRepo(), subs, starter)
	router := newSubdivisionTestRouter(svc, subs)

	body := `{
		"subdivision_name":"clarify",
		"execute_immediately": true,
		"sub_workflow_data": {
			"name": "clarify amount",
			"nodes": [
				{"key":"s1","name":"Start","type":"start"},
				{"key":"e1","name":"End","type":"end"}
			],
			"edges": [
				{"from_node_key":"s1","to_node_key":"e1"}
			]
		}
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/task-subdivision/tasks/t1/subdivide", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	router.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	assert.True(t, starter.started)
	assert.Contains(t, w.Body.String(), "clarify")
}

func TestSubdivisionHandlers_Subdivide_UnknownEdgeKeyIsBadRequest(t *testing.T) {
	instances := newTaskFakeInstanceRepo(&domain.TaskInstance{TaskID: "t1", AssignedUserID: "u1"})
	subs := newSubFakeSubdivisionRepo()
	svc := subdivision.New(taskTestLogger(), instances, newFakeWorkflowRepo(), subs, &subFakeInstanceStarter{})
	router := newSubdivisionTestRouter(svc, subs)

	body := `{
		"subdivision_name":"clarify",
		"sub_workflow_data": {
			"name": "clarify amount",
			"nodes": [{"key":"s1","name":"Start","type":"start"}],
			"edges": [{"from_node_key":"s1","to_node_key":"does-not-exist"}]
		}
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/task-subdivision/tasks/t1/subdivide", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	router.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestSubdivisionHandlers_ListByTask(t *testing.T) {
	subs := newSubFakeSubdivisionRepo()
	subs.subs["a"] = &domain.Subdivision{SubdivisionID: "a", OriginalTaskID: "t1"}
	subs.subs["b"] = &domain.Subdivision{SubdivisionID: "b", OriginalTaskID: "t2"}
	svc := subdivision.New(taskTestLogger(), newTaskFakeInstanceRepo(), newFakeWorkflowRepo(), subs, &subFakeInstanceStarter{})
	router := newSubdivisionTestRouter(svc, subs)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/task-subdivision/tasks/t1/subdivisions", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"a"`)
	assert.NotContains(t, w.Body.String(), `"b"`)
}

func TestSubdivisionHandlers_Select(t *testing.T) {
	subs := newSubFakeSubdivisionRepo()
	subs.subs["a"] = &domain.Subdivision{SubdivisionID: "a", OriginalTaskID: "t1", IsSelected: true}
	subs.subs["b"] = &domain.Subdivision{SubdivisionID: "b", OriginalTaskID: "t1"}
	svc := subdivision.New(taskTestLogger(), newTaskFakeInstanceRepo(), newFakeWorkflowRepo(), subs, &subFakeInstanceStarter{})
	router := newSubdivisionTestRouter(svc, subs)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/task-subdivision/subdivisions/b/select", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	assert.False(t, subs.subs["a"].IsSelected)
	assert.True(t, subs.subs["b"].IsSelected)
}
