package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/smilemakc/workflow-core/internal/domain"
	"github.com/smilemakc/workflow-core/testutil"
)

func setupSubdivisionRepoTest(t *testing.T) (*SubdivisionRepository, bun.IDB, func()) {
	t.Helper()
	db, cleanup := testutil.SetupTestTx(t)
	return NewSubdivisionRepository(db), db, cleanup
}

// seedTask builds the full workflow/instance/node-instance/processor/task
// chain subdivisions' foreign keys require.
func seedTask(t *testing.T, db bun.IDB) *domain.TaskInstance {
	t.Helper()
	wf, node := seedWorkflowAndNode(t, db)
	instRepo := NewInstanceRepository(db)
	inst, err := instRepo.CreateWorkflowInstance(context.Background(), &domain.WorkflowInstance{
		WorkflowID: wf.WorkflowID,
		ExecutorID: "exec-1",
		Status:     domain.InstanceStatusRunning,
	})
	require.NoError(t, err)
	ni, err := instRepo.CreateNodeInstance(context.Background(), &domain.NodeInstance{
		InstanceID: inst.InstanceID,
		NodeID:     node.NodeID,
		Status:     domain.NodeInstanceStatusRunning,
	})
	require.NoError(t, err)
	proc := seedProcessor(t, db)
	task, err := instRepo.CreateTask(context.Background(), &domain.TaskInstance{
		NodeInstanceID: ni.NodeInstanceID,
		ProcessorID:    proc.ProcessorID,
		ProcessorKind:  domain.ProcessorKindHuman,
		AssignedUserID: "user-1",
		Status:         domain.TaskStatusInProgress,
	})
	require.NoError(t, err)
	return task
}

func TestSubdivisionRepo_CreateAndGet(t *testing.T) {
	t.Parallel()
	repo, db, cleanup := setupSubdivisionRepoTest(t)
	defer cleanup()

	task := seedTask(t, db)
	sub, err := repo.Create(context.Background(), &domain.Subdivision{
		OriginalTaskID:    task.TaskID,
		SubWorkflowBaseID: "sub-base-1",
		Name:              "investigate anomaly",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.SubdivisionID)

	got, err := repo.Get(context.Background(), sub.SubdivisionID)
	require.NoError(t, err)
	assert.Equal(t, "investigate anomaly", got.Name)
}

func TestSubdivisionRepo_UnselectSiblings(t *testing.T) {
	t.Parallel()
	repo, db, cleanup := setupSubdivisionRepoTest(t)
	defer cleanup()

	task := seedTask(t, db)
	a, err := repo.Create(context.Background(), &domain.Subdivision{OriginalTaskID: task.TaskID, SubWorkflowBaseID: "base-a", IsSelected: true})
	require.NoError(t, err)
	b, err := repo.Create(context.Background(), &domain.Subdivision{OriginalTaskID: task.TaskID, SubWorkflowBaseID: "base-b"})
	require.NoError(t, err)

	require.NoError(t, repo.UnselectSiblings(context.Background(), task.TaskID, b.SubdivisionID))

	stillSelected, err := repo.Get(context.Background(), a.SubdivisionID)
	require.NoError(t, err)
	assert.False(t, stillSelected.IsSelected)

	unaffected, err := repo.Get(context.Background(), b.SubdivisionID)
	require.NoError(t, err)
	assert.False(t, unaffected.IsSelected)
}

func TestSubdivisionRepo_DeleteExceptMostRecent_RetainsSelected(t *testing.T) {
	t.Parallel()
	repo, db, cleanup := setupSubdivisionRepoTest(t)
	defer cleanup()

	task := seedTask(t, db)
	var ids []string
	for i := 0; i < 4; i++ {
		s, err := repo.Create(context.Background(), &domain.Subdivision{
			OriginalTaskID:    task.TaskID,
			SubWorkflowBaseID: "base",
		})
		require.NoError(t, err)
		ids = append(ids, s.SubdivisionID)
	}
	// mark the oldest as selected — it must survive cleanup even though
	// it would otherwise fall outside the retained window.
	oldest, err := repo.Get(context.Background(), ids[0])
	require.NoError(t, err)
	oldest.IsSelected = true
	require.NoError(t, repo.Update(context.Background(), oldest))

	require.NoError(t, repo.DeleteExceptMostRecent(context.Background(), task.TaskID, 1))

	remaining, err := repo.ListByTask(context.Background(), task.TaskID, false)
	require.NoError(t, err)
	remainingIDs := make(map[string]bool, len(remaining))
	for _, r := range remaining {
		remainingIDs[r.SubdivisionID] = true
	}
	assert.True(t, remainingIDs[ids[0]], "selected subdivision must survive cleanup")
	assert.True(t, remainingIDs[ids[3]], "most recent subdivision must survive cleanup")
	assert.False(t, remainingIDs[ids[1]])
}

func TestSubdivisionRepo_CreateAdoption(t *testing.T) {
	t.Parallel()
	repo, db, cleanup := setupSubdivisionRepoTest(t)
	defer cleanup()

	wfRepo := NewWorkflowRepository(db.(*bun.DB))
	parent, err := wfRepo.CreateInitial(context.Background(), &domain.Workflow{
		Name:  "parent workflow",
		Nodes: []*domain.Node{{Name: "target", Type: domain.NodeTypeProcessor}},
	})
	require.NoError(t, err)

	task := seedTask(t, db)
	sub, err := repo.Create(context.Background(), &domain.Subdivision{OriginalTaskID: task.TaskID, SubWorkflowBaseID: "base"})
	require.NoError(t, err)

	adoption, err := repo.CreateAdoption(context.Background(), &domain.Adoption{
		SubdivisionID:    sub.SubdivisionID,
		ParentWorkflowID: parent.WorkflowID,
		TargetNodeID:     parent.Nodes[0].NodeID,
		Name:             "adopt review",
		AddedNodeIDs:     []string{"n1", "n2"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, adoption.AdoptionID)
}
