// Package subdivision implements the subdivision service (spec §4.8):
// spawning a sub-workflow from a running task, selecting among several
// candidate sub-workflows, adopting the selected one into the parent
// workflow's graph as a new version, and the housekeeping around a
// task's accumulated subdivisions.
package subdivision

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/workflow-core/internal/domain"
	"github.com/smilemakc/workflow-core/internal/infrastructure/logger"
)

// InstanceStarter is the narrow slice of the engine this service calls
// into for Create-subdivision's execute_immediately path, kept narrow
// so this package never imports the engine package (spec §9).
type InstanceStarter interface {
	StartInstance(ctx context.Context, workflowBaseID string, input map[string]interface{}, executorID, triggerUserID, instanceName string) (*domain.WorkflowInstance, error)
}

// Service implements §4.8's five operations.
type Service struct {
	log          *logger.Logger
	instances    domain.InstanceRepository
	workflows    domain.WorkflowRepository
	subdivisions domain.SubdivisionRepository
	engine       InstanceStarter
}

// New constructs a subdivision service.
func New(
	log *logger.Logger,
	instances domain.InstanceRepository,
	workflows domain.WorkflowRepository,
	subdivisions domain.SubdivisionRepository,
	engine InstanceStarter,
) *Service {
	return &Service{
		log:          log,
		instances:    instances,
		workflows:    workflows,
		subdivisions: subdivisions,
		engine:       engine,
	}
}

// SubWorkflowDefinition is the nodes/edges/processor-bindings payload a
// caller supplies to Create-subdivision; it is persisted as-is as a
// brand-new top-level workflow (version 1).
type SubWorkflowDefinition struct {
	Name        string
	Description string
	Variables   map[string]interface{}
	Nodes       []*domain.Node
	Edges       []*domain.Edge
}

// CreateSubdivision implements §4.8 Create-subdivision.
func (s *Service) CreateSubdivision(
	ctx context.Context,
	originalTaskID string,
	userID string,
	def SubWorkflowDefinition,
	contextToPass map[string]interface{},
	parentSubdivisionID string,
	executeImmediately bool,
	executorID string,
) (*domain.Subdivision, error) {
	task, err := s.instances.GetTask(ctx, originalTaskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.NewNotFoundError("task not found: " + originalTaskID)
	}
	if task.AssignedUserID != userID {
		return nil, domain.NewAuthorizationError("user " + userID + " is not assignee of task " + originalTaskID)
	}

	subWorkflow := &domain.Workflow{
		WorkflowID:       uuid.NewString(),
		WorkflowBaseID:   uuid.NewString(),
		Version:          1,
		Name:             def.Name,
		Description:      def.Description,
		CreatorID:        userID,
		IsCurrentVersion: true,
		Variables:        def.Variables,
		Nodes:            def.Nodes,
		Edges:            def.Edges,
	}
	created, err := s.workflows.CreateInitial(ctx, subWorkflow)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sub := &domain.Subdivision{
		SubdivisionID:       uuid.NewString(),
		OriginalTaskID:      originalTaskID,
		SubWorkflowBaseID:   created.WorkflowBaseID,
		ParentSubdivisionID: parentSubdivisionID,
		Name:                def.Name,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	sub, err = s.subdivisions.Create(ctx, sub)
	if err != nil {
		return nil, err
	}

	if executeImmediately {
		input := contextToPass
		if input == nil {
			input = map[string]interface{}{}
		}
		inst, err := s.engine.StartInstance(ctx, created.WorkflowBaseID, input, executorID, userID, def.Name)
		if err != nil {
			s.log.Error("failed to start subdivision instance", "subdivision_id", sub.SubdivisionID, "error", err)
			return sub, nil
		}
		sub.SubInstanceID = inst.InstanceID
		sub.UpdatedAt = time.Now()
		if err := s.subdivisions.Update(ctx, sub); err != nil {
			s.log.Error("failed to record subdivision instance id", "subdivision_id", sub.SubdivisionID, "error", err)
		}
	}

	return sub, nil
}

// SelectSubdivision implements §4.8 Select-subdivision: marks exactly
// one subdivision of a task as selected, unmarking any sibling.
func (s *Service) SelectSubdivision(ctx context.Context, subdivisionID string) (*domain.Subdivision, error) {
	sub, err := s.subdivisions.Get(ctx, subdivisionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.NewNotFoundError("subdivision not found: " + subdivisionID)
	}
	if err := s.subdivisions.UnselectSiblings(ctx, sub.OriginalTaskID, subdivisionID); err != nil {
		return nil, err
	}
	sub.IsSelected = true
	sub.UpdatedAt = time.Now()
	if err := s.subdivisions.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// AdoptSubdivision implements §4.8 Adopt-subdivision: splices the
// subdivision's node graph into a new version of the parent workflow,
// replacing target_node_id.
func (s *Service) AdoptSubdivision(
	ctx context.Context,
	subdivisionID string,
	originalWorkflowBaseID string,
	targetNodeID string,
	adoptionName string,
) (*domain.Workflow, *domain.Adoption, error) {
	sub, err := s.subdivisions.Get(ctx, subdivisionID)
	if err != nil {
		return nil, nil, err
	}
	if sub == nil {
		return nil, nil, domain.NewNotFoundError("subdivision not found: " + subdivisionID)
	}

	subWorkflow, err := s.workflows.GetCurrentVersion(ctx, sub.SubWorkflowBaseID)
	if err != nil {
		return nil, nil, err
	}

	var addedNodeIDs []string
	newParent, err := s.workflows.CreateNewVersion(ctx, originalWorkflowBaseID, func(next *domain.Workflow) error {
		ids, err := spliceGraph(next, targetNodeID, subWorkflow)
		if err != nil {
			return err
		}
		addedNodeIDs = ids
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	adoption := &domain.Adoption{
		AdoptionID:       uuid.NewString(),
		SubdivisionID:    subdivisionID,
		ParentWorkflowID: newParent.WorkflowID,
		TargetNodeID:     targetNodeID,
		Name:             adoptionName,
		AddedNodeIDs:     addedNodeIDs,
		CreatedAt:        time.Now(),
	}
	if _, err := s.subdivisions.CreateAdoption(ctx, adoption); err != nil {
		return nil, nil, err
	}

	return newParent, adoption, nil
}

// GetHierarchy implements §4.8 Get-hierarchy: the full subdivision tree
// rooted at subdivisionID's task, as a depth-map plus flat list.
func (s *Service) GetHierarchy(ctx context.Context, subdivisionID string) (*domain.SubdivisionHierarchy, error) {
	root, err := s.subdivisions.Get(ctx, subdivisionID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, domain.NewNotFoundError("subdivision not found: " + subdivisionID)
	}

	all, err := s.subdivisions.ListByTask(ctx, root.OriginalTaskID, false)
	if err != nil {
		return nil, err
	}

	byParent := make(map[string][]*domain.Subdivision)
	for _, sd := range all {
		byParent[sd.ParentSubdivisionID] = append(byParent[sd.ParentSubdivisionID], sd)
	}

	hierarchy := &domain.SubdivisionHierarchy{Depth: make(map[string]int)}
	var walk func(parentID string, depth int)
	walk = func(parentID string, depth int) {
		for _, sd := range byParent[parentID] {
			hierarchy.Nodes = append(hierarchy.Nodes, domain.HierarchyNode{Subdivision: sd, Depth: depth})
			hierarchy.Depth[sd.SubdivisionID] = depth
			walk(sd.SubdivisionID, depth+1)
		}
	}
	walk("", 0)

	return hierarchy, nil
}

// CleanupUnselected implements §4.8 Cleanup-unselected.
func (s *Service) CleanupUnselected(ctx context.Context, taskID string, keepCount int) error {
	return s.subdivisions.DeleteExceptMostRecent(ctx, taskID, keepCount)
}
