package domain

import "context"

// WorkflowRepository is the version-aware persistence contract for
// workflow/node/edge/processor definitions (§4.1).
type WorkflowRepository interface {
	// GetCurrentVersion returns the row with is_current_version ∧
	// ¬is_deleted for the given base id. More than one such row is a
	// data-corruption bug and the repository returns a KindConflict
	// CoreError rather than picking one silently.
	GetCurrentVersion(ctx context.Context, workflowBaseID string) (*Workflow, error)
	GetVersion(ctx context.Context, workflowID string) (*Workflow, error)

	// CreateNewVersion performs the atomic copy-then-mutate described
	// in §4.1: marks the prior current row non-current, copies it with
	// Version+1 and ParentVersionID set, deep-copies nodes/edges/
	// bindings with a fresh old→new node id map applied to edges, and
	// commits the whole thing in one transaction. mutate is applied to
	// the in-memory copy before it is persisted (e.g. subdivision
	// adoption's node/edge splice, or a plain metadata edit).
	CreateNewVersion(ctx context.Context, workflowBaseID string, mutate func(next *Workflow) error) (*Workflow, error)

	// CreateInitial persists a brand-new workflow (version 1), used by
	// the subdivision service to register a sub-workflow as a top-level
	// workflow in its own right (§4.8 Create-subdivision).
	CreateInitial(ctx context.Context, wf *Workflow) (*Workflow, error)

	// CascadeDelete removes (soft or hard) a workflow_base_id and every
	// instance/task/subdivision reachable from it, per §4.1.
	CascadeDelete(ctx context.Context, workflowBaseID string, hard bool) (*CascadeDeleteReport, error)
}

// ProcessorRepository manages processor rows referenced by node
// bindings. Foreign-key discipline (§4.1): deleting a processor clears
// (not cascades) bindings that reference it.
type ProcessorRepository interface {
	Get(ctx context.Context, processorID string) (*Processor, error)
	Create(ctx context.Context, p *Processor) (*Processor, error)
	Delete(ctx context.Context, processorID string) error
}

// InstanceRepository is the append-only persistence contract for
// workflow/node/task instances.
type InstanceRepository interface {
	CreateWorkflowInstance(ctx context.Context, inst *WorkflowInstance) (*WorkflowInstance, error)
	UpdateWorkflowInstance(ctx context.Context, inst *WorkflowInstance) error
	GetWorkflowInstance(ctx context.Context, instanceID string) (*WorkflowInstance, error)

	CreateNodeInstance(ctx context.Context, ni *NodeInstance) (*NodeInstance, error)
	UpdateNodeInstance(ctx context.Context, ni *NodeInstance) error
	GetNodeInstance(ctx context.Context, nodeInstanceID string) (*NodeInstance, error)
	ListNodeInstances(ctx context.Context, instanceID string) ([]*NodeInstance, error)
	// AllNodeInstancesCompleted re-queries the database for the
	// verification pass §4.3 requires before declaring COMPLETED: it
	// does not trust in-memory counts alone.
	AllNodeInstancesCompleted(ctx context.Context, instanceID string) (bool, error)

	CreateTask(ctx context.Context, t *TaskInstance) (*TaskInstance, error)
	UpdateTask(ctx context.Context, t *TaskInstance) error
	GetTask(ctx context.Context, taskID string) (*TaskInstance, error)
	ListTasksByNodeInstance(ctx context.Context, nodeInstanceID string) ([]*TaskInstance, error)
	ListTasksByUser(ctx context.Context, userID string, statusFilter TaskStatus, limit int) ([]*TaskInstance, error)

	// ListRunningInstances returns every instance still in RUNNING
	// status, used by the background reaper (§4.3) to find instances
	// whose in-memory runtime context was lost to a process restart.
	ListRunningInstances(ctx context.Context) ([]*WorkflowInstance, error)
}

// SubdivisionRepository persists subdivisions and adoptions (§4.8).
type SubdivisionRepository interface {
	Create(ctx context.Context, s *Subdivision) (*Subdivision, error)
	Get(ctx context.Context, subdivisionID string) (*Subdivision, error)
	ListByTask(ctx context.Context, taskID string, withInstancesOnly bool) ([]*Subdivision, error)
	Update(ctx context.Context, s *Subdivision) error
	// UnselectSiblings clears IsSelected on every other subdivision of
	// the same task (Select-subdivision's "unmark previously selected").
	UnselectSiblings(ctx context.Context, taskID string, exceptSubdivisionID string) error
	// DeleteExceptMostRecent soft-deletes all but the most recent
	// keepCount subdivisions of a task, always retaining the selected
	// one (Cleanup-unselected, §4.8).
	DeleteExceptMostRecent(ctx context.Context, taskID string, keepCount int) error

	CreateAdoption(ctx context.Context, a *Adoption) (*Adoption, error)
}
