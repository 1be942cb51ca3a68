package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/smilemakc/workflow-core/internal/domain"
	"github.com/smilemakc/workflow-core/internal/infrastructure/storage/models"
)

// InstanceRepository implements domain.InstanceRepository over bun/PostgreSQL.
type InstanceRepository struct {
	db bun.IDB
}

// NewInstanceRepository constructs an InstanceRepository.
func NewInstanceRepository(db bun.IDB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// CreateWorkflowInstance implements domain.InstanceRepository.
func (r *InstanceRepository) CreateWorkflowInstance(ctx context.Context, inst *domain.WorkflowInstance) (*domain.WorkflowInstance, error) {
	if inst.InstanceID == "" {
		inst.InstanceID = uuid.NewString()
	}
	now := time.Now()
	if inst.StartedAt.IsZero() {
		inst.StartedAt = now
	}
	inst.CreatedAt, inst.UpdatedAt = now, now

	row := fromDomainWorkflowInstance(inst)
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, err
	}
	return inst, nil
}

// UpdateWorkflowInstance implements domain.InstanceRepository.
func (r *InstanceRepository) UpdateWorkflowInstance(ctx context.Context, inst *domain.WorkflowInstance) error {
	inst.UpdatedAt = time.Now()
	row := fromDomainWorkflowInstance(inst)
	_, err := r.db.NewUpdate().Model(row).WherePK().Exec(ctx)
	return err
}

// GetWorkflowInstance implements domain.InstanceRepository.
func (r *InstanceRepository) GetWorkflowInstance(ctx context.Context, instanceID string) (*domain.WorkflowInstance, error) {
	row := &models.WorkflowInstanceModel{}
	err := r.db.NewSelect().Model(row).Where("instance_id = ?", instanceID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("workflow instance not found: " + instanceID)
	}
	if err != nil {
		return nil, err
	}
	return toDomainWorkflowInstance(row), nil
}

// CreateNodeInstance implements domain.InstanceRepository.
func (r *InstanceRepository) CreateNodeInstance(ctx context.Context, ni *domain.NodeInstance) (*domain.NodeInstance, error) {
	if ni.NodeInstanceID == "" {
		ni.NodeInstanceID = uuid.NewString()
	}
	now := time.Now()
	ni.CreatedAt, ni.UpdatedAt = now, now

	row := fromDomainNodeInstance(ni)
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, err
	}
	return ni, nil
}

// UpdateNodeInstance implements domain.InstanceRepository.
func (r *InstanceRepository) UpdateNodeInstance(ctx context.Context, ni *domain.NodeInstance) error {
	ni.UpdatedAt = time.Now()
	row := fromDomainNodeInstance(ni)
	_, err := r.db.NewUpdate().Model(row).WherePK().Exec(ctx)
	return err
}

// GetNodeInstance implements domain.InstanceRepository.
func (r *InstanceRepository) GetNodeInstance(ctx context.Context, nodeInstanceID string) (*domain.NodeInstance, error) {
	row := &models.NodeInstanceModel{}
	err := r.db.NewSelect().Model(row).Where("node_instance_id = ?", nodeInstanceID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("node instance not found: " + nodeInstanceID)
	}
	if err != nil {
		return nil, err
	}
	return toDomainNodeInstance(row), nil
}

// ListNodeInstances implements domain.InstanceRepository.
func (r *InstanceRepository) ListNodeInstances(ctx context.Context, instanceID string) ([]*domain.NodeInstance, error) {
	var rows []*models.NodeInstanceModel
	if err := r.db.NewSelect().Model(&rows).Where("instance_id = ?", instanceID).Order("created_at ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.NodeInstance, len(rows))
	for i, row := range rows {
		out[i] = toDomainNodeInstance(row)
	}
	return out, nil
}

// AllNodeInstancesCompleted implements domain.InstanceRepository by
// re-querying for any non-completed row rather than trusting an
// in-memory tally (§4.3).
func (r *InstanceRepository) AllNodeInstancesCompleted(ctx context.Context, instanceID string) (bool, error) {
	count, err := r.db.NewSelect().
		Model((*models.NodeInstanceModel)(nil)).
		Where("instance_id = ? AND status != ?", instanceID, string(domain.NodeInstanceStatusCompleted)).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// CreateTask implements domain.InstanceRepository.
func (r *InstanceRepository) CreateTask(ctx context.Context, t *domain.TaskInstance) (*domain.TaskInstance, error) {
	if t.TaskID == "" {
		t.TaskID = uuid.NewString()
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now

	row := fromDomainTaskInstance(t)
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTask implements domain.InstanceRepository.
func (r *InstanceRepository) UpdateTask(ctx context.Context, t *domain.TaskInstance) error {
	t.UpdatedAt = time.Now()
	row := fromDomainTaskInstance(t)
	_, err := r.db.NewUpdate().Model(row).WherePK().Exec(ctx)
	return err
}

// GetTask implements domain.InstanceRepository.
func (r *InstanceRepository) GetTask(ctx context.Context, taskID string) (*domain.TaskInstance, error) {
	row := &models.TaskInstanceModel{}
	err := r.db.NewSelect().Model(row).Where("task_id = ?", taskID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("task not found: " + taskID)
	}
	if err != nil {
		return nil, err
	}
	return toDomainTaskInstance(row), nil
}

// ListTasksByNodeInstance implements domain.InstanceRepository.
func (r *InstanceRepository) ListTasksByNodeInstance(ctx context.Context, nodeInstanceID string) ([]*domain.TaskInstance, error) {
	var rows []*models.TaskInstanceModel
	if err := r.db.NewSelect().Model(&rows).Where("node_instance_id = ?", nodeInstanceID).Order("created_at ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.TaskInstance, len(rows))
	for i, row := range rows {
		out[i] = toDomainTaskInstance(row)
	}
	return out, nil
}

// ListTasksByUser implements domain.InstanceRepository (SPEC_FULL §C.1
// list-user-tasks). statusFilter is ignored when empty.
func (r *InstanceRepository) ListTasksByUser(ctx context.Context, userID string, statusFilter domain.TaskStatus, limit int) ([]*domain.TaskInstance, error) {
	var rows []*models.TaskInstanceModel
	q := r.db.NewSelect().Model(&rows).Where("assigned_user_id = ?", userID)
	if statusFilter != "" {
		q = q.Where("status = ?", string(statusFilter))
	}
	q = q.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.TaskInstance, len(rows))
	for i, row := range rows {
		out[i] = toDomainTaskInstance(row)
	}
	return out, nil
}

// ListRunningInstances implements domain.InstanceRepository.
func (r *InstanceRepository) ListRunningInstances(ctx context.Context) ([]*domain.WorkflowInstance, error) {
	var rows []*models.WorkflowInstanceModel
	if err := r.db.NewSelect().Model(&rows).Where("status = ?", string(domain.InstanceStatusRunning)).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.WorkflowInstance, len(rows))
	for i, row := range rows {
		out[i] = toDomainWorkflowInstance(row)
	}
	return out, nil
}

func toDomainWorkflowInstance(m *models.WorkflowInstanceModel) *domain.WorkflowInstance {
	return &domain.WorkflowInstance{
		InstanceID:    m.InstanceID,
		WorkflowID:    m.WorkflowID,
		ExecutorID:    m.ExecutorID,
		TriggerUserID: m.TriggerUserID,
		InstanceName:  m.InstanceName,
		Status:        domain.InstanceStatus(m.Status),
		Input:         map[string]interface{}(m.Input),
		Output:        map[string]interface{}(m.Output),
		IsDeleted:     m.IsDeleted,
		StartedAt:     m.StartedAt,
		CompletedAt:   m.CompletedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func fromDomainWorkflowInstance(w *domain.WorkflowInstance) *models.WorkflowInstanceModel {
	return &models.WorkflowInstanceModel{
		InstanceID:    w.InstanceID,
		WorkflowID:    w.WorkflowID,
		ExecutorID:    w.ExecutorID,
		TriggerUserID: w.TriggerUserID,
		InstanceName:  w.InstanceName,
		Status:        string(w.Status),
		Input:         models.JSONBMap(w.Input),
		Output:        models.JSONBMap(w.Output),
		IsDeleted:     w.IsDeleted,
		StartedAt:     w.StartedAt,
		CompletedAt:   w.CompletedAt,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

func toDomainNodeInstance(m *models.NodeInstanceModel) *domain.NodeInstance {
	return &domain.NodeInstance{
		NodeInstanceID: m.NodeInstanceID,
		InstanceID:     m.InstanceID,
		NodeID:         m.NodeID,
		Status:         domain.NodeInstanceStatus(m.Status),
		Input:          map[string]interface{}(m.Input),
		Output:         map[string]interface{}(m.Output),
		FailureReason:  m.FailureReason,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func fromDomainNodeInstance(n *domain.NodeInstance) *models.NodeInstanceModel {
	return &models.NodeInstanceModel{
		NodeInstanceID: n.NodeInstanceID,
		InstanceID:     n.InstanceID,
		NodeID:         n.NodeID,
		Status:         string(n.Status),
		Input:          models.JSONBMap(n.Input),
		Output:         models.JSONBMap(n.Output),
		FailureReason:  n.FailureReason,
		StartedAt:      n.StartedAt,
		CompletedAt:    n.CompletedAt,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
}

func toDomainTaskInstance(m *models.TaskInstanceModel) *domain.TaskInstance {
	return &domain.TaskInstance{
		TaskID:            m.TaskID,
		NodeInstanceID:    m.NodeInstanceID,
		ProcessorID:       m.ProcessorID,
		ProcessorKind:     domain.ProcessorKind(m.ProcessorKind),
		AssignedUserID:    m.AssignedUserID,
		AssignedAgentID:   m.AssignedAgentID,
		Title:             m.Title,
		TaskDescription:   m.TaskDescription,
		Instructions:      m.Instructions,
		Priority:          domain.TaskPriority(m.Priority),
		EstimatedDuration: m.EstimatedDuration,
		Status:            domain.TaskStatus(m.Status),
		Context:           taskContextFromMap(map[string]interface{}(m.Context)),
		ResultData:        map[string]interface{}(m.ResultData),
		ResultSummary:     m.ResultSummary,
		FailureReason:     m.FailureReason,
		CreatedAt:         m.CreatedAt,
		AssignedAt:        m.AssignedAt,
		StartedAt:         m.StartedAt,
		CompletedAt:       m.CompletedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func fromDomainTaskInstance(t *domain.TaskInstance) *models.TaskInstanceModel {
	return &models.TaskInstanceModel{
		TaskID:            t.TaskID,
		NodeInstanceID:    t.NodeInstanceID,
		ProcessorID:       t.ProcessorID,
		ProcessorKind:     string(t.ProcessorKind),
		AssignedUserID:    t.AssignedUserID,
		AssignedAgentID:   t.AssignedAgentID,
		Title:             t.Title,
		TaskDescription:   t.TaskDescription,
		Instructions:      t.Instructions,
		Priority:          string(t.Priority),
		EstimatedDuration: t.EstimatedDuration,
		Status:            string(t.Status),
		Context:           models.JSONBMap(taskContextToMap(t.Context)),
		ResultData:        models.JSONBMap(t.ResultData),
		ResultSummary:     t.ResultSummary,
		FailureReason:     t.FailureReason,
		CreatedAt:         t.CreatedAt,
		AssignedAt:        t.AssignedAt,
		StartedAt:         t.StartedAt,
		CompletedAt:       t.CompletedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

// taskContextToMap flattens a TaskContext into the plain map JSONBMap
// stores, since the context blob (§4.3) is read back only by re-hydrating
// the same shape, never queried by sub-field.
func taskContextToMap(tc *domain.TaskContext) map[string]interface{} {
	if tc == nil {
		return nil
	}
	upstream := make([]interface{}, len(tc.UpstreamOutputs))
	for i, u := range tc.UpstreamOutputs {
		upstream[i] = map[string]interface{}{
			"node_id":   u.NodeID,
			"node_name": u.NodeName,
			"output":    u.Output,
		}
	}
	path := make([]interface{}, len(tc.ExecutionPath))
	for i, p := range tc.ExecutionPath {
		path[i] = p
	}
	return map[string]interface{}{
		"workflow_instance_id": tc.WorkflowInstanceID,
		"workflow_name":        tc.WorkflowName,
		"node_id":              tc.NodeID,
		"node_name":            tc.NodeName,
		"node_description":     tc.NodeDescription,
		"upstream_outputs":     upstream,
		"global_data":          tc.GlobalData,
		"execution_path":       path,
		"processor_binding": map[string]interface{}{
			"kind":     string(tc.ProcessorBinding.Kind),
			"user_id":  tc.ProcessorBinding.UserID,
			"agent_id": tc.ProcessorBinding.AgentID,
		},
		"generated_at": tc.GeneratedAt.Format(time.RFC3339Nano),
	}
}

func taskContextFromMap(m map[string]interface{}) *domain.TaskContext {
	if m == nil {
		return nil
	}
	tc := &domain.TaskContext{}
	tc.WorkflowInstanceID, _ = m["workflow_instance_id"].(string)
	tc.WorkflowName, _ = m["workflow_name"].(string)
	tc.NodeID, _ = m["node_id"].(string)
	tc.NodeName, _ = m["node_name"].(string)
	tc.NodeDescription, _ = m["node_description"].(string)
	if gd, ok := m["global_data"].(map[string]interface{}); ok {
		tc.GlobalData = gd
	}
	if raw, ok := m["upstream_outputs"].([]interface{}); ok {
		for _, r := range raw {
			entry, ok := r.(map[string]interface{})
			if !ok {
				continue
			}
			u := domain.UpstreamOutput{}
			u.NodeID, _ = entry["node_id"].(string)
			u.NodeName, _ = entry["node_name"].(string)
			if out, ok := entry["output"].(map[string]interface{}); ok {
				u.Output = out
			}
			tc.UpstreamOutputs = append(tc.UpstreamOutputs, u)
		}
	}
	if raw, ok := m["execution_path"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				tc.ExecutionPath = append(tc.ExecutionPath, s)
			}
		}
	}
	if pb, ok := m["processor_binding"].(map[string]interface{}); ok {
		kind, _ := pb["kind"].(string)
		tc.ProcessorBinding.Kind = domain.ProcessorKind(kind)
		tc.ProcessorBinding.UserID, _ = pb["user_id"].(string)
		tc.ProcessorBinding.AgentID, _ = pb["agent_id"].(string)
	}
	if ts, ok := m["generated_at"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			tc.GeneratedAt = parsed
		}
	}
	return tc
}
