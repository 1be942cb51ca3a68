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

// WorkflowRepository implements domain.WorkflowRepository over bun/PostgreSQL.
// db is always the pool handle (never a transaction) so CreateNewVersion and
// CascadeDelete can open their own transactions; reads are implemented as
// free functions taking bun.IDB so they also work against a bun.Tx mid-transaction.
type WorkflowRepository struct {
	db *bun.DB
}

// NewWorkflowRepository constructs a WorkflowRepository.
func NewWorkflowRepository(db *bun.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// GetCurrentVersion implements domain.WorkflowRepository.
func (r *WorkflowRepository) GetCurrentVersion(ctx context.Context, workflowBaseID string) (*domain.Workflow, error) {
	return getCurrentVersion(ctx, r.db, workflowBaseID)
}

// GetVersion implements domain.WorkflowRepository.
func (r *WorkflowRepository) GetVersion(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	return getVersion(ctx, r.db, workflowID)
}

func getCurrentVersion(ctx context.Context, db bun.IDB, workflowBaseID string) (*domain.Workflow, error) {
	row := &models.WorkflowModel{}
	err := db.NewSelect().
		Model(row).
		Where("workflow_base_id = ? AND is_current_version = ? AND is_deleted = ?", workflowBaseID, true, false).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("workflow not found: " + workflowBaseID)
	}
	if err != nil {
		return nil, err
	}
	return hydrate(ctx, db, row)
}

func getVersion(ctx context.Context, db bun.IDB, workflowID string) (*domain.Workflow, error) {
	row := &models.WorkflowModel{}
	err := db.NewSelect().Model(row).Where("workflow_id = ?", workflowID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("workflow version not found: " + workflowID)
	}
	if err != nil {
		return nil, err
	}
	return hydrate(ctx, db, row)
}

// CreateInitial implements domain.WorkflowRepository.
func (r *WorkflowRepository) CreateInitial(ctx context.Context, wf *domain.Workflow) (*domain.Workflow, error) {
	if wf.WorkflowID == "" {
		wf.WorkflowID = uuid.NewString()
	}
	if wf.WorkflowBaseID == "" {
		wf.WorkflowBaseID = uuid.NewString()
	}
	wf.Version = 1
	wf.IsCurrentVersion = true
	now := time.Now()
	wf.CreatedAt, wf.UpdatedAt = now, now

	err := WithTransaction(ctx, r.db, func(tx bun.Tx) error {
		return persistWorkflowGraph(ctx, tx, wf)
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// CreateNewVersion implements domain.WorkflowRepository's atomic
// copy-then-mutate (§4.1): the prior current row is marked non-current,
// a deep copy with a fresh node/edge id map is built, mutate is applied
// to that copy, and the whole thing commits in one transaction.
func (r *WorkflowRepository) CreateNewVersion(ctx context.Context, workflowBaseID string, mutate func(next *domain.Workflow) error) (*domain.Workflow, error) {
	var result *domain.Workflow

	err := WithTransaction(ctx, r.db, func(tx bun.Tx) error {
		cur, err := getCurrentVersion(ctx, tx, workflowBaseID)
		if err != nil {
			return err
		}

		idMap := make(map[string]string, len(cur.Nodes))
		next := &domain.Workflow{
			WorkflowID:       uuid.NewString(),
			WorkflowBaseID:   cur.WorkflowBaseID,
			Version:          cur.Version + 1,
			Name:             cur.Name,
			Description:      cur.Description,
			CreatorID:        cur.CreatorID,
			ParentVersionID:  cur.WorkflowID,
			IsCurrentVersion: true,
			Variables:        cur.Variables,
			Metadata:         cur.Metadata,
		}
		for _, n := range cur.Nodes {
			cp := *n
			newID := uuid.NewString()
			idMap[n.NodeID] = newID
			cp.NodeID = newID
			cp.WorkflowID = next.WorkflowID
			next.Nodes = append(next.Nodes, &cp)
		}
		for _, e := range cur.Edges {
			cp := *e
			cp.EdgeID = uuid.NewString()
			cp.WorkflowID = next.WorkflowID
			cp.FromNodeID = idMap[e.FromNodeID]
			cp.ToNodeID = idMap[e.ToNodeID]
			next.Edges = append(next.Edges, &cp)
		}

		if err := mutate(next); err != nil {
			return err
		}

		now := time.Now()
		next.CreatedAt, next.UpdatedAt = now, now

		if _, err := tx.NewUpdate().
			Model((*models.WorkflowModel)(nil)).
			Set("is_current_version = ?", false).
			Set("updated_at = ?", now).
			Where("workflow_id = ?", cur.WorkflowID).
			Exec(ctx); err != nil {
			return err
		}

		if err := persistWorkflowGraph(ctx, tx, next); err != nil {
			return err
		}

		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CascadeDelete implements domain.WorkflowRepository.
func (r *WorkflowRepository) CascadeDelete(ctx context.Context, workflowBaseID string, hard bool) (*domain.CascadeDeleteReport, error) {
	report := &domain.CascadeDeleteReport{}

	err := WithTransaction(ctx, r.db, func(tx bun.Tx) error {
		var instanceIDs []string
		if err := tx.NewSelect().
			Model((*models.WorkflowInstanceModel)(nil)).
			Column("instance_id").
			Where("workflow_id IN (SELECT workflow_id FROM workflows WHERE workflow_base_id = ?)", workflowBaseID).
			Scan(ctx, &instanceIDs); err != nil {
			return err
		}

		if len(instanceIDs) > 0 {
			var nodeInstanceIDs []string
			if err := tx.NewSelect().
				Model((*models.NodeInstanceModel)(nil)).
				Column("node_instance_id").
				Where("instance_id IN (?)", bun.In(instanceIDs)).
				Scan(ctx, &nodeInstanceIDs); err != nil {
				return err
			}

			if len(nodeInstanceIDs) > 0 {
				taskRes, err := tx.NewDelete().
					Model((*models.TaskInstanceModel)(nil)).
					Where("node_instance_id IN (?)", bun.In(nodeInstanceIDs)).
					Exec(ctx)
				if err != nil {
					return err
				}
				if n, err := taskRes.RowsAffected(); err == nil {
					report.Tasks = int(n)
				}
			}

			niRes, err := tx.NewDelete().
				Model((*models.NodeInstanceModel)(nil)).
				Where("instance_id IN (?)", bun.In(instanceIDs)).
				Exec(ctx)
			if err != nil {
				return err
			}
			if n, err := niRes.RowsAffected(); err == nil {
				report.NodeInstances = int(n)
			}
		}

		if hard {
			wiRes, err := tx.NewDelete().
				Model((*models.WorkflowInstanceModel)(nil)).
				Where("workflow_id IN (SELECT workflow_id FROM workflows WHERE workflow_base_id = ?)", workflowBaseID).
				Exec(ctx)
			if err != nil {
				return err
			}
			if n, err := wiRes.RowsAffected(); err == nil {
				report.WorkflowInstances = int(n)
			}

			if _, err := tx.NewDelete().
				Model((*models.EdgeModel)(nil)).
				Where("workflow_id IN (SELECT workflow_id FROM workflows WHERE workflow_base_id = ?)", workflowBaseID).
				Exec(ctx); err != nil {
				return err
			}
			if _, err := tx.NewDelete().
				Model((*models.NodeModel)(nil)).
				Where("workflow_id IN (SELECT workflow_id FROM workflows WHERE workflow_base_id = ?)", workflowBaseID).
				Exec(ctx); err != nil {
				return err
			}
			if _, err := tx.NewDelete().
				Model((*models.WorkflowModel)(nil)).
				Where("workflow_base_id = ?", workflowBaseID).
				Exec(ctx); err != nil {
				return err
			}
		} else {
			if _, err := tx.NewUpdate().
				Model((*models.WorkflowInstanceModel)(nil)).
				Set("is_deleted = ?", true).
				Where("workflow_id IN (SELECT workflow_id FROM workflows WHERE workflow_base_id = ?)", workflowBaseID).
				Exec(ctx); err != nil {
				return err
			}
			if _, err := tx.NewUpdate().
				Model((*models.WorkflowModel)(nil)).
				Set("is_deleted = ?", true).
				Where("workflow_base_id = ?", workflowBaseID).
				Exec(ctx); err != nil {
				return err
			}
		}

		sdRes, err := tx.NewUpdate().
			Model((*models.SubdivisionModel)(nil)).
			Set("is_deleted = ?", true).
			Where("sub_workflow_base_id = ?", workflowBaseID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := sdRes.RowsAffected(); err == nil {
			report.Subdivisions = int(n)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// hydrate loads a workflow version's nodes, edges, bindings and the
// bound processors, assembling the full domain.Workflow graph.
func hydrate(ctx context.Context, db bun.IDB, row *models.WorkflowModel) (*domain.Workflow, error) {
	var nodeRows []*models.NodeModel
	if err := db.NewSelect().Model(&nodeRows).Where("workflow_id = ?", row.WorkflowID).Scan(ctx); err != nil {
		return nil, err
	}
	var edgeRows []*models.EdgeModel
	if err := db.NewSelect().Model(&edgeRows).Where("workflow_id = ?", row.WorkflowID).Scan(ctx); err != nil {
		return nil, err
	}

	nodeIDs := make([]string, len(nodeRows))
	for i, n := range nodeRows {
		nodeIDs[i] = n.NodeID
	}
	var bindingRows []*models.ProcessorBindingModel
	if len(nodeIDs) > 0 {
		if err := db.NewSelect().Model(&bindingRows).Where("node_id IN (?)", bun.In(nodeIDs)).Scan(ctx); err != nil {
			return nil, err
		}
	}
	processorIDs := make([]string, 0, len(bindingRows))
	for _, b := range bindingRows {
		processorIDs = append(processorIDs, b.ProcessorID)
	}
	processors := make(map[string]*domain.Processor, len(processorIDs))
	if len(processorIDs) > 0 {
		var procRows []*models.ProcessorModel
		if err := db.NewSelect().Model(&procRows).Where("processor_id IN (?)", bun.In(processorIDs)).Scan(ctx); err != nil {
			return nil, err
		}
		for _, p := range procRows {
			processors[p.ProcessorID] = toDomainProcessor(p)
		}
	}
	bindingsByNode := make(map[string][]*domain.ProcessorBinding, len(nodeRows))
	for _, b := range bindingRows {
		bindingsByNode[b.NodeID] = append(bindingsByNode[b.NodeID], &domain.ProcessorBinding{
			BindingID:   b.BindingID,
			NodeID:      b.NodeID,
			ProcessorID: b.ProcessorID,
			Processor:   processors[b.ProcessorID],
			CreatedAt:   b.CreatedAt,
		})
	}

	wf := toDomainWorkflow(row)
	for _, n := range nodeRows {
		dn := toDomainNode(n)
		dn.Bindings = bindingsByNode[n.NodeID]
		wf.Nodes = append(wf.Nodes, dn)
	}
	for _, e := range edgeRows {
		wf.Edges = append(wf.Edges, toDomainEdge(e))
	}
	return wf, nil
}

// persistWorkflowGraph inserts a workflow version row plus its full
// node/edge/binding graph within an already-open transaction.
func persistWorkflowGraph(ctx context.Context, tx bun.Tx, wf *domain.Workflow) error {
	row := fromDomainWorkflow(wf)
	if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
		return err
	}

	if len(wf.Nodes) > 0 {
		nodeRows := make([]*models.NodeModel, len(wf.Nodes))
		for i, n := range wf.Nodes {
			if n.NodeID == "" {
				n.NodeID = uuid.NewString()
			}
			if n.NodeBaseID == "" {
				n.NodeBaseID = uuid.NewString()
			}
			n.WorkflowID = wf.WorkflowID
			if n.CreatedAt.IsZero() {
				n.CreatedAt = wf.CreatedAt
			}
			n.UpdatedAt = wf.UpdatedAt
			nodeRows[i] = fromDomainNode(n)
		}
		if _, err := tx.NewInsert().Model(&nodeRows).Exec(ctx); err != nil {
			return err
		}

		var bindingRows []*models.ProcessorBindingModel
		for _, n := range wf.Nodes {
			for _, b := range n.Bindings {
				if b.BindingID == "" {
					b.BindingID = uuid.NewString()
				}
				b.NodeID = n.NodeID
				if b.CreatedAt.IsZero() {
					b.CreatedAt = wf.CreatedAt
				}
				bindingRows = append(bindingRows, &models.ProcessorBindingModel{
					BindingID:   b.BindingID,
					NodeID:      b.NodeID,
					ProcessorID: b.ProcessorID,
					CreatedAt:   b.CreatedAt,
				})
			}
		}
		if len(bindingRows) > 0 {
			if _, err := tx.NewInsert().Model(&bindingRows).Exec(ctx); err != nil {
				return err
			}
		}
	}

	if len(wf.Edges) > 0 {
		edgeRows := make([]*models.EdgeModel, len(wf.Edges))
		for i, e := range wf.Edges {
			if e.EdgeID == "" {
				e.EdgeID = uuid.NewString()
			}
			e.WorkflowID = wf.WorkflowID
			if e.CreatedAt.IsZero() {
				e.CreatedAt = wf.CreatedAt
			}
			edgeRows[i] = fromDomainEdge(e)
		}
		if _, err := tx.NewInsert().Model(&edgeRows).Exec(ctx); err != nil {
			return err
		}
	}

	return nil
}

func toDomainWorkflow(m *models.WorkflowModel) *domain.Workflow {
	return &domain.Workflow{
		WorkflowID:       m.WorkflowID,
		WorkflowBaseID:   m.WorkflowBaseID,
		Version:          m.Version,
		Name:             m.Name,
		Description:      m.Description,
		CreatorID:        m.CreatorID,
		ParentVersionID:  m.ParentVersionID,
		ChangeNote:       m.ChangeNote,
		IsCurrentVersion: m.IsCurrentVersion,
		IsDeleted:        m.IsDeleted,
		Variables:        map[string]interface{}(m.Variables),
		Metadata:         map[string]interface{}(m.Metadata),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func fromDomainWorkflow(w *domain.Workflow) *models.WorkflowModel {
	return &models.WorkflowModel{
		WorkflowID:       w.WorkflowID,
		WorkflowBaseID:   w.WorkflowBaseID,
		Version:          w.Version,
		Name:             w.Name,
		Description:      w.Description,
		CreatorID:        w.CreatorID,
		ParentVersionID:  w.ParentVersionID,
		ChangeNote:       w.ChangeNote,
		IsCurrentVersion: w.IsCurrentVersion,
		IsDeleted:        w.IsDeleted,
		Variables:        models.JSONBMap(w.Variables),
		Metadata:         models.JSONBMap(w.Metadata),
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
	}
}

func toDomainNode(m *models.NodeModel) *domain.Node {
	return &domain.Node{
		NodeID:      m.NodeID,
		NodeBaseID:  m.NodeBaseID,
		WorkflowID:  m.WorkflowID,
		Name:        m.Name,
		Type:        domain.NodeType(m.Type),
		Description: m.Description,
		LayoutHint:  map[string]interface{}(m.LayoutHint),
		Config:      map[string]interface{}(m.Config),
		Metadata:    map[string]interface{}(m.Metadata),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func fromDomainNode(n *domain.Node) *models.NodeModel {
	return &models.NodeModel{
		NodeID:      n.NodeID,
		NodeBaseID:  n.NodeBaseID,
		WorkflowID:  n.WorkflowID,
		Name:        n.Name,
		Type:        string(n.Type),
		Description: n.Description,
		LayoutHint:  models.JSONBMap(n.LayoutHint),
		Config:      models.JSONBMap(n.Config),
		Metadata:    models.JSONBMap(n.Metadata),
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

func toDomainEdge(m *models.EdgeModel) *domain.Edge {
	return &domain.Edge{
		EdgeID:     m.EdgeID,
		WorkflowID: m.WorkflowID,
		FromNodeID: m.FromNodeID,
		ToNodeID:   m.ToNodeID,
		Type:       domain.EdgeType(m.Type),
		Condition:  m.Condition,
		CreatedAt:  m.CreatedAt,
	}
}

func fromDomainEdge(e *domain.Edge) *models.EdgeModel {
	return &models.EdgeModel{
		EdgeID:     e.EdgeID,
		WorkflowID: e.WorkflowID,
		FromNodeID: e.FromNodeID,
		ToNodeID:   e.ToNodeID,
		Type:       string(e.Type),
		Condition:  e.Condition,
		CreatedAt:  e.CreatedAt,
	}
}

func toDomainProcessor(m *models.ProcessorModel) *domain.Processor {
	return &domain.Processor{
		ProcessorID: m.ProcessorID,
		Kind:        domain.ProcessorKind(m.Kind),
		UserID:      m.UserID,
		AgentID:     m.AgentID,
		Name:        m.Name,
		Metadata:    map[string]interface{}(m.Metadata),
		CreatedAt:   m.CreatedAt,
	}
}
