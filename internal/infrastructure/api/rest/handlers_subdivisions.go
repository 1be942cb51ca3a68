package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/smilemakc/workflow-core/internal/application/subdivision"
	"github.com/smilemakc/workflow-core/internal/domain"
)

// SubdivisionHandlers implements spec §6's task-subdivision API group.
type SubdivisionHandlers struct {
	sub  *subdivision.Service
	repo domain.SubdivisionRepository
}

func NewSubdivisionHandlers(sub *subdivision.Service, repo domain.SubdivisionRepository) *SubdivisionHandlers {
	return &SubdivisionHandlers{sub: sub, repo: repo}
}

func (h *SubdivisionHandlers) Register(rg *gin.RouterGroup) {
	rg.POST("/task-subdivision/tasks/:task_id/subdivide", h.Subdivide)
	rg.POST("/task-subdivision/workflows/:workflow_base_id/adopt", h.Adopt)
	rg.GET("/task-subdivision/tasks/:task_id/subdivisions", h.ListByTask)
	rg.POST("/task-subdivision/subdivisions/:id/select", h.Select)
}

// Subdivide handles POST /task-subdivision/tasks/{task_id}/subdivide.
func (h *SubdivisionHandlers) Subdivide(c *gin.Context) {
	taskID, ok := getParam(c, "task_id")
	if !ok {
		return
	}
	userID, ok := GetUserID(c)
	if !ok {
		respondAPIErrorWithRequestID(c, ErrUnauthorized)
		return
	}
	var req subdivideTaskRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	def, err := buildSubWorkflowDefinition(req.SubWorkflowData)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}

	sub, err := h.sub.CreateSubdivision(
		c.Request.Context(),
		taskID,
		userID,
		def,
		req.ContextToPass,
		req.ParentSubdivisionID,
		req.ExecuteImmediately,
		userID,
	)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, sub)
}

// buildSubWorkflowDefinition resolves the request's key-based edge
// references into real auto-generated node ids before the subdivision
// service persists the graph (node ids don't exist until then).
func buildSubWorkflowDefinition(req subWorkflowDataRequest) (subdivision.SubWorkflowDefinition, error) {
	nodeIDByKey := make(map[string]string, len(req.Nodes))
	nodes := make([]*domain.Node, 0, len(req.Nodes))
	for _, n := range req.Nodes {
		nodeID := uuid.NewString()
		nodeIDByKey[n.Key] = nodeID
		nodes = append(nodes, &domain.Node{
			NodeID:      nodeID,
			Name:        n.Name,
			Type:        domain.NodeType(n.Type),
			Description: n.Description,
			Config:      n.Config,
		})
	}

	edges := make([]*domain.Edge, 0, len(req.Edges))
	for _, e := range req.Edges {
		fromID, ok := nodeIDByKey[e.FromNodeKey]
		if !ok {
			return subdivision.SubWorkflowDefinition{}, domain.NewValidationError("edge references unknown node key: " + e.FromNodeKey)
		}
		toID, ok := nodeIDByKey[e.ToNodeKey]
		if !ok {
			return subdivision.SubWorkflowDefinition{}, domain.NewValidationError("edge references unknown node key: " + e.ToNodeKey)
		}
		edgeType := domain.EdgeTypeNormal
		if e.Type != "" {
			edgeType = domain.EdgeType(e.Type)
		}
		edges = append(edges, &domain.Edge{
			FromNodeID: fromID,
			ToNodeID:   toID,
			Type:       edgeType,
			Condition:  e.Condition,
		})
	}

	return subdivision.SubWorkflowDefinition{
		Name:        req.Name,
		Description: req.Description,
		Variables:   req.Variables,
		Nodes:       nodes,
		Edges:       edges,
	}, nil
}

// Adopt handles POST /task-subdivision/workflows/{workflow_base_id}/adopt.
func (h *SubdivisionHandlers) Adopt(c *gin.Context) {
	workflowBaseID, ok := getParam(c, "workflow_base_id")
	if !ok {
		return
	}
	var req adoptSubdivisionRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	newVersion, adoption, err := h.sub.AdoptSubdivision(
		c.Request.Context(),
		req.SubdivisionID,
		workflowBaseID,
		req.TargetNodeID,
		req.AdoptionName,
	)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{
		"workflow": newVersion,
		"adoption": adoption,
	})
}

// ListByTask handles GET /task-subdivision/tasks/{task_id}/subdivisions?with_instances_only=bool.
func (h *SubdivisionHandlers) ListByTask(c *gin.Context) {
	taskID, ok := getParam(c, "task_id")
	if !ok {
		return
	}
	withInstancesOnly := getQuery(c, "with_instances_only", "false") == "true"

	subs, err := h.repo.ListByTask(c.Request.Context(), taskID, withInstancesOnly)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondList(c, http.StatusOK, subs, len(subs), len(subs), 0)
}

// Select handles POST /task-subdivision/subdivisions/{id}/select.
func (h *SubdivisionHandlers) Select(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	sub, err := h.sub.SelectSubdivision(c.Request.Context(), id)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, sub)
}
