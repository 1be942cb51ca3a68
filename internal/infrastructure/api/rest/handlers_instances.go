package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/workflow-core/internal/application/engine"
	"github.com/smilemakc/workflow-core/internal/domain"
)

// InstanceHandlers implements spec §6's instance lifecycle API group.
type InstanceHandlers struct {
	engine       *engine.Engine
	instanceRepo domain.InstanceRepository
}

func NewInstanceHandlers(eng *engine.Engine, instanceRepo domain.InstanceRepository) *InstanceHandlers {
	return &InstanceHandlers{engine: eng, instanceRepo: instanceRepo}
}

func (h *InstanceHandlers) Register(rg *gin.RouterGroup) {
	rg.POST("/workflows/execute", h.Execute)
	rg.POST("/workflows/instances/:id/cancel", h.Cancel)
	rg.GET("/workflows/instances/:id", h.GetDetail)
}

// Execute handles POST /workflows/execute.
func (h *InstanceHandlers) Execute(c *gin.Context) {
	var req executeWorkflowRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}
	userID, _ := GetUserID(c)

	input := req.InputData
	if input == nil {
		input = map[string]interface{}{}
	}
	// context_data rides alongside input_data as additional execution
	// scope (SPEC_FULL §B template engine variables); merged rather than
	// threaded separately since the engine's StartInstance takes one
	// input map.
	for k, v := range req.ContextData {
		input[k] = v
	}

	inst, err := h.engine.StartInstance(c.Request.Context(), req.WorkflowBaseID, input, userID, userID, req.InstanceName)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"workflow_instance_id": inst.InstanceID})
}

// Cancel handles POST /workflows/instances/{id}/cancel.
func (h *InstanceHandlers) Cancel(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	var req cancelInstanceRequest
	_ = c.ShouldBindJSON(&req)

	count, err := h.engine.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	inst, err := h.instanceRepo.GetWorkflowInstance(c.Request.Context(), id)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{
		"cancelled_tasks_count": count,
		"status":                inst.Status,
	})
}

// GetDetail handles GET /workflows/instances/{id}.
func (h *InstanceHandlers) GetDetail(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	inst, err := h.instanceRepo.GetWorkflowInstance(c.Request.Context(), id)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	if inst == nil {
		respondAPIErrorWithRequestID(c, domain.NewNotFoundError("workflow instance not found: "+id))
		return
	}

	nodeInstances, err := h.instanceRepo.ListNodeInstances(c.Request.Context(), id)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	counts := map[domain.NodeInstanceStatus]int{}
	for _, ni := range nodeInstances {
		counts[ni.Status]++
	}

	respondJSON(c, http.StatusOK, gin.H{
		"instance":        inst,
		"node_count":      len(nodeInstances),
		"node_counts":     counts,
		"node_instances":  nodeInstances,
	})
}
