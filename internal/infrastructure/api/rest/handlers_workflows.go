package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/workflow-core/internal/domain"
)

// WorkflowHandlers exposes the read and cascade-delete sides of §4.1's
// persistence layer. Workflow/node authoring itself has no API surface
// per spec §6 — definitions arrive pre-built (e.g. via the subdivision
// service's CreateInitial) — but a current-version read and a
// cascade-delete trigger are needed by any caller driving §4.1 from
// outside the process.
type WorkflowHandlers struct {
	workflows domain.WorkflowRepository
}

func NewWorkflowHandlers(workflows domain.WorkflowRepository) *WorkflowHandlers {
	return &WorkflowHandlers{workflows: workflows}
}

func (h *WorkflowHandlers) Register(rg *gin.RouterGroup) {
	rg.GET("/workflows/:base_id", h.GetCurrentVersion)
	rg.DELETE("/workflows/:base_id", h.CascadeDelete)
}

// GetCurrentVersion handles GET /workflows/{base_id}.
func (h *WorkflowHandlers) GetCurrentVersion(c *gin.Context) {
	baseID, ok := getParam(c, "base_id")
	if !ok {
		return
	}
	wf, err := h.workflows.GetCurrentVersion(c.Request.Context(), baseID)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	if wf == nil {
		respondAPIErrorWithRequestID(c, domain.NewNotFoundError("no current version for workflow_base_id "+baseID))
		return
	}
	respondJSON(c, http.StatusOK, wf)
}

// CascadeDelete handles DELETE /workflows/{base_id}?hard=bool.
func (h *WorkflowHandlers) CascadeDelete(c *gin.Context) {
	baseID, ok := getParam(c, "base_id")
	if !ok {
		return
	}
	hard := getQuery(c, "hard", "false") == "true"

	report, err := h.workflows.CascadeDelete(c.Request.Context(), baseID, hard)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, report)
}
