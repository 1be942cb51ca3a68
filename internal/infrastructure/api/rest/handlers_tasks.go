package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/workflow-core/internal/application/tasks/human"
	"github.com/smilemakc/workflow-core/internal/domain"
)

// TaskHandlers implements spec §6's task API group, backed by the
// human task service (§4.5) — the only processor kind whose lifecycle
// is caller-driven rather than dispatched automatically by the engine.
type TaskHandlers struct {
	human *human.Service
}

func NewTaskHandlers(human *human.Service) *TaskHandlers {
	return &TaskHandlers{human: human}
}

func (h *TaskHandlers) Register(rg *gin.RouterGroup) {
	rg.GET("/tasks/my", h.ListMine)
	rg.GET("/tasks/:id", h.GetDetail)
	rg.POST("/tasks/:id/start", h.Start)
	rg.POST("/tasks/:id/submit", h.Submit)
	rg.POST("/tasks/:id/pause", h.Pause)
	rg.POST("/tasks/:id/reject", h.Reject)
	rg.POST("/tasks/:id/cancel", h.Cancel)
	rg.POST("/tasks/:id/help", h.RequestHelp)
}

func (h *TaskHandlers) currentUser(c *gin.Context) (string, bool) {
	userID, ok := GetUserID(c)
	if !ok {
		respondAPIErrorWithRequestID(c, ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// ListMine handles GET /tasks/my?status=….
func (h *TaskHandlers) ListMine(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	status := domain.TaskStatus(getQuery(c, "status", ""))
	limit := getQueryInt(c, "limit", 50)

	tasks, err := h.human.ListUserTasks(c.Request.Context(), userID, status, limit)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondList(c, http.StatusOK, tasks, len(tasks), limit, 0)
}

// GetDetail handles GET /tasks/{id}.
func (h *TaskHandlers) GetDetail(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	task, err := h.human.GetTaskDetails(c.Request.Context(), id, userID)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, task)
}

// Start handles POST /tasks/{id}/start.
func (h *TaskHandlers) Start(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	task, err := h.human.Start(c.Request.Context(), id, userID)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, task)
}

// Submit handles POST /tasks/{id}/submit.
func (h *TaskHandlers) Submit(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req submitTaskRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}
	task, err := h.human.Submit(c.Request.Context(), id, userID, req.ResultData, req.ResultSummary)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, task)
}

// Pause handles POST /tasks/{id}/pause.
func (h *TaskHandlers) Pause(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req taskReasonRequest
	_ = c.ShouldBindJSON(&req)
	task, err := h.human.Pause(c.Request.Context(), id, userID, req.Reason)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, task)
}

// Reject handles POST /tasks/{id}/reject.
func (h *TaskHandlers) Reject(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req taskReasonRequest
	_ = c.ShouldBindJSON(&req)
	task, err := h.human.Reject(c.Request.Context(), id, userID, req.Reason)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, task)
}

// Cancel handles POST /tasks/{id}/cancel.
func (h *TaskHandlers) Cancel(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req taskReasonRequest
	_ = c.ShouldBindJSON(&req)
	task, err := h.human.CancelTask(c.Request.Context(), id, userID, req.Reason)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, task)
}

// RequestHelp handles POST /tasks/{id}/help — a logging-only hook (§4.5).
func (h *TaskHandlers) RequestHelp(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req requestHelpRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}
	if err := h.human.RequestHelp(c.Request.Context(), id, userID, req.Message); err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
