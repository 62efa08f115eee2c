package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/http/response"
	"github.com/yungbote/talkinghead-backend/internal/platform/apierr"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/services"
	"github.com/yungbote/talkinghead-backend/internal/shell"
)

type PipelineHandler struct {
	log       *logger.Logger
	pipelines services.PipelineService
	shells    *shell.Manager
}

func NewPipelineHandler(log *logger.Logger, pipelines services.PipelineService, shells *shell.Manager) *PipelineHandler {
	return &PipelineHandler{log: log.With("handler", "PipelineHandler"), pipelines: pipelines, shells: shells}
}

// POST /api/pipelines
func (h *PipelineHandler) CreatePipeline(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	var req services.CreatePipelineInput
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.pipelines.Create(c.Request.Context(), userID, req)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"pipeline": p})
}

// GET /api/pipelines?project_id=
func (h *PipelineHandler) ListPipelines(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	var projectID *uuid.UUID
	if raw := strings.TrimSpace(c.Query("project_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.RespondErr(c, apierr.BadRequest("invalid_project_id", fmt.Errorf("invalid project_id")))
			return
		}
		projectID = &id
	}
	list, err := h.pipelines.List(c.Request.Context(), userID, projectID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"pipelines": list})
}

// GET /api/pipelines/:id
func (h *PipelineHandler) GetPipeline(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.pipelines.Get(c.Request.Context(), userID, id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"pipeline": p})
}

func (h *PipelineHandler) open(c *gin.Context) (*shell.Shell, bool) {
	userID, ok := requestUser(c)
	if !ok {
		return nil, false
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil, false
	}
	sh, err := h.shells.Open(c.Request.Context(), userID, id)
	if err != nil {
		response.RespondErr(c, err)
		return nil, false
	}
	return sh, true
}

type shellState struct {
	ActiveStage types.StageKey `json:"active_stage"`
	Dirty       bool           `json:"dirty"`
	Saving      bool           `json:"saving"`
}

func stateOf(sh *shell.Shell) shellState {
	return shellState{ActiveStage: sh.ActiveStage(), Dirty: sh.Dirty(), Saving: sh.Saving()}
}

// GET /api/pipelines/:id/view
func (h *PipelineHandler) GetView(c *gin.Context) {
	sh, ok := h.open(c)
	if !ok {
		return
	}
	response.RespondOK(c, gin.H{"view": sh.Session().View(), "shell": stateOf(sh)})
}

// PATCH /api/pipelines/:id/metadata
func (h *PipelineHandler) EditMetadata(c *gin.Context) {
	sh, ok := h.open(c)
	if !ok {
		return
	}
	var patch services.MetadataPatch
	if !bindJSON(c, &patch) {
		return
	}
	if err := sh.EditMetadata(patch); err != nil {
		response.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"shell": stateOf(sh)})
}

// POST /api/pipelines/:id/navigate
func (h *PipelineHandler) Navigate(c *gin.Context) {
	sh, ok := h.open(c)
	if !ok {
		return
	}
	var req struct {
		Stage types.StageKey `json:"stage"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := sh.Navigate(c.Request.Context(), req.Stage); err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"shell": stateOf(sh)})
}

// POST /api/pipelines/:id/close
func (h *PipelineHandler) ClosePipeline(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Choice         shell.CloseChoice `json:"choice"`
		ConfirmDiscard bool              `json:"confirm_discard"`
	}
	if !bindJSON(c, &req) {
		return
	}
	closed, err := h.shells.Close(c.Request.Context(), userID, id, shell.CloseRequest{Choice: req.Choice, ConfirmDiscard: req.ConfirmDiscard})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"closed": closed})
}
