package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/http/response"
	"github.com/yungbote/talkinghead-backend/internal/lifecycle"
	"github.com/yungbote/talkinghead-backend/internal/notify"
	"github.com/yungbote/talkinghead-backend/internal/platform/apierr"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/shell"
	"github.com/yungbote/talkinghead-backend/internal/stages"
)

type StageHandler struct {
	log     *logger.Logger
	shells  *shell.Manager
	catalog *stages.Catalog
	notify  notify.Notifier
}

func NewStageHandler(log *logger.Logger, shells *shell.Manager, catalog *stages.Catalog, n notify.Notifier) *StageHandler {
	return &StageHandler{log: log.With("handler", "StageHandler"), shells: shells, catalog: catalog, notify: n}
}

func (h *StageHandler) session(c *gin.Context) (*lifecycle.Session, types.StageKey, bool) {
	userID, ok := requestUser(c)
	if !ok {
		return nil, "", false
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil, "", false
	}
	stage, ok := pathStage(c)
	if !ok {
		return nil, "", false
	}
	sh, err := h.shells.Open(c.Request.Context(), userID, id)
	if err != nil {
		response.RespondErr(c, err)
		return nil, "", false
	}
	return sh.Session(), stage, true
}

// PATCH /api/pipelines/:id/stages/:stage/input
func (h *StageHandler) SaveInput(c *gin.Context) {
	s, stage, ok := h.session(c)
	if !ok {
		return
	}
	var partial map[string]any
	if !bindJSON(c, &partial) {
		return
	}
	if err := s.SaveInput(stage, partial); err != nil {
		response.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"stage": stage, "state": s.State(stage)})
}

// POST /api/pipelines/:id/stages/:stage/input/flush
func (h *StageHandler) FlushInput(c *gin.Context) {
	s, stage, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.FlushInput(c.Request.Context(), stage); err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"stage": stage, "state": s.State(stage)})
}

// POST /api/pipelines/:id/stages/:stage/generate
func (h *StageHandler) Generate(c *gin.Context) {
	s, stage, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Params map[string]any `json:"params"`
	}
	if !bindJSON(c, &req) {
		return
	}
	attempt, err := s.Generate(c.Request.Context(), stage, req.Params)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	status := http.StatusAccepted
	if attempt.Sync {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"attempt": attempt, "state": s.State(stage)})
}

// GET /api/pipelines/:id/stages/:stage/download
func (h *StageHandler) Download(c *gin.Context) {
	s, stage, ok := h.session(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	url, err := h.outputURL(s, stage)
	h.notify.DownloadResult(ctx, s.UserID(), s.PipelineID(), stage, err)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"stage": stage, "url": url})
}

// GET /api/pipelines/:id/stages/:stage/copy
func (h *StageHandler) Copy(c *gin.Context) {
	s, stage, ok := h.session(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	text, err := h.outputText(s, stage)
	h.notify.CopyResult(ctx, s.UserID(), s.PipelineID(), stage, err)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"stage": stage, "text": text})
}

func (h *StageHandler) output(s *lifecycle.Session, stage types.StageKey) (*stages.StageDef, map[string]any, error) {
	def, ok := h.catalog.Stage(stage)
	if !ok {
		return nil, nil, fmt.Errorf("unknown stage %q: %w", stage, types.ErrInvalidArgument)
	}
	p := s.Pipeline()
	if p == nil {
		return nil, nil, lifecycle.ErrNotLoaded
	}
	slot := p.Stage(stage)
	if slot == nil {
		return nil, nil, fmt.Errorf("stage %q is not part of this pipeline: %w", stage, types.ErrInvalidArgument)
	}
	return def, slot.OutputMap(), nil
}

func (h *StageHandler) outputURL(s *lifecycle.Session, stage types.StageKey) (string, error) {
	def, out, err := h.output(s, stage)
	if err != nil {
		return "", err
	}
	if def.OutputURLField == "" {
		return "", apierr.BadRequest("not_downloadable", fmt.Errorf("stage %q has no downloadable output", stage))
	}
	url, _ := out[def.OutputURLField].(string)
	if strings.TrimSpace(url) == "" {
		return "", apierr.NotFound("no_output", fmt.Errorf("stage %q has no output yet", stage))
	}
	return url, nil
}

func (h *StageHandler) outputText(s *lifecycle.Session, stage types.StageKey) (string, error) {
	if stage != types.StageScript {
		return "", apierr.BadRequest("not_copyable", fmt.Errorf("stage %q has no text output", stage))
	}
	_, out, err := h.output(s, stage)
	if err != nil {
		return "", err
	}
	text, _ := out["text"].(string)
	if strings.TrimSpace(text) == "" {
		return "", apierr.NotFound("no_output", fmt.Errorf("no script text yet"))
	}
	return text, nil
}
