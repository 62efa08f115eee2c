package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/http/response"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/services"
	"github.com/yungbote/talkinghead-backend/internal/stages"
)

type CreditHandler struct {
	log       *logger.Logger
	credits   services.CreditService
	pipelines services.PipelineService
	catalog   *stages.Catalog
}

func NewCreditHandler(log *logger.Logger, credits services.CreditService, pipelines services.PipelineService, catalog *stages.Catalog) *CreditHandler {
	return &CreditHandler{
		log:       log.With("handler", "CreditHandler"),
		credits:   credits,
		pipelines: pipelines,
		catalog:   catalog,
	}
}

// GET /api/credits/balance
func (h *CreditHandler) Balance(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	bal, err := h.credits.Balance(c.Request.Context(), userID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"balance": bal})
}

// POST /api/credits/estimate
// With a pipeline id, empty reference fields resolve from that pipeline's
// upstream outputs before pricing.
func (h *CreditHandler) Estimate(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	var req struct {
		PipelineID *uuid.UUID     `json:"pipeline_id"`
		Stage      types.StageKey `json:"stage"`
		Input      map[string]any `json:"input"`
	}
	if !bindJSON(c, &req) {
		return
	}
	def, ok := h.catalog.Stage(req.Stage)
	if !ok {
		response.RespondErr(c, fmt.Errorf("unknown stage %q: %w", req.Stage, types.ErrInvalidArgument))
		return
	}

	var p *types.Pipeline
	if req.PipelineID != nil {
		var err error
		if p, err = h.pipelines.Get(c.Request.Context(), userID, *req.PipelineID); err != nil {
			response.RespondErr(c, err)
			return
		}
	}
	modeName, mode, err := def.Mode(req.Input)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	resolved := h.catalog.ResolveInput(p, def, req.Input)
	if err := def.Validate(mode, resolved); err != nil {
		response.RespondErr(c, err)
		return
	}
	amount, err := h.catalog.Estimate(mode, resolved)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"stage": req.Stage, "mode": modeName, "estimate": amount})
}
