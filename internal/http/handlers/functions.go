package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/talkinghead-backend/internal/http/response"
	"github.com/yungbote/talkinghead-backend/internal/invoker"
	"github.com/yungbote/talkinghead-backend/internal/platform/apierr"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/services"
	"github.com/yungbote/talkinghead-backend/internal/stages"
	"github.com/yungbote/talkinghead-backend/internal/temporalx/generation"
)

// FunctionsHandler is the server side of the generation function contract.
// Callers may only run the attempt currently in flight on a stage they own.
// Input and price are taken from the stored attempt, never from the payload.
type FunctionsHandler struct {
	log       *logger.Logger
	pipelines services.PipelineService
	catalog   *stages.Catalog
	inv       invoker.Invoker
}

func NewFunctionsHandler(log *logger.Logger, pipelines services.PipelineService, catalog *stages.Catalog, inv invoker.Invoker) *FunctionsHandler {
	return &FunctionsHandler{log: log.With("handler", "FunctionsHandler"), pipelines: pipelines, catalog: catalog, inv: inv}
}

// POST /api/functions/invoke
func (h *FunctionsHandler) Invoke(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	var req invoker.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_json", err))
		return
	}
	job, err := generation.JobFromPayload(req.Type, req.Payload)
	if err != nil {
		c.JSON(http.StatusOK, invoker.Result{Success: false, Error: err.Error()})
		return
	}
	if job.UserID != userID {
		response.RespondError(c, http.StatusForbidden, "forbidden", fmt.Errorf("payload user does not match caller"))
		return
	}
	p, err := h.pipelines.Get(c.Request.Context(), userID, job.PipelineID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	slot := p.Stage(job.Stage)
	if slot == nil || slot.AttemptID == nil || *slot.AttemptID != job.AttemptID || !slot.Status.InFlight() {
		response.RespondErr(c, apierr.Conflict("attempt_not_in_flight", fmt.Errorf("attempt %s is not running on stage %s", job.AttemptID, job.Stage)))
		return
	}
	def, ok := h.catalog.Stage(job.Stage)
	if !ok {
		response.RespondErr(c, apierr.BadRequest("unknown_stage", fmt.Errorf("unknown stage %s", job.Stage)))
		return
	}
	if string(def.JobType) != job.Type {
		response.RespondErr(c, apierr.BadRequest("job_type_mismatch", fmt.Errorf("stage %s runs %s, not %s", job.Stage, def.JobType, job.Type)))
		return
	}
	job.Input = h.catalog.ResolveInput(p, def, slot.InputMap())
	job.CreditsCost = slot.CreditsCost
	req.Payload = job.Payload()

	res, err := h.inv.Invoke(c.Request.Context(), req)
	if err != nil {
		h.log.Warn("Invoke failed", "type", req.Type, "pipeline_id", job.PipelineID, "error", err)
		response.RespondError(c, http.StatusServiceUnavailable, "generation_unavailable", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
