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
	"github.com/yungbote/talkinghead-backend/internal/platform/ctxutil"
)

func requestUser(c *gin.Context) (uuid.UUID, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("not authenticated"))
		return uuid.Nil, false
	}
	return rd.UserID, true
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param(name)))
	if err != nil || id == uuid.Nil {
		response.RespondErr(c, apierr.BadRequest("invalid_"+name, fmt.Errorf("invalid %s", name)))
		return uuid.Nil, false
	}
	return id, true
}

func pathStage(c *gin.Context) (types.StageKey, bool) {
	stage := types.StageKey(strings.TrimSpace(c.Param("stage")))
	if stage == "" {
		response.RespondErr(c, apierr.BadRequest("invalid_stage", fmt.Errorf("missing stage")))
		return "", false
	}
	return stage, true
}

// bindJSON treats an empty body as an empty object.
func bindJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_json", err))
		return false
	}
	return true
}
