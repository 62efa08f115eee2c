package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/talkinghead-backend/internal/http/response"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/services"
)

type TagHandler struct {
	log  *logger.Logger
	tags services.TagService
}

func NewTagHandler(log *logger.Logger, tags services.TagService) *TagHandler {
	return &TagHandler{log: log.With("handler", "TagHandler"), tags: tags}
}

// GET /api/tags
func (h *TagHandler) ListTags(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	list, err := h.tags.List(c.Request.Context(), userID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"tags": list})
}

// POST /api/tags
func (h *TagHandler) CreateTag(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if !bindJSON(c, &req) {
		return
	}
	tag, err := h.tags.Create(c.Request.Context(), userID, req.Name, req.Color)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tag": tag})
}

// DELETE /api/tags/:id
func (h *TagHandler) DeleteTag(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.tags.Delete(c.Request.Context(), userID, id); err != nil {
		response.RespondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
