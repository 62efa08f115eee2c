package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/talkinghead-backend/internal/http/response"
	"github.com/yungbote/talkinghead-backend/internal/platform/apierr"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/uploads"
)

type UploadHandler struct {
	log      *logger.Logger
	uploader uploads.Uploader
}

func NewUploadHandler(log *logger.Logger, uploader uploads.Uploader) *UploadHandler {
	return &UploadHandler{log: log.With("handler", "UploadHandler"), uploader: uploader}
}

// POST /api/uploads (multipart: file, folder, kind)
func (h *UploadHandler) Upload(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondErr(c, apierr.BadRequest("missing_file", fmt.Errorf("missing file: %w", err)))
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_file", err))
		return
	}
	defer f.Close()

	res, err := h.uploader.Upload(c.Request.Context(), uploads.Request{
		UserID: userID,
		Folder: c.PostForm("folder"),
		Kind:   uploads.Kind(strings.ToLower(strings.TrimSpace(c.PostForm("kind")))),
		Body:   f,
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}
