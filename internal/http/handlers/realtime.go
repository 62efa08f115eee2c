package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/talkinghead-backend/internal/http/response"
	"github.com/yungbote/talkinghead-backend/internal/platform/apierr"
	"github.com/yungbote/talkinghead-backend/internal/platform/ctxutil"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/realtime"
	"github.com/yungbote/talkinghead-backend/internal/services"
)

type RealtimeHandler struct {
	Log       *logger.Logger
	Hub       *realtime.SSEHub
	pipelines services.PipelineService

	mu      sync.RWMutex
	clients map[uuid.UUID]*realtime.SSEClient // key: session id
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub, pipelines services.PipelineService) *RealtimeHandler {
	return &RealtimeHandler{
		Log:       log.With("handler", "RealtimeHandler"),
		Hub:       hub,
		pipelines: pipelines,
		clients:   make(map[uuid.UUID]*realtime.SSEClient),
	}
}

func (h *RealtimeHandler) requestSession(c *gin.Context) (*ctxutil.RequestData, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("not authenticated"))
		return nil, false
	}
	if rd.SessionID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing session id"))
		return nil, false
	}
	return rd, true
}

// GET /api/sse/stream
func (h *RealtimeHandler) SSEStream(c *gin.Context) {
	rd, ok := h.requestSession(c)
	if !ok {
		return
	}
	userID := rd.UserID
	sessionID := rd.SessionID

	h.mu.Lock()
	// One stream per session; a reconnect replaces the old one.
	if existing, ok := h.clients[sessionID]; ok {
		h.Hub.CloseClient(existing)
		delete(h.clients, sessionID)
	}
	client := h.Hub.NewSSEClient(userID)
	h.clients[sessionID] = client
	h.mu.Unlock()

	h.Log.Debug("SSE stream open", "user_id", userID, "session_id", sessionID, "client_id", client.ID)
	h.Hub.AddChannel(client, realtime.UserChannel(userID))

	h.Hub.ServeHTTP(c.Writer, c.Request, client)

	h.mu.Lock()
	if h.clients[sessionID] == client {
		delete(h.clients, sessionID)
	}
	h.mu.Unlock()
	h.Hub.CloseClient(client)
}

// POST /api/sse/subscribe
func (h *RealtimeHandler) SSESubscribe(c *gin.Context) {
	rd, ok := h.requestSession(c)
	if !ok {
		return
	}
	channel, ok := h.bindChannel(c)
	if !ok {
		return
	}
	if !h.mayJoin(c, rd.UserID, channel) {
		return
	}
	client, ok := h.client(c, rd.SessionID)
	if !ok {
		return
	}
	h.Hub.AddChannel(client, channel)
	response.RespondOK(c, gin.H{"message": "subscribed", "channel": channel})
}

// POST /api/sse/unsubscribe
func (h *RealtimeHandler) SSEUnsubscribe(c *gin.Context) {
	rd, ok := h.requestSession(c)
	if !ok {
		return
	}
	channel, ok := h.bindChannel(c)
	if !ok {
		return
	}
	client, ok := h.client(c, rd.SessionID)
	if !ok {
		return
	}
	h.Hub.RemoveChannel(client, channel)
	response.RespondOK(c, gin.H{"message": "unsubscribed", "channel": channel})
}

func (h *RealtimeHandler) bindChannel(c *gin.Context) (string, bool) {
	var req struct {
		Channel string `json:"channel"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Channel) == "" {
		response.RespondErr(c, apierr.BadRequest("invalid_channel", fmt.Errorf("invalid channel")))
		return "", false
	}
	return strings.TrimSpace(req.Channel), true
}

// mayJoin allows the caller's own user channel and channels of pipelines
// the caller owns.
func (h *RealtimeHandler) mayJoin(c *gin.Context, userID uuid.UUID, channel string) bool {
	if channel == realtime.UserChannel(userID) {
		return true
	}
	pipelineID, ok := realtime.ParsePipelineChannel(channel)
	if !ok {
		response.RespondError(c, http.StatusForbidden, "forbidden", fmt.Errorf("channel %q is not available", channel))
		return false
	}
	if _, err := h.pipelines.Get(c.Request.Context(), userID, pipelineID); err != nil {
		response.RespondErr(c, err)
		return false
	}
	return true
}

func (h *RealtimeHandler) client(c *gin.Context, sessionID uuid.UUID) (*realtime.SSEClient, bool) {
	h.mu.RLock()
	client, exists := h.clients[sessionID]
	h.mu.RUnlock()
	if !exists {
		response.RespondError(c, http.StatusConflict, "no_stream", fmt.Errorf("no active SSE connection for this session"))
		return nil, false
	}
	return client, true
}
