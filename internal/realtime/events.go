package realtime

import (
	"strings"

	"github.com/google/uuid"
)

type SSEEvent string

const (
	SSEEventPipelineUpdated SSEEvent = "PipelineUpdated"
	SSEEventNotification    SSEEvent = "Notification"
)

type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}

// PipelineChannel carries row-change events for one pipeline.
func PipelineChannel(pipelineID uuid.UUID) string {
	return "pipeline:" + pipelineID.String()
}

// UserChannel carries notifications for every session of a user.
func UserChannel(userID uuid.UUID) string {
	return userID.String()
}

// ParsePipelineChannel returns the pipeline id of a pipeline channel.
func ParsePipelineChannel(channel string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(channel), "pipeline:")
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
