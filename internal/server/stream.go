package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/Gokul-madhav/home-ring/internal/calls"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type callEventPayload struct {
	Type      string     `json:"type"`
	OwnerID   string     `json:"ownerID"`
	Call      calls.Call `json:"call"`
	Timestamp time.Time  `json:"timestamp"`
	Source    string     `json:"source"`
}

type heartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// handleCallStream serves an owner's call events as server-sent events until
// the client disconnects.
func (h *httpHandler) handleCallStream(c *gin.Context) {
	ownerID := strings.TrimSpace(c.Query("ownerID"))
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing ownerID"})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, ownerID)
	defer cleanup()
	h.logger.Debug("call stream opened", zap.String("owner_id", ownerID))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	h.writeHeartbeat(c)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(message.EventType, callEventPayload{
				Type:      message.EventType,
				OwnerID:   message.OwnerID,
				Call:      message.Call,
				Timestamp: message.Timestamp,
				Source:    realtimeSourceBackend,
			})
			c.Writer.Flush()
		case <-ticker.C:
			h.writeHeartbeat(c)
		}
	}
}

func (h *httpHandler) writeHeartbeat(c *gin.Context) {
	c.SSEvent(realtimeEventHeartbeat, heartbeatPayload{Timestamp: time.Now().UTC(), Source: realtimeSourceBackend})
	c.Writer.Flush()
}
