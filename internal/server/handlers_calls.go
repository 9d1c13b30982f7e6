package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type createCallRequestPayload struct {
	VisitorName string `json:"visitorName"`
}

type createCallResponsePayload struct {
	Success     bool   `json:"success"`
	CallID      string `json:"callID"`
	ChannelName string `json:"channelName"`
	AppID       string `json:"appID"`
	Token       string `json:"token"`
}

// handleCreateCall treats :id as the door being rung. The body is optional.
func (h *httpHandler) handleCreateCall(c *gin.Context) {
	var request createCallRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		invalidRequest(c)
		return
	}
	call, err := h.calls.Create(c.Request.Context(), c.Param("id"), request.VisitorName)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, createCallResponsePayload{
		Success:     true,
		CallID:      call.ID,
		ChannelName: call.ChannelName,
		AppID:       call.AppID,
		Token:       call.Token,
	})
}

func (h *httpHandler) handleCallStatus(c *gin.Context) {
	call, err := h.calls.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *httpHandler) handleCallToken(c *gin.Context) {
	credential, err := h.calls.Token(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, credential)
}

func (h *httpHandler) handleAcceptCall(c *gin.Context) {
	if _, err := h.calls.Accept(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Call accepted"})
}

func (h *httpHandler) handleEndCall(c *gin.Context) {
	if _, err := h.calls.End(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Call ended"})
}

func (h *httpHandler) handleIncomingCalls(c *gin.Context) {
	incoming, err := h.calls.Incoming(c.Request.Context(), c.Query("ownerID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": incoming})
}

func (h *httpHandler) handleCallLogs(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	page, err := h.calls.Logs(c.Request.Context(), c.Query("ownerID"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
