package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type deviceRequestPayload struct {
	UserID   string `json:"userID"`
	DeviceID string `json:"deviceID"`
}

type pushRequestPayload struct {
	OwnerID string `json:"ownerID"`
	Token   string `json:"token"`
}

func (h *httpHandler) handleDeviceBind(c *gin.Context) {
	var request deviceRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		invalidRequest(c)
		return
	}
	session, err := h.devices.Bind(c.Request.Context(), request.UserID, request.DeviceID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

func (h *httpHandler) handleDeviceStatus(c *gin.Context) {
	status, err := h.devices.Status(c.Request.Context(), c.Query("userID"), c.Query("deviceID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !status.LoggedIn {
		c.JSON(http.StatusOK, gin.H{"loggedIn": false, "loggedInElsewhere": status.LoggedInElsewhere})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"loggedIn":     true,
		"loginTime":    status.LoginTime,
		"lastActivity": status.LastActivity,
	})
}

func (h *httpHandler) handleDeviceUnbind(c *gin.Context) {
	var request deviceRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		invalidRequest(c)
		return
	}
	if err := h.devices.Unbind(c.Request.Context(), request.UserID, request.DeviceID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handlePushRegister(c *gin.Context) {
	var request pushRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		invalidRequest(c)
		return
	}
	if err := h.push.Register(c.Request.Context(), request.OwnerID, request.Token); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handlePushUnregister(c *gin.Context) {
	var request pushRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		invalidRequest(c)
		return
	}
	if err := h.push.Unregister(c.Request.Context(), request.OwnerID, request.Token); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
