package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

type activateRequestPayload struct {
	DoorID      string `json:"doorID"`
	OwnerID     string `json:"ownerID"`
	PhoneNumber string `json:"phoneNumber"`
}

type doorOwnerRequestPayload struct {
	DoorID  string `json:"doorID"`
	OwnerID string `json:"ownerID"`
}

func (h *httpHandler) handleGenerate(c *gin.Context) {
	door, visitURL, err := h.doors.Generate(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"doorID": door.ID, "visitURL": visitURL})
}

func (h *httpHandler) handleActivate(c *gin.Context) {
	var request activateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		invalidRequest(c)
		return
	}
	door, err := h.doors.Activate(c.Request.Context(), request.DoorID, request.OwnerID, request.PhoneNumber)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Doorbell activated successfully",
		"doorID":  door.ID,
	})
}

func (h *httpHandler) handleListDoorbells(c *gin.Context) {
	doorbells, err := h.doors.ListForOwner(c.Request.Context(), c.Query("ownerID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"doorbells": doorbells})
}

func (h *httpHandler) handleDeactivate(c *gin.Context) {
	var request doorOwnerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		invalidRequest(c)
		return
	}
	if err := h.doors.Deactivate(c.Request.Context(), request.DoorID, request.OwnerID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Doorbell deactivated"})
}

// handleDeleteDoor takes the owner from the body or, failing that, the query string.
func (h *httpHandler) handleDeleteDoor(c *gin.Context) {
	var request doorOwnerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		invalidRequest(c)
		return
	}
	ownerID := request.OwnerID
	if ownerID == "" {
		ownerID = c.Query("ownerID")
	}
	if err := h.doors.Delete(c.Request.Context(), c.Param("doorID"), ownerID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Doorbell deleted"})
}

func (h *httpHandler) handleGetDoor(c *gin.Context) {
	door, err := h.doors.Get(c.Request.Context(), c.Param("doorID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, door)
}
