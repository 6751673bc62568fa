package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/auth"
	"github.com/your-org/faceguard/internal/device"
	"github.com/your-org/faceguard/internal/models"
	"github.com/your-org/faceguard/internal/verification"
	"github.com/your-org/faceguard/pkg/dto"
)

type UserReader interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type DeviceHandler struct {
	tracker *device.Tracker
	users   UserReader
}

func NewDeviceHandler(tracker *device.Tracker, users UserReader) *DeviceHandler {
	return &DeviceHandler{tracker: tracker, users: users}
}

// owner resolves :id to a user the caller may manage.
func (h *DeviceHandler) owner(c *gin.Context) (uuid.UUID, bool) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return uuid.Nil, false
	}
	u, err := h.users.GetUser(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return uuid.Nil, false
	}
	if u == nil {
		writeError(c, verification.ErrUserNotFound)
		return uuid.Nil, false
	}
	if !auth.AuthorizeOrg(c, u.OrgID) {
		return uuid.Nil, false
	}
	return id, true
}

func (h *DeviceHandler) List(c *gin.Context) {
	userID, ok := h.owner(c)
	if !ok {
		return
	}
	devices, err := h.tracker.Devices(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]dto.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, dto.DeviceResponse{
			Fingerprint: d.Fingerprint,
			Browser:     d.Info.Browser,
			OS:          d.Info.OS,
			DeviceType:  d.Info.DeviceType,
			Trusted:     d.Trusted,
			Count:       d.Count,
			FirstSeen:   timestamp(d.FirstSeen),
			LastSeen:    timestamp(d.LastSeen),
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": resp, "total": len(resp)})
}

// Trust marks a device trusted. A body of {"trusted": false} revokes it.
func (h *DeviceHandler) Trust(c *gin.Context) {
	userID, ok := h.owner(c)
	if !ok {
		return
	}
	trusted := true
	var body struct {
		Trusted *bool `json:"trusted"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err.Error())
			return
		}
		if body.Trusted != nil {
			trusted = *body.Trusted
		}
	}
	if err := h.tracker.Trust(c.Request.Context(), userID, c.Param("fp"), trusted); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fingerprint": c.Param("fp"), "trusted": trusted})
}

func (h *DeviceHandler) Delete(c *gin.Context) {
	userID, ok := h.owner(c)
	if !ok {
		return
	}
	if err := h.tracker.Remove(c.Request.Context(), userID, c.Param("fp")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
