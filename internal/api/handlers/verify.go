package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/auth"
	"github.com/your-org/faceguard/internal/descriptor"
	"github.com/your-org/faceguard/internal/device"
	"github.com/your-org/faceguard/internal/models"
	"github.com/your-org/faceguard/internal/verification"
	"github.com/your-org/faceguard/pkg/dto"
)

type VerifyHandler struct {
	svc *verification.Service
}

func NewVerifyHandler(svc *verification.Service) *VerifyHandler {
	return &VerifyHandler{svc: svc}
}

func (h *VerifyHandler) Face(c *gin.Context) {
	var req dto.VerifyFaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !auth.AuthorizeOrg(c, req.OrgID) {
		return
	}

	res, err := h.svc.VerifyFace(c.Request.Context(), verification.FaceRequest{
		Request:       request(c, req.UserID, req.OrgID, req.Location, req.DeviceHints),
		Descriptor:    descriptor.Descriptor(req.Descriptor),
		LivenessScore: req.LivenessScore,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.VerifyResponse{
		Verified:   res.Verified,
		Distance:   &res.Distance,
		Threshold:  &res.Threshold,
		Tier:       res.Tier,
		Reason:     res.Reason,
		AttemptID:  res.AttemptID,
		Remaining:  &res.Limit.Remaining,
		ResetAt:    resetAt(res.Limit.ResetAt),
		Suspicious: suspicious(res.Suspicious),
	})
}

func (h *VerifyHandler) PIN(c *gin.Context) {
	var req dto.VerifyPINRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !auth.AuthorizeOrg(c, req.OrgID) {
		return
	}

	res, err := h.svc.VerifyPIN(c.Request.Context(), verification.PINRequest{
		Request: request(c, req.UserID, req.OrgID, req.Location, req.DeviceHints),
		PIN:     req.PIN,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.VerifyResponse{
		Verified:   res.Verified,
		Reason:     res.Reason,
		AttemptID:  res.AttemptID,
		Remaining:  &res.Limit.Remaining,
		ResetAt:    resetAt(res.Limit.ResetAt),
		Suspicious: suspicious(res.Suspicious),
	})
}

// SetPIN handles PUT /v1/users/:id/pin.
func (h *VerifyHandler) SetPIN(c *gin.Context) {
	userID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.SetPINRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !auth.AuthorizeOrg(c, req.OrgID) {
		return
	}

	err := h.svc.SetPIN(c.Request.Context(), verification.PINRequest{
		Request: request(c, userID, req.OrgID, nil, nil),
		PIN:     req.PIN,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func request(c *gin.Context, userID, orgID uuid.UUID, loc *dto.Location, hints *dto.DeviceHints) verification.Request {
	var h device.Hints
	if hints != nil {
		h = device.Hints{
			ScreenResolution: hints.ScreenResolution,
			Timezone:         hints.Timezone,
			Platform:         hints.Platform,
			Browser:          hints.Browser,
			DeviceType:       hints.DeviceType,
		}
	}
	r := verification.Request{
		UserID: userID,
		OrgID:  orgID,
		Client: device.FromRequest(c.Request, h),
	}
	if loc != nil {
		r.Location = &models.Location{Lat: loc.Lat, Lon: loc.Lon, Accuracy: loc.Accuracy}
	}
	return r
}

func suspicious(acts []device.Activity) []dto.SuspiciousActivity {
	out := make([]dto.SuspiciousActivity, 0, len(acts))
	for _, a := range acts {
		out = append(out, dto.SuspiciousActivity{
			Type:        a.Kind,
			Severity:    string(a.Severity),
			Description: a.Description,
			Details:     a.Details,
		})
	}
	return out
}
