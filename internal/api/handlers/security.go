package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/anomaly"
	"github.com/your-org/faceguard/internal/audit"
	"github.com/your-org/faceguard/internal/auth"
	"github.com/your-org/faceguard/internal/models"
	"github.com/your-org/faceguard/pkg/dto"
)

const maxFeedHours = 24 * 31

// SecurityHandler serves the audit query API, the org alert feeds and
// on-demand anomaly reports.
type SecurityHandler struct {
	audit         *audit.Logger
	engine        *anomaly.Engine
	retentionDays int
}

func NewSecurityHandler(log *audit.Logger, engine *anomaly.Engine, retentionDays int) *SecurityHandler {
	return &SecurityHandler{audit: log, engine: engine, retentionDays: retentionDays}
}

// Attempts handles GET /v1/audit. Org-scoped keys are pinned to their org.
func (h *SecurityHandler) Attempts(c *gin.Context) {
	f, ok := attemptFilter(c)
	if !ok {
		return
	}
	p, _ := auth.FromContext(c)
	if !p.Admin {
		if f.OrgID != nil && *f.OrgID != p.OrgID {
			auth.AuthorizeOrg(c, *f.OrgID)
			return
		}
		own := p.OrgID
		f.OrgID = &own
	}

	f.Limit, f.Offset = audit.PageBounds(f.Limit, f.Offset)
	attempts, total, err := h.audit.Query(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	if attempts == nil {
		attempts = []models.Attempt{}
	}
	c.JSON(http.StatusOK, dto.AttemptsResponse{
		Attempts: attempts,
		Page:     dto.Page{Total: total, Limit: f.Limit, Offset: f.Offset},
	})
}

func attemptFilter(c *gin.Context) (models.AttemptFilter, bool) {
	var f models.AttemptFilter
	for _, p := range []struct {
		name string
		dst  **uuid.UUID
	}{{"user_id", &f.UserID}, {"org_id", &f.OrgID}} {
		if raw := c.Query(p.name); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				badRequest(c, "invalid "+p.name)
				return f, false
			}
			*p.dst = &id
		}
	}

	switch t := models.VerificationType(c.Query("type")); t {
	case "", models.VerificationFace, models.VerificationPIN:
		f.Type = t
	default:
		badRequest(c, "type must be face or pin")
		return f, false
	}

	switch c.Query("success") {
	case "":
	case "true":
		v := true
		f.Success = &v
	case "false":
		v := false
		f.Success = &v
	default:
		badRequest(c, "success must be true or false")
		return f, false
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if raw := c.Query(p.name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				badRequest(c, p.name+" must be RFC3339")
				return f, false
			}
			*p.dst = &t
		}
	}

	var ok bool
	if f.Limit, ok = intQuery(c, "limit", 0); !ok {
		return f, false
	}
	if f.Offset, ok = intQuery(c, "offset", 0); !ok {
		return f, false
	}
	return f, true
}

// org reads :id and the hours window for the feed endpoints.
func (h *SecurityHandler) org(c *gin.Context) (uuid.UUID, int, bool) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return uuid.Nil, 0, false
	}
	if !auth.AuthorizeOrg(c, id) {
		return uuid.Nil, 0, false
	}
	hours, ok := intQuery(c, "hours", 24)
	if !ok {
		return uuid.Nil, 0, false
	}
	if hours == 0 || hours > maxFeedHours {
		badRequest(c, "hours must be between 1 and 744")
		return uuid.Nil, 0, false
	}
	return id, hours, true
}

func (h *SecurityHandler) Failed(c *gin.Context) {
	org, hours, ok := h.org(c)
	if !ok {
		return
	}
	out, err := h.audit.FailedAttempts(c.Request.Context(), org, hours)
	respondList(c, "attempts", out, err)
}

func (h *SecurityHandler) PINUsage(c *gin.Context) {
	org, hours, ok := h.org(c)
	if !ok {
		return
	}
	out, err := h.audit.PINUsage(c.Request.Context(), org, hours)
	respondList(c, "attempts", out, err)
}

func (h *SecurityHandler) RepeatedFailures(c *gin.Context) {
	org, _, ok := h.org(c)
	if !ok {
		return
	}
	out, err := h.audit.RepeatedFailures(c.Request.Context(), org)
	respondList(c, "users", out, err)
}

func (h *SecurityHandler) MultiLocation(c *gin.Context) {
	org, _, ok := h.org(c)
	if !ok {
		return
	}
	out, err := h.audit.MultiLocation(c.Request.Context(), org)
	respondList(c, "users", out, err)
}

func respondList[T any](c *gin.Context, key string, items []T, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, gin.H{key: items, "total": len(items)})
}

func (h *SecurityHandler) Anomalies(c *gin.Context) {
	org, hours, ok := h.org(c)
	if !ok {
		return
	}
	report, err := h.engine.Analyze(c.Request.Context(), org, time.Duration(hours)*time.Hour)
	if err != nil {
		writeError(c, err)
		return
	}
	findings := report.Findings
	if findings == nil {
		findings = []anomaly.Finding{}
	}
	c.JSON(http.StatusOK, dto.AnomalyResponse{
		OrgID:          org,
		Findings:       findings,
		RiskScore:      report.RiskScore,
		FailedAttempts: report.Failures,
		PINUses:        report.PINUses,
		From:           timestamp(report.From),
		GeneratedAt:    timestamp(report.GeneratedAt),
	})
}

// Purge handles POST /v1/admin/retention/purge. Admin keys only.
func (h *SecurityHandler) Purge(c *gin.Context) {
	days, ok := intQuery(c, "days", h.retentionDays)
	if !ok {
		return
	}
	if days == 0 {
		badRequest(c, "days must be positive")
		return
	}
	n, err := h.audit.PurgeOlderThan(c.Request.Context(), days)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.PurgeResponse{Deleted: n, Days: days})
}
