package handlers

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/descriptor"
	"github.com/your-org/faceguard/internal/device"
	"github.com/your-org/faceguard/internal/verification"
	"github.com/your-org/faceguard/pkg/dto"
)

// writeError maps service errors onto HTTP statuses. Anything unknown is a
// 500 and its text is not echoed to the client.
func writeError(c *gin.Context, err error) {
	var limited *verification.RateLimitedError
	switch {
	case errors.As(err, &limited):
		dec := limited.Decision
		resp := dto.ErrorResponse{
			Error:     limited.Error(),
			Remaining: &dec.Remaining,
			ResetAt:   resetAt(dec.ResetAt),
		}
		if until := dec.BlockedUntil; until != nil {
			secs := int(math.Ceil(time.Until(*until).Seconds()))
			resp.RetryAfterSeconds = max(secs, 1)
			resp.BlockedUntil = timestamp(*until)
			c.Header("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
		}
		c.JSON(http.StatusTooManyRequests, resp)
	case errors.Is(err, descriptor.ErrDimensionMismatch),
		errors.Is(err, descriptor.ErrInvalidValue),
		errors.Is(err, descriptor.ErrNoSamples),
		errors.Is(err, verification.ErrInvalidPIN):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, verification.ErrUserInactive):
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, verification.ErrUserNotFound),
		errors.Is(err, verification.ErrNoTemplate),
		errors.Is(err, verification.ErrNoPIN),
		errors.Is(err, device.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg})
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return n, true
}

func resetAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return timestamp(t)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
