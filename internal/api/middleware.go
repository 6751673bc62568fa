package api

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/didip/tollbooth"
	"github.com/didip/tollbooth/limiter"
	"github.com/didip/tollbooth_gin"
	"github.com/gin-gonic/gin"

	"github.com/your-org/faceguard/internal/observability"
)

// LoggingMiddleware logs each request with slog and records its latency
// under the route pattern, so path IDs don't explode label cardinality.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}
		slog.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", duration.String(),
			"ip", c.ClientIP(),
		)

		observability.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(status),
		).Observe(duration.Seconds())
	}
}

// IPThrottle is a coarse per-IP token bucket in front of the API. It is
// not the verification rate limiter; it only sheds floods.
func IPThrottle(perMinute float64) gin.HandlerFunc {
	msg, _ := json.Marshal(map[string]string{"error": "too many requests from this address"})

	lmt := tollbooth.NewLimiter(perMinute/60, &limiter.ExpirableOptions{
		DefaultExpirationTTL: 10 * time.Minute,
	})
	lmt.SetIPLookups([]string{"X-Forwarded-For", "X-Real-IP", "RemoteAddr"})
	lmt.SetMessageContentType("application/json")
	lmt.SetMessage(string(msg))

	return tollbooth_gin.LimitHandler(lmt)
}
