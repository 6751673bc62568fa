package api

import (
	"context"
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceguard/internal/anomaly"
	"github.com/your-org/faceguard/internal/api/handlers"
	"github.com/your-org/faceguard/internal/api/ws"
	"github.com/your-org/faceguard/internal/audit"
	"github.com/your-org/faceguard/internal/auth"
	"github.com/your-org/faceguard/internal/capture"
	"github.com/your-org/faceguard/internal/device"
	"github.com/your-org/faceguard/internal/models"
	"github.com/your-org/faceguard/internal/verification"
)

// Users is the record store slice the HTTP layer reads directly.
type Users interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetTemplate(ctx context.Context, userID uuid.UUID) (*models.FaceTemplate, error)
}

type RouterConfig struct {
	Keys            *auth.KeyRing
	Service         *verification.Service
	Tracker         *device.Tracker
	Users           Users
	Images          handlers.ImageReader
	Audit           *audit.Logger
	Engine          *anomaly.Engine
	Assessor        *capture.Assessor
	Detector        capture.Detector
	Hub             *ws.Hub
	Checks          []handlers.Check
	IPRatePerMinute float64
	AllowedOrigins  []string
	RetentionDays   int
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	RegisterValidators()

	r := gin.New()
	r.MaxMultipartMemory = 16 << 20
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	if cfg.IPRatePerMinute > 0 {
		v1.Use(IPThrottle(cfg.IPRatePerMinute))
	}
	v1.Use(auth.APIKeyMiddleware(cfg.Keys))

	v1.GET("/ws", cfg.Hub.HandleWS)

	verifyH := handlers.NewVerifyHandler(cfg.Service)
	v1.POST("/verify/face", verifyH.Face)
	v1.POST("/verify/pin", verifyH.PIN)
	v1.PUT("/users/:id/pin", verifyH.SetPIN)

	tplH := handlers.NewTemplateHandler(cfg.Service, cfg.Users, cfg.Images)
	v1.POST("/users/:id/face", tplH.Register)
	v1.DELETE("/users/:id/face", tplH.Delete)
	v1.GET("/users/:id/face/image", tplH.Image)

	captureH := handlers.NewCaptureHandler(cfg.Assessor, cfg.Detector)
	v1.POST("/capture/check", captureH.Check)

	deviceH := handlers.NewDeviceHandler(cfg.Tracker, cfg.Users)
	v1.GET("/users/:id/devices", deviceH.List)
	v1.POST("/users/:id/devices/:fp/trust", deviceH.Trust)
	v1.DELETE("/users/:id/devices/:fp", deviceH.Delete)

	secH := handlers.NewSecurityHandler(cfg.Audit, cfg.Engine, cfg.RetentionDays)
	v1.GET("/audit", secH.Attempts)
	orgs := v1.Group("/orgs/:id/security")
	orgs.GET("/failed", secH.Failed)
	orgs.GET("/pin-usage", secH.PINUsage)
	orgs.GET("/repeated-failures", secH.RepeatedFailures)
	orgs.GET("/multi-location", secH.MultiLocation)
	orgs.GET("/anomalies", secH.Anomalies)

	admin := v1.Group("/admin", auth.RequireAdmin())
	admin.POST("/retention/purge", secH.Purge)

	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return cors.Default()
	}
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = origins
	cfg.AllowHeaders = append(cfg.AllowHeaders, "X-API-Key")
	return cors.New(cfg)
}
