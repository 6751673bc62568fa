package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/your-org/faceguard/internal/anomaly"
	"github.com/your-org/faceguard/internal/api"
	"github.com/your-org/faceguard/internal/api/handlers"
	"github.com/your-org/faceguard/internal/api/ws"
	"github.com/your-org/faceguard/internal/audit"
	"github.com/your-org/faceguard/internal/auth"
	"github.com/your-org/faceguard/internal/capture"
	"github.com/your-org/faceguard/internal/config"
	"github.com/your-org/faceguard/internal/device"
	"github.com/your-org/faceguard/internal/matcher"
	"github.com/your-org/faceguard/internal/observability"
	"github.com/your-org/faceguard/internal/queue"
	"github.com/your-org/faceguard/internal/ratelimit"
	"github.com/your-org/faceguard/internal/storage"
	"github.com/your-org/faceguard/internal/verification"
	"github.com/your-org/faceguard/internal/vision"
)

// maxRetryBacklog is the audit retry depth at which readiness fails.
const maxRetryBacklog = 10000

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting faceguard API", "port", cfg.Server.Port, "rate_limit_backend", cfg.RateLimit.Backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Rate limiting and lockout
	store, closeStore, err := limitStore(ctx, cfg)
	if err != nil {
		slog.Error("rate limit store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	policies, err := ratelimit.PolicyOptions(cfg.RateLimit.Policies)
	if err != nil {
		slog.Error("rate limit policies", "error", err)
		os.Exit(1)
	}
	lockout := verification.NewLockout(db, producer)
	limiter := ratelimit.New(store, append(policies, ratelimit.WithBlockHandler(lockout.Handle))...)
	go limiter.RunSweeper(ctx, cfg.RateLimit.SweepInterval)

	keys, err := auth.NewKeyRing(cfg.Server.APIKeys)
	if err != nil {
		slog.Error("api keys", "error", err)
		os.Exit(1)
	}
	if !keys.Enabled() {
		slog.Warn("no API keys configured, every caller is treated as admin")
	}

	auditLog := audit.NewLogger(db, audit.WithSpool(producer))
	tracker := device.NewTracker(db, device.Config{
		TravelDistanceKm: cfg.Device.TravelKm,
		TravelWindow:     cfg.Device.TravelWindow,
	})

	opts := []verification.Option{
		verification.WithImages(minioStore),
		verification.WithPublisher(producer),
	}
	if cfg.GeoIP.DBPath != "" {
		geo, err := device.OpenMaxMind(cfg.GeoIP.DBPath)
		if err != nil {
			slog.Warn("geoip database unavailable, ip locations disabled", "error", err)
		} else {
			defer geo.Close()
			opts = append(opts, verification.WithGeo(geo))
		}
	}
	svc := verification.NewService(db, limiter, matcher.New(cfg.Verification.Threshold), auditLog, tracker, opts...)

	anomalyCfg, err := anomaly.ConfigFrom(cfg.Anomaly)
	if err != nil {
		slog.Error("anomaly config", "error", err)
		os.Exit(1)
	}
	engine := anomaly.NewEngine(db, anomalyCfg)

	// Server-side face detection for capture checks is optional.
	var detector capture.Detector
	if cfg.Vision.ModelsDir != "" {
		det, closeVision, err := vision.Open(cfg.Vision)
		if err != nil {
			slog.Warn("face detector unavailable, capture checks need a client box", "error", err)
		} else {
			defer closeVision()
			detector = det
			slog.Info("face detector ready")
		}
	}

	// WebSocket hub fed from the security event stream
	hub := ws.NewHub(cfg.Server.AllowedOrigins)
	go hub.Run(ctx)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	if err := consumer.ConsumeSecurityEvents(ctx, consumerName(), hub.Broadcast); err != nil {
		slog.Warn("start security event consumer", "error", err)
	}

	router := api.NewRouter(api.RouterConfig{
		Keys:            keys,
		Service:         svc,
		Tracker:         tracker,
		Users:           db,
		Images:          minioStore,
		Audit:           auditLog,
		Engine:          engine,
		Assessor:        capture.NewAssessor(captureConfig(cfg.Capture)),
		Detector:        detector,
		Hub:             hub,
		IPRatePerMinute: cfg.Server.IPRatePerMinute,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RetentionDays:   cfg.Retention.Days,
		Checks: []handlers.Check{
			{Name: "postgres", Ping: db.Ping},
			{Name: "minio", Ping: minioStore.Ping},
			{Name: "nats", Ping: func(context.Context) error { return producer.Ping() }},
			{Name: "audit_retry", Ping: func(ctx context.Context) error {
				depth, err := producer.RetryDepth(ctx)
				if err != nil {
					return err
				}
				if depth > maxRetryBacklog {
					return fmt.Errorf("%d audit records awaiting retry", depth)
				}
				return nil
			}},
		},
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}

// limitStore picks the counter backend. Redis shares counters across
// replicas; memory is per process.
func limitStore(ctx context.Context, cfg *config.Config) (ratelimit.Store, func(), error) {
	if cfg.RateLimit.Backend != "redis" {
		return ratelimit.NewMemoryStore(), func() {}, nil
	}
	client, err := storage.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return ratelimit.NewRedisStore(client), func() { _ = client.Close() }, nil
}

func captureConfig(c config.CaptureConfig) capture.Config {
	return capture.Config{
		MinConfidence:   c.MinConfidence,
		ConfidenceFloor: c.ConfidenceFloor,
		MinFaceRatio:    c.MinFaceRatio,
		BlurThreshold:   c.BlurThreshold,
		MinBrightness:   c.MinBrightness,
		MaxBrightness:   c.MaxBrightness,
	}
}

// consumerName is unique per replica so every API instance sees every
// security event.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = fmt.Sprintf("pid-%d", os.Getpid())
	}
	return "api-" + host
}
