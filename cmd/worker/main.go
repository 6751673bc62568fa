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

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceguard/internal/anomaly"
	"github.com/your-org/faceguard/internal/audit"
	"github.com/your-org/faceguard/internal/config"
	"github.com/your-org/faceguard/internal/jobs"
	"github.com/your-org/faceguard/internal/observability"
	"github.com/your-org/faceguard/internal/queue"
	"github.com/your-org/faceguard/internal/storage"
)

const auditRetryWorkers = 2

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

	slog.Info("starting faceguard worker",
		"concurrency", cfg.Worker.Concurrency,
		"anomaly_scan", cfg.Anomaly.ScanInterval,
		"retention_days", cfg.Retention.Days,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	anomalyCfg, err := anomaly.ConfigFrom(cfg.Anomaly)
	if err != nil {
		slog.Error("anomaly config", "error", err)
		os.Exit(1)
	}
	auditLog := audit.NewLogger(db)

	// Drain the audit retry spool back into Postgres
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	if err := consumer.ConsumeAuditRetry(ctx, "audit-retry", auditLog.Retry, auditRetryWorkers, cfg.Worker.AuditMaxDeliver); err != nil {
		slog.Error("start audit retry consumer", "error", err)
		os.Exit(1)
	}

	// Periodic jobs
	redisOpt := storage.AsynqRedis(cfg.Redis)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: anomalyCfg.Timezone})
	ids, err := jobs.Register(scheduler, jobs.Schedule{
		AnomalyScan:       cfg.Anomaly.ScanInterval,
		AuditPurge:        cfg.Retention.Cron,
		LockoutReactivate: cfg.Worker.LockoutInterval,
		RetentionDays:     cfg.Retention.Days,
	})
	if err != nil {
		slog.Error("register periodic tasks", "error", err)
		os.Exit(1)
	}
	slog.Info("periodic tasks registered", "entries", len(ids))

	if err := scheduler.Start(); err != nil {
		slog.Error("start scheduler", "error", err)
		os.Exit(1)
	}

	h := &jobs.Handlers{
		Orgs:          db,
		Analyzer:      anomaly.NewEngine(db, anomalyCfg),
		Events:        producer,
		Audit:         auditLog,
		Users:         db,
		Lookback:      anomalyCfg.Lookback,
		RetentionDays: cfg.Retention.Days,
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Worker.Concurrency,
		Queues:          jobs.Queues(),
		ShutdownTimeout: 20 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			slog.Error("task failed", "type", task.Type(), "error", err)
		}),
	})
	if err := srv.Start(h.Mux()); err != nil {
		slog.Error("start task server", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	metricsAddr := fmt.Sprintf(":%d", cfg.Worker.MetricsPort)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report the audit retry backlog
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := producer.RetryDepth(ctx); err != nil {
					slog.Warn("audit retry depth", "error", err)
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	scheduler.Shutdown()
	srv.Shutdown()
	cancel()
	slog.Info("worker stopped")
}
