package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/faceguard/internal/models"
	"github.com/your-org/faceguard/internal/observability"
)

const (
	SecurityStreamName  = "SECURITY"
	SecuritySubjectBase = "security"
	AuditStreamName     = "AUDIT"
	AuditRetrySubject   = "audit.retry"
)

// SecuritySubject is the subject an organization's security events go to.
func SecuritySubject(orgID uuid.UUID) string {
	return fmt.Sprintf("%s.%s", SecuritySubjectBase, orgID)
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

// Producer publishes security events and spools failed audit writes.
type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

func streamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        SecurityStreamName,
			Subjects:    []string{SecuritySubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Duplicates:  2 * time.Minute,
			Description: "Suspicious activity, rate limit blocks and anomaly findings",
		},
		{
			Name:        AuditStreamName,
			Subjects:    []string{AuditRetrySubject},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Duplicates:  10 * time.Minute,
			Description: "Audit records awaiting a retried write",
		},
	}
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := streamConfigs()

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishSecurityEvent sends an event to its organization's subject. The
// event ID doubles as the JetStream dedup ID.
func (p *Producer) PublishSecurityEvent(ctx context.Context, ev *models.SecurityEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal security event: %w", err)
	}
	_, err = p.js.Publish(ctx, SecuritySubject(ev.OrgID), payload, jetstream.WithMsgID(ev.ID.String()))
	if err != nil {
		return fmt.Errorf("publish security event: %w", err)
	}
	return nil
}

// SpoolAttempt parks an audit record the store rejected.
func (p *Producer) SpoolAttempt(ctx context.Context, a *models.Attempt) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	_, err = p.js.Publish(ctx, AuditRetrySubject, payload, jetstream.WithMsgID(a.ID.String()))
	if err != nil {
		return fmt.Errorf("spool audit record: %w", err)
	}
	return nil
}

// RetryDepth returns the number of audit records waiting for a retry and
// updates the gauge.
func (p *Producer) RetryDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, AuditStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	observability.AuditRetryDepth.Set(float64(info.State.Msgs))
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
