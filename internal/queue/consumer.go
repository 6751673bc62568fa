package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/faceguard/internal/models"
)

type SecurityHandler func(ctx context.Context, ev *models.SecurityEvent) error

type AttemptHandler func(ctx context.Context, a *models.Attempt) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// DecodeSecurityEvent parses a message body from the SECURITY stream.
func DecodeSecurityEvent(data []byte) (*models.SecurityEvent, error) {
	var ev models.SecurityEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode security event: %w", err)
	}
	return &ev, nil
}

// DecodeAttempt parses a spooled audit record.
func DecodeAttempt(data []byte) (*models.Attempt, error) {
	var a models.Attempt
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode audit record: %w", err)
	}
	return &a, nil
}

// ConsumeAuditRetry replays spooled audit records. workerCount goroutines
// process messages; a record is dropped after maxDeliver failed attempts.
func (c *Consumer) ConsumeAuditRetry(ctx context.Context, consumerName string, handler AttemptHandler, workerCount, maxDeliver int) error {
	stream, err := c.js.Stream(ctx, AuditStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", AuditStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    maxDeliver,
		BackOff:       []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute},
		FilterSubject: AuditRetrySubject,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch audit retries", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				a, err := DecodeAttempt(msg.Data())
				if err != nil {
					slog.Error("drop malformed audit record", "worker", workerID, "error", err)
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, a); err != nil {
					slog.Error("retry audit record", "worker", workerID, "error", err, "attempt_id", a.ID)
					_ = msg.Nak()
					continue
				}
				_ = msg.Ack()
			}
		}(i)
	}

	slog.Info("audit retry consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeSecurityEvents delivers new security events to handler. Each API
// instance passes its own consumer name so every instance sees every event.
func (c *Consumer) ConsumeSecurityEvents(ctx context.Context, consumerName string, handler SecurityHandler) error {
	stream, err := c.js.Stream(ctx, SecurityStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", SecurityStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              consumerName,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           10 * time.Second,
		MaxDeliver:        3,
		FilterSubject:     SecuritySubjectBase + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				ev, err := DecodeSecurityEvent(msg.Data())
				if err != nil {
					slog.Error("drop malformed security event", "error", err, "subject", msg.Subject())
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, ev); err != nil {
					slog.Error("process security event", "error", err, "org_id", ev.OrgID)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("security event consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
