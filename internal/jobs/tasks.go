package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TypeAnomalyScan       = "anomaly:scan"
	TypeAuditPurge        = "audit:purge"
	TypeLockoutReactivate = "lockout:reactivate"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// Queues is the asynq.Config queue weighting used by the worker.
func Queues() map[string]int {
	return map[string]int{QueueCritical: 6, QueueDefault: 3}
}

// ScanPayload narrows an anomaly scan. A nil OrgID scans every org with
// recent activity; zero Lookback uses the configured window.
type ScanPayload struct {
	OrgID    *uuid.UUID    `json:"org_id,omitempty"`
	Lookback time.Duration `json:"lookback,omitempty"`
}

type PurgePayload struct {
	Days int `json:"days,omitempty"`
}

func NewAnomalyScanTask(p ScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAnomalyScan, data, asynq.Queue(QueueDefault), asynq.Timeout(10*time.Minute), asynq.MaxRetry(2)), nil
}

func NewAuditPurgeTask(days int) (*asynq.Task, error) {
	data, err := json.Marshal(PurgePayload{Days: days})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAuditPurge, data, asynq.Queue(QueueDefault), asynq.Timeout(30*time.Minute), asynq.MaxRetry(3)), nil
}

// Reactivation is latency sensitive: a locked user waits on it.
func NewLockoutReactivateTask() *asynq.Task {
	return asynq.NewTask(TypeLockoutReactivate, nil, asynq.Queue(QueueCritical), asynq.Timeout(30*time.Second), asynq.MaxRetry(1))
}

// Schedule holds the cron specs for the periodic tasks.
type Schedule struct {
	AnomalyScan       string
	AuditPurge        string
	LockoutReactivate string
	RetentionDays     int
}

// Register adds the periodic tasks to s and returns their entry IDs.
func Register(s *asynq.Scheduler, sched Schedule) ([]string, error) {
	scan, err := NewAnomalyScanTask(ScanPayload{})
	if err != nil {
		return nil, err
	}
	purge, err := NewAuditPurgeTask(sched.RetentionDays)
	if err != nil {
		return nil, err
	}

	entries := []struct {
		spec string
		task *asynq.Task
	}{
		{sched.AnomalyScan, scan},
		{sched.AuditPurge, purge},
		{sched.LockoutReactivate, NewLockoutReactivateTask()},
	}
	var ids []string
	for _, e := range entries {
		id, err := s.Register(e.spec, e.task)
		if err != nil {
			return nil, fmt.Errorf("register %s (%q): %w", e.task.Type(), e.spec, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
