package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPurgeSessions deletes expired admin sessions.
	TaskPurgeSessions = "sessions:purge"
	// TaskSweepBuckets drops rate-limit buckets idle past a horizon.
	TaskSweepBuckets = "ratelimit:sweep"
	// TaskCleanupAudit trims the audit trail to the retention window.
	TaskCleanupAudit = "audit:cleanup"
)

// SessionPurger deletes sessions whose expiry has passed.
type SessionPurger interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// BucketSweeper deletes buckets that have not refilled recently.
type BucketSweeper interface {
	Sweep(ctx context.Context, idleFor time.Duration) (int64, error)
}

// AuditCleaner removes audit rows older than the retention window.
type AuditCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Maintenance bundles the periodic cleanup handlers.
type Maintenance struct {
	Sessions SessionPurger
	Buckets  BucketSweeper
	Audit    AuditCleaner
	Logger   *slog.Logger
}

type sweepPayload struct {
	IdleFor time.Duration `json:"idleFor"`
}

type cleanupPayload struct {
	OlderThan time.Duration `json:"olderThan"`
}

// NewPurgeSessionsTask builds the session purge task.
func NewPurgeSessionsTask() *asynq.Task {
	return asynq.NewTask(TaskPurgeSessions, nil, asynq.Queue(QueueDefault))
}

// NewSweepBucketsTask builds the bucket sweep task.
func NewSweepBucketsTask(idleFor time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(sweepPayload{IdleFor: idleFor})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSweepBuckets, body, asynq.Queue(QueueDefault)), nil
}

// NewCleanupAuditTask builds the audit retention task.
func NewCleanupAuditTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(cleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCleanupAudit, body, asynq.Queue(QueueDefault)), nil
}

// Handlers returns the task registrations for the worker mux.
func (m Maintenance) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskPurgeSessions, Handler: m.handlePurgeSessions},
		{Type: TaskSweepBuckets, Handler: m.handleSweepBuckets},
		{Type: TaskCleanupAudit, Handler: m.handleCleanupAudit},
	}
}

func (m Maintenance) handlePurgeSessions(ctx context.Context, t *asynq.Task) error {
	removed, err := m.Sessions.DeleteExpiredSessions(ctx, time.Now())
	if err != nil {
		return err
	}
	m.log("purged expired sessions", removed)
	return nil
}

func (m Maintenance) handleSweepBuckets(ctx context.Context, t *asynq.Task) error {
	var payload sweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.IdleFor <= 0 {
		payload.IdleFor = 24 * time.Hour
	}
	removed, err := m.Buckets.Sweep(ctx, payload.IdleFor)
	if err != nil {
		return err
	}
	m.log("swept idle rate-limit buckets", removed)
	return nil
}

func (m Maintenance) handleCleanupAudit(ctx context.Context, t *asynq.Task) error {
	var payload cleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.OlderThan <= 0 {
		payload.OlderThan = 90 * 24 * time.Hour
	}
	removed, err := m.Audit.Cleanup(ctx, payload.OlderThan)
	if err != nil {
		return err
	}
	m.log("trimmed audit trail", removed)
	return nil
}

func (m Maintenance) log(msg string, rows int64) {
	if m.Logger != nil {
		m.Logger.Info(msg, slog.Int64("rows", rows))
	}
}
