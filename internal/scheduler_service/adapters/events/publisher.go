// Package events announces job lifecycle changes on NATS so calendar and
// status views can refresh without polling the job store.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/postflow/golang_services/internal/platform/messagebroker"
	"github.com/postflow/golang_services/internal/scheduler_service/domain"
)

const subjectPrefix = "posts.job."

// Subject returns the NATS subject for a job entering status.
func Subject(status domain.JobStatus) string {
	return subjectPrefix + string(status)
}

// JobEvent is the message body published for every status change.
type JobEvent struct {
	EventID         string           `json:"event_id"`
	JobID           string           `json:"job_id"`
	OwnerID         string           `json:"owner_id"`
	Platform        domain.Platform  `json:"platform"`
	Status          domain.JobStatus `json:"status"`
	BrokerMessageID string           `json:"broker_message_id"`
	ScheduledTime   time.Time        `json:"scheduled_time"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	OccurredAt      time.Time        `json:"occurred_at"`
}

// NewJobEvent snapshots job.
func NewJobEvent(job *domain.ScheduledJob, at time.Time) JobEvent {
	return JobEvent{
		EventID:         uuid.NewString(),
		JobID:           job.ID.String(),
		OwnerID:         job.OwnerID,
		Platform:        job.Platform,
		Status:          job.Status,
		BrokerMessageID: job.BrokerMessageID,
		ScheduledTime:   job.ScheduledTime,
		ErrorMessage:    job.ErrorMessage.String,
		OccurredAt:      at.UTC(),
	}
}

// NatsPublisher publishes JobEvents. Failures are logged and swallowed; the
// job store stays the source of truth.
type NatsPublisher struct {
	pub    messagebroker.Publisher
	logger *slog.Logger
}

func NewNatsPublisher(pub messagebroker.Publisher, logger *slog.Logger) *NatsPublisher {
	return &NatsPublisher{pub: pub, logger: logger.With("component", "job_event_publisher")}
}

func (p *NatsPublisher) PublishJobEvent(ctx context.Context, job *domain.ScheduledJob) {
	evt := NewJobEvent(job, time.Now())
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to marshal job event", "error", err, "job_id", job.ID)
		return
	}
	subject := Subject(job.Status)
	if err := p.pub.Publish(ctx, subject, data); err != nil {
		p.logger.ErrorContext(ctx, "Failed to publish job event", "error", err, "subject", subject, "job_id", job.ID)
		return
	}
	p.logger.DebugContext(ctx, "Job event published", "subject", subject, "job_id", job.ID)
}

// NoopPublisher drops events. Used when NATS is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishJobEvent(context.Context, *domain.ScheduledJob) {}
