package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/postflow/golang_services/internal/scheduler_service/adapters/broker"
	"github.com/postflow/golang_services/internal/scheduler_service/domain"
)

// Broker is the deferred-message broker.
type Broker interface {
	Enqueue(ctx context.Context, callbackURL string, body []byte, delaySeconds int64) (messageID string, err error)
	// Delete returns broker.ErrMessageNotFound if the message is already gone.
	Delete(ctx context.Context, messageID string) error
}

// EventPublisher announces jobs entering a new status.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, job *domain.ScheduledJob)
}

// SchedulerConfig holds configuration specific to the Scheduler.
type SchedulerConfig struct {
	// CallbackURL is where the broker delivers execution callbacks.
	CallbackURL string
}

// ScheduleRequest asks for content to be delivered to Platform at ScheduledTime.
type ScheduleRequest struct {
	OwnerID       string
	Platform      domain.Platform
	Content       string
	ScheduledTime time.Time
}

// CancelResult reports what a cancel did. Canceled is false when the broker
// message was already gone and the job (if any) had already reached a
// terminal state or was being executed; Status is then the job's current
// status.
type CancelResult struct {
	BrokerMessageID string
	JobID           uuid.UUID
	Canceled        bool
	Status          domain.JobStatus
}

// Scheduler creates and cancels deferred deliveries.
type Scheduler struct {
	repo   domain.ScheduledJobRepository
	broker Broker
	events EventPublisher
	cfg    SchedulerConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewScheduler(
	repo domain.ScheduledJobRepository,
	b Broker,
	events EventPublisher,
	cfg SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		repo:   repo,
		broker: b,
		events: events,
		cfg:    cfg,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
	}
}

// Schedule enqueues a deferred callback and records the job. Either both
// happen or neither does.
func (s *Scheduler) Schedule(ctx context.Context, req ScheduleRequest) (*domain.ScheduledJob, error) {
	if !req.Platform.Valid() {
		postsScheduledCounter.WithLabelValues(string(req.Platform), "invalid").Inc()
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPlatform, req.Platform)
	}
	if strings.TrimSpace(req.Content) == "" {
		postsScheduledCounter.WithLabelValues(string(req.Platform), "invalid").Inc()
		return nil, domain.ErrEmptyContent
	}
	delay, err := DelaySeconds(req.ScheduledTime, s.now())
	if err != nil {
		postsScheduledCounter.WithLabelValues(string(req.Platform), "invalid").Inc()
		return nil, err
	}

	jobID := uuid.New()
	payload := &domain.CallbackPayload{JobID: jobID, OwnerID: req.OwnerID, Platform: req.Platform}
	body, err := payload.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: encoding callback payload: %v", domain.ErrSchedulingFailed, err)
	}

	messageID, err := s.broker.Enqueue(ctx, s.cfg.CallbackURL, body, delay)
	if err != nil {
		s.logger.ErrorContext(ctx, "Broker enqueue failed; nothing persisted", "error", err, "job_id", jobID, "owner_id", req.OwnerID)
		postsScheduledCounter.WithLabelValues(string(req.Platform), "broker_error").Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrSchedulingFailed, err)
	}

	job := domain.NewScheduledJob(jobID, req.OwnerID, req.Platform, req.Content, req.ScheduledTime, messageID)
	if err := s.repo.Create(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "Persisting job failed; withdrawing broker message", "error", err, "job_id", jobID, "broker_message_id", messageID)
		if delErr := s.broker.Delete(context.WithoutCancel(ctx), messageID); delErr != nil && !errors.Is(delErr, broker.ErrMessageNotFound) {
			// The callback will find no job and be a no-op.
			s.logger.WarnContext(ctx, "Could not withdraw broker message", "error", delErr, "broker_message_id", messageID)
		}
		postsScheduledCounter.WithLabelValues(string(req.Platform), "store_error").Inc()
		return nil, fmt.Errorf("%w: persisting job: %v", domain.ErrSchedulingFailed, err)
	}

	postsScheduledCounter.WithLabelValues(string(req.Platform), "ok").Inc()
	s.logger.InfoContext(ctx, "Post scheduled",
		"job_id", job.ID,
		"broker_message_id", messageID,
		"platform", job.Platform,
		"scheduled_time", job.ScheduledTime.Format(time.RFC3339),
		"delay_seconds", delay,
	)
	s.events.PublishJobEvent(ctx, job)
	return job, nil
}

// Cancel withdraws the broker message and, if the job is still waiting,
// marks it canceled. A message the broker no longer has is not an error, and
// a job that already executed keeps its outcome.
func (s *Scheduler) Cancel(ctx context.Context, brokerMessageID string) (*CancelResult, error) {
	result := &CancelResult{BrokerMessageID: brokerMessageID}

	if err := s.broker.Delete(ctx, brokerMessageID); err != nil {
		if !errors.Is(err, broker.ErrMessageNotFound) {
			s.logger.ErrorContext(ctx, "Broker delete failed; job left unchanged", "error", err, "broker_message_id", brokerMessageID)
			postsCanceledCounter.WithLabelValues("broker_error").Inc()
			return nil, fmt.Errorf("%w: %v", domain.ErrCancellationFailed, err)
		}
		s.logger.InfoContext(ctx, "Broker message already gone", "broker_message_id", brokerMessageID)
	}

	job, err := s.repo.GetByBrokerMessageID(ctx, brokerMessageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			postsCanceledCounter.WithLabelValues("unknown_message").Inc()
			return result, nil
		}
		return nil, fmt.Errorf("loading job for broker message %s: %w", brokerMessageID, err)
	}
	result.JobID = job.ID

	now := s.now().UTC()
	applied, err := s.repo.CancelIfScheduled(ctx, job.ID, now)
	if err != nil {
		return nil, fmt.Errorf("canceling job %s: %w", job.ID, err)
	}
	if !applied {
		current, err := s.repo.GetByID(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("reloading job %s: %w", job.ID, err)
		}
		s.logger.InfoContext(ctx, "Cancel arrived after execution started; job left as is",
			"job_id", job.ID, "broker_message_id", brokerMessageID, "status", current.Status)
		postsCanceledCounter.WithLabelValues("already_final").Inc()
		result.Status = current.Status
		return result, nil
	}

	job.Status = domain.StatusCanceled
	job.CanceledAt = sql.NullTime{Time: now, Valid: true}
	job.UpdatedAt = now
	result.Canceled = true
	result.Status = domain.StatusCanceled

	postsCanceledCounter.WithLabelValues("canceled").Inc()
	s.logger.InfoContext(ctx, "Post canceled", "job_id", job.ID, "broker_message_id", brokerMessageID)
	s.events.PublishJobEvent(ctx, job)
	return result, nil
}

// CancelOwned cancels only if ownerID owns the job behind brokerMessageID.
// Unknown and foreign messages both yield domain.ErrNotFound.
func (s *Scheduler) CancelOwned(ctx context.Context, ownerID, brokerMessageID string) (*CancelResult, error) {
	if _, err := s.ownedByMessage(ctx, ownerID, brokerMessageID); err != nil {
		return nil, err
	}
	return s.Cancel(ctx, brokerMessageID)
}

// Reschedule moves a waiting post to newTime: the old job is canceled and a
// new one created with the same content. Fails with domain.ErrJobNotPending
// if the old job already executed.
func (s *Scheduler) Reschedule(ctx context.Context, ownerID, brokerMessageID string, newTime time.Time) (*domain.ScheduledJob, error) {
	old, err := s.ownedByMessage(ctx, ownerID, brokerMessageID)
	if err != nil {
		return nil, err
	}
	if old.Status != domain.StatusScheduled {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrJobNotPending, old.ID, old.Status)
	}
	// Validate before touching the broker so a bad time leaves the old job intact.
	if _, err := DelaySeconds(newTime, s.now()); err != nil {
		return nil, err
	}

	res, err := s.Cancel(ctx, brokerMessageID)
	if err != nil {
		return nil, err
	}
	if !res.Canceled {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrJobNotPending, old.ID, res.Status)
	}

	job, err := s.Schedule(ctx, ScheduleRequest{
		OwnerID:       old.OwnerID,
		Platform:      old.Platform,
		Content:       old.Content,
		ScheduledTime: newTime,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Reschedule canceled the old job but could not schedule the new one",
			"error", err, "old_job_id", old.ID)
		return nil, err
	}
	s.logger.InfoContext(ctx, "Post rescheduled", "old_job_id", old.ID, "new_job_id", job.ID)
	return job, nil
}

// GetJob returns ownerID's job. Foreign jobs yield domain.ErrNotFound.
func (s *Scheduler) GetJob(ctx context.Context, ownerID string, id uuid.UUID) (*domain.ScheduledJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// ListJobs lists the jobs matching filter, ordered by scheduled time.
func (s *Scheduler) ListJobs(ctx context.Context, filter domain.ListFilter) ([]*domain.ScheduledJob, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *Scheduler) ownedByMessage(ctx context.Context, ownerID, brokerMessageID string) (*domain.ScheduledJob, error) {
	job, err := s.repo.GetByBrokerMessageID(ctx, brokerMessageID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}
