package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/postflow/golang_services/internal/scheduler_service/adapters/platform"
	"github.com/postflow/golang_services/internal/scheduler_service/domain"
)

// SignatureVerifier authenticates a callback body against its signature header.
type SignatureVerifier interface {
	VerifyDetailed(body []byte, token string) error
}

// CredentialStore returns an owner's linked account for a platform.
type CredentialStore interface {
	GetCredentials(ctx context.Context, ownerID string, p domain.Platform) (*platform.Credentials, error)
}

// Deliverer performs the actual post.
type Deliverer interface {
	Deliver(ctx context.Context, req platform.DeliveryRequest) (*platform.Receipt, error)
}

// ExecutionOutcome says what an execution callback did.
type ExecutionOutcome string

const (
	OutcomePosted       ExecutionOutcome = "posted"
	OutcomeFailed       ExecutionOutcome = "failed"
	OutcomeRejected     ExecutionOutcome = "rejected_signature"
	OutcomeMalformed    ExecutionOutcome = "malformed_payload"
	OutcomeMissingJob   ExecutionOutcome = "missing_job"
	OutcomeAlreadyFinal ExecutionOutcome = "already_final"
	OutcomeInProgress   ExecutionOutcome = "in_progress"
	OutcomeUnrecorded   ExecutionOutcome = "unrecorded"
	OutcomeStoreError   ExecutionOutcome = "store_error"
)

const (
	defaultDeliveryTimeout = 30 * time.Second
	recordTimeout          = 10 * time.Second
	recordAttempts         = 4
)

// ExecutorConfig holds configuration specific to the Executor.
type ExecutorConfig struct {
	DeliveryTimeout time.Duration `mapstructure:"DELIVERY_TIMEOUT"`
	ExecutionLease  time.Duration `mapstructure:"EXECUTION_LEASE"`
}

// Executor runs one broker delivery attempt of a job.
type Executor struct {
	repo      domain.ScheduledJobRepository
	verifier  SignatureVerifier
	creds     CredentialStore
	deliverer Deliverer
	events    EventPublisher
	cfg       ExecutorConfig
	logger    *slog.Logger
	now       func() time.Time

	// recordBackoff is the first wait between CompleteExecution attempts; it doubles.
	recordBackoff time.Duration
}

func NewExecutor(
	repo domain.ScheduledJobRepository,
	verifier SignatureVerifier,
	creds CredentialStore,
	deliverer Deliverer,
	events EventPublisher,
	cfg ExecutorConfig,
	logger *slog.Logger,
) *Executor {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	return &Executor{
		repo:      repo,
		verifier:  verifier,
		creds:     creds,
		deliverer: deliverer,
		events:    events,
		cfg:       cfg,
		logger:    logger.With("component", "executor"),
		now:       time.Now,

		recordBackoff: 250 * time.Millisecond,
	}
}

// Execute handles one callback. A non-nil error means the broker should get
// a non-2xx response: domain.ErrAuthenticationFailed for a bad signature,
// domain.ErrExecutionInProgress while another attempt holds the job, or a
// store error raised before anything was delivered. Every other case,
// including a failed delivery, returns a nil error.
func (e *Executor) Execute(ctx context.Context, body []byte, sig string) (ExecutionOutcome, error) {
	if err := e.verifier.VerifyDetailed(body, sig); err != nil {
		e.logger.WarnContext(ctx, "Rejected execution callback with invalid signature",
			"security_event", true, "reason", err.Error(), "body_bytes", len(body))
		executionsCounter.WithLabelValues(string(OutcomeRejected)).Inc()
		return OutcomeRejected, fmt.Errorf("%w: %v", domain.ErrAuthenticationFailed, err)
	}

	var payload domain.CallbackPayload
	if err := payload.FromJSON(body); err != nil || payload.JobID == uuid.Nil {
		e.logger.ErrorContext(ctx, "Malformed execution payload; acknowledging without action", "error", err)
		return e.done(OutcomeMalformed), nil
	}
	log := e.logger.With("job_id", payload.JobID)

	job, err := e.repo.GetByID(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.WarnContext(ctx, "Execution callback for unknown job; nothing to do")
			return e.done(OutcomeMissingJob), nil
		}
		log.ErrorContext(ctx, "Failed to load job for execution", "error", err)
		executionsCounter.WithLabelValues(string(OutcomeStoreError)).Inc()
		return OutcomeStoreError, fmt.Errorf("loading job %s: %w", payload.JobID, err)
	}
	if payload.OwnerID != job.OwnerID || payload.Platform != job.Platform {
		log.WarnContext(ctx, "Callback payload disagrees with stored job; using stored job",
			"payload_owner_id", payload.OwnerID, "payload_platform", payload.Platform)
	}

	if job.Status != domain.StatusScheduled {
		log.InfoContext(ctx, "Duplicate execution callback; job already final", "status", job.Status)
		return e.done(OutcomeAlreadyFinal), nil
	}

	claimID := uuid.New()
	now := e.now().UTC()
	claimed, err := e.repo.ClaimForExecution(ctx, job.ID, claimID, now, now.Add(-e.cfg.ExecutionLease))
	if err != nil {
		log.ErrorContext(ctx, "Failed to claim job", "error", err)
		executionsCounter.WithLabelValues(string(OutcomeStoreError)).Inc()
		return OutcomeStoreError, fmt.Errorf("claiming job %s: %w", job.ID, err)
	}
	if !claimed {
		return e.claimLost(ctx, log, job.ID)
	}

	result, err := e.deliver(ctx, job)
	if err != nil {
		// Nothing was posted; hand the job back so a broker retry can run it.
		e.releaseClaim(ctx, log, job.ID, claimID)
		executionsCounter.WithLabelValues(string(OutcomeStoreError)).Inc()
		return OutcomeStoreError, fmt.Errorf("preparing delivery of job %s: %w", job.ID, err)
	}

	applied, err := e.record(ctx, log, job.ID, claimID, result)
	if err != nil || !applied {
		// Acknowledge anyway: a broker retry would post a second time. The
		// claim stays on the job, so a cancel cannot overwrite the delivery.
		log.ErrorContext(ctx, "Delivery outcome could not be recorded", "error", err, "applied", applied, "new_status", result.Status)
		return e.done(OutcomeUnrecorded), nil
	}

	job.Status = result.Status
	job.UpdatedAt = result.At
	if result.Status == domain.StatusPosted {
		job.PostedAt.Time, job.PostedAt.Valid = result.At, true
	} else {
		job.ErrorMessage.String, job.ErrorMessage.Valid = result.ErrorMessage, true
	}
	e.events.PublishJobEvent(ctx, job)
	return e.done(ExecutionOutcome(result.Status)), nil
}

// claimLost decides what a losing attempt tells the broker. A job that
// finished meanwhile is acknowledged. A job still held by another attempt is
// answered with ErrExecutionInProgress, so the broker keeps retrying until
// that attempt finishes or its claim goes stale.
func (e *Executor) claimLost(ctx context.Context, log *slog.Logger, id uuid.UUID) (ExecutionOutcome, error) {
	current, err := e.repo.GetByID(ctx, id)
	if err != nil {
		log.ErrorContext(ctx, "Failed to reload job after losing claim", "error", err)
		executionsCounter.WithLabelValues(string(OutcomeStoreError)).Inc()
		return OutcomeStoreError, fmt.Errorf("reloading job %s: %w", id, err)
	}
	if current.Status != domain.StatusScheduled {
		log.InfoContext(ctx, "Job finished by another execution", "status", current.Status)
		return e.done(OutcomeAlreadyFinal), nil
	}
	log.InfoContext(ctx, "Job held by another execution; asking the broker to retry",
		"claimed_at", current.ClaimedAt.Time)
	executionsCounter.WithLabelValues(string(OutcomeInProgress)).Inc()
	return OutcomeInProgress, fmt.Errorf("%w: job %s", domain.ErrExecutionInProgress, id)
}

// deliver posts the job under DeliveryTimeout. Business failures come back
// as a failed result; the error return is reserved for credential store
// failures, where nothing was attempted.
func (e *Executor) deliver(ctx context.Context, job *domain.ScheduledJob) (domain.ExecutionResult, error) {
	log := e.logger.With("job_id", job.ID, "platform", job.Platform)

	dctx, cancel := context.WithTimeout(ctx, e.cfg.DeliveryTimeout)
	defer cancel()

	creds, err := e.creds.GetCredentials(dctx, job.OwnerID, job.Platform)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialsNotFound) {
			log.WarnContext(ctx, "No usable credentials for delivery", "error", err)
			return e.failed(err.Error()), nil
		}
		log.ErrorContext(ctx, "Failed to load credentials for delivery", "error", err)
		return domain.ExecutionResult{}, err
	}

	start := time.Now()
	receipt, err := e.deliverer.Deliver(dctx, platform.DeliveryRequest{
		JobID:       job.ID,
		Platform:    job.Platform,
		Content:     job.Content,
		Credentials: creds,
	})
	deliveryDurationHist.WithLabelValues(string(job.Platform)).Observe(time.Since(start).Seconds())

	if err != nil {
		msg := err.Error()
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("delivery timed out after %s", e.cfg.DeliveryTimeout)
		}
		log.WarnContext(ctx, "Delivery failed", "error", fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err))
		return e.failed(msg), nil
	}

	postID := ""
	if receipt != nil {
		postID = receipt.PlatformPostID
	}
	log.InfoContext(ctx, "Delivery succeeded", "platform_post_id", postID)
	return domain.ExecutionResult{Status: domain.StatusPosted, At: e.now().UTC()}, nil
}

// record stores the outcome, retrying store errors with doubling backoff. It
// runs detached from ctx: the delivery already happened.
func (e *Executor) record(ctx context.Context, log *slog.Logger, id, claimID uuid.UUID, result domain.ExecutionResult) (bool, error) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	wait := e.recordBackoff
	for attempt := 1; ; attempt++ {
		applied, err := e.repo.CompleteExecution(recordCtx, id, claimID, result)
		if err == nil || attempt == recordAttempts {
			return applied, err
		}
		log.WarnContext(ctx, "Recording delivery outcome failed; retrying", "error", err, "attempt", attempt)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-recordCtx.Done():
			timer.Stop()
			return false, err
		}
		wait *= 2
	}
}

func (e *Executor) releaseClaim(ctx context.Context, log *slog.Logger, id, claimID uuid.UUID) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if _, err := e.repo.ReleaseClaim(releaseCtx, id, claimID, e.now().UTC()); err != nil {
		// The claim goes stale after ExecutionLease and a retry takes it over.
		log.WarnContext(ctx, "Failed to release claim", "error", err)
	}
}

func (e *Executor) failed(msg string) domain.ExecutionResult {
	return domain.ExecutionResult{Status: domain.StatusFailed, At: e.now().UTC(), ErrorMessage: msg}
}

func (e *Executor) done(outcome ExecutionOutcome) ExecutionOutcome {
	executionsCounter.WithLabelValues(string(outcome)).Inc()
	return outcome
}
