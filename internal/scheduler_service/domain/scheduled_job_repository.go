package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows ScheduledJobRepository.List.
type ListFilter struct {
	OwnerID    string
	Status     JobStatus // empty means any
	PageSize   int
	PageNumber int
}

// ExecutionResult is the terminal outcome an execution records.
type ExecutionResult struct {
	Status       JobStatus // StatusPosted or StatusFailed
	At           time.Time
	ErrorMessage string // only for StatusFailed
}

// ScheduledJobRepository defines the interface for managing ScheduledJob data.
//
// Every mutating method is conditional on the persisted status still being
// scheduled. A condition that does not hold is reported as applied == false,
// never as an error.
type ScheduledJobRepository interface {
	Create(ctx context.Context, job *ScheduledJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduledJob, error)
	GetByBrokerMessageID(ctx context.Context, brokerMessageID string) (*ScheduledJob, error)
	List(ctx context.Context, filter ListFilter) ([]*ScheduledJob, int, error)

	// ClaimForExecution marks the job as owned by claimID if it is scheduled and
	// carries no claim made at or after staleBefore.
	ClaimForExecution(ctx context.Context, id, claimID uuid.UUID, at, staleBefore time.Time) (applied bool, err error)

	// CompleteExecution moves a claimed job to posted or failed. It applies only
	// while the job is scheduled and still claimed by claimID.
	CompleteExecution(ctx context.Context, id, claimID uuid.UUID, result ExecutionResult) (applied bool, err error)

	// ReleaseClaim drops claimID's claim on a still scheduled job without
	// recording an outcome, so a later attempt or a cancel can proceed.
	ReleaseClaim(ctx context.Context, id, claimID uuid.UUID, at time.Time) (applied bool, err error)

	// CancelIfScheduled moves the job to canceled if it is scheduled and
	// carries no claim at all. A stale claim may hide a delivery whose outcome
	// was never recorded, so only an execution retry can take it over.
	CancelIfScheduled(ctx context.Context, id uuid.UUID, at time.Time) (applied bool, err error)
}
