// Package memory is an in-process Job Store. It applies the same
// status-guarded updates as the PostgreSQL store under a single mutex.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postflow/golang_services/internal/scheduler_service/domain"
)

type Repository struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*domain.ScheduledJob
	byMessage map[string]uuid.UUID
	logger    *slog.Logger
}

func NewRepository(logger *slog.Logger) *Repository {
	return &Repository{
		jobs:      make(map[uuid.UUID]*domain.ScheduledJob),
		byMessage: make(map[string]uuid.UUID),
		logger:    logger.With("component", "memory_job_store"),
	}
}

func (r *Repository) Create(ctx context.Context, job *domain.ScheduledJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("scheduled job %s already exists", job.ID)
	}
	if _, exists := r.byMessage[job.BrokerMessageID]; exists {
		return fmt.Errorf("broker message %s already recorded", job.BrokerMessageID)
	}
	stored := *job
	r.jobs[job.ID] = &stored
	r.byMessage[job.BrokerMessageID] = job.ID
	r.logger.DebugContext(ctx, "Scheduled job stored", "job_id", job.ID, "broker_message_id", job.BrokerMessageID)
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (r *Repository) GetByBrokerMessageID(ctx context.Context, brokerMessageID string) (*domain.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byMessage[brokerMessageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *r.jobs[id]
	return &out, nil
}

func (r *Repository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.ScheduledJob, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*domain.ScheduledJob
	for _, job := range r.jobs {
		if filter.OwnerID != "" && job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out := *job
		matched = append(matched, &out)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ScheduledTime.Before(matched[j].ScheduledTime)
	})

	total := len(matched)
	if filter.PageSize > 0 {
		page := filter.PageNumber
		if page < 1 {
			page = 1
		}
		start := (page - 1) * filter.PageSize
		if start >= total {
			return []*domain.ScheduledJob{}, total, nil
		}
		end := start + filter.PageSize
		if end > total {
			end = total
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (r *Repository) ClaimForExecution(ctx context.Context, id, claimID uuid.UUID, at, staleBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.Status != domain.StatusScheduled || job.HasLiveClaim(staleBefore) {
		return false, nil
	}
	job.ClaimID = uuid.NullUUID{UUID: claimID, Valid: true}
	job.ClaimedAt = sql.NullTime{Time: at, Valid: true}
	job.UpdatedAt = at
	return true, nil
}

func (r *Repository) CompleteExecution(ctx context.Context, id, claimID uuid.UUID, result domain.ExecutionResult) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || !domain.CanTransition(job.Status, result.Status) || result.Status == domain.StatusCanceled {
		return false, nil
	}
	if !job.ClaimID.Valid || job.ClaimID.UUID != claimID {
		return false, nil
	}
	job.Status = result.Status
	switch result.Status {
	case domain.StatusPosted:
		job.PostedAt = sql.NullTime{Time: result.At, Valid: true}
	case domain.StatusFailed:
		job.ErrorMessage = sql.NullString{String: result.ErrorMessage, Valid: true}
	}
	job.UpdatedAt = result.At
	return true, nil
}

func (r *Repository) ReleaseClaim(ctx context.Context, id, claimID uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.Status != domain.StatusScheduled || !job.ClaimID.Valid || job.ClaimID.UUID != claimID {
		return false, nil
	}
	job.ClaimID = uuid.NullUUID{}
	job.ClaimedAt = sql.NullTime{}
	job.UpdatedAt = at
	return true, nil
}

func (r *Repository) CancelIfScheduled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || !domain.CanTransition(job.Status, domain.StatusCanceled) || job.ClaimID.Valid {
		return false, nil
	}
	job.Status = domain.StatusCanceled
	job.CanceledAt = sql.NullTime{Time: at, Valid: true}
	job.UpdatedAt = at
	return true, nil
}
