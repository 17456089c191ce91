package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/postflow/golang_services/internal/scheduler_service/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS scheduled_posts (
	id                UUID PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	platform          TEXT NOT NULL,
	content           TEXT NOT NULL,
	scheduled_time    TIMESTAMPTZ NOT NULL,
	broker_message_id TEXT NOT NULL UNIQUE,
	status            TEXT NOT NULL DEFAULT 'scheduled',
	error_message     TEXT,
	posted_at         TIMESTAMPTZ,
	canceled_at       TIMESTAMPTZ,
	claim_id          UUID,
	claimed_at        TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduled_posts_owner_time ON scheduled_posts (owner_id, scheduled_time);
CREATE INDEX IF NOT EXISTS idx_scheduled_posts_status ON scheduled_posts (status);
`

const selectColumns = `id, owner_id, platform, content, scheduled_time, broker_message_id, status,
	error_message, posted_at, canceled_at, claim_id, claimed_at, created_at, updated_at`

type PgScheduledJobRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgScheduledJobRepository(db *pgxpool.Pool, logger *slog.Logger) *PgScheduledJobRepository {
	return &PgScheduledJobRepository{db: db, logger: logger.With("component", "pg_job_store")}
}

// EnsureSchema creates the scheduled_posts table and its indexes if missing.
func (r *PgScheduledJobRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (r *PgScheduledJobRepository) Create(ctx context.Context, job *domain.ScheduledJob) error {
	query := `
		INSERT INTO scheduled_posts (id, owner_id, platform, content, scheduled_time, broker_message_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		job.ID, job.OwnerID, job.Platform, job.Content, job.ScheduledTime,
		job.BrokerMessageID, job.Status, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating scheduled job", "error", err, "job_id", job.ID)
		return err
	}
	r.logger.InfoContext(ctx, "Scheduled job created", "job_id", job.ID, "broker_message_id", job.BrokerMessageID)
	return nil
}

func (r *PgScheduledJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledJob, error) {
	query := `SELECT ` + selectColumns + ` FROM scheduled_posts WHERE id = $1`
	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting scheduled job by ID", "error", err, "job_id", id)
		return nil, err
	}
	return job, nil
}

func (r *PgScheduledJobRepository) GetByBrokerMessageID(ctx context.Context, brokerMessageID string) (*domain.ScheduledJob, error) {
	query := `SELECT ` + selectColumns + ` FROM scheduled_posts WHERE broker_message_id = $1`
	job, err := scanJob(r.db.QueryRow(ctx, query, brokerMessageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting scheduled job by broker message ID", "error", err, "broker_message_id", brokerMessageID)
		return nil, err
	}
	return job, nil
}

func (r *PgScheduledJobRepository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.ScheduledJob, int, error) {
	var conditions []string
	var args []any
	argCounter := 1

	if filter.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argCounter))
		args = append(args, filter.OwnerID)
		argCounter++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argCounter))
		args = append(args, filter.Status)
		argCounter++
	}

	var where string
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var totalCount int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM scheduled_posts"+where, args...).Scan(&totalCount); err != nil {
		r.logger.ErrorContext(ctx, "Error counting scheduled jobs", "error", err)
		return nil, 0, err
	}
	if totalCount == 0 {
		return []*domain.ScheduledJob{}, 0, nil
	}

	var query strings.Builder
	query.WriteString("SELECT " + selectColumns + " FROM scheduled_posts" + where)
	query.WriteString(" ORDER BY scheduled_time ASC")
	if filter.PageSize > 0 {
		page := filter.PageNumber
		if page < 1 {
			page = 1
		}
		query.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCounter, argCounter+1))
		args = append(args, filter.PageSize, (page-1)*filter.PageSize)
	}

	rows, err := r.db.Query(ctx, query.String(), args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing scheduled jobs", "error", err)
		return nil, 0, err
	}
	defer rows.Close()

	jobs := []*domain.ScheduledJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			r.logger.ErrorContext(ctx, "Error scanning scheduled job row during list", "error", err)
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating scheduled job rows during list", "error", err)
		return nil, 0, err
	}
	return jobs, totalCount, nil
}

func (r *PgScheduledJobRepository) ClaimForExecution(ctx context.Context, id, claimID uuid.UUID, at, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET claim_id = $1, claimed_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4 AND (claim_id IS NULL OR claimed_at < $5)
	`
	tag, err := r.db.Exec(ctx, query, claimID, at, id, domain.StatusScheduled, staleBefore)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error claiming scheduled job", "error", err, "job_id", id)
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgScheduledJobRepository) CompleteExecution(ctx context.Context, id, claimID uuid.UUID, result domain.ExecutionResult) (bool, error) {
	if result.Status != domain.StatusPosted && result.Status != domain.StatusFailed {
		return false, fmt.Errorf("execution cannot end in status %q", result.Status)
	}

	var query string
	var args []any
	switch result.Status {
	case domain.StatusPosted:
		query = `
			UPDATE scheduled_posts
			SET status = $1, posted_at = $2, updated_at = $2
			WHERE id = $3 AND status = $4 AND claim_id = $5
		`
		args = []any{result.Status, result.At, id, domain.StatusScheduled, claimID}
	case domain.StatusFailed:
		query = `
			UPDATE scheduled_posts
			SET status = $1, error_message = $2, updated_at = $3
			WHERE id = $4 AND status = $5 AND claim_id = $6
		`
		args = []any{result.Status, result.ErrorMessage, result.At, id, domain.StatusScheduled, claimID}
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error completing scheduled job", "error", err, "job_id", id, "new_status", result.Status)
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	r.logger.InfoContext(ctx, "Scheduled job status updated", "job_id", id, "new_status", result.Status)
	return true, nil
}

func (r *PgScheduledJobRepository) ReleaseClaim(ctx context.Context, id, claimID uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET claim_id = NULL, claimed_at = NULL, updated_at = $1
		WHERE id = $2 AND status = $3 AND claim_id = $4
	`
	tag, err := r.db.Exec(ctx, query, at, id, domain.StatusScheduled, claimID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error releasing scheduled job claim", "error", err, "job_id", id)
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgScheduledJobRepository) CancelIfScheduled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = $1, canceled_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4 AND claim_id IS NULL
	`
	tag, err := r.db.Exec(ctx, query, domain.StatusCanceled, at, id, domain.StatusScheduled)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error canceling scheduled job", "error", err, "job_id", id)
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	r.logger.InfoContext(ctx, "Scheduled job canceled", "job_id", id)
	return true, nil
}

func scanJob(row pgx.Row) (*domain.ScheduledJob, error) {
	job := &domain.ScheduledJob{}
	err := row.Scan(
		&job.ID, &job.OwnerID, &job.Platform, &job.Content, &job.ScheduledTime, &job.BrokerMessageID, &job.Status,
		&job.ErrorMessage, &job.PostedAt, &job.CanceledAt, &job.ClaimID, &job.ClaimedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}
