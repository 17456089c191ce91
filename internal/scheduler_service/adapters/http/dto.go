package http

import (
	"time"

	"github.com/google/uuid"

	"github.com/postflow/golang_services/internal/scheduler_service/app"
	"github.com/postflow/golang_services/internal/scheduler_service/domain"
)

// --- Request DTOs ---

// CreateScheduledPostRequestDTO is used for scheduling a new post.
type CreateScheduledPostRequestDTO struct {
	Platform      string    `json:"platform" validate:"required,oneof=twitter linkedin instagram"`
	Content       string    `json:"content" validate:"required,max=10000"`
	ScheduledTime time.Time `json:"scheduled_time" validate:"required"`
}

// RescheduleRequestDTO moves a waiting post to a new time.
type RescheduleRequestDTO struct {
	ScheduledTime time.Time `json:"scheduled_time" validate:"required"`
}

// --- Response DTOs ---

// ScheduledPostDTO represents a scheduled post in API responses.
type ScheduledPostDTO struct {
	JobID           string     `json:"job_id"`
	OwnerID         string     `json:"owner_id"`
	Platform        string     `json:"platform"`
	Content         string     `json:"content"`
	ScheduledTime   time.Time  `json:"scheduled_time"`
	BrokerMessageID string     `json:"broker_message_id"`
	Status          string     `json:"status"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	PostedAt        *time.Time `json:"posted_at,omitempty"`
	CanceledAt      *time.Time `json:"canceled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CancelResponseDTO reports a cancel. Canceled is false when the post had
// already executed; Status then carries its outcome.
type CancelResponseDTO struct {
	BrokerMessageID string `json:"broker_message_id"`
	JobID           string `json:"job_id,omitempty"`
	Canceled        bool   `json:"canceled"`
	Status          string `json:"status,omitempty"`
}

// ListScheduledPostsResponseDTO is the response for listing scheduled posts.
type ListScheduledPostsResponseDTO struct {
	Posts      []ScheduledPostDTO `json:"posts"`
	TotalCount int                `json:"total_count"`
	Page       int                `json:"page,omitempty"`
	PageSize   int                `json:"page_size,omitempty"`
}

// ExecutionResponseDTO acknowledges a broker callback.
type ExecutionResponseDTO struct {
	Outcome string `json:"outcome"`
}

func toScheduledPostDTO(job *domain.ScheduledJob) ScheduledPostDTO {
	dto := ScheduledPostDTO{
		JobID:           job.ID.String(),
		OwnerID:         job.OwnerID,
		Platform:        string(job.Platform),
		Content:         job.Content,
		ScheduledTime:   job.ScheduledTime,
		BrokerMessageID: job.BrokerMessageID,
		Status:          string(job.Status),
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
	if job.ErrorMessage.Valid {
		msg := job.ErrorMessage.String
		dto.ErrorMessage = &msg
	}
	if job.PostedAt.Valid {
		t := job.PostedAt.Time
		dto.PostedAt = &t
	}
	if job.CanceledAt.Valid {
		t := job.CanceledAt.Time
		dto.CanceledAt = &t
	}
	return dto
}

func toCancelResponseDTO(res *app.CancelResult) CancelResponseDTO {
	dto := CancelResponseDTO{
		BrokerMessageID: res.BrokerMessageID,
		Canceled:        res.Canceled,
		Status:          string(res.Status),
	}
	if res.JobID != uuid.Nil {
		dto.JobID = res.JobID.String()
	}
	return dto
}
