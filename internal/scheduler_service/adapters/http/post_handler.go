package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/postflow/golang_services/internal/scheduler_service/app"
	"github.com/postflow/golang_services/internal/scheduler_service/domain"
)

// PostScheduler is the slice of app.Scheduler the client API needs.
type PostScheduler interface {
	Schedule(ctx context.Context, req app.ScheduleRequest) (*domain.ScheduledJob, error)
	CancelOwned(ctx context.Context, ownerID, brokerMessageID string) (*app.CancelResult, error)
	Reschedule(ctx context.Context, ownerID, brokerMessageID string, newTime time.Time) (*domain.ScheduledJob, error)
	GetJob(ctx context.Context, ownerID string, id uuid.UUID) (*domain.ScheduledJob, error)
	ListJobs(ctx context.Context, filter domain.ListFilter) ([]*domain.ScheduledJob, int, error)
}

type PostHandler struct {
	scheduler PostScheduler
	logger    *slog.Logger
	validate  *validator.Validate
}

func NewPostHandler(scheduler PostScheduler, logger *slog.Logger, validate *validator.Validate) *PostHandler {
	return &PostHandler{
		scheduler: scheduler,
		logger:    logger.With("component", "post_handler"),
		validate:  validate,
	}
}

// RegisterRoutes mounts the scheduled post routes on r.
func (h *PostHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.SchedulePost)
	r.Get("/", h.ListPosts)
	r.Get("/{id}", h.GetPost)
	r.Delete("/messages/{brokerMessageID}", h.CancelPost)
	r.Post("/messages/{brokerMessageID}/reschedule", h.ReschedulePost)
}

// writeDomainError maps scheduler errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error, operation string) {
	logEntry := logger.With("operation", operation, "error", err)
	switch {
	case errors.Is(err, domain.ErrInvalidScheduleTime),
		errors.Is(err, domain.ErrInvalidPlatform),
		errors.Is(err, domain.ErrEmptyContent):
		logEntry.Warn("Rejected invalid request")
		http.Error(w, fmt.Sprintf("Invalid request: %s", err.Error()), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		logEntry.Warn("Resource not found")
		http.Error(w, "Scheduled post not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrJobNotPending):
		logEntry.Warn("Job no longer pending")
		http.Error(w, "Scheduled post already executed or canceled", http.StatusConflict)
	case errors.Is(err, domain.ErrSchedulingFailed):
		logEntry.Error("Scheduling failed")
		w.Header().Set("Retry-After", "5")
		http.Error(w, "Scheduling failed, please retry", http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrCancellationFailed):
		logEntry.Error("Cancellation failed")
		http.Error(w, "Cancellation failed at the message broker", http.StatusBadGateway)
	default:
		logEntry.Error("Unhandled error")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *PostHandler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode response", "error", err)
	}
}

func (h *PostHandler) SchedulePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	authUser, ok := UserFromContext(ctx)
	if !ok {
		logger.ErrorContext(ctx, "AuthenticatedUser not found in context for SchedulePost")
		http.Error(w, "User authentication details not found", http.StatusUnauthorized)
		return
	}

	var reqDTO CreateScheduledPostRequestDTO
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		logger.WarnContext(ctx, "Failed to decode request body for SchedulePost", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		logger.WarnContext(ctx, "Validation failed for SchedulePost", "error", err)
		http.Error(w, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}

	job, err := h.scheduler.Schedule(ctx, app.ScheduleRequest{
		OwnerID:       authUser.ID,
		Platform:      domain.Platform(reqDTO.Platform),
		Content:       reqDTO.Content,
		ScheduledTime: reqDTO.ScheduledTime,
	})
	if err != nil {
		writeDomainError(w, logger, err, "SchedulePost")
		return
	}
	h.writeJSON(ctx, w, http.StatusCreated, toScheduledPostDTO(job))
}

func (h *PostHandler) CancelPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	authUser, ok := UserFromContext(ctx)
	if !ok {
		http.Error(w, "User authentication details not found", http.StatusUnauthorized)
		return
	}
	messageID := chi.URLParam(r, "brokerMessageID")
	if messageID == "" {
		http.Error(w, "Broker message ID is required", http.StatusBadRequest)
		return
	}

	res, err := h.scheduler.CancelOwned(ctx, authUser.ID, messageID)
	if err != nil {
		writeDomainError(w, logger.With("broker_message_id", messageID), err, "CancelPost")
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, toCancelResponseDTO(res))
}

func (h *PostHandler) ReschedulePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	authUser, ok := UserFromContext(ctx)
	if !ok {
		http.Error(w, "User authentication details not found", http.StatusUnauthorized)
		return
	}
	messageID := chi.URLParam(r, "brokerMessageID")

	var reqDTO RescheduleRequestDTO
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		logger.WarnContext(ctx, "Failed to decode request body for ReschedulePost", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		http.Error(w, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}

	job, err := h.scheduler.Reschedule(ctx, authUser.ID, messageID, reqDTO.ScheduledTime)
	if err != nil {
		writeDomainError(w, logger.With("broker_message_id", messageID), err, "ReschedulePost")
		return
	}
	h.writeJSON(ctx, w, http.StatusCreated, toScheduledPostDTO(job))
}

func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := UserFromContext(ctx)
	if !ok {
		http.Error(w, "User authentication details not found", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid post ID", http.StatusBadRequest)
		return
	}

	job, err := h.scheduler.GetJob(ctx, authUser.ID, id)
	if err != nil {
		writeDomainError(w, h.logger.With("job_id", id), err, "GetPost")
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, toScheduledPostDTO(job))
}

func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := UserFromContext(ctx)
	if !ok {
		http.Error(w, "User authentication details not found", http.StatusUnauthorized)
		return
	}

	queryParams := r.URL.Query()
	pageSize, _ := strconv.Atoi(queryParams.Get("page_size"))
	pageNumber, _ := strconv.Atoi(queryParams.Get("page_number"))
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	if pageNumber <= 0 {
		pageNumber = 1
	}

	status := domain.JobStatus(queryParams.Get("status"))
	if status != "" && !status.Valid() {
		http.Error(w, "Invalid status filter", http.StatusBadRequest)
		return
	}

	jobs, total, err := h.scheduler.ListJobs(ctx, domain.ListFilter{
		OwnerID:    authUser.ID,
		Status:     status,
		PageSize:   pageSize,
		PageNumber: pageNumber,
	})
	if err != nil {
		writeDomainError(w, h.logger, err, "ListPosts")
		return
	}

	posts := make([]ScheduledPostDTO, len(jobs))
	for i, job := range jobs {
		posts[i] = toScheduledPostDTO(job)
	}
	h.writeJSON(ctx, w, http.StatusOK, ListScheduledPostsResponseDTO{
		Posts:      posts,
		TotalCount: total,
		Page:       pageNumber,
		PageSize:   pageSize,
	})
}
