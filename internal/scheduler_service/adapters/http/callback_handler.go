package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/postflow/golang_services/internal/scheduler_service/adapters/signature"
	"github.com/postflow/golang_services/internal/scheduler_service/app"
	"github.com/postflow/golang_services/internal/scheduler_service/domain"
)

const MaxRequestBodySize = 1 << 20 // 1 MB

// executionRetryAfter is the Retry-After value, in seconds, sent while another
// attempt holds the job.
const executionRetryAfter = "30"

// ExecutionProcessor runs a broker callback.
type ExecutionProcessor interface {
	Execute(ctx context.Context, body []byte, sig string) (app.ExecutionOutcome, error)
}

type CallbackHandler struct {
	executor ExecutionProcessor
	logger   *slog.Logger
}

func NewCallbackHandler(executor ExecutionProcessor, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{
		executor: executor,
		logger:   logger.With("component", "callback_handler"),
	}
}

// HandleExecute is called by the broker when a job's delay elapses. Only a
// bad signature, a job held by another attempt, or a store failure before
// any delivery yields a non-2xx, so the broker never retries a delivery that
// was already attempted.
func (h *CallbackHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	sig := r.Header.Get(signature.HeaderName)

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read callback body", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
		}
		return
	}

	outcome, err := h.executor.Execute(ctx, body, sig)
	if err != nil {
		if errors.Is(err, domain.ErrAuthenticationFailed) {
			logger.WarnContext(ctx, "Callback rejected", "remote_addr", r.RemoteAddr, "signature_present", sig != "")
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
		if errors.Is(err, domain.ErrExecutionInProgress) {
			logger.InfoContext(ctx, "Callback deferred; job is executing elsewhere", "error", err)
			w.Header().Set("Retry-After", executionRetryAfter)
			http.Error(w, "Execution in progress", http.StatusServiceUnavailable)
			return
		}
		logger.ErrorContext(ctx, "Callback could not be processed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.InfoContext(ctx, "Callback processed", "outcome", outcome)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(ExecutionResponseDTO{Outcome: string(outcome)}); err != nil {
		logger.WarnContext(ctx, "Failed to write callback response", "error", err)
	}
}
