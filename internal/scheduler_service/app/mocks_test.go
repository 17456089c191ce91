package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/postflow/golang_services/internal/scheduler_service/adapters/platform"
	"github.com/postflow/golang_services/internal/scheduler_service/domain"
)

// --- Mocks ---

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Enqueue(ctx context.Context, callbackURL string, body []byte, delaySeconds int64) (string, error) {
	args := m.Called(ctx, callbackURL, body, delaySeconds)
	return args.String(0), args.Error(1)
}

func (m *MockBroker) Delete(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

type MockDeliverer struct {
	mock.Mock
}

func (m *MockDeliverer) Deliver(ctx context.Context, req platform.DeliveryRequest) (*platform.Receipt, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*platform.Receipt), args.Error(1)
}

type MockScheduledJobRepository struct {
	mock.Mock
}

func (m *MockScheduledJobRepository) Create(ctx context.Context, job *domain.ScheduledJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockScheduledJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScheduledJob), args.Error(1)
}

func (m *MockScheduledJobRepository) GetByBrokerMessageID(ctx context.Context, brokerMessageID string) (*domain.ScheduledJob, error) {
	args := m.Called(ctx, brokerMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScheduledJob), args.Error(1)
}

func (m *MockScheduledJobRepository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.ScheduledJob, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*domain.ScheduledJob), args.Int(1), args.Error(2)
}

func (m *MockScheduledJobRepository) ClaimForExecution(ctx context.Context, id, claimID uuid.UUID, at, staleBefore time.Time) (bool, error) {
	args := m.Called(ctx, id, claimID, at, staleBefore)
	return args.Bool(0), args.Error(1)
}

func (m *MockScheduledJobRepository) CompleteExecution(ctx context.Context, id, claimID uuid.UUID, result domain.ExecutionResult) (bool, error) {
	args := m.Called(ctx, id, claimID, result)
	return args.Bool(0), args.Error(1)
}

func (m *MockScheduledJobRepository) ReleaseClaim(ctx context.Context, id, claimID uuid.UUID, at time.Time) (bool, error) {
	args := m.Called(ctx, id, claimID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockScheduledJobRepository) CancelIfScheduled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	args := m.Called(ctx, id, at)
	return args.Bool(0), args.Error(1)
}

// recordingPublisher keeps the statuses it was asked to announce.
type recordingPublisher struct {
	mu       sync.Mutex
	statuses []domain.JobStatus
}

func (p *recordingPublisher) PublishJobEvent(_ context.Context, job *domain.ScheduledJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, job.Status)
}

func (p *recordingPublisher) Statuses() []domain.JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.JobStatus(nil), p.statuses...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
