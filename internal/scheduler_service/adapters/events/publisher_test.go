package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/postflow/golang_services/internal/scheduler_service/domain"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	args := m.Called(ctx, subject, data)
	return args.Error(0)
}

func failedJob() *domain.ScheduledJob {
	job := domain.NewScheduledJob(uuid.New(), "user-1", domain.PlatformTwitter, "Hello", time.Now().Add(time.Minute), "msg_1")
	job.Status = domain.StatusFailed
	job.ErrorMessage = sql.NullString{String: "rate limited", Valid: true}
	return job
}

func TestNatsPublisher_PublishJobEvent(t *testing.T) {
	pub := new(MockPublisher)
	job := failedJob()

	var sent []byte
	pub.On("Publish", mock.Anything, "posts.job.failed", mock.AnythingOfType("[]uint8")).
		Run(func(args mock.Arguments) { sent = args.Get(2).([]byte) }).
		Return(nil).Once()

	NewNatsPublisher(pub, slog.New(slog.NewTextHandler(io.Discard, nil))).PublishJobEvent(context.Background(), job)

	pub.AssertExpectations(t)
	var evt JobEvent
	require.NoError(t, json.Unmarshal(sent, &evt))
	assert.Equal(t, job.ID.String(), evt.JobID)
	assert.Equal(t, domain.StatusFailed, evt.Status)
	assert.Equal(t, "rate limited", evt.ErrorMessage)
	assert.Equal(t, "msg_1", evt.BrokerMessageID)
	assert.NotEmpty(t, evt.EventID)
}

func TestNatsPublisher_PublishErrorIsSwallowed(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nats down")).Once()

	assert.NotPanics(t, func() {
		NewNatsPublisher(pub, slog.New(slog.NewTextHandler(io.Discard, nil))).PublishJobEvent(context.Background(), failedJob())
	})
	pub.AssertExpectations(t)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "posts.job.scheduled", Subject(domain.StatusScheduled))
	assert.Equal(t, "posts.job.canceled", Subject(domain.StatusCanceled))
}
