package memory

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postflow/golang_services/internal/scheduler_service/domain"
)

func newTestRepo(t *testing.T) (*Repository, *domain.ScheduledJob) {
	t.Helper()
	repo := NewRepository(slog.New(slog.NewTextHandler(io.Discard, nil)))
	job := domain.NewScheduledJob(uuid.New(), "owner-1", domain.PlatformTwitter, "Hello", time.Now().Add(time.Minute), "msg_"+uuid.NewString())
	require.NoError(t, repo.Create(context.Background(), job))
	return repo, job
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo, job := newTestRepo(t)
	ctx := context.Background()

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Content, got.Content)

	byMsg, err := repo.GetByBrokerMessageID(ctx, job.BrokerMessageID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, byMsg.ID)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.GetByBrokerMessageID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Error(t, repo.Create(ctx, job), "duplicate id must be rejected")
}

func TestRepository_ReturnsCopies(t *testing.T) {
	repo, job := newTestRepo(t)
	ctx := context.Background()

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	got.Status = domain.StatusPosted

	again, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, again.Status)
}

func TestRepository_ClaimAndComplete(t *testing.T) {
	repo, job := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	stale := now.Add(-5 * time.Minute)
	claim := uuid.New()

	applied, err := repo.ClaimForExecution(ctx, job.ID, claim, now, stale)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.ClaimForExecution(ctx, job.ID, uuid.New(), now, stale)
	require.NoError(t, err)
	assert.False(t, applied, "a live claim cannot be taken twice")

	applied, err = repo.CompleteExecution(ctx, job.ID, uuid.New(), domain.ExecutionResult{Status: domain.StatusPosted, At: now})
	require.NoError(t, err)
	assert.False(t, applied, "only the claim holder may complete")

	applied, err = repo.CompleteExecution(ctx, job.ID, claim, domain.ExecutionResult{Status: domain.StatusPosted, At: now})
	require.NoError(t, err)
	assert.True(t, applied)

	got, _ := repo.GetByID(ctx, job.ID)
	assert.Equal(t, domain.StatusPosted, got.Status)
	assert.True(t, got.PostedAt.Valid)
	assert.False(t, got.ErrorMessage.Valid)

	applied, err = repo.CompleteExecution(ctx, job.ID, claim, domain.ExecutionResult{Status: domain.StatusFailed, At: now, ErrorMessage: "late"})
	require.NoError(t, err)
	assert.False(t, applied, "terminal states are final")
}

func TestRepository_StaleClaimCanBeRetaken(t *testing.T) {
	repo, job := newTestRepo(t)
	ctx := context.Background()
	old := time.Now().Add(-10 * time.Minute)

	applied, err := repo.ClaimForExecution(ctx, job.ID, uuid.New(), old, old.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, applied)

	now := time.Now()
	applied, err = repo.ClaimForExecution(ctx, job.ID, uuid.New(), now, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestRepository_CancelIfScheduled(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	stale := now.Add(-5 * time.Minute)

	t.Run("ScheduledJobIsCanceled", func(t *testing.T) {
		repo, job := newTestRepo(t)
		applied, err := repo.CancelIfScheduled(ctx, job.ID, now)
		require.NoError(t, err)
		assert.True(t, applied)

		got, _ := repo.GetByID(ctx, job.ID)
		assert.Equal(t, domain.StatusCanceled, got.Status)
		assert.True(t, got.CanceledAt.Valid)
	})

	t.Run("ClaimedJobIsLeftAlone", func(t *testing.T) {
		repo, job := newTestRepo(t)
		_, err := repo.ClaimForExecution(ctx, job.ID, uuid.New(), now, stale)
		require.NoError(t, err)

		applied, err := repo.CancelIfScheduled(ctx, job.ID, now)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("StaleClaimStillBlocksCancel", func(t *testing.T) {
		repo, job := newTestRepo(t)
		longAgo := now.Add(-time.Hour)
		_, err := repo.ClaimForExecution(ctx, job.ID, uuid.New(), longAgo, longAgo.Add(-5*time.Minute))
		require.NoError(t, err)

		applied, err := repo.CancelIfScheduled(ctx, job.ID, now)
		require.NoError(t, err)
		assert.False(t, applied)

		got, _ := repo.GetByID(ctx, job.ID)
		assert.Equal(t, domain.StatusScheduled, got.Status)
	})

	t.Run("TerminalJobIsLeftAlone", func(t *testing.T) {
		repo, job := newTestRepo(t)
		claim := uuid.New()
		_, _ = repo.ClaimForExecution(ctx, job.ID, claim, now, stale)
		_, _ = repo.CompleteExecution(ctx, job.ID, claim, domain.ExecutionResult{Status: domain.StatusFailed, At: now, ErrorMessage: "boom"})

		applied, err := repo.CancelIfScheduled(ctx, job.ID, now)
		require.NoError(t, err)
		assert.False(t, applied)

		got, _ := repo.GetByID(ctx, job.ID)
		assert.Equal(t, domain.StatusFailed, got.Status)
		assert.Equal(t, "boom", got.ErrorMessage.String)
	})

	t.Run("UnknownJob", func(t *testing.T) {
		repo, _ := newTestRepo(t)
		applied, err := repo.CancelIfScheduled(ctx, uuid.New(), now)
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestRepository_ReleaseClaim(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	stale := now.Add(-5 * time.Minute)

	repo, job := newTestRepo(t)
	claim := uuid.New()
	_, err := repo.ClaimForExecution(ctx, job.ID, claim, now, stale)
	require.NoError(t, err)

	applied, err := repo.ReleaseClaim(ctx, job.ID, uuid.New(), now)
	require.NoError(t, err)
	assert.False(t, applied, "only the holder can release")

	applied, err = repo.ReleaseClaim(ctx, job.ID, claim, now)
	require.NoError(t, err)
	assert.True(t, applied)

	got, _ := repo.GetByID(ctx, job.ID)
	assert.False(t, got.ClaimID.Valid)
	assert.Equal(t, domain.StatusScheduled, got.Status)

	applied, err = repo.CancelIfScheduled(ctx, job.ID, now)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestRepository_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	repo, job := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := repo.ClaimForExecution(ctx, job.ID, uuid.New(), now, now.Add(-time.Minute))
			assert.NoError(t, err)
			if applied {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRepository_List(t *testing.T) {
	repo := NewRepository(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	base := time.Now().Add(time.Hour)

	for i := 0; i < 5; i++ {
		owner := "owner-1"
		if i == 4 {
			owner = "owner-2"
		}
		job := domain.NewScheduledJob(uuid.New(), owner, domain.PlatformTwitter, "post", base.Add(time.Duration(i)*time.Minute), uuid.NewString())
		require.NoError(t, repo.Create(ctx, job))
	}

	jobs, total, err := repo.List(ctx, domain.ListFilter{OwnerID: "owner-1", PageSize: 3, PageNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, jobs, 3)
	assert.True(t, jobs[0].ScheduledTime.Before(jobs[1].ScheduledTime))

	jobs, total, err = repo.List(ctx, domain.ListFilter{OwnerID: "owner-1", PageSize: 3, PageNumber: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, jobs, 1)

	jobs, _, err = repo.List(ctx, domain.ListFilter{OwnerID: "owner-1", Status: domain.StatusCanceled})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
