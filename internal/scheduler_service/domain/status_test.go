package domain

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []JobStatus{StatusScheduled, StatusPosted, StatusFailed, StatusCanceled}
	for _, from := range all {
		for _, to := range all {
			want := from == StatusScheduled && to != StatusScheduled
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusScheduled.IsTerminal())
	assert.True(t, StatusPosted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCanceled.IsTerminal())
	assert.False(t, JobStatus("pending").Valid())
}

func TestPlatform_Valid(t *testing.T) {
	assert.True(t, PlatformTwitter.Valid())
	assert.True(t, PlatformLinkedIn.Valid())
	assert.True(t, PlatformInstagram.Valid())
	assert.False(t, Platform("myspace").Valid())
	assert.False(t, Platform("").Valid())
}

func TestNewScheduledJob(t *testing.T) {
	id := uuid.New()
	at := time.Now().Add(time.Hour)
	job := NewScheduledJob(id, "owner-1", PlatformTwitter, "Hello", at, "msg_1")

	assert.Equal(t, id, job.ID)
	assert.Equal(t, StatusScheduled, job.Status)
	assert.Equal(t, "msg_1", job.BrokerMessageID)
	assert.False(t, job.ErrorMessage.Valid)
	assert.False(t, job.PostedAt.Valid)
	assert.Equal(t, time.UTC, job.ScheduledTime.Location())
}

func TestScheduledJob_HasLiveClaim(t *testing.T) {
	now := time.Now()
	job := &ScheduledJob{}
	assert.False(t, job.HasLiveClaim(now.Add(-time.Minute)))

	job.ClaimID = uuid.NullUUID{UUID: uuid.New(), Valid: true}
	job.ClaimedAt = sql.NullTime{Time: now, Valid: true}
	assert.True(t, job.HasLiveClaim(now.Add(-time.Minute)))
	assert.False(t, job.HasLiveClaim(now.Add(time.Second)))
}

func TestCallbackPayload_JSONFieldNames(t *testing.T) {
	id := uuid.New()
	p := CallbackPayload{JobID: id, OwnerID: "owner-1", Platform: PlatformLinkedIn}
	raw, err := p.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jobId":"`+id.String()+`","ownerId":"owner-1","platform":"linkedin"}`, string(raw))

	var decoded CallbackPayload
	require.NoError(t, decoded.FromJSON(raw))
	assert.Equal(t, p, decoded)
}
