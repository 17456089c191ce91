package domain

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Platform identifies a delivery destination.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformInstagram Platform = "instagram"
)

// Platforms lists every supported destination.
var Platforms = []Platform{PlatformTwitter, PlatformLinkedIn, PlatformInstagram}

// Valid reports whether p is a supported destination.
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// ScheduledJob is a post that will be delivered to a platform at ScheduledTime.
// Jobs are never deleted; terminal jobs remain as the audit record.
type ScheduledJob struct {
	ID              uuid.UUID      `json:"id"`
	OwnerID         string         `json:"owner_id"`
	Platform        Platform       `json:"platform"`
	Content         string         `json:"content"`
	ScheduledTime   time.Time      `json:"scheduled_time"`
	BrokerMessageID string         `json:"broker_message_id"`
	Status          JobStatus      `json:"status"`
	ErrorMessage    sql.NullString `json:"error_message"`
	PostedAt        sql.NullTime   `json:"posted_at"`
	CanceledAt      sql.NullTime   `json:"canceled_at"`

	// ClaimID is set while an execution owns the job. It is not a status.
	ClaimID   uuid.NullUUID `json:"-"`
	ClaimedAt sql.NullTime  `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewScheduledJob creates a job in the initial scheduled state.
// The ID is minted by the caller before the broker call so the callback can
// address the record.
func NewScheduledJob(
	id uuid.UUID,
	ownerID string,
	platform Platform,
	content string,
	scheduledTime time.Time,
	brokerMessageID string,
) *ScheduledJob {
	now := time.Now().UTC()
	return &ScheduledJob{
		ID:              id,
		OwnerID:         ownerID,
		Platform:        platform,
		Content:         content,
		ScheduledTime:   scheduledTime.UTC(),
		BrokerMessageID: brokerMessageID,
		Status:          StatusScheduled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// HasLiveClaim reports whether an execution claimed the job after staleBefore.
func (j *ScheduledJob) HasLiveClaim(staleBefore time.Time) bool {
	return j.ClaimID.Valid && j.ClaimedAt.Valid && !j.ClaimedAt.Time.Before(staleBefore)
}

// CallbackPayload is the body the broker hands back to the execution callback.
type CallbackPayload struct {
	JobID    uuid.UUID `json:"jobId"`
	OwnerID  string    `json:"ownerId"`
	Platform Platform  `json:"platform"`
}

// ToJSON marshals the payload.
func (p *CallbackPayload) ToJSON() (json.RawMessage, error) {
	return json.Marshal(p)
}

// FromJSON unmarshals data into the payload.
func (p *CallbackPayload) FromJSON(data []byte) error {
	return json.Unmarshal(data, p)
}
