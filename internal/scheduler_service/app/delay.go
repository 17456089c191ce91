package app

import (
	"time"

	"github.com/postflow/golang_services/internal/scheduler_service/domain"
)

// DelaySeconds converts an absolute target into the whole number of seconds
// the broker should wait. Partial seconds round up so delivery never fires
// before target.
func DelaySeconds(target, now time.Time) (int64, error) {
	d := target.Sub(now)
	if d <= 0 {
		return 0, domain.ErrInvalidScheduleTime
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs, nil
}
