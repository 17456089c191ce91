package domain

// JobStatus represents the status of a scheduled job.
type JobStatus string

const (
	StatusScheduled JobStatus = "scheduled" // initial
	StatusPosted    JobStatus = "posted"
	StatusFailed    JobStatus = "failed"
	StatusCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether no transition may leave s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusPosted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	return s == StatusScheduled || s.IsTerminal()
}

// CanTransition reports whether from -> to is legal. The only legal moves are
// scheduled -> posted, scheduled -> failed and scheduled -> canceled.
func CanTransition(from, to JobStatus) bool {
	return from == StatusScheduled && to.IsTerminal()
}
