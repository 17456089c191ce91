package domain

import "errors"

var (
	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidScheduleTime: the target time is not strictly in the future.
	ErrInvalidScheduleTime = errors.New("scheduled time must be in the future")
	// ErrInvalidPlatform: the platform is not a supported destination.
	ErrInvalidPlatform = errors.New("unsupported platform")
	// ErrEmptyContent: nothing to post.
	ErrEmptyContent = errors.New("content must not be empty")

	// ErrSchedulingFailed: the broker enqueue failed and no job was persisted. Retryable.
	ErrSchedulingFailed = errors.New("scheduling failed")
	// ErrCancellationFailed: the broker delete failed for a reason other than not-found.
	ErrCancellationFailed = errors.New("cancellation failed")
	// ErrJobNotPending: the job left the scheduled state before the operation could apply.
	ErrJobNotPending = errors.New("job is no longer scheduled")

	// ErrExecutionInProgress: another delivery attempt holds the job's claim. Retryable.
	ErrExecutionInProgress = errors.New("job is being executed by another delivery attempt")

	// ErrAuthenticationFailed: an execution callback carried an invalid signature.
	ErrAuthenticationFailed = errors.New("callback signature verification failed")
	// ErrDeliveryFailed: the platform rejected or could not accept the post.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrCredentialsNotFound: the owner has no linked account for the platform.
	ErrCredentialsNotFound = errors.New("platform credentials not found")
)
