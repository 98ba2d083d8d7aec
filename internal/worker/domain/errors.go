package domain

import "errors"

var (
	// ErrDeliveryClaimed is returned when the event is already delivered,
	// out of attempts, or being delivered by another worker
	ErrDeliveryClaimed = errors.New("delivery already claimed, delivered or exhausted")

	// ErrInvalidPayload is returned when a message body is not an event
	ErrInvalidPayload = errors.New("invalid notification payload")

	// ErrMaxRetriesExceeded is returned when a delivery has used its last attempt
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrWebhookRejected is returned when the webhook answers with a 4xx
	ErrWebhookRejected = errors.New("webhook rejected notification")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
