package sqs

import (
	"errors"
	"fmt"
)

// Sentinel errors for queue operations.
var (
	// ErrQueueNotFound indicates the queue does not exist.
	ErrQueueNotFound = errors.New("queue not found")

	// ErrQueueDeletedRecently indicates a queue with the same name was deleted less than a minute ago.
	ErrQueueDeletedRecently = errors.New("queue deleted recently")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrThrottled indicates the request was rate limited.
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable indicates the queue service is unavailable.
	ErrUnavailable = errors.New("queue service unavailable")
)

// QueueError wraps queue errors with the failing operation and queue name.
type QueueError struct {
	// Op is the operation that failed (e.g., "Send", "Receive").
	Op string

	// Queue is the queue name, if applicable.
	Queue string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *QueueError) Error() string {
	if e.Queue != "" {
		return fmt.Sprintf("sqs %s: %s: %v", e.Op, e.Queue, e.Err)
	}
	return fmt.Sprintf("sqs %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *QueueError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates the queue does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrQueueNotFound)
}
