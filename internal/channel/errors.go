package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelNotFound is returned when the job has no channel, or the channel
	// did not answer before the read deadline
	ErrChannelNotFound = errors.New("channel not found")

	// ErrNoMessages is returned when the channel exists but holds no retrievable message
	ErrNoMessages = errors.New("channel has no messages")
)

// CreationError is returned when a job channel cannot be provisioned. No
// channel is left behind when it is returned.
type CreationError struct {
	JobName string
	Err     error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("failed to create channel for job %s: %v", e.JobName, e.Err)
}

func (e *CreationError) Unwrap() error {
	return e.Err
}
