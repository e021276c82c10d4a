package group

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidGroupState is returned when an operation is not allowed in
	// the group's current state, e.g. starting a group twice.
	ErrInvalidGroupState = errors.New("invalid group state")
	// ErrCanceled is the outcome of a canceled group.
	ErrCanceled = errors.New("download group canceled")
)

// TaskError ties a failure to the task that produced it.
type TaskError struct {
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
