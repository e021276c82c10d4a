package group

import (
	"fmt"
	"net/url"

	"github.com/locsim/ddfetch/internal/utils"
)

// Task is one transfer of a Group: a source URI that ends up at a local
// destination path once the whole transfer has been written.
type Task struct {
	ID          string
	Source      *url.URL
	Destination string
	Description string

	g         *Group
	fetcher   utils.Fetcher
	state     TaskState
	progress  float64
	reported  float64
	// delivered is the last fraction handed to the delegate.
	delivered float64
	err       error
}

// NewTask parses source and returns a pending task.
func NewTask(id, source, destination, description string) (*Task, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid source for task %s: %w", id, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("invalid source for task %s: missing scheme in %q", id, source)
	}
	return &Task{
		ID:          id,
		Source:      u,
		Destination: destination,
		Description: description,
	}, nil
}

func (t *Task) lock() func() {
	if t.g == nil {
		return func() {}
	}
	t.g.mu.Lock()
	return t.g.mu.Unlock
}

// Progress returns the fraction of the transfer done, between 0 and 1.
func (t *Task) Progress() float64 {
	defer t.lock()()
	return t.progress
}

func (t *Task) State() TaskState {
	defer t.lock()()
	return t.state
}

// Err returns the error that failed the task, if any.
func (t *Task) Err() error {
	defer t.lock()()
	return t.err
}

// Label is the text shown for the task in progress displays.
func (t *Task) Label() string {
	if t.Description != "" {
		return t.Description
	}
	return t.ID
}
