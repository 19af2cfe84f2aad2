package runs

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a pipeline run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Finished reports whether s is terminal.
func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ErrNotFound is returned for unknown run IDs.
var ErrNotFound = errors.New("run not found")

// Run describes one batch of build requests tracked by the service.
type Run struct {
	ID         string    `json:"id"`
	Stack      string    `json:"stack"`
	Versions   []string  `json:"versions"`
	Succeeded  []string  `json:"succeeded,omitempty"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}
