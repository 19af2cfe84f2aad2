// Package build runs remote image builds and waits for them to finish.
package build

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"

	"github.com/vyvo/appsvcbuild/pkg/acr"
)

// ErrBuildFailed is matched by every BuildFailedError.
var ErrBuildFailed = errors.New("build failed")

// ErrPollBudgetExceeded is returned when a run is still in progress after MaxWait.
var ErrPollBudgetExceeded = errors.New("build poll budget exceeded")

// BuildFailedError reports a run that ended in a state other than Succeeded.
type BuildFailedError struct {
	RunID    string
	TaskName string
	Status   string
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("run %s of task %s ended with status %s", e.RunID, e.TaskName, e.Status)
}

func (e *BuildFailedError) Is(target error) bool {
	return target == ErrBuildFailed
}

// Registry is the remote build service.
type Registry interface {
	CreateOrUpdateTask(ctx context.Context, spec acr.TaskSpec) error
	ScheduleRun(ctx context.Context, taskName string) (string, error)
	GetRun(ctx context.Context, runID string) (acr.Run, error)
	ListCredentials(ctx context.Context) (acr.Credentials, error)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options tune the task definition and the poll loop.
type Options struct {
	// InitialInterval is the first poll delay; each following delay doubles up to MaxInterval.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxWait bounds the total time spent sleeping between polls. Zero means no bound.
	MaxWait     time.Duration
	TaskTimeout time.Duration
	CPU         int
}

// DefaultOptions polls from 1s doubling up to 5m, for as long as the 3h task timeout.
func DefaultOptions() Options {
	return Options{
		InitialInterval: time.Second,
		MaxInterval:     5 * time.Minute,
		MaxWait:         3 * time.Hour,
		TaskTimeout:     3 * time.Hour,
		CPU:             2,
	}
}

// Spec describes one image build.
type Spec struct {
	TaskName     string
	ContextURL   string
	ContextToken string
	Dockerfile   string
	ImageName    string
	NoCache      bool
}

// Result is returned by a successful build.
type Result struct {
	RunID       string
	Polls       int
	Credentials acr.Credentials
}

type Trigger struct {
	Registry Registry
	Options  Options
	Sleep    Sleeper
	Logger   log.Logger
}

func NewTrigger(registry Registry, opts Options, logger log.Logger) *Trigger {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Trigger{Registry: registry, Options: opts, Sleep: Sleep, Logger: logger}
}

// Build registers the task, schedules a run and polls it until it leaves the
// Queued/Started/Running states. A run that does not succeed fails with
// *BuildFailedError; on success the registry credentials are returned.
func (t *Trigger) Build(ctx context.Context, spec Spec) (Result, error) {
	err := t.Registry.CreateOrUpdateTask(ctx, acr.TaskSpec{
		Name:         spec.TaskName,
		ContextURL:   spec.ContextURL,
		ContextToken: spec.ContextToken,
		Dockerfile:   spec.Dockerfile,
		ImageName:    spec.ImageName,
		NoCache:      spec.NoCache,
		Timeout:      t.Options.TaskTimeout,
		CPU:          t.Options.CPU,
	})
	if err != nil {
		return Result{}, err
	}
	runID, err := t.Registry.ScheduleRun(ctx, spec.TaskName)
	if err != nil {
		return Result{}, err
	}
	t.Logger.Log("msg", "scheduled run", "task", spec.TaskName, "run", runID, "image", spec.ImageName)

	run, polls, err := t.wait(ctx, runID)
	if err != nil {
		return Result{RunID: runID, Polls: polls}, err
	}
	if run.Status != acr.StatusSucceeded {
		return Result{RunID: runID, Polls: polls}, &BuildFailedError{RunID: runID, TaskName: spec.TaskName, Status: run.Status}
	}
	t.Logger.Log("msg", "run succeeded", "task", spec.TaskName, "run", runID, "polls", polls)

	creds, err := t.Registry.ListCredentials(ctx)
	if err != nil {
		return Result{RunID: runID, Polls: polls}, err
	}
	return Result{RunID: runID, Polls: polls, Credentials: creds}, nil
}

func (t *Trigger) wait(ctx context.Context, runID string) (acr.Run, int, error) {
	b := t.pollBackOff()
	sleep := t.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var waited time.Duration
	for polls := 1; ; polls++ {
		run, err := t.Registry.GetRun(ctx, runID)
		if err != nil {
			return acr.Run{}, polls, err
		}
		if !acr.InProgress(run.Status) {
			return run, polls, nil
		}
		d := b.NextBackOff()
		if t.Options.MaxWait > 0 && waited+d > t.Options.MaxWait {
			return run, polls, fmt.Errorf("run %s still %s after %s: %w", runID, run.Status, waited, ErrPollBudgetExceeded)
		}
		t.Logger.Log("msg", "run in progress", "run", runID, "status", run.Status, "wait", d)
		if err := sleep(ctx, d); err != nil {
			return run, polls, err
		}
		waited += d
	}
}

func (t *Trigger) pollBackOff() *backoff.ExponentialBackOff {
	initial := t.Options.InitialInterval
	if initial <= 0 {
		initial = time.Second
	}
	maxInterval := t.Options.MaxInterval
	if maxInterval <= 0 {
		maxInterval = DefaultOptions().MaxInterval
	}
	if maxInterval < initial {
		maxInterval = initial
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
