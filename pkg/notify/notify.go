// Package notify delivers the terminal outcome of a pipeline run.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Report is the outcome of one batch.
type Report struct {
	RunID string
	// Stack is the display name, e.g. "Python".
	Stack string
	// Versions lists the versions built before the run ended.
	Versions []string
	// Version is the request that failed, empty on success.
	Version string
	Failure string
	Log     string
	// Recipients overrides the notifier's default recipients when set.
	Recipients []string
}

// Notifier sends success and failure reports.
type Notifier interface {
	SendSuccess(ctx context.Context, r Report) error
	SendFailure(ctx context.Context, r Report) error
}

// SuccessSubject returns the subject line of a success report.
func SuccessSubject(r Report) string {
	if len(r.Versions) == 0 {
		return fmt.Sprintf("no new %s images", r.Stack)
	}
	return fmt.Sprintf("appsvcbuild has built new %s images", r.Stack)
}

// SuccessBody returns the body of a success report.
func SuccessBody(r Report) string {
	if len(r.Versions) == 0 {
		return fmt.Sprintf("no new %s images\n%s", r.Stack, r.Log)
	}
	return fmt.Sprintf("new %s images build %s\n%s", r.Stack, strings.Join(r.Versions, ", "), r.Log)
}

func FailureSubject(r Report) string {
	return fmt.Sprintf("%s %s appsvcbuild has failed", r.Stack, r.Version)
}

func FailureBody(r Report) string {
	return fmt.Sprintf("%s\n%s", r.Failure, r.Log)
}

// Multi fans a report out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) SendSuccess(ctx context.Context, r Report) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.SendSuccess(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SendFailure(ctx context.Context, r Report) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.SendFailure(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every report.
type Discard struct{}

func (Discard) SendSuccess(context.Context, Report) error { return nil }
func (Discard) SendFailure(context.Context, Report) error { return nil }
