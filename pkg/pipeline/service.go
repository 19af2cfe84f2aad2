package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
	"github.com/vyvo/appsvcbuild/pkg/metrics"
	"github.com/vyvo/appsvcbuild/pkg/notify"
	"github.com/vyvo/appsvcbuild/pkg/runs"
)

// ContextFactory builds the collaborators of one invocation. logger is the run's
// logger and must be used by every collaborator so their output reaches the run log.
type ContextFactory func(ctx context.Context, logger log.Logger) (*Context, error)

// Summary describes a handled batch.
type Summary struct {
	RunID     string   `json:"runId"`
	Stack     string   `json:"stack"`
	Succeeded []string `json:"succeeded"`
	Error     string   `json:"error,omitempty"`
}

// Message is the human readable outcome returned to callers.
func (s Summary) Message() string {
	return fmt.Sprintf("built new %s images: %s", s.Stack, strings.Join(s.Succeeded, ", "))
}

// Service resolves, runs, reports and records batches.
type Service struct {
	Resolver   *buildrequest.Resolver
	NewContext ContextFactory
	Notifier   notify.Notifier
	Recorder   *runs.Recorder
	Logger     log.Logger
}

func NewService(resolver *buildrequest.Resolver, factory ContextFactory, notifier notify.Notifier, recorder *runs.Recorder, logger log.Logger) *Service {
	if resolver == nil {
		resolver = buildrequest.NewResolver()
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if recorder == nil {
		recorder = runs.NewRecorder(nil, nil, logger)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Service{Resolver: resolver, NewContext: factory, Notifier: notifier, Recorder: recorder, Logger: logger}
}

// Resolve validates and resolves every request of batch without side effects.
// The returned requests are copies.
func (s *Service) Resolve(batch buildrequest.Batch) ([]*buildrequest.BuildRequest, error) {
	if len(batch.BuildRequests) == 0 {
		return nil, &buildrequest.MissingFieldError{Field: "buildRequests"}
	}
	reqs := make([]*buildrequest.BuildRequest, 0, len(batch.BuildRequests))
	for i := range batch.BuildRequests {
		r := batch.BuildRequests[i].Clone()
		if err := s.Resolver.Resolve(r); err != nil {
			metrics.Requests.WithLabelValues(strings.ToLower(r.Stack), metrics.OutcomeRejected).Inc()
			return nil, fmt.Errorf("build request %d: %w", i, err)
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// Queue records batch as a queued run under runID and returns the run.
func (s *Service) Queue(batch buildrequest.Batch, runID string) (runs.Run, error) {
	reqs, err := s.Resolve(batch)
	if err != nil {
		return runs.Run{}, err
	}
	return s.Recorder.Create(runID, stackName(reqs), versions(reqs)), nil
}

// Handle runs batch to completion under runID (a new ID when empty). Invalid batches
// are rejected before any side effect. A failed pipeline returns the summary of what
// was built together with the error.
func (s *Service) Handle(ctx context.Context, batch buildrequest.Batch, runID string) (Summary, error) {
	reqs, err := s.Resolve(batch)
	if err != nil {
		return Summary{}, err
	}
	stack := stackName(reqs)

	run, err := s.Recorder.Get(runID)
	if runID == "" || err != nil {
		run = s.Recorder.Create(runID, stack, versions(reqs))
	}
	s.Recorder.Running(run.ID)
	summary := Summary{RunID: run.ID, Stack: stack}

	runLog := NewRunLog(log.With(s.Logger, "run", run.ID), func(line string) {
		s.Recorder.AppendLog(run.ID, line)
	})
	runLog.Log("msg", fmt.Sprintf("new %s tags found %s", strings.ToLower(stack), strings.Join(versions(reqs), ", ")))

	notifier := notify.Multi{s.Notifier, s.Recorder}
	report := notify.Report{RunID: run.ID, Stack: stack, Recipients: recipients(reqs)}

	pc, err := s.NewContext(ctx, runLog)
	if err != nil {
		err = fmt.Errorf("prepare pipeline: %w", err)
		level.Error(runLog).Log("msg", "pipeline setup failed", "err", err)
		report.Version = reqs[0].Version
		report.Failure = err.Error()
		report.Log = runLog.String()
		s.send(ctx, notifier.SendFailure, report)
		summary.Error = err.Error()
		return summary, err
	}
	if pc.Logger == nil {
		pc.Logger = runLog
	}
	if pc.Log == nil {
		pc.Log = runLog
	}

	res := NewOrchestrator(pc).Run(ctx, reqs)
	summary.Succeeded = res.Succeeded
	report.Versions = res.Succeeded

	if res.Err != nil {
		report.Version = failedVersion(res.Err, reqs, len(res.Succeeded))
		report.Failure = res.Err.Error()
		report.Log = runLog.String()
		s.send(ctx, notifier.SendFailure, report)
		summary.Error = res.Err.Error()
		return summary, res.Err
	}
	runLog.Log("msg", summary.Message())
	report.Log = runLog.String()
	s.send(ctx, notifier.SendSuccess, report)
	return summary, nil
}

func (s *Service) send(ctx context.Context, fn func(context.Context, notify.Report) error, r notify.Report) {
	if err := fn(context.WithoutCancel(ctx), r); err != nil {
		level.Error(s.Logger).Log("msg", "notification failed", "run", r.RunID, "err", err)
	}
}

func stackName(reqs []*buildrequest.BuildRequest) string {
	var names []string
	seen := map[buildrequest.Stack]bool{}
	for _, r := range reqs {
		stack := r.StackName()
		if seen[stack] {
			continue
		}
		seen[stack] = true
		names = append(names, stack.Title())
	}
	return strings.Join(names, "/")
}

func versions(reqs []*buildrequest.BuildRequest) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Version)
	}
	return out
}

func recipients(reqs []*buildrequest.BuildRequest) []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range reqs {
		if r.Email == "" || seen[r.Email] {
			continue
		}
		seen[r.Email] = true
		out = append(out, r.Email)
	}
	return out
}

func failedVersion(err error, reqs []*buildrequest.BuildRequest, done int) string {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return perm.Version
	}
	if done < len(reqs) {
		return reqs[done].Version
	}
	return ""
}

func redactCallback(callback string) string {
	u, err := url.Parse(callback)
	if err != nil || u.User == nil {
		return callback
	}
	u.User = nil
	return u.String()
}
