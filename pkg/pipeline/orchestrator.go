package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyvo/appsvcbuild/pkg/build"
	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
	"github.com/vyvo/appsvcbuild/pkg/deploy"
	"github.com/vyvo/appsvcbuild/pkg/metrics"
	"github.com/vyvo/appsvcbuild/pkg/telemetry"
	"github.com/vyvo/appsvcbuild/pkg/template"
)

// Stage names used in logs, spans and metrics.
const (
	StageMaterialize = "materialize"
	StagePublish     = "publish"
	StageBuild       = "build"
	StageDeploy      = "deploy"
)

// PermanentError is returned when a request failed on its last attempt.
type PermanentError struct {
	Stack    string
	Version  string
	Attempts int
	Err      error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Stack, e.Version, e.Attempts, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsRetryable reports whether another attempt of a request could succeed.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, buildrequest.ErrInvalidRequest):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Result is the outcome of a batch.
type Result struct {
	// Succeeded lists the versions built before the batch ended, in order.
	Succeeded []string
	Err       error
}

// Orchestrator runs resolved build requests one after another.
type Orchestrator struct {
	pc     *Context
	logger log.Logger
	tracer trace.Tracer
}

func NewOrchestrator(pc *Context) *Orchestrator {
	logger := pc.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	tracer := pc.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	return &Orchestrator{pc: pc, logger: log.With(logger, "component", "orchestrator"), tracer: tracer}
}

// Run processes reqs in order and stops at the first request that exhausts its tries.
// Requests must already be resolved.
func (o *Orchestrator) Run(ctx context.Context, reqs []*buildrequest.BuildRequest) Result {
	var res Result
	for _, req := range reqs {
		err := o.runRequest(ctx, req)
		stack := string(req.StackName())
		if !req.Saved() {
			o.cleanup(ctx, req)
		}
		if err != nil {
			metrics.Requests.WithLabelValues(stack, metrics.OutcomeFailed).Inc()
			res.Err = err
			return res
		}
		metrics.Requests.WithLabelValues(stack, metrics.OutcomeSucceeded).Inc()
		res.Succeeded = append(res.Succeeded, req.Version)
	}
	return res
}

func (o *Orchestrator) runRequest(ctx context.Context, req *buildrequest.BuildRequest) error {
	stack := req.StackName()
	logger := log.With(o.logger, "stack", stack, "version", req.Version)
	tries := req.Tries
	if tries < 1 {
		tries = 1
	}
	logger.Log("msg", "creating pipeline", "tries", tries, "artifacts", len(req.Artifacts()))

	var err error
	attempts := 0
	for attempt := 1; attempt <= tries; attempt++ {
		attempts = attempt
		err = o.attempt(ctx, req, attempt, log.With(logger, "attempt", attempt))
		metrics.Attempts.WithLabelValues(string(stack), fmt.Sprint(err == nil)).Inc()
		if err == nil {
			logger.Log("msg", fmt.Sprintf("%s %s built", stack, req.Version))
			return nil
		}
		level.Error(logger).Log("msg", "attempt failed", "attempt", attempt, "err", err)
		if attempt == tries || !IsRetryable(err) {
			break
		}
		logger.Log("msg", "trying again", "wait", o.retrySleep())
		if serr := o.sleep(ctx, o.retrySleep()); serr != nil {
			err = serr
			break
		}
	}
	logger.Log("msg", fmt.Sprintf("%s %s failed", stack, req.Version))
	return &PermanentError{Stack: string(stack), Version: req.Version, Attempts: attempts, Err: err}
}

func (o *Orchestrator) attempt(ctx context.Context, req *buildrequest.BuildRequest, attempt int, logger log.Logger) (err error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.attempt", trace.WithAttributes(
		attribute.String("stack", string(req.StackName())),
		attribute.String("version", req.Version),
		attribute.Int("attempt", attempt),
	))
	defer func() { endSpan(span, err) }()

	dir, err := o.workspace(req)
	if err != nil {
		return err
	}
	defer o.removeWorkspace(ctx, dir, logger)

	for _, a := range req.Artifacts() {
		if err := o.runArtifact(ctx, req, a, dir, log.With(logger, "artifact", a.Kind)); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runArtifact(ctx context.Context, req *buildrequest.BuildRequest, a buildrequest.Artifact, dir string, logger log.Logger) error {
	stack := string(req.StackName())
	outDir := filepath.Join(dir, string(a.Kind), "output")
	cloneDir := filepath.Join(dir, string(a.Kind), "template")

	err := o.stage(ctx, stack, StagePublish+".prepare", func(ctx context.Context) error {
		logger.Log("msg", "preparing output repo", "repo", a.OutputRepo.String())
		return o.pc.Publisher.Prepare(ctx, a.OutputRepo, outDir)
	})
	if err != nil {
		return err
	}

	err = o.stage(ctx, stack, StageMaterialize, func(ctx context.Context) error {
		logger.Log("msg", "materializing template", "repo", a.TemplateRepo.String(), "subdir", a.TemplateSubdir)
		return o.pc.Materializer.Materialize(ctx, template.Request{
			Template:   a.TemplateRepo,
			Subdir:     a.TemplateSubdir,
			CloneDir:   cloneDir,
			Dest:       outDir,
			Dockerfile: o.pc.Dockerfile,
			Edits:      a.Edits,
		})
	})
	if err != nil {
		return err
	}

	err = o.stage(ctx, stack, StagePublish, func(ctx context.Context) error {
		msg := fmt.Sprintf("[appsvcbuild] Add %s %s", stack, req.Version)
		outcome, err := o.pc.Publisher.Publish(ctx, a.OutputRepo, outDir, msg)
		if err == nil {
			logger.Log("msg", "output repo published", "repo", a.OutputRepo.String(), "outcome", outcome)
		}
		return err
	})
	if err != nil {
		return err
	}

	dockerfile := o.dockerfile(outDir)
	var result build.Result
	err = o.stage(ctx, stack, StageBuild, func(ctx context.Context) error {
		logger.Log("msg", "creating build task", "task", a.TaskName, "image", a.OutputImage)
		var err error
		result, err = o.pc.Builder.Build(ctx, build.Spec{
			TaskName:     a.TaskName,
			ContextURL:   a.OutputRepo.URL + "#" + a.OutputRepo.Branch,
			ContextToken: o.pc.GitToken,
			Dockerfile:   dockerfile,
			ImageName:    a.OutputImage,
			NoCache:      !req.UseCache,
		})
		metrics.BuildPolls.WithLabelValues(stack).Observe(float64(result.Polls))
		return err
	})
	if err != nil {
		return err
	}
	logger.Log("msg", "image built", "image", a.OutputImage, "run", result.RunID)

	if !a.Hosted {
		return nil
	}
	return o.stage(ctx, stack, StageDeploy, func(ctx context.Context) error {
		logger.Log("msg", "creating webapp", "site", a.WebApp, "plan", a.PlanName)
		callback, err := o.pc.Deployer.Deploy(ctx, deploy.Target{
			Version:     req.Version,
			Site:        a.WebApp,
			Plan:        a.PlanName,
			Image:       a.OutputImage,
			Credentials: result.Credentials,
		})
		if err == nil {
			logger.Log("msg", "webapp created", "site", a.WebApp, "callback", redactCallback(callback))
		}
		return err
	})
}

// dockerfile returns the name the materialized Dockerfile has in dir, which may
// differ in case from the configured one.
func (o *Orchestrator) dockerfile(dir string) string {
	name := o.pc.Dockerfile
	if name == "" {
		name = template.DefaultDockerfile
	}
	if path, err := template.FindFile(dir, name); err == nil {
		return filepath.Base(path)
	}
	return name
}

func (o *Orchestrator) stage(ctx context.Context, stack, name string, fn func(context.Context) error) (err error) {
	ctx, span := o.tracer.Start(ctx, "pipeline."+name)
	begin := time.Now()
	defer func() {
		metrics.ObserveStage(stack, name, begin, err)
		endSpan(span, err)
	}()
	return fn(ctx)
}

// cleanup deletes everything a temporary run created. Failures are logged only.
func (o *Orchestrator) cleanup(ctx context.Context, req *buildrequest.BuildRequest) {
	ctx = context.WithoutCancel(ctx)
	logger := log.With(o.logger, "stack", req.StackName(), "version", req.Version, "tag", req.RunTag)
	logger.Log("msg", "deleting temporary artifacts")
	for _, a := range req.Artifacts() {
		if a.Hosted && o.pc.Deployer != nil {
			if err := o.pc.Deployer.Teardown(ctx, a.WebApp); err != nil {
				level.Warn(logger).Log("msg", "delete webapp failed", "site", a.WebApp, "err", err)
			}
		}
		if o.pc.Registry != nil {
			if err := o.pc.Registry.DeleteImage(ctx, a.OutputImage); err != nil {
				level.Warn(logger).Log("msg", "delete image failed", "image", a.OutputImage, "err", err)
			}
			if err := o.pc.Registry.DeleteTask(ctx, a.TaskName); err != nil {
				level.Warn(logger).Log("msg", "delete task failed", "task", a.TaskName, "err", err)
			}
		}
		if err := o.pc.Publisher.Delete(ctx, a.OutputRepo); err != nil {
			level.Warn(logger).Log("msg", "delete repo failed", "repo", a.OutputRepo.String(), "err", err)
		}
	}
}

func (o *Orchestrator) workspace(req *buildrequest.BuildRequest) (string, error) {
	root := o.pc.WorkRoot
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return "", fmt.Errorf("create work root: %w", err)
		}
	}
	pattern := fmt.Sprintf("appsvcbuild-%s-%s-", req.StackName(), buildrequest.VersionDash(req.Version))
	dir, err := os.MkdirTemp(root, pattern)
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

func (o *Orchestrator) removeWorkspace(ctx context.Context, dir string, logger log.Logger) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if o.pc.Workspace != nil {
		err = o.pc.Workspace.RemoveAllWithRetry(ctx, dir, func(op string, err error, wait time.Duration) {
			level.Warn(logger).Log("msg", "retrying workspace "+op, "dir", dir, "wait", wait, "err", err)
		})
	} else {
		err = os.RemoveAll(dir)
	}
	if err != nil {
		level.Error(logger).Log("msg", "workspace not removed", "dir", dir, "err", err)
	}
}

func (o *Orchestrator) retrySleep() time.Duration {
	if o.pc.RetrySleep > 0 {
		return o.pc.RetrySleep
	}
	return DefaultRetrySleep
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.pc.Sleep != nil {
		return o.pc.Sleep(ctx, d)
	}
	return build.Sleep(ctx, d)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
