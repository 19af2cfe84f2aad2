// Package pipeline drives build requests through materialize, publish, build and deploy.
package pipeline

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyvo/appsvcbuild/pkg/build"
	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
	"github.com/vyvo/appsvcbuild/pkg/deploy"
	"github.com/vyvo/appsvcbuild/pkg/git"
	"github.com/vyvo/appsvcbuild/pkg/publisher"
	"github.com/vyvo/appsvcbuild/pkg/template"
)

// DefaultRetrySleep is the pause between attempts of a request.
const DefaultRetrySleep = time.Minute

// Materializer stages a template into a working copy.
type Materializer interface {
	Materialize(ctx context.Context, req template.Request) error
}

// Publisher syncs and pushes output repositories.
type Publisher interface {
	Prepare(ctx context.Context, ref buildrequest.RepoRef, dir string) error
	Publish(ctx context.Context, ref buildrequest.RepoRef, dir, message string) (publisher.Outcome, error)
	Delete(ctx context.Context, ref buildrequest.RepoRef) error
}

// Builder runs a remote image build.
type Builder interface {
	Build(ctx context.Context, spec build.Spec) (build.Result, error)
}

// Deployer points a hosting slot at an image.
type Deployer interface {
	Deploy(ctx context.Context, t deploy.Target) (string, error)
	Teardown(ctx context.Context, site string) error
}

// Registry removes build outputs of temporary runs.
type Registry interface {
	DeleteImage(ctx context.Context, image string) error
	DeleteTask(ctx context.Context, name string) error
}

// Workspace removes attempt directories.
type Workspace interface {
	RemoveAllWithRetry(ctx context.Context, path string, notify git.RetryNotify) error
}

// Context carries everything one invocation needs. It is built per invocation and
// never shared between runs.
type Context struct {
	Logger log.Logger
	// Log accumulates the text sent with the run's notification.
	Log *RunLog

	// GitToken authenticates the build service against output repositories.
	GitToken string

	Materializer Materializer
	Publisher    Publisher
	Builder      Builder
	Deployer     Deployer
	Registry     Registry
	Workspace    Workspace

	// WorkRoot is the parent of per-attempt directories. Empty means os.TempDir.
	WorkRoot   string
	Dockerfile string
	RetrySleep time.Duration
	Sleep      build.Sleeper
	Tracer     trace.Tracer
}
