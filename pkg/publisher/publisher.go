// Package publisher keeps an output repository in sync with a local working copy.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"

	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
	"github.com/vyvo/appsvcbuild/pkg/git"
)

// Outcome is the result of a successful publish.
type Outcome string

const (
	// OutcomePushed means a new commit was pushed.
	OutcomePushed Outcome = "pushed"
	// OutcomeUnchanged means the working copy already matched the remote.
	OutcomeUnchanged Outcome = "unchanged"
)

// RepoHost manages repositories on the hosting provider.
type RepoHost interface {
	RepoExists(ctx context.Context, org, name string) (bool, error)
	CreateRepo(ctx context.Context, org, name string) (bool, error)
	DeleteRepo(ctx context.Context, org, name string) error
}

// WorkingCopy performs local version-control operations.
type WorkingCopy interface {
	CloneWithRetry(ctx context.Context, repoURL, branch, dest string, notify git.RetryNotify) error
	Init(ctx context.Context, dir string) error
	AddRemote(ctx context.Context, dir, repoURL string) error
	Checkout(ctx context.Context, dir, branch string) error
	AddAll(ctx context.Context, dir string) error
	Commit(ctx context.Context, dir, message string) error
	Push(ctx context.Context, dir, branch string) error
}

type Publisher struct {
	Host   RepoHost
	Git    WorkingCopy
	Logger log.Logger
}

func New(host RepoHost, wc WorkingCopy, logger log.Logger) *Publisher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Publisher{Host: host, Git: wc, Logger: logger}
}

// Prepare makes dir a working copy of ref. An existing remote is cloned; a missing
// one is created and dir is initialised with it as origin.
func (p *Publisher) Prepare(ctx context.Context, ref buildrequest.RepoRef, dir string) error {
	exists, err := p.Host.RepoExists(ctx, ref.Org, ref.Name)
	if err != nil {
		return fmt.Errorf("check %s/%s: %w", ref.Org, ref.Name, err)
	}
	if exists {
		p.Logger.Log("msg", "cloning output repo", "repo", ref.String())
		return p.Git.CloneWithRetry(ctx, ref.URL, ref.Branch, dir, func(op string, err error, wait time.Duration) {
			p.Logger.Log("msg", "retrying output "+op, "repo", ref.String(), "wait", wait, "err", err)
		})
	}

	p.Logger.Log("msg", "creating output repo", "repo", ref.String())
	created, err := p.Host.CreateRepo(ctx, ref.Org, ref.Name)
	if err != nil {
		return err
	}
	if !created {
		p.Logger.Log("msg", "output repo already exists", "repo", ref.String())
	}
	if err := p.Git.Init(ctx, dir); err != nil {
		return err
	}
	if err := p.Git.AddRemote(ctx, dir, ref.URL); err != nil {
		return err
	}
	return p.Git.Checkout(ctx, dir, ref.Branch)
}

// Publish stages everything in dir, commits and pushes to ref's branch. A working copy
// without changes is still pushed and reported as OutcomeUnchanged.
func (p *Publisher) Publish(ctx context.Context, ref buildrequest.RepoRef, dir, message string) (Outcome, error) {
	if err := p.Git.AddAll(ctx, dir); err != nil {
		return "", err
	}
	outcome := OutcomePushed
	if err := p.Git.Commit(ctx, dir, message); err != nil {
		if !errors.Is(err, git.ErrNothingToCommit) {
			return "", err
		}
		p.Logger.Log("msg", "nothing to commit", "repo", ref.String())
		outcome = OutcomeUnchanged
	}
	if err := p.Git.Push(ctx, dir, ref.Branch); err != nil {
		p.Logger.Log("msg", "push failed", "repo", ref.String(), "err", err)
		return "", fmt.Errorf("push %s: %w", ref, err)
	}
	p.Logger.Log("msg", "published", "repo", ref.String(), "outcome", outcome)
	return outcome, nil
}

// Delete removes the remote repository of ref.
func (p *Publisher) Delete(ctx context.Context, ref buildrequest.RepoRef) error {
	p.Logger.Log("msg", "deleting repo", "repo", ref.Org+"/"+ref.Name)
	return p.Host.DeleteRepo(ctx, ref.Org, ref.Name)
}
