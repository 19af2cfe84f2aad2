// Package template stages a Dockerfile template into an output working copy.
package template

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/log"

	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
	"github.com/vyvo/appsvcbuild/pkg/git"
)

// DefaultDockerfile is the file edited when a Request does not name one.
const DefaultDockerfile = "Dockerfile"

// Cloner fetches a template repository.
type Cloner interface {
	CloneWithRetry(ctx context.Context, repoURL, branch, dest string, notify git.RetryNotify) error
}

// Request describes one materialization.
type Request struct {
	Template buildrequest.RepoRef
	// Subdir is the template folder copied into Dest.
	Subdir string
	// CloneDir receives the template repository. An existing clone is reused.
	CloneDir   string
	Dest       string
	Dockerfile string
	Edits      []buildrequest.LineEdit
}

// Materializer copies a template subfolder into a destination and edits its Dockerfile.
type Materializer struct {
	Git    Cloner
	Logger log.Logger
}

func New(cloner Cloner, logger log.Logger) *Materializer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Materializer{Git: cloner, Logger: logger}
}

// Materialize clones the template, copies req.Subdir over req.Dest and applies the
// line edits. Running it twice on the same destination gives the same tree.
func (m *Materializer) Materialize(ctx context.Context, req Request) error {
	m.Logger.Log("msg", "cloning template", "repo", req.Template.String(), "dest", req.CloneDir)
	err := m.Git.CloneWithRetry(ctx, req.Template.URL, req.Template.Branch, req.CloneDir,
		func(op string, err error, wait time.Duration) {
			m.Logger.Log("msg", "retrying template "+op, "repo", req.Template.String(), "wait", wait, "err", err)
		})
	if err != nil {
		return fmt.Errorf("clone template %s: %w", req.Template, err)
	}

	src := filepath.Join(req.CloneDir, filepath.FromSlash(req.Subdir))
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("template folder %q: %w", req.Subdir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("template folder %q is not a directory", req.Subdir)
	}
	m.Logger.Log("msg", "copying template", "src", req.Subdir, "dest", req.Dest)
	if err := CopyTree(src, req.Dest); err != nil {
		return err
	}

	if len(req.Edits) == 0 {
		return nil
	}
	name := req.Dockerfile
	if name == "" {
		name = DefaultDockerfile
	}
	dockerfile, err := FindFile(req.Dest, name)
	if err != nil {
		return err
	}
	m.Logger.Log("msg", "editing dockerfile", "file", dockerfile, "edits", len(req.Edits))
	return EditLines(dockerfile, req.Edits)
}

// FindFile returns the path of name inside dir, matching the file name case-insensitively.
func FindFile(dir, name string) (string, error) {
	exact := filepath.Join(dir, name)
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), name) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("%s not found in %s: %w", name, dir, os.ErrNotExist)
}
