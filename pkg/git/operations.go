// Package git drives local working copies through the git binary.
package git

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrNothingToCommit is returned by Commit when the working copy has no changes.
// Callers treat it as a successful no-op.
var ErrNothingToCommit = errors.New("nothing to commit")

// Author is the identity recorded on commits.
type Author struct {
	Name  string
	Email string
}

// Client runs git commands. Token, when set, is injected as the user of https remotes.
type Client struct {
	Token  string
	Author Author
	// Attempts and Interval bound the fixed retry of CloneWithRetry and RemoveAllWithRetry.
	Attempts int
	Interval time.Duration
}

// NewClient returns a Client with the default retry policy of 3 attempts one minute apart.
func NewClient(token string, author Author) *Client {
	return &Client{Token: token, Author: author, Attempts: 3, Interval: time.Minute}
}

// Clone clones repoURL into dest and checks out branch. A dest that already holds a
// clone of the same repository is left as is.
func (c *Client) Clone(ctx context.Context, repoURL, branch, dest string) error {
	if c.isCloneOf(ctx, dest, repoURL) {
		return c.Checkout(ctx, dest, branch)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(err, "creating clone parent")
	}
	args := []string{"clone", c.authURL(repoURL), dest}
	if err := c.execGitCmd(ctx, args, gitCmdConfig{}); err != nil {
		return errors.Wrap(err, "git clone")
	}
	return c.Checkout(ctx, dest, branch)
}

// Init creates dir if needed and initialises an empty repository in it.
func (c *Client) Init(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating repository dir")
	}
	if err := c.execGitCmd(ctx, []string{"init"}, gitCmdConfig{dir: dir}); err != nil {
		return errors.Wrap(err, "git init")
	}
	return nil
}

// AddRemote points origin at repoURL, replacing an existing origin.
func (c *Client) AddRemote(ctx context.Context, dir, repoURL string) error {
	remote := c.authURL(repoURL)
	if _, err := c.output(ctx, dir, "remote", "get-url", "origin"); err == nil {
		if err := c.execGitCmd(ctx, []string{"remote", "set-url", "origin", remote}, gitCmdConfig{dir: dir}); err != nil {
			return errors.Wrap(err, "git remote set-url")
		}
		return nil
	}
	if err := c.execGitCmd(ctx, []string{"remote", "add", "origin", remote}, gitCmdConfig{dir: dir}); err != nil {
		return errors.Wrap(err, "git remote add")
	}
	return nil
}

// Checkout switches dir to branch, tracking origin/branch when it exists. On a
// repository without commits the branch becomes the unborn HEAD.
func (c *Client) Checkout(ctx context.Context, dir, branch string) error {
	if branch == "" {
		return nil
	}
	var args []string
	switch {
	case c.verify(ctx, dir, "refs/remotes/origin/"+branch):
		args = []string{"checkout", "-B", branch, "origin/" + branch, "--"}
	case c.verify(ctx, dir, "HEAD"):
		args = []string{"checkout", "-B", branch, "--"}
	default:
		args = []string{"symbolic-ref", "HEAD", "refs/heads/" + branch}
	}
	if err := c.execGitCmd(ctx, args, gitCmdConfig{dir: dir}); err != nil {
		return errors.Wrap(err, "git checkout "+branch)
	}
	return nil
}

// AddAll stages every change in the working copy.
func (c *Client) AddAll(ctx context.Context, dir string) error {
	if err := c.execGitCmd(ctx, []string{"add", "--all", "--", "."}, gitCmdConfig{dir: dir}); err != nil {
		return errors.Wrap(err, "git add")
	}
	return nil
}

// Commit records the staged changes. It returns ErrNothingToCommit when the index
// matches HEAD.
func (c *Client) Commit(ctx context.Context, dir, message string) error {
	status, err := c.output(ctx, dir, "status", "--porcelain")
	if err != nil {
		return errors.Wrap(err, "git status")
	}
	if strings.TrimSpace(status) == "" {
		return ErrNothingToCommit
	}
	args := append(c.identity(), "commit", "--no-verify", "-m", message)
	if err := c.execGitCmd(ctx, args, gitCmdConfig{dir: dir}); err != nil {
		return errors.Wrap(err, "git commit")
	}
	return nil
}

// Push sends branch to origin.
func (c *Client) Push(ctx context.Context, dir, branch string) error {
	args := []string{"push", "origin", "HEAD:refs/heads/" + branch}
	if err := c.execGitCmd(ctx, args, gitCmdConfig{dir: dir}); err != nil {
		return errors.Wrap(err, "git push")
	}
	return nil
}

func (c *Client) identity() []string {
	if c.Author.Name == "" {
		return nil
	}
	return []string{"-c", "user.name=" + c.Author.Name, "-c", "user.email=" + c.Author.Email}
}

func (c *Client) verify(ctx context.Context, dir, ref string) bool {
	return c.execGitCmd(ctx, []string{"rev-parse", "--verify", "--quiet", ref}, gitCmdConfig{dir: dir}) == nil
}

func (c *Client) output(ctx context.Context, dir string, args ...string) (string, error) {
	out := &bytes.Buffer{}
	err := c.execGitCmd(ctx, args, gitCmdConfig{dir: dir, out: out})
	return out.String(), err
}

func (c *Client) isCloneOf(ctx context.Context, dir, repoURL string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return false
	}
	origin, err := c.output(ctx, dir, "remote", "get-url", "origin")
	if err != nil {
		return false
	}
	return stripUser(strings.TrimSpace(origin)) == stripUser(repoURL)
}

// authURL injects the token into https URLs; other URLs are returned unchanged.
func (c *Client) authURL(repoURL string) string {
	if c.Token == "" {
		return repoURL
	}
	u, err := url.Parse(repoURL)
	if err != nil || u.Scheme != "https" {
		return repoURL
	}
	u.User = url.UserPassword(c.Token, "x-oauth-basic")
	return u.String()
}

func stripUser(repoURL string) string {
	u, err := url.Parse(repoURL)
	if err != nil || u.Scheme == "" {
		return repoURL
	}
	u.User = nil
	return u.String()
}
