package git

import (
	"context"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// RetryNotify is called after every failed attempt of a retried operation.
type RetryNotify func(op string, err error, wait time.Duration)

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.Interval), uint64(attempts-1))
	return backoff.WithContext(b, ctx)
}

// CloneWithRetry clones with the client's fixed retry policy. When every attempt
// fails the partial clone at dest is removed.
func (c *Client) CloneWithRetry(ctx context.Context, repoURL, branch, dest string, notify RetryNotify) error {
	err := backoff.RetryNotify(func() error {
		return c.Clone(ctx, repoURL, branch, dest)
	}, c.retryPolicy(ctx), func(err error, wait time.Duration) {
		if notify != nil {
			notify("clone", err, wait)
		}
	})
	if err != nil {
		os.RemoveAll(dest)
		return errors.Wrapf(err, "cloning %s", stripUser(repoURL))
	}
	return nil
}

// RemoveAllWithRetry deletes path, retrying transient filesystem errors.
func (c *Client) RemoveAllWithRetry(ctx context.Context, path string, notify RetryNotify) error {
	err := backoff.RetryNotify(func() error {
		return os.RemoveAll(path)
	}, c.retryPolicy(ctx), func(err error, wait time.Duration) {
		if notify != nil {
			notify("remove", err, wait)
		}
	})
	return errors.Wrapf(err, "removing %s", path)
}
