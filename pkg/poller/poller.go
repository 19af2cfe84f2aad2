package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
	"github.com/vyvo/appsvcbuild/pkg/metrics"
)

// Target describes where the new releases of one stack are found.
type Target struct {
	Stack string `mapstructure:"stack"`
	// URL is a tag listing, or a namespace listing when RepoPattern is set.
	URL         string `mapstructure:"url"`
	Pattern     string `mapstructure:"pattern"`
	RepoPattern string `mapstructure:"repo_pattern"`
	Exclude     string `mapstructure:"exclude"`
	// BaseImage is prefixed to a discovered tag to form the request's base image.
	BaseImage string `mapstructure:"base_image"`
	// Tags are reported on every poll regardless of the listing.
	Tags []string `mapstructure:"tags"`
}

// Checkpointer persists the cutoff of the last successful poll per stack.
type Checkpointer interface {
	Checkpoint(ctx context.Context, stack string) (time.Time, bool, error)
	SetCheckpoint(ctx context.Context, stack string, at time.Time) error
}

// Discovery is the outcome of polling one target.
type Discovery struct {
	Stack    string
	Since    time.Time
	Until    time.Time
	Tags     []string
	Requests []buildrequest.BuildRequest
}

// Poller turns upstream tags into build requests.
type Poller struct {
	Hub         *HubClient
	Checkpoints Checkpointer
	Lookback    time.Duration
	Now         func() time.Time
	Logger      log.Logger
}

// Discover lists the tags of t published since the stack's checkpoint, or
// within the lookback window when there is none, and converts them into one
// build request per distinct version.
func (p *Poller) Discover(ctx context.Context, t Target) (Discovery, error) {
	if _, err := buildrequest.ParseStack(t.Stack); err != nil {
		return Discovery{}, err
	}
	logger := log.With(p.logger(), "stack", t.Stack)

	now := p.now()
	d := Discovery{Stack: t.Stack, Since: now.Add(-p.Lookback), Until: now}
	if p.Checkpoints != nil {
		at, ok, err := p.Checkpoints.Checkpoint(ctx, t.Stack)
		if err != nil {
			return Discovery{}, fmt.Errorf("read checkpoint: %w", err)
		}
		if ok {
			d.Since = at
		}
	}

	if t.URL != "" {
		tags, err := p.list(ctx, t, d.Since)
		if err != nil {
			return Discovery{}, err
		}
		d.Tags = tags
	}
	d.Tags = append(d.Tags, t.Tags...)
	metrics.PollerTags.WithLabelValues(t.Stack).Add(float64(len(d.Tags)))

	seen := map[string]bool{}
	for _, tag := range d.Tags {
		version, err := VersionFromTag(tag)
		if err != nil {
			level.Warn(logger).Log("msg", "skipping tag", "tag", tag, "err", err)
			continue
		}
		if seen[version] {
			continue
		}
		seen[version] = true
		req := buildrequest.BuildRequest{Stack: t.Stack, Version: version}
		if t.BaseImage != "" {
			req.BaseImageName = t.BaseImage + tag
		}
		d.Requests = append(d.Requests, req)
	}
	level.Info(logger).Log("msg", "polled upstream", "since", d.Since.Format(time.RFC3339), "tags", len(d.Tags), "requests", len(d.Requests))
	return d, nil
}

// Commit records d.Until as the stack's cutoff for the next poll.
func (p *Poller) Commit(ctx context.Context, d Discovery) error {
	if p.Checkpoints == nil {
		return nil
	}
	return p.Checkpoints.SetCheckpoint(ctx, d.Stack, d.Until)
}

func (p *Poller) list(ctx context.Context, t Target, since time.Time) ([]string, error) {
	pattern := PatternAll
	if t.Pattern != "" {
		pattern = NewPattern(t.Pattern)
	}
	var exclude Pattern
	if t.Exclude != "" {
		exclude = NewPattern(t.Exclude)
	}
	for _, pat := range []Pattern{pattern, exclude} {
		if pat != nil && !pat.Valid() {
			return nil, fmt.Errorf("invalid pattern %s", pat)
		}
	}

	if t.RepoPattern == "" {
		return p.Hub.Tags(ctx, t.URL, pattern, exclude, since)
	}
	repoPattern := NewPattern(t.RepoPattern)
	if !repoPattern.Valid() {
		return nil, fmt.Errorf("invalid pattern %s", repoPattern)
	}
	return p.Hub.RepoTags(ctx, t.URL, repoPattern, pattern, exclude, since)
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Poller) logger() log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.NewNopLogger()
}
