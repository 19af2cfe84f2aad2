// Package poller discovers new upstream runtime releases by walking a
// registry's paginated tag listing.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/time/rate"
)

// DefaultHubURL is the Docker Hub v2 API root.
const DefaultHubURL = "https://registry.hub.docker.com/v2/repositories"

// Tag is one entry of a tag or repository listing.
type Tag struct {
	Name        string    `json:"name"`
	LastUpdated time.Time `json:"last_updated"`
}

type page struct {
	Next    string `json:"next"`
	Results []Tag  `json:"results"`
}

// RateLimiterConfig bounds requests against the registry.
type RateLimiterConfig struct {
	RPS   float64       // requests per second
	Burst int           // burst count
	Wait  time.Duration // maximum wait time for a request
}

// HubClient lists tags and repositories from Docker Hub.
type HubClient struct {
	http    *http.Client
	limiter *rate.Limiter
	wait    time.Duration
	logger  log.Logger
}

// NewHubClient creates a rate limited Docker Hub client.
func NewHubClient(limits RateLimiterConfig, logger log.Logger) *HubClient {
	if limits.RPS <= 0 {
		limits.RPS = 2
	}
	if limits.Burst <= 0 {
		limits.Burst = 1
	}
	if limits.Wait <= 0 {
		limits.Wait = time.Minute
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &HubClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(limits.RPS), limits.Burst),
		wait:    limits.Wait,
		logger:  logger,
	}
}

// Walk follows the `next` links of a listing starting at url and calls fn for
// every entry, in the order the registry returns them.
func (c *HubClient) Walk(ctx context.Context, url string, fn func(Tag) error) error {
	for next := url; next != ""; {
		p, err := c.getPage(ctx, next)
		if err != nil {
			return err
		}
		for _, t := range p.Results {
			if err := fn(t); err != nil {
				return err
			}
		}
		next = p.Next
	}
	return nil
}

// Tags returns the names of entries under url that match pattern, are not
// matched by exclude, and were updated at or after cutoff.
func (c *HubClient) Tags(ctx context.Context, url string, pattern, exclude Pattern, cutoff time.Time) ([]string, error) {
	var names []string
	err := c.Walk(ctx, url, func(t Tag) error {
		if !pattern.Matches(t.Name) || (exclude != nil && exclude.Matches(t.Name)) {
			return nil
		}
		if t.LastUpdated.Before(cutoff) {
			return nil
		}
		names = append(names, t.Name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// RepoTags lists the repositories under namespaceURL matching repoPattern and
// updated since cutoff, then the tags of each one. Results are "repo:tag".
func (c *HubClient) RepoTags(ctx context.Context, namespaceURL string, repoPattern, tagPattern, exclude Pattern, cutoff time.Time) ([]string, error) {
	repos, err := c.Tags(ctx, namespaceURL, repoPattern, nil, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	base := strings.TrimSuffix(namespaceURL, "/")
	var out []string
	for _, repo := range repos {
		tags, err := c.Tags(ctx, base+"/"+repo+"/tags", tagPattern, exclude, cutoff)
		if err != nil {
			return nil, fmt.Errorf("list tags of %s: %w", repo, err)
		}
		for _, t := range tags {
			out = append(out, repo+":"+t)
		}
	}
	return out, nil
}

func (c *HubClient) getPage(ctx context.Context, url string) (page, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.wait)
	defer cancel()
	if err := c.limiter.Wait(waitCtx); err != nil {
		return page{}, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return page{}, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return page{}, fmt.Errorf("get %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return page{}, fmt.Errorf("decode %s: %w", url, err)
	}
	level.Debug(c.logger).Log("msg", "fetched page", "url", url, "results", len(p.Results))
	return p, nil
}
