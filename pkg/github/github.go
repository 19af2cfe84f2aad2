// Package github manages hosted repositories through the GitHub REST API.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v28/github"
	"golang.org/x/oauth2"
)

// Client wraps a go-github client authenticated with a personal access token.
type Client struct {
	client *gh.Client
}

// NewClient returns a Client for token. An empty baseURL selects api.github.com.
func NewClient(ctx context.Context, token, baseURL string) (*Client, error) {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	}
	client := gh.NewClient(hc)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github url: %w", err)
		}
		client.BaseURL = u
		client.UploadURL = u
	}
	return &Client{client: client}, nil
}

// RepoExists reports whether org/name exists and is visible to the token.
func (c *Client) RepoExists(ctx context.Context, org, name string) (bool, error) {
	_, resp, err := c.client.Repositories.Get(ctx, org, name)
	if err != nil {
		if statusOf(resp) == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("get repo %s/%s: %w", org, name, err)
	}
	return true, nil
}

// CreateRepo creates org/name. It returns false without error when the repository
// already exists.
func (c *Client) CreateRepo(ctx context.Context, org, name string) (bool, error) {
	repo := &gh.Repository{
		Name:     gh.String(name),
		Private:  gh.Bool(false),
		AutoInit: gh.Bool(false),
	}
	_, resp, err := c.client.Repositories.Create(ctx, org, repo)
	if err != nil {
		if statusOf(resp) == http.StatusUnprocessableEntity {
			return false, nil
		}
		return false, fmt.Errorf("create repo %s/%s: %w", org, name, err)
	}
	return true, nil
}

// DeleteRepo removes org/name. A missing repository is not an error.
func (c *Client) DeleteRepo(ctx context.Context, org, name string) error {
	resp, err := c.client.Repositories.Delete(ctx, org, name)
	if err != nil {
		if statusOf(resp) == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("delete repo %s/%s: %w", org, name, err)
	}
	return nil
}

// ListOrgRepos returns the names of every repository in org, following pagination.
func (c *Client) ListOrgRepos(ctx context.Context, org string) ([]string, error) {
	opts := &gh.RepositoryListByOrgOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	var names []string
	for {
		repos, resp, err := c.client.Repositories.ListByOrg(ctx, org, opts)
		if err != nil {
			return nil, fmt.Errorf("list repos of %s: %w", org, err)
		}
		for _, r := range repos {
			names = append(names, r.GetName())
		}
		if resp.NextPage == 0 {
			return names, nil
		}
		opts.Page = resp.NextPage
	}
}

func statusOf(resp *gh.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
