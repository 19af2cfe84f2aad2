package acr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// SplitImage splits "repo:tag" into its parts. A missing tag means "latest".
func SplitImage(image string) (repo, tag string) {
	if i := strings.LastIndex(image, ":"); i > 0 && !strings.Contains(image[i:], "/") {
		return image[:i], image[i+1:]
	}
	return image, "latest"
}

func (c *Client) credentials(ctx context.Context) (Credentials, error) {
	c.mu.Lock()
	cached := c.creds
	c.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	return c.ListCredentials(ctx)
}

func (c *Client) dataRequest(ctx context.Context, method, path string, out any) (int, error) {
	creds, err := c.credentials(ctx)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.dataURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("create registry request: %w", err)
	}
	req.SetBasicAuth(creds.Username, creds.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return resp.StatusCode, fmt.Errorf("%s %s failed: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// ListRepositories returns every repository in the registry.
func (c *Client) ListRepositories(ctx context.Context) ([]string, error) {
	var out struct {
		Repositories []string `json:"repositories"`
	}
	if _, err := c.dataRequest(ctx, http.MethodGet, "/acr/v1/_catalog", &out); err != nil {
		return nil, err
	}
	return out.Repositories, nil
}

// ListTags returns the tags of repo, or nil when the repository does not exist.
func (c *Client) ListTags(ctx context.Context, repo string) ([]string, error) {
	var out struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	status, err := c.dataRequest(ctx, http.MethodGet, "/v2/"+escapeRepo(repo)+"/tags/list", &out)
	if err != nil || status == http.StatusNotFound {
		return nil, err
	}
	return out.Tags, nil
}

// DeleteTag removes repo:tag. A missing tag is not an error.
func (c *Client) DeleteTag(ctx context.Context, repo, tag string) error {
	_, err := c.dataRequest(ctx, http.MethodDelete, "/acr/v1/"+escapeRepo(repo)+"/_tags/"+url.PathEscape(tag), nil)
	return err
}

// DeleteImage removes an image reference of the form repo:tag.
func (c *Client) DeleteImage(ctx context.Context, image string) error {
	repo, tag := SplitImage(image)
	return c.DeleteTag(ctx, repo, tag)
}

func escapeRepo(repo string) string {
	parts := strings.Split(repo, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
