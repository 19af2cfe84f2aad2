// Package client talks to the appsvcbuild HTTP service.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vyvo/appsvcbuild/pkg/auth"
	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
	"github.com/vyvo/appsvcbuild/pkg/runs"
)

// RunIDHeader carries the run ID of a synchronous pipeline call.
const RunIDHeader = "X-Run-ID"

// ErrNotFound is returned when the service reports missing resources.
var ErrNotFound = errors.New("resource not found")

// RejectedError is returned when the service refused a batch as invalid.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "batch rejected: " + e.Message
}

// Client interacts with the appsvcbuild service over HTTP.
type Client struct {
	baseURL    string
	key        string
	httpClient *http.Client
	// pipelineClient has no timeout; pipeline calls are bounded by their context.
	pipelineClient *http.Client
}

// NewClient creates a new client. key is sent as the function key when set.
func NewClient(baseURL, key string) *Client {
	return &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		key:            key,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		pipelineClient: &http.Client{},
	}
}

// RunResult is the outcome of a synchronous pipeline call.
type RunResult struct {
	RunID   string
	Message string
}

// RunBatch runs batch synchronously and returns the service's summary.
func (c *Client) RunBatch(ctx context.Context, batch buildrequest.Batch) (RunResult, error) {
	resp, err := c.postBatch(ctx, c.pipelineClient, "/api/pipeline", batch)
	if err != nil {
		return RunResult{}, fmt.Errorf("run batch: %w", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	message := strings.TrimSpace(string(payload))
	result := RunResult{RunID: resp.Header.Get(RunIDHeader), Message: message}
	switch resp.StatusCode {
	case http.StatusOK:
		return result, nil
	case http.StatusBadRequest:
		return result, &RejectedError{Message: message}
	}
	return result, fmt.Errorf("run batch failed: %s", message)
}

// EnqueueResponse is returned for queued batches.
type EnqueueResponse struct {
	RunID string `json:"runId"`
}

// EnqueueBatch queues batch for a worker and returns its run ID.
func (c *Client) EnqueueBatch(ctx context.Context, batch buildrequest.Batch) (EnqueueResponse, error) {
	resp, err := c.postBatch(ctx, c.httpClient, "/api/pipeline/queue", batch)
	if err != nil {
		return EnqueueResponse{}, fmt.Errorf("enqueue batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		message := strings.TrimSpace(string(payload))
		if resp.StatusCode == http.StatusBadRequest {
			return EnqueueResponse{}, &RejectedError{Message: message}
		}
		return EnqueueResponse{}, fmt.Errorf("enqueue batch failed: %s", message)
	}

	var out EnqueueResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return EnqueueResponse{}, fmt.Errorf("decode enqueue response: %w", err)
	}
	return out, nil
}

func (c *Client) postBatch(ctx context.Context, hc *http.Client, path string, batch buildrequest.Batch) (*http.Response, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return hc.Do(req)
}

// GetRun fetches a run record.
func (c *Client) GetRun(ctx context.Context, runID string) (runs.Run, error) {
	endpoint := fmt.Sprintf("%s/api/runs/%s", c.baseURL, url.PathEscape(runID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return runs.Run{}, fmt.Errorf("create get run request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return runs.Run{}, fmt.Errorf("get run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return runs.Run{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return runs.Run{}, fmt.Errorf("get run failed: %s", strings.TrimSpace(string(payload)))
	}

	var out struct {
		Run runs.Run `json:"run"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return runs.Run{}, fmt.Errorf("decode run: %w", err)
	}
	return out.Run, nil
}

// StreamLogs follows the log of a run, calling lineFn for every line until the
// service closes the stream.
func (c *Client) StreamLogs(ctx context.Context, runID string, lineFn func(string) error) error {
	endpoint := fmt.Sprintf("%s/api/runs/%s/logs", c.baseURL, url.PathEscape(runID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	c.authorize(req)

	resp, err := c.pipelineClient.Do(req)
	if err != nil {
		return fmt.Errorf("stream logs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("stream logs failed: %s", strings.TrimSpace(string(payload)))
	}
	return ReadEvents(resp.Body, lineFn)
}

func (c *Client) authorize(req *http.Request) {
	if c.key != "" {
		req.Header.Set(auth.FunctionKeyHeader, c.key)
	}
}

// ParseSSEEvent extracts the data payload of one SSE event.
func ParseSSEEvent(lines []string) (string, bool) {
	var data []string
	for _, line := range lines {
		if strings.HasPrefix(line, "data:") {
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if len(data) == 0 {
		return "", false
	}
	return strings.Join(data, "\n"), true
}

// ReadEvents streams SSE events, invoking eventFn for each completed event.
func ReadEvents(body io.Reader, eventFn func(string) error) error {
	reader := bufio.NewReader(body)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(lines) > 0 {
					if err := dispatchEvent(lines, eventFn); err != nil {
						return err
					}
				}
				return nil
			}
			return err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			if err := dispatchEvent(lines, eventFn); err != nil {
				return err
			}
			lines = lines[:0]
			continue
		}
		lines = append(lines, trimmed)
	}
}

func dispatchEvent(lines []string, eventFn func(string) error) error {
	if len(lines) == 0 {
		return nil
	}
	payload, ok := ParseSSEEvent(lines)
	if !ok {
		return nil
	}
	return eventFn(payload)
}
