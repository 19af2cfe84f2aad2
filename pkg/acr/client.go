// Package acr drives an Azure Container Registry: credentials and webhooks through
// the containerregistry SDK, build tasks and runs through raw ARM calls, tags and
// repositories through the registry data plane.
package acr

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/containerregistry/armcontainerregistry"

	"github.com/vyvo/appsvcbuild/pkg/azure"
)

// Tasks and runs are missing from the stable containerregistry SDK.
const (
	provider       = "Microsoft.ContainerRegistry"
	taskAPIVersion = "2019-04-01"
)

// Run states reported by the registry.
const (
	StatusQueued    = "Queued"
	StatusStarted   = "Started"
	StatusRunning   = "Running"
	StatusSucceeded = "Succeeded"
	StatusFailed    = "Failed"
	StatusCanceled  = "Canceled"
	StatusError     = "Error"
	StatusTimeout   = "Timeout"
)

// InProgress reports whether status is a non-terminal run state.
func InProgress(status string) bool {
	switch status {
	case StatusQueued, StatusStarted, StatusRunning:
		return true
	}
	return false
}

// TaskSpec registers a Docker build of a git context.
type TaskSpec struct {
	Name         string
	ContextURL   string
	ContextToken string
	Dockerfile   string
	ImageName    string
	NoCache      bool
	Timeout      time.Duration
	CPU          int
}

// Run is the state of one task run.
type Run struct {
	ID     string
	Status string
}

// Credentials are the registry admin credentials.
type Credentials struct {
	Username string
	Password string
}

// Webhook notifies ServiceURI when an image matching Scope is pushed.
type Webhook struct {
	Name       string
	ServiceURI string
	Scope      string
}

// Client manages one registry.
type Client struct {
	arm        *azure.Client
	registries *armcontainerregistry.RegistriesClient
	webhooks   *armcontainerregistry.WebhooksClient
	registry   string
	location   string
	dataURL    string
	httpClient *http.Client

	mu    sync.Mutex
	creds *Credentials
}

type Option func(*Client)

// WithDataEndpoint overrides the registry data plane URL, https://<registry>.azurecr.io by default.
func WithDataEndpoint(endpoint string) Option {
	return func(c *Client) { c.dataURL = strings.TrimSuffix(endpoint, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(arm *azure.Client, registry, location string, opts ...Option) (*Client, error) {
	registries, err := armcontainerregistry.NewRegistriesClient(arm.SubscriptionID(), arm.Credential(), arm.ClientOptions())
	if err != nil {
		return nil, fmt.Errorf("create registries client: %w", err)
	}
	webhooks, err := armcontainerregistry.NewWebhooksClient(arm.SubscriptionID(), arm.Credential(), arm.ClientOptions())
	if err != nil {
		return nil, fmt.Errorf("create webhooks client: %w", err)
	}
	c := &Client{
		arm:        arm,
		registries: registries,
		webhooks:   webhooks,
		registry:   registry,
		location:   location,
		dataURL:    "https://" + LoginServer(registry),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LoginServer returns the registry host name.
func LoginServer(registry string) string {
	return registry + ".azurecr.io"
}

// LoginServer returns the host name images are pushed to.
func (c *Client) LoginServer() string {
	return LoginServer(c.registry)
}

func (c *Client) path(segments ...string) string {
	return c.arm.ProviderPath(provider, append([]string{"registries", c.registry}, segments...)...)
}

type taskBody struct {
	Location   string         `json:"location"`
	Properties taskProperties `json:"properties"`
}

type taskProperties struct {
	Status             string             `json:"status"`
	Platform           platform           `json:"platform"`
	AgentConfiguration agentConfiguration `json:"agentConfiguration"`
	Timeout            int                `json:"timeout"`
	Step               dockerStep         `json:"step"`
}

type platform struct {
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
}

type agentConfiguration struct {
	CPU int `json:"cpu"`
}

type dockerStep struct {
	Type               string   `json:"type"`
	ImageNames         []string `json:"imageNames"`
	DockerFilePath     string   `json:"dockerFilePath"`
	ContextPath        string   `json:"contextPath"`
	ContextAccessToken string   `json:"contextAccessToken,omitempty"`
	IsPushEnabled      bool     `json:"isPushEnabled"`
	NoCache            bool     `json:"noCache"`
}

// CreateOrUpdateTask registers spec, replacing an existing task of the same name.
func (c *Client) CreateOrUpdateTask(ctx context.Context, spec TaskSpec) error {
	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	body := taskBody{
		Location: c.location,
		Properties: taskProperties{
			Status:             "Enabled",
			Platform:           platform{OS: "Linux", Architecture: "amd64"},
			AgentConfiguration: agentConfiguration{CPU: spec.CPU},
			Timeout:            int(spec.Timeout / time.Second),
			Step: dockerStep{
				Type:               "Docker",
				ImageNames:         []string{spec.ImageName},
				DockerFilePath:     dockerfile,
				ContextPath:        spec.ContextURL,
				ContextAccessToken: spec.ContextToken,
				IsPushEnabled:      true,
				NoCache:            spec.NoCache,
			},
		},
	}
	if err := c.arm.Do(ctx, http.MethodPut, c.path("tasks", spec.Name), taskAPIVersion, body, nil); err != nil {
		return fmt.Errorf("create task %s: %w", spec.Name, err)
	}
	return nil
}

// DeleteTask removes a task. A missing task is not an error.
func (c *Client) DeleteTask(ctx context.Context, name string) error {
	err := c.arm.Do(ctx, http.MethodDelete, c.path("tasks", name), taskAPIVersion, nil, nil)
	if err != nil && !azure.IsNotFound(err) {
		return fmt.Errorf("delete task %s: %w", name, err)
	}
	return nil
}

type runBody struct {
	Properties struct {
		RunID  string `json:"runId"`
		Status string `json:"status"`
	} `json:"properties"`
}

// ScheduleRun starts taskName and returns the run id.
func (c *Client) ScheduleRun(ctx context.Context, taskName string) (string, error) {
	req := map[string]any{
		"type":   "TaskRunRequest",
		"taskId": c.path("tasks", taskName),
	}
	var out runBody
	if err := c.arm.Do(ctx, http.MethodPost, c.path("scheduleRun"), taskAPIVersion, req, &out); err != nil {
		return "", fmt.Errorf("schedule %s: %w", taskName, err)
	}
	if out.Properties.RunID == "" {
		return "", fmt.Errorf("schedule %s: response carried no run id", taskName)
	}
	return out.Properties.RunID, nil
}

// GetRun returns the current state of runID.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var out runBody
	if err := c.arm.Do(ctx, http.MethodGet, c.path("runs", runID), taskAPIVersion, nil, &out); err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return Run{ID: runID, Status: out.Properties.Status}, nil
}

// ListCredentials returns the admin user and its first password.
func (c *Client) ListCredentials(ctx context.Context) (Credentials, error) {
	resp, err := c.registries.ListCredentials(ctx, c.arm.ResourceGroup(), c.registry, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("list registry credentials: %w", err)
	}
	if resp.Username == nil || len(resp.Passwords) == 0 || resp.Passwords[0].Value == nil {
		return Credentials{}, fmt.Errorf("registry %s has no admin password", c.registry)
	}
	creds := Credentials{Username: *resp.Username, Password: *resp.Passwords[0].Value}
	c.mu.Lock()
	c.creds = &creds
	c.mu.Unlock()
	return creds, nil
}

// CreateWebhook registers a push webhook.
func (c *Client) CreateWebhook(ctx context.Context, hook Webhook) error {
	params := armcontainerregistry.WebhookCreateParameters{
		Location: to.Ptr(c.location),
		Properties: &armcontainerregistry.WebhookPropertiesCreateParameters{
			ServiceURI: to.Ptr(hook.ServiceURI),
			Actions:    []*armcontainerregistry.WebhookAction{to.Ptr(armcontainerregistry.WebhookActionPush)},
			Scope:      to.Ptr(hook.Scope),
			Status:     to.Ptr(armcontainerregistry.WebhookStatusEnabled),
		},
	}
	poller, err := c.webhooks.BeginCreate(ctx, c.arm.ResourceGroup(), c.registry, hook.Name, params, nil)
	if err == nil {
		_, err = poller.PollUntilDone(ctx, nil)
	}
	if err != nil {
		return fmt.Errorf("create webhook %s: %w", hook.Name, err)
	}
	return nil
}

// DeleteWebhook removes a webhook. A missing webhook is not an error.
func (c *Client) DeleteWebhook(ctx context.Context, name string) error {
	poller, err := c.webhooks.BeginDelete(ctx, c.arm.ResourceGroup(), c.registry, name, nil)
	if err == nil {
		_, err = poller.PollUntilDone(ctx, nil)
	}
	if err != nil && !azure.IsNotFound(err) {
		return fmt.Errorf("delete webhook %s: %w", name, err)
	}
	return nil
}

// WebhookName derives a registry webhook name (alphanumeric, at most 50 characters)
// from a site name.
func WebhookName(site string) string {
	var b strings.Builder
	for _, r := range site {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if len(name) > 50 {
		name = name[:50]
	}
	return name
}
