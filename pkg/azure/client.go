// Package azure holds the Azure Resource Manager plumbing shared by the registry,
// hosting and vault integrations.
package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

const (
	moduleName    = "github.com/vyvo/appsvcbuild/pkg/azure"
	moduleVersion = "v1.0.0"
)

// IsNotFound reports whether err is an ARM 404.
func IsNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// NewCredential returns a service principal credential, or the default
// credential chain when no client secret is configured.
func NewCredential(tenantID, clientID, clientSecret string) (azcore.TokenCredential, error) {
	if clientSecret == "" {
		cred, err := azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{TenantID: tenantID})
		if err != nil {
			return nil, fmt.Errorf("create default azure credential: %w", err)
		}
		return cred, nil
	}
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure credential: %w", err)
	}
	return cred, nil
}

// Client carries the subscription scope and pipeline options shared by the
// resource clients, and sends raw ARM requests for operations those clients lack.
type Client struct {
	arm            *arm.Client
	subscriptionID string
	resourceGroup  string
	cred           azcore.TokenCredential
	options        *arm.ClientOptions
}

type Option func(*arm.ClientOptions)

// WithEndpoint points the client at another ARM endpoint.
func WithEndpoint(endpoint string) Option {
	return func(o *arm.ClientOptions) {
		o.Cloud = cloud.Configuration{
			ActiveDirectoryAuthorityHost: cloud.AzurePublic.ActiveDirectoryAuthorityHost,
			Services: map[cloud.ServiceName]cloud.ServiceConfiguration{
				cloud.ResourceManager: {
					Endpoint: strings.TrimSuffix(endpoint, "/"),
					Audience: cloud.AzurePublic.Services[cloud.ResourceManager].Audience,
				},
			},
		}
		o.DisableRPRegistration = true
	}
}

func WithTransport(t policy.Transporter) Option {
	return func(o *arm.ClientOptions) { o.Transport = t }
}

func NewClient(cred azcore.TokenCredential, subscriptionID, resourceGroup string, opts ...Option) (*Client, error) {
	options := &arm.ClientOptions{}
	for _, opt := range opts {
		opt(options)
	}
	client, err := arm.NewClient(moduleName, moduleVersion, cred, options)
	if err != nil {
		return nil, fmt.Errorf("create arm client: %w", err)
	}
	return &Client{
		arm:            client,
		subscriptionID: subscriptionID,
		resourceGroup:  resourceGroup,
		cred:           cred,
		options:        options,
	}, nil
}

// ResourceGroup returns the resource group the client is scoped to.
func (c *Client) ResourceGroup() string { return c.resourceGroup }

func (c *Client) SubscriptionID() string { return c.subscriptionID }

func (c *Client) Credential() azcore.TokenCredential { return c.cred }

// ClientOptions returns a copy of the options the SDK resource clients are built with.
func (c *Client) ClientOptions() *arm.ClientOptions {
	options := *c.options
	return &options
}

// ProviderPath returns the ARM path of a resource under provider, e.g.
// ProviderPath("Microsoft.Web", "sites", "x").
func (c *Client) ProviderPath(provider string, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/%s/%s",
		url.PathEscape(c.subscriptionID), url.PathEscape(c.resourceGroup), provider, strings.Join(escaped, "/"))
}

// Do sends in as JSON to path through the ARM pipeline and decodes a 2xx
// response into out. Either may be nil. Failures are *azcore.ResponseError.
func (c *Client) Do(ctx context.Context, method, path, apiVersion string, in, out any) error {
	req, err := runtime.NewRequest(ctx, method, runtime.JoinPaths(c.arm.Endpoint(), path))
	if err != nil {
		return fmt.Errorf("create azure request: %w", err)
	}
	query := req.Raw().URL.Query()
	query.Set("api-version", apiVersion)
	req.Raw().URL.RawQuery = query.Encode()
	req.Raw().Header["Accept"] = []string{"application/json"}
	if in != nil {
		if err := runtime.MarshalAsJSON(req, in); err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
	}

	resp, err := c.arm.Pipeline().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if !runtime.HasStatusCode(resp, http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent) {
		return runtime.NewResponseError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		runtime.Drain(resp)
		return nil
	}
	if err := runtime.UnmarshalAsJSON(resp, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
