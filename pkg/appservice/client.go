// Package appservice manages container web apps through the appservice SDK.
package appservice

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/appservice/armappservice/v2"

	"github.com/vyvo/appsvcbuild/pkg/azure"
)

const siteKind = "app,linux,container"

// NameValue is one app setting.
type NameValue struct {
	Name  string
	Value string
}

// Site is the desired state of a container web app.
type Site struct {
	Name           string
	PlanID         string
	LinuxFxVersion string
	AppSettings    []NameValue
}

type Client struct {
	sites         *armappservice.WebAppsClient
	plans         *armappservice.PlansClient
	resourceGroup string
	location      string
}

func NewClient(arm *azure.Client, location string) (*Client, error) {
	sites, err := armappservice.NewWebAppsClient(arm.SubscriptionID(), arm.Credential(), arm.ClientOptions())
	if err != nil {
		return nil, fmt.Errorf("create web apps client: %w", err)
	}
	plans, err := armappservice.NewPlansClient(arm.SubscriptionID(), arm.Credential(), arm.ClientOptions())
	if err != nil {
		return nil, fmt.Errorf("create plans client: %w", err)
	}
	return &Client{sites: sites, plans: plans, resourceGroup: arm.ResourceGroup(), location: location}, nil
}

// DeleteSite removes a site. A missing site is not an error.
func (c *Client) DeleteSite(ctx context.Context, name string) error {
	_, err := c.sites.Delete(ctx, c.resourceGroup, name, nil)
	if err != nil && !azure.IsNotFound(err) {
		return fmt.Errorf("delete site %s: %w", name, err)
	}
	return nil
}

// GetPlanID returns the resource id of an App Service plan.
func (c *Client) GetPlanID(ctx context.Context, plan string) (string, error) {
	resp, err := c.plans.Get(ctx, c.resourceGroup, plan, nil)
	if err != nil {
		return "", fmt.Errorf("get plan %s: %w", plan, err)
	}
	if resp.ID == nil {
		return "", fmt.Errorf("plan %s not found", plan)
	}
	return *resp.ID, nil
}

// CreateOrUpdateSite creates or replaces a Linux container site.
func (c *Client) CreateOrUpdateSite(ctx context.Context, site Site) error {
	settings := make([]*armappservice.NameValuePair, 0, len(site.AppSettings))
	for _, s := range site.AppSettings {
		settings = append(settings, &armappservice.NameValuePair{Name: to.Ptr(s.Name), Value: to.Ptr(s.Value)})
	}
	envelope := armappservice.Site{
		Location: to.Ptr(c.location),
		Kind:     to.Ptr(siteKind),
		Properties: &armappservice.SiteProperties{
			ServerFarmID: to.Ptr(site.PlanID),
			Reserved:     to.Ptr(true),
			SiteConfig: &armappservice.SiteConfig{
				LinuxFxVersion: to.Ptr(site.LinuxFxVersion),
				AppSettings:    settings,
			},
		},
	}
	poller, err := c.sites.BeginCreateOrUpdate(ctx, c.resourceGroup, site.Name, envelope, nil)
	if err == nil {
		_, err = poller.PollUntilDone(ctx, nil)
	}
	if err != nil {
		return fmt.Errorf("create site %s: %w", site.Name, err)
	}
	return nil
}

// PublishingCredentials returns the scm URI of a site, which carries its deployment
// credentials.
func (c *Client) PublishingCredentials(ctx context.Context, name string) (string, error) {
	poller, err := c.sites.BeginListPublishingCredentials(ctx, c.resourceGroup, name, nil)
	if err != nil {
		return "", fmt.Errorf("publishing credentials of %s: %w", name, err)
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("publishing credentials of %s: %w", name, err)
	}
	if resp.Properties == nil || resp.Properties.ScmURI == nil || *resp.Properties.ScmURI == "" {
		return "", fmt.Errorf("site %s has no scm uri", name)
	}
	return *resp.Properties.ScmURI, nil
}
