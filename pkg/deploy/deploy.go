// Package deploy points a hosting slot at a freshly built image.
package deploy

import (
	"context"
	"fmt"

	"github.com/go-kit/log"

	"github.com/vyvo/appsvcbuild/pkg/acr"
	"github.com/vyvo/appsvcbuild/pkg/appservice"
)

// DeployError wraps a failure of one deployment step.
type DeployError struct {
	Site string
	Step string
	Err  error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deploy %s: %s: %v", e.Site, e.Step, e.Err)
}

func (e *DeployError) Unwrap() error { return e.Err }

// Sites is the hosting service.
type Sites interface {
	DeleteSite(ctx context.Context, name string) error
	GetPlanID(ctx context.Context, plan string) (string, error)
	CreateOrUpdateSite(ctx context.Context, site appservice.Site) error
	PublishingCredentials(ctx context.Context, name string) (string, error)
}

// Webhooks registers continuous-deployment hooks on the registry.
type Webhooks interface {
	CreateWebhook(ctx context.Context, hook acr.Webhook) error
	DeleteWebhook(ctx context.Context, name string) error
}

// Target is one deployment.
type Target struct {
	Version     string
	Site        string
	Plan        string
	Image       string
	Credentials acr.Credentials
}

type Deployer struct {
	Sites       Sites
	Webhooks    Webhooks
	LoginServer string
	Logger      log.Logger
}

func New(sites Sites, hooks Webhooks, loginServer string, logger log.Logger) *Deployer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Deployer{Sites: sites, Webhooks: hooks, LoginServer: loginServer, Logger: logger}
}

// Deploy deletes any site named t.Site, recreates it running t.Image and registers a
// push webhook for the image. It returns the site's deployment callback URL.
func (d *Deployer) Deploy(ctx context.Context, t Target) (string, error) {
	fail := func(step string, err error) (string, error) {
		return "", &DeployError{Site: t.Site, Step: step, Err: err}
	}

	d.Logger.Log("msg", "deleting site", "site", t.Site)
	if err := d.Sites.DeleteSite(ctx, t.Site); err != nil {
		return fail("delete site", err)
	}
	planID, err := d.Sites.GetPlanID(ctx, t.Plan)
	if err != nil {
		return fail("get plan", err)
	}

	d.Logger.Log("msg", "creating site", "site", t.Site, "image", t.Image, "plan", t.Plan)
	site := appservice.Site{
		Name:           t.Site,
		PlanID:         planID,
		LinuxFxVersion: fmt.Sprintf("DOCKER|%s/%s", d.LoginServer, t.Image),
		AppSettings: []appservice.NameValue{
			{Name: "DOCKER_REGISTRY_SERVER_USERNAME", Value: t.Credentials.Username},
			{Name: "DOCKER_REGISTRY_SERVER_PASSWORD", Value: t.Credentials.Password},
			{Name: "DOCKER_REGISTRY_SERVER_URL", Value: "https://" + d.LoginServer},
			{Name: "DOCKER_ENABLE_CI", Value: "true"},
			{Name: "WEBSITES_ENABLE_APP_SERVICE_STORAGE", Value: "false"},
		},
	}
	if err := d.Sites.CreateOrUpdateSite(ctx, site); err != nil {
		return fail("create site", err)
	}

	scm, err := d.Sites.PublishingCredentials(ctx, t.Site)
	if err != nil {
		return fail("publishing credentials", err)
	}
	callback := scm + "/docker/hook"

	if d.Webhooks != nil {
		hook := acr.Webhook{Name: acr.WebhookName(t.Site), ServiceURI: callback, Scope: t.Image}
		if err := d.Webhooks.CreateWebhook(ctx, hook); err != nil {
			return fail("create webhook", err)
		}
	}
	d.Logger.Log("msg", "site deployed", "site", t.Site, "version", t.Version)
	return callback, nil
}

// Teardown removes a deployed site and its webhook.
func (d *Deployer) Teardown(ctx context.Context, site string) error {
	if d.Webhooks != nil {
		if err := d.Webhooks.DeleteWebhook(ctx, acr.WebhookName(site)); err != nil {
			return &DeployError{Site: site, Step: "delete webhook", Err: err}
		}
	}
	if err := d.Sites.DeleteSite(ctx, site); err != nil {
		return &DeployError{Site: site, Step: "delete site", Err: err}
	}
	return nil
}
