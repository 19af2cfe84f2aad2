// Package app assembles the pipeline service from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/vyvo/appsvcbuild/pkg/acr"
	"github.com/vyvo/appsvcbuild/pkg/appservice"
	"github.com/vyvo/appsvcbuild/pkg/azure"
	"github.com/vyvo/appsvcbuild/pkg/build"
	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
	"github.com/vyvo/appsvcbuild/pkg/config"
	"github.com/vyvo/appsvcbuild/pkg/deploy"
	"github.com/vyvo/appsvcbuild/pkg/git"
	"github.com/vyvo/appsvcbuild/pkg/github"
	"github.com/vyvo/appsvcbuild/pkg/keyvault"
	"github.com/vyvo/appsvcbuild/pkg/notify"
	"github.com/vyvo/appsvcbuild/pkg/pipeline"
	"github.com/vyvo/appsvcbuild/pkg/publisher"
	"github.com/vyvo/appsvcbuild/pkg/runs"
	"github.com/vyvo/appsvcbuild/pkg/telemetry"
	"github.com/vyvo/appsvcbuild/pkg/template"
)

// Env holds the process-wide pieces shared by every invocation. Secrets are
// not cached here; each invocation reads them from Secrets.
type Env struct {
	Config  config.PipelineConfig
	Cred    azcore.TokenCredential
	Secrets keyvault.Store
	Logger  log.Logger

	pg *runs.PostgresStore
}

// NewEnv creates the Azure credential, the secret store and, when a database
// is configured, the run history store.
func NewEnv(cfg config.PipelineConfig, logger log.Logger) (*Env, error) {
	cred, err := azure.NewCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return nil, err
	}
	var store keyvault.Store
	if cfg.KeyVaultURL != "" {
		vault, err := keyvault.NewClient(cfg.KeyVaultURL, cred, nil)
		if err != nil {
			return nil, err
		}
		store = vault
	}
	env := &Env{
		Config:  cfg,
		Cred:    cred,
		Secrets: keyvault.NewEnvOverlay(store),
		Logger:  logger,
	}
	if cfg.DatabaseURL != "" {
		pg, err := runs.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open run store: %w", err)
		}
		env.pg = pg
	}
	return env, nil
}

// Close releases the run history store.
func (e *Env) Close() error {
	if e.pg != nil {
		return e.pg.Close()
	}
	return nil
}

// Secret reads name from the secret store.
func (e *Env) Secret(ctx context.Context, name string) (string, error) {
	v, err := e.Secrets.GetSecret(ctx, name)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
	return v, nil
}

// Registry returns a client of the configured container registry.
func (e *Env) Registry() (*acr.Client, error) {
	arm, err := azure.NewClient(e.Cred, e.Config.SubscriptionID, e.Config.ResourceGroup)
	if err != nil {
		return nil, err
	}
	return acr.NewClient(arm, e.Config.Registry, e.Config.Location)
}

// Resolver returns the request resolver for the configured organisations.
func (e *Env) Resolver() *buildrequest.Resolver {
	r := buildrequest.NewResolver()
	r.TemplateOrg = e.Config.TemplateOrg
	r.OutputOrg = e.Config.OutputOrg
	r.RegistryHost = e.Config.LoginServer()
	if len(e.Config.MailTo) > 0 {
		r.Email = e.Config.MailTo[0]
	}
	return r
}

// Notifier mails reports through SendGrid, reading the API key per send.
func (e *Env) Notifier() notify.Notifier {
	m := notify.NewMailer(e.Config.SendGridURL, "", e.Config.MailFrom, e.Config.MailTo, log.With(e.Logger, "component", "mail"))
	m.KeyFunc = func(ctx context.Context) (string, error) {
		return e.Secret(ctx, keyvault.SecretSendGridKey)
	}
	return m
}

// Service assembles the pipeline service around recorder.
func (e *Env) Service(recorder *runs.Recorder) *pipeline.Service {
	return pipeline.NewService(e.Resolver(), e.NewContext, e.Notifier(), recorder, log.With(e.Logger, "component", "pipeline"))
}

// Recorder returns a run recorder backed by memory and, when configured, Postgres.
func (e *Env) Recorder() *runs.Recorder {
	return runs.NewRecorder(runs.NewMemStore(), e.pg, log.With(e.Logger, "component", "runs"))
}

// NewContext builds the collaborators of one invocation. It is a pipeline.ContextFactory.
func (e *Env) NewContext(ctx context.Context, logger log.Logger) (*pipeline.Context, error) {
	cfg := e.Config
	token, err := e.Secret(ctx, keyvault.SecretGitToken)
	if err != nil {
		return nil, err
	}

	gitc := git.NewClient(token, git.Author{Name: cfg.GitAuthorName, Email: cfg.GitAuthorEmail})
	if cfg.GitRetryAttempts > 0 {
		gitc.Attempts = cfg.GitRetryAttempts
	}
	if cfg.GitRetryInterval > 0 {
		gitc.Interval = cfg.GitRetryInterval
	}
	hub, err := github.NewClient(ctx, token, cfg.GitHubAPIURL)
	if err != nil {
		return nil, err
	}

	arm, err := azure.NewClient(e.Cred, cfg.SubscriptionID, cfg.ResourceGroup)
	if err != nil {
		return nil, err
	}
	registry, err := acr.NewClient(arm, cfg.Registry, cfg.Location)
	if err != nil {
		return nil, err
	}
	sites, err := appservice.NewClient(arm, cfg.Location)
	if err != nil {
		return nil, err
	}
	level.Debug(logger).Log("msg", "pipeline context ready", "registry", registry.LoginServer(), "resourceGroup", arm.ResourceGroup())

	return &pipeline.Context{
		Logger:       logger,
		GitToken:     token,
		Materializer: template.New(gitc, logger),
		Publisher:    publisher.New(hub, gitc, logger),
		Builder:      build.NewTrigger(registry, cfg.BuildOptions(), logger),
		Deployer:     deploy.New(sites, registry, registry.LoginServer(), logger),
		Registry:     registry,
		Workspace:    gitc,
		WorkRoot:     cfg.WorkRoot,
		RetrySleep:   cfg.RetrySleep,
		Tracer:       telemetry.Tracer(),
	}, nil
}
