package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/vyvo/appsvcbuild/pkg/acr"
	"github.com/vyvo/appsvcbuild/pkg/build"
	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
	"github.com/vyvo/appsvcbuild/pkg/notify"
	"github.com/vyvo/appsvcbuild/pkg/poller"
)

// EnvPrefix prefixes every environment override, e.g. APPSVCBUILD_REGISTRY.
const EnvPrefix = "APPSVCBUILD"

// PipelineConfig captures the collaborators and tuning of a pipeline run.
type PipelineConfig struct {
	TenantID       string `mapstructure:"azure_tenant_id"`
	ClientID       string `mapstructure:"azure_client_id"`
	ClientSecret   string `mapstructure:"azure_client_secret"`
	SubscriptionID string `mapstructure:"azure_subscription_id"`
	ResourceGroup  string `mapstructure:"resource_group"`
	Registry       string `mapstructure:"registry"`
	Location       string `mapstructure:"location"`
	KeyVaultURL    string `mapstructure:"key_vault_url"`

	GitHubAPIURL   string `mapstructure:"github_api_url"`
	TemplateOrg    string `mapstructure:"template_org"`
	OutputOrg      string `mapstructure:"output_org"`
	GitAuthorName  string `mapstructure:"git_author_name"`
	GitAuthorEmail string `mapstructure:"git_author_email"`
	WorkRoot       string `mapstructure:"work_root"`

	RetrySleep       time.Duration `mapstructure:"retry_sleep"`
	GitRetryInterval time.Duration `mapstructure:"git_retry_interval"`
	GitRetryAttempts int           `mapstructure:"git_retry_attempts"`
	PollInitial      time.Duration `mapstructure:"poll_initial_interval"`
	PollMax          time.Duration `mapstructure:"poll_max_interval"`
	PollBudget       time.Duration `mapstructure:"poll_budget"`
	TaskTimeout      time.Duration `mapstructure:"task_timeout"`
	TaskCPU          int           `mapstructure:"task_cpu"`

	MailFrom    string   `mapstructure:"mail_from"`
	MailTo      []string `mapstructure:"mail_to"`
	SendGridURL string   `mapstructure:"sendgrid_url"`

	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`

	LogFormat string `mapstructure:"log_format"`
	LogLevel  string `mapstructure:"log_level"`
	Tracing   bool   `mapstructure:"tracing"`
}

// BuildOptions returns the remote build tuning.
func (c PipelineConfig) BuildOptions() build.Options {
	return build.Options{
		InitialInterval: c.PollInitial,
		MaxInterval:     c.PollMax,
		MaxWait:         c.PollBudget,
		TaskTimeout:     c.TaskTimeout,
		CPU:             c.TaskCPU,
	}
}

// LoginServer returns the registry host images are pushed to.
func (c PipelineConfig) LoginServer() string {
	return acr.LoginServer(c.Registry)
}

// ServerConfig captures runtime settings for the HTTP service.
type ServerConfig struct {
	PipelineConfig `mapstructure:",squash"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	FunctionKey    string        `mapstructure:"function_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PollerConfig captures runtime settings for the upstream release poller.
type PollerConfig struct {
	Interval    time.Duration   `mapstructure:"poll_interval"`
	Lookback    time.Duration   `mapstructure:"lookback"`
	PostDelay   time.Duration   `mapstructure:"post_delay"`
	ServerURL   string          `mapstructure:"server_url"`
	FunctionKey string          `mapstructure:"function_key"`
	Queue       bool            `mapstructure:"queue"`
	RedisURL    string          `mapstructure:"redis_url"`
	HubRPS      float64         `mapstructure:"hub_rps"`
	LogFormat   string          `mapstructure:"log_format"`
	LogLevel    string          `mapstructure:"log_level"`
	Targets     []poller.Target `mapstructure:"targets"`
}

// DefaultTargets reproduce the daily php and node polls.
func DefaultTargets() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"stack":      "php",
			"url":        poller.DefaultHubURL + "/library/php/tags",
			"pattern":    `regexp:^[0-9]+\.[0-9]+\.[0-9]+-apache$`,
			"base_image": "php:",
		},
		{
			"stack":        "node",
			"url":          poller.DefaultHubURL + "/oryxprod",
			"repo_pattern": `regexp:^node-[0-9]+\.[0-9]+$`,
			"exclude":      "*latest*",
			"base_image":   "oryxprod/",
		},
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

func setPipelineDefaults(v *viper.Viper) {
	opts := build.DefaultOptions()

	v.SetDefault("azure_tenant_id", "")
	v.SetDefault("azure_client_id", "")
	v.SetDefault("azure_client_secret", "")
	v.SetDefault("azure_subscription_id", "")
	v.SetDefault("resource_group", "appsvcbuildrg")
	v.SetDefault("registry", "appsvcbuildacr")
	v.SetDefault("location", "westus2")
	v.SetDefault("key_vault_url", "https://appsvcbuild-vault.vault.azure.net/")

	v.SetDefault("github_api_url", "")
	v.SetDefault("template_org", buildrequest.DefaultTemplateOrg)
	v.SetDefault("output_org", buildrequest.DefaultOutputOrg)
	v.SetDefault("git_author_name", "appsvcbuild")
	v.SetDefault("git_author_email", buildrequest.DefaultEmail)
	v.SetDefault("work_root", "")

	v.SetDefault("retry_sleep", time.Minute)
	v.SetDefault("git_retry_interval", time.Minute)
	v.SetDefault("git_retry_attempts", 3)
	v.SetDefault("poll_initial_interval", opts.InitialInterval)
	v.SetDefault("poll_max_interval", opts.MaxInterval)
	v.SetDefault("poll_budget", opts.MaxWait)
	v.SetDefault("task_timeout", opts.TaskTimeout)
	v.SetDefault("task_cpu", opts.CPU)

	v.SetDefault("mail_from", buildrequest.DefaultEmail)
	v.SetDefault("mail_to", []string{buildrequest.DefaultEmail})
	v.SetDefault("sendgrid_url", notify.DefaultSendGridURL)

	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")

	v.SetDefault("log_format", "logfmt")
	v.SetDefault("log_level", "info")
	v.SetDefault("tracing", false)
}

func read(v *viper.Viper, out interface{}) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// LoadPipeline loads pipeline configuration from defaults, files, and env vars.
func LoadPipeline() (PipelineConfig, error) {
	v := newViper()
	setPipelineDefaults(v)

	var cfg PipelineConfig
	if err := read(v, &cfg); err != nil {
		return PipelineConfig{}, err
	}
	return cfg, nil
}

// LoadServer loads the HTTP service configuration.
func LoadServer() (ServerConfig, error) {
	v := newViper()
	setPipelineDefaults(v)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("function_key", "")
	v.SetDefault("request_timeout", 4*time.Hour)

	var cfg ServerConfig
	if err := read(v, &cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadPoller loads the poller configuration.
func LoadPoller() (PollerConfig, error) {
	v := newViper()
	v.SetDefault("poll_interval", 24*time.Hour)
	v.SetDefault("lookback", 24*time.Hour)
	v.SetDefault("post_delay", 5*time.Minute)
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("function_key", "")
	v.SetDefault("queue", false)
	v.SetDefault("redis_url", "")
	v.SetDefault("hub_rps", 2.0)
	v.SetDefault("log_format", "logfmt")
	v.SetDefault("log_level", "info")
	v.SetDefault("targets", DefaultTargets())

	var cfg PollerConfig
	if err := read(v, &cfg); err != nil {
		return PollerConfig{}, err
	}
	return cfg, nil
}
