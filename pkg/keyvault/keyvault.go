// Package keyvault reads pipeline secrets from Azure Key Vault.
package keyvault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// Secret names used by the pipeline.
const (
	SecretGitToken    = "gitToken"
	SecretSendGridKey = "sendGridApiKey"
	SecretFunctionKey = "appsvcbuildfuncMaster"
)

// latestVersion selects the current version of a secret.
const latestVersion = ""

// ErrSecretNotFound is returned when a secret does not exist.
var ErrSecretNotFound = errors.New("secret not found")

// Store returns secrets by name.
type Store interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// Client reads secrets from one vault.
type Client struct {
	secrets *azsecrets.Client
}

func NewClient(vaultURL string, cred azcore.TokenCredential, opts *azsecrets.ClientOptions) (*Client, error) {
	secrets, err := azsecrets.NewClient(vaultURL, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("create secret client: %w", err)
	}
	return &Client{secrets: secrets}, nil
}

// GetSecret returns the current version of secret name.
func (c *Client) GetSecret(ctx context.Context, name string) (string, error) {
	resp, err := c.secrets.GetSecret(ctx, name, latestVersion, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%s: %w", name, ErrSecretNotFound)
		}
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}
	if resp.Value == nil {
		return "", fmt.Errorf("secret %s has no value", name)
	}
	return *resp.Value, nil
}

// Static is an in-memory Store.
type Static map[string]string

func (s Static) GetSecret(ctx context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrSecretNotFound)
	}
	return v, nil
}

// EnvOverlay serves a secret from its environment variable when set and falls back
// to Store otherwise.
type EnvOverlay struct {
	Store Store
	// Env maps secret names to environment variable names.
	Env    map[string]string
	Lookup func(string) (string, bool)
}

// DefaultEnv maps the pipeline secrets to their environment variables.
func DefaultEnv() map[string]string {
	return map[string]string{
		SecretGitToken:    "APPSVCBUILD_GIT_TOKEN",
		SecretSendGridKey: "APPSVCBUILD_SENDGRID_API_KEY",
		SecretFunctionKey: "APPSVCBUILD_FUNCTION_KEY",
	}
}

func NewEnvOverlay(store Store) *EnvOverlay {
	return &EnvOverlay{Store: store, Env: DefaultEnv(), Lookup: os.LookupEnv}
}

func (o *EnvOverlay) GetSecret(ctx context.Context, name string) (string, error) {
	lookup := o.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if env, ok := o.Env[name]; ok {
		if v, ok := lookup(env); ok && v != "" {
			return v, nil
		}
	}
	if o.Store == nil {
		return "", fmt.Errorf("%s: %w", name, ErrSecretNotFound)
	}
	return o.Store.GetSecret(ctx, name)
}
