package keyvault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCredential struct{ scopes []string }

func (s *staticCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	s.scopes = append(s.scopes, opts.Scopes...)
	return azcore.AccessToken{Token: "tok", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func TestGetSecret(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.Header().Set("WWW-Authenticate", `Bearer authorization="https://login.microsoftonline.com/tenant", resource="https://vault.azure.net"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.URL.Query().Get("api-version"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/secrets/gitToken/", "/secrets/gitToken":
			fmt.Fprint(w, `{"value":"ghp_x","id":"https://vault.vault.azure.net/secrets/gitToken/1"}`)
		case "/secrets/empty/", "/secrets/empty":
			fmt.Fprint(w, `{"id":"https://vault.vault.azure.net/secrets/empty/1"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":"SecretNotFound","message":"missing"}}`)
		}
	}))
	defer srv.Close()

	cred := &staticCredential{}
	c, err := NewClient(srv.URL, cred, &azsecrets.ClientOptions{
		ClientOptions:                        azcore.ClientOptions{Transport: srv.Client()},
		DisableChallengeResourceVerification: true,
	})
	require.NoError(t, err)
	ctx := context.Background()

	v, err := c.GetSecret(ctx, SecretGitToken)
	require.NoError(t, err)
	assert.Equal(t, "ghp_x", v)
	assert.Contains(t, cred.scopes, "https://vault.azure.net/.default")

	_, err = c.GetSecret(ctx, "missing")
	assert.True(t, errors.Is(err, ErrSecretNotFound))

	_, err = c.GetSecret(ctx, "empty")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSecretNotFound))
}

func TestEnvOverlay(t *testing.T) {
	env := map[string]string{"APPSVCBUILD_GIT_TOKEN": "from-env"}
	o := NewEnvOverlay(Static{SecretGitToken: "from-vault", SecretSendGridKey: "sg"})
	o.Lookup = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	ctx := context.Background()

	v, err := o.GetSecret(ctx, SecretGitToken)
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	v, err = o.GetSecret(ctx, SecretSendGridKey)
	require.NoError(t, err)
	assert.Equal(t, "sg", v)

	_, err = o.GetSecret(ctx, SecretFunctionKey)
	assert.True(t, errors.Is(err, ErrSecretNotFound))

	o.Store = nil
	_, err = o.GetSecret(ctx, SecretSendGridKey)
	assert.True(t, errors.Is(err, ErrSecretNotFound))
}
