package azure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCredential struct{ scopes []string }

func (s *staticCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	s.scopes = append(s.scopes, opts.Scopes...)
	return azcore.AccessToken{Token: "tok", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func newTestClient(t *testing.T, cred azcore.TokenCredential, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(cred, "sub", "rg", WithEndpoint(srv.URL), WithTransport(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestDo(t *testing.T) {
	cred := &staticCredential{}
	c := newTestClient(t, cred, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "2019-04-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.Web/sites/a%20b", r.URL.EscapedPath())
		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "westus2", in["location"])
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x"}`))
	})

	var out struct{ ID string }
	err := c.Do(context.Background(), http.MethodPut, c.ProviderPath("Microsoft.Web", "sites", "a b"), "2019-04-01",
		map[string]string{"location": "westus2"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "x", out.ID)
	assert.Equal(t, []string{"https://management.core.windows.net//.default"}, cred.scopes)
}

func TestDoErrors(t *testing.T) {
	c := newTestClient(t, &staticCredential{}, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":"ResourceNotFound","message":"nope"}}`))
			return
		}
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"Conflict","message":"busy"}}`))
	})

	err := c.Do(context.Background(), http.MethodGet, "/missing", "1", nil, nil)
	assert.True(t, IsNotFound(err))

	err = c.Do(context.Background(), http.MethodGet, "/other", "1", nil, nil)
	var respErr *azcore.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusConflict, respErr.StatusCode)
	assert.Equal(t, "Conflict", respErr.ErrorCode)
	assert.False(t, IsNotFound(err))
}

func TestClientOptionsAreCopied(t *testing.T) {
	c := newTestClient(t, &staticCredential{}, func(w http.ResponseWriter, r *http.Request) {})
	opts := c.ClientOptions()
	opts.DisableRPRegistration = false
	assert.True(t, c.ClientOptions().DisableRPRegistration)
	assert.Equal(t, "sub", c.SubscriptionID())
	assert.Equal(t, "rg", c.ResourceGroup())
}
