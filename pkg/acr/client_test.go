package acr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyvo/appsvcbuild/pkg/azure"
)

type staticCredential struct{}

func (staticCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "tok", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

const regPath = "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.ContainerRegistry/registries/appsvcbuildacr"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)
	arm, err := azure.NewClient(staticCredential{}, "sub", "rg", azure.WithEndpoint(srv.URL), azure.WithTransport(srv.Client()))
	require.NoError(t, err)
	c, err := NewClient(arm, "appsvcbuildacr", "westus2", WithDataEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestCreateOrUpdateTask(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, regPath+"/tasks/appsvcbuild-python-hostingstart-3-7-task", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
	})

	err := c.CreateOrUpdateTask(context.Background(), TaskSpec{
		Name:       "appsvcbuild-python-hostingstart-3-7-task",
		ContextURL: "https://github.com/blessedimagepipeline/python-3.7.git#master",
		ImageName:  "python:3.7",
		NoCache:    true,
		Timeout:    3 * time.Hour,
		CPU:        2,
	})
	require.NoError(t, err)

	assert.Equal(t, "westus2", body["location"])
	props := body["properties"].(map[string]any)
	assert.Equal(t, float64(10800), props["timeout"])
	step := props["step"].(map[string]any)
	assert.Equal(t, "Dockerfile", step["dockerFilePath"])
	assert.Equal(t, []any{"python:3.7"}, step["imageNames"])
	assert.Equal(t, true, step["noCache"])
}

func TestCreateOrUpdateTaskWithDockerfileName(t *testing.T) {
	var body struct {
		Properties struct {
			Step struct {
				DockerFilePath string `json:"dockerFilePath"`
			} `json:"step"`
		} `json:"properties"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.CreateOrUpdateTask(context.Background(), TaskSpec{Name: "t1", ImageName: "ruby:2.6", Dockerfile: "DockerFile"}))
	assert.Equal(t, "DockerFile", body.Properties.Step.DockerFilePath)
}

func TestScheduleAndGetRun(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case regPath + "/scheduleRun":
			var req map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "TaskRunRequest", req["type"])
			assert.Equal(t, regPath+"/tasks/t1", req["taskId"])
			fmt.Fprint(w, `{"properties":{"runId":"cb1","status":"Queued"}}`)
		case regPath + "/runs/cb1":
			fmt.Fprint(w, `{"properties":{"runId":"cb1","status":"Running"}}`)
		default:
			http.NotFound(w, r)
		}
	})

	id, err := c.ScheduleRun(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "cb1", id)

	run, err := c.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, Run{ID: "cb1", Status: StatusRunning}, run)
}

func TestDataPlaneUsesListedCredentials(t *testing.T) {
	credCalls := 0
	var deleted []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == regPath+"/listCredentials":
			credCalls++
			assert.Equal(t, http.MethodPost, r.Method)
			fmt.Fprint(w, `{"username":"appsvcbuildacr","passwords":[{"name":"password","value":"pw1"},{"name":"password2","value":"pw2"}]}`)
		case strings.HasPrefix(r.URL.Path, "/v2/"), strings.HasPrefix(r.URL.Path, "/acr/"):
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "appsvcbuildacr", user)
			assert.Equal(t, "pw1", pass)
			switch {
			case r.URL.Path == "/v2/python/tags/list":
				fmt.Fprint(w, `{"name":"python","tags":["3.7","3.7_2019abcd"]}`)
			case r.URL.Path == "/acr/v1/_catalog":
				fmt.Fprint(w, `{"repositories":["python","php"]}`)
			case r.Method == http.MethodDelete:
				deleted = append(deleted, r.URL.Path)
				w.WriteHeader(http.StatusAccepted)
			default:
				http.NotFound(w, r)
			}
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	tags, err := c.ListTags(ctx, "python")
	require.NoError(t, err)
	assert.Equal(t, []string{"3.7", "3.7_2019abcd"}, tags)

	tags, err = c.ListTags(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, tags)

	repos, err := c.ListRepositories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "php"}, repos)

	require.NoError(t, c.DeleteImage(ctx, "python:3.7_2019abcd"))
	assert.Equal(t, []string{"/acr/v1/python/_tags/3.7_2019abcd"}, deleted)
	assert.Equal(t, 1, credCalls)
}

func TestWebhooks(t *testing.T) {
	var body map[string]any
	var deleted []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == regPath+"/webhooks/appsvcbuildpython37":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"name":"appsvcbuildpython37","properties":{"provisioningState":"Succeeded"}}`)
		case r.Method == http.MethodDelete && r.URL.Path == regPath+"/webhooks/appsvcbuildpython37":
			deleted = append(deleted, r.URL.Path)
			w.WriteHeader(http.StatusOK)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":"ResourceNotFound","message":"missing"}}`)
		}
	})
	ctx := context.Background()

	err := c.CreateWebhook(ctx, Webhook{
		Name:       "appsvcbuildpython37",
		ServiceURI: "https://$site:pw@site.scm.azurewebsites.net/docker/hook",
		Scope:      "python:3.7_*",
	})
	require.NoError(t, err)
	assert.Equal(t, "westus2", body["location"])
	props := body["properties"].(map[string]any)
	assert.Equal(t, []any{"push"}, props["actions"])
	assert.Equal(t, "enabled", props["status"])
	assert.Equal(t, "python:3.7_*", props["scope"])

	require.NoError(t, c.DeleteWebhook(ctx, "appsvcbuildpython37"))
	require.NoError(t, c.DeleteWebhook(ctx, "gone"))
	assert.Equal(t, []string{regPath + "/webhooks/appsvcbuildpython37"}, deleted)
	require.NoError(t, c.DeleteTask(ctx, "gone-task"))
}

func TestHelpers(t *testing.T) {
	repo, tag := SplitImage("php-xdebug:7.3_abcd")
	assert.Equal(t, "php-xdebug", repo)
	assert.Equal(t, "7.3_abcd", tag)
	repo, tag = SplitImage("localhost:5000/python")
	assert.Equal(t, "localhost:5000/python", repo)
	assert.Equal(t, "latest", tag)

	assert.Equal(t, "appsvcbuildpythonhostingstart37", WebhookName("appsvcbuild-python-hostingstart-3-7"))
	assert.Len(t, WebhookName(strings.Repeat("a-", 40)), 40)
	assert.Len(t, WebhookName(strings.Repeat("ab", 40)), 50)

	assert.True(t, InProgress(StatusQueued))
	assert.True(t, InProgress(StatusStarted))
	assert.True(t, InProgress(StatusRunning))
	assert.False(t, InProgress(StatusSucceeded))
	assert.False(t, InProgress(StatusFailed))
}
