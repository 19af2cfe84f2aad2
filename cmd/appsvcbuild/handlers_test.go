package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyvo/appsvcbuild/pkg/auth"
	"github.com/vyvo/appsvcbuild/pkg/build"
	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
	"github.com/vyvo/appsvcbuild/pkg/client"
	"github.com/vyvo/appsvcbuild/pkg/deploy"
	"github.com/vyvo/appsvcbuild/pkg/notify"
	"github.com/vyvo/appsvcbuild/pkg/pipeline"
	"github.com/vyvo/appsvcbuild/pkg/publisher"
	"github.com/vyvo/appsvcbuild/pkg/queue"
	"github.com/vyvo/appsvcbuild/pkg/runs"
	"github.com/vyvo/appsvcbuild/pkg/template"
)

// okCollaborators succeeds at every pipeline step.
type okCollaborators struct{}

func (okCollaborators) Materialize(context.Context, template.Request) error { return nil }
func (okCollaborators) Prepare(context.Context, buildrequest.RepoRef, string) error {
	return nil
}
func (okCollaborators) Publish(context.Context, buildrequest.RepoRef, string, string) (publisher.Outcome, error) {
	return publisher.OutcomePushed, nil
}
func (okCollaborators) Delete(context.Context, buildrequest.RepoRef) error { return nil }
func (okCollaborators) Build(context.Context, build.Spec) (build.Result, error) {
	return build.Result{RunID: "cb1", Polls: 3}, nil
}
func (okCollaborators) Deploy(_ context.Context, t deploy.Target) (string, error) {
	return "https://$" + t.Site + ":secret@" + t.Site + ".scm.azurewebsites.net/docker/hook", nil
}
func (okCollaborators) Teardown(context.Context, string) error { return nil }

type fakeQueue struct {
	mu   sync.Mutex
	jobs map[string]*queue.Job
}

func (q *fakeQueue) Enqueue(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs == nil {
		q.jobs = map[string]*queue.Job{}
	}
	job.Status = queue.StatusPending
	q.jobs[job.ID] = job
	return nil
}

func (q *fakeQueue) Get(_ context.Context, id string) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (q *fakeQueue) setStatus(id string, status queue.JobStatus, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[id].Status = status
	q.jobs[id].Error = errMsg
}

func newTestServer(factoryErr error, key string) (*server, http.Handler) {
	factory := func(ctx context.Context, logger log.Logger) (*pipeline.Context, error) {
		if factoryErr != nil {
			return nil, factoryErr
		}
		c := okCollaborators{}
		return &pipeline.Context{
			Logger:       logger,
			Materializer: c,
			Publisher:    c,
			Builder:      c,
			Deployer:     c,
			RetrySleep:   time.Millisecond,
		}, nil
	}
	recorder := runs.NewRecorder(nil, nil, nil)
	srv := &server{
		service:  pipeline.NewService(nil, factory, notify.Discard{}, recorder, nil),
		recorder: recorder,
		logger:   log.NewNopLogger(),
	}
	return srv, srv.routes(auth.StaticKey(key), time.Minute)
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRunPipeline(t *testing.T) {
	_, h := newTestServer(nil, "")

	rec := do(h, http.MethodPost, "/api/pipeline", `{"buildRequests":[{"stack":"python","version":"3.7"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "built new Python images: 3.7", rec.Body.String())
	runID := rec.Header().Get(client.RunIDHeader)
	require.NotEmpty(t, runID)

	rec = do(h, http.MethodGet, "/api/runs/"+runID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Run runs.Run `json:"run"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, runs.StatusSucceeded, out.Run.Status)
	assert.Equal(t, []string{"3.7"}, out.Run.Succeeded)

	rec = do(h, http.MethodGet, "/api/runs/"+runID+"/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "data: ")
	assert.Contains(t, rec.Body.String(), "built new Python images: 3.7")
	assert.NotContains(t, rec.Body.String(), ":secret@")

	rec = do(h, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), runID)
}

func TestRunPipelineRejectsBadPayloads(t *testing.T) {
	_, h := newTestServer(nil, "")

	for _, body := range []string{
		"",
		`{}`,
		`{"buildRequests":[]}`,
		`{"buildRequests":[{"version":"7.3"}]}`,
		`{"buildRequests":[{"stack":"php","version":"9.9"}]}`,
		`{"buildRequests":[{"stack":"cobol","version":"1"}]}`,
	} {
		rec := do(h, http.MethodPost, "/api/pipeline", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := do(h, http.MethodPost, "/api/pipeline", `{"buildRequests":[{"version":"7.3"}]}`)
	assert.Contains(t, rec.Body.String(), "missing stack")
}

func TestRunPipelineFailure(t *testing.T) {
	_, h := newTestServer(errors.New("vault unreachable"), "")

	rec := do(h, http.MethodPost, "/api/pipeline", `{"buildRequests":[{"stack":"node","version":"10.14"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "vault unreachable")
}

func TestFunctionKeyRequired(t *testing.T) {
	_, h := newTestServer(nil, "k")

	rec := do(h, http.MethodPost, "/api/pipeline", `{"buildRequests":[{"stack":"python","version":"3.7"}]}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodPost, "/api/pipeline?code=k", `{"buildRequests":[{"stack":"python","version":"3.7"}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueue(t *testing.T) {
	srv, h := newTestServer(nil, "")

	rec := do(h, http.MethodPost, "/api/pipeline/queue", `{"buildRequests":[{"stack":"python","version":"3.7"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	q := &fakeQueue{}
	srv.queue = q
	rec = do(h, http.MethodPost, "/api/pipeline/queue", `{"buildRequests":[{"stack":"ruby","version":"2.6"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var out client.EnqueueResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Contains(t, q.jobs, out.RunID)
	assert.Equal(t, "2.6", q.jobs[out.RunID].Batch.BuildRequests[0].Version)

	rec = do(h, http.MethodGet, "/api/runs/"+out.RunID, "")
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `"status":"queued"`)

	q.jobs[out.RunID].Status = queue.StatusFailed
	q.jobs[out.RunID].Error = "build failed"
	rec = do(h, http.MethodGet, "/api/runs/"+out.RunID, "")
	body, _ = io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `"status":"failed"`)
	assert.Contains(t, string(body), "build failed")

	rec = do(h, http.MethodPost, "/api/pipeline/queue", `{"buildRequests":[{"stack":"php","version":"9.9"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamLogsEndsWhenQueuedJobFinishes(t *testing.T) {
	srv, h := newTestServer(nil, "")
	q := &fakeQueue{}
	srv.queue = q
	srv.jobPoll = 10 * time.Millisecond

	rec := do(h, http.MethodPost, "/api/pipeline/queue", `{"buildRequests":[{"stack":"python","version":"3.7"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var out client.EnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	go func() {
		time.Sleep(50 * time.Millisecond)
		q.setStatus(out.RunID, queue.StatusFailed, "build of 3.7 failed")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+out.RunID+"/logs", nil).WithContext(ctx)
	stream := httptest.NewRecorder()
	h.ServeHTTP(stream, req)

	require.NoError(t, ctx.Err(), "stream should end before the deadline")
	assert.Contains(t, stream.Body.String(), "data: run failed: build of 3.7 failed")
}

func TestStreamLogsOfCompletedQueuedJob(t *testing.T) {
	srv, h := newTestServer(nil, "")
	q := &fakeQueue{}
	srv.queue = q
	srv.jobPoll = 10 * time.Millisecond

	rec := do(h, http.MethodPost, "/api/pipeline/queue", `{"buildRequests":[{"stack":"ruby","version":"2.6"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var out client.EnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	q.setStatus(out.RunID, queue.StatusCompleted, "")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+out.RunID+"/logs", nil).WithContext(ctx)
	stream := httptest.NewRecorder()
	h.ServeHTTP(stream, req)

	require.NoError(t, ctx.Err())
	assert.Contains(t, stream.Body.String(), "data: run succeeded")
}
