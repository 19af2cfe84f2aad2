package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
	"github.com/vyvo/appsvcbuild/pkg/runs"
)

func newServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pipeline", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-functions-key") != "k" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var batch buildrequest.Batch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil || len(batch.BuildRequests) == 0 {
			http.Error(w, "missing buildRequests", http.StatusBadRequest)
			return
		}
		w.Header().Set(RunIDHeader, "run-1")
		fmt.Fprintf(w, "built new Python images: %s", batch.BuildRequests[0].Version)
	})
	mux.HandleFunc("/api/pipeline/queue", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"runId":"run-2"}`)
	})
	mux.HandleFunc("/api/runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"run":{"id":"run-1","status":"succeeded","succeeded":["3.7"]}}`)
	})
	mux.HandleFunc("/api/runs/run-1/logs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: first line\n\ndata: second line\n\n")
	})
	return httptest.NewServer(mux)
}

func TestRunBatch(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()
	c := NewClient(srv.URL+"/", "k")

	res, err := c.RunBatch(context.Background(), buildrequest.Batch{BuildRequests: []buildrequest.BuildRequest{{Stack: "python", Version: "3.7"}}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.RunID != "run-1" || res.Message != "built new Python images: 3.7" {
		t.Fatalf("unexpected result: %+v", res)
	}

	_, err = c.RunBatch(context.Background(), buildrequest.Batch{})
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}

	_, err = NewClient(srv.URL, "wrong").RunBatch(context.Background(), buildrequest.Batch{})
	if err == nil || !strings.Contains(err.Error(), "unauthorized") {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestEnqueueAndGetRun(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	out, err := c.EnqueueBatch(context.Background(), buildrequest.Batch{BuildRequests: []buildrequest.BuildRequest{{Stack: "node", Version: "10.14"}}})
	if err != nil || out.RunID != "run-2" {
		t.Fatalf("unexpected enqueue result: %+v (%v)", out, err)
	}

	run, err := c.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if run.Status != runs.StatusSucceeded || len(run.Succeeded) != 1 {
		t.Fatalf("unexpected run: %+v", run)
	}

	if _, err := c.GetRun(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStreamLogs(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	var lines []string
	err := c.StreamLogs(context.Background(), "run-1", func(line string) error {
		lines = append(lines, line)
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(lines) != 2 || lines[0] != "first line" || lines[1] != "second line" {
		t.Fatalf("unexpected lines: %q", lines)
	}
}

func TestReadEventsTrailingEvent(t *testing.T) {
	var got []string
	err := ReadEvents(strings.NewReader(": comment\n\ndata: a\ndata: b\n\ndata: tail"), func(s string) error {
		got = append(got, s)
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got) != 2 || got[0] != "a\nb" || got[1] != "tail" {
		t.Fatalf("unexpected events: %q", got)
	}
}
