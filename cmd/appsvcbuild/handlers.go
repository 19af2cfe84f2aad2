package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
	"github.com/vyvo/appsvcbuild/pkg/client"
	"github.com/vyvo/appsvcbuild/pkg/pipeline"
	"github.com/vyvo/appsvcbuild/pkg/queue"
	"github.com/vyvo/appsvcbuild/pkg/runs"
)

const (
	maxBatchBytes  = 1 << 20
	defaultJobPoll = 2 * time.Second
)

// jobQueue is the part of the redis queue the service uses.
type jobQueue interface {
	Enqueue(ctx context.Context, job *queue.Job) error
	Get(ctx context.Context, jobID string) (*queue.Job, error)
}

type server struct {
	service  *pipeline.Service
	recorder *runs.Recorder
	queue    jobQueue
	logger   log.Logger
	// jobPoll is how often a log stream checks the queue job of its run.
	jobPoll time.Duration
}

func readBatch(r *http.Request) (buildrequest.Batch, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBatchBytes))
	if err != nil {
		return buildrequest.Batch{}, fmt.Errorf("read body: %w", err)
	}
	return buildrequest.ParseBatch(body)
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	batch, err := readBatch(r)
	if err != nil {
		respondText(w, http.StatusBadRequest, err.Error())
		return
	}

	runID := uuid.NewString()
	w.Header().Set(client.RunIDHeader, runID)
	summary, err := s.service.Handle(r.Context(), batch, runID)
	if err != nil {
		if errors.Is(err, buildrequest.ErrInvalidRequest) {
			respondText(w, http.StatusBadRequest, err.Error())
			return
		}
		respondText(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondText(w, http.StatusOK, summary.Message())
}

func (s *server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "queue not configured")
		return
	}
	batch, err := readBatch(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	runID := uuid.NewString()
	if _, err := s.service.Queue(batch, runID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.queue.Enqueue(r.Context(), &queue.Job{ID: runID, Batch: batch}); err != nil {
		level.Error(s.logger).Log("msg", "enqueue failed", "run", runID, "err", err)
		s.recorder.Finish(runID, nil, fmt.Errorf("enqueue: %w", err))
		respondError(w, http.StatusInternalServerError, "failed to enqueue batch")
		return
	}
	respondJSON(w, client.EnqueueResponse{RunID: runID}, http.StatusAccepted)
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	list, err := s.recorder.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, map[string]any{"runs": list}, http.StatusOK)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	run, err := s.recorder.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if !run.Status.Finished() && s.queue != nil {
		run = s.withJobState(r.Context(), run)
	}
	respondJSON(w, map[string]any{"run": run}, http.StatusOK)
}

// withJobState overlays the state a worker recorded on the queue job of run.
func (s *server) withJobState(ctx context.Context, run runs.Run) runs.Run {
	job, err := s.queue.Get(ctx, run.ID)
	if err != nil {
		if !errors.Is(err, queue.ErrJobNotFound) {
			level.Warn(s.logger).Log("msg", "job lookup failed", "run", run.ID, "err", err)
		}
		return run
	}
	switch job.Status {
	case queue.StatusProcessing:
		run.Status = runs.StatusRunning
	case queue.StatusCompleted:
		run.Status = runs.StatusSucceeded
	case queue.StatusFailed:
		run.Status = runs.StatusFailed
		run.Error = job.Error
	}
	if len(job.Succeeded) > 0 {
		run.Succeeded = job.Succeeded
	}
	return run
}

func (s *server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	ch, err := s.recorder.Subscribe(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	// Queued runs are executed and logged by a worker, so the local channel
	// may never close. The job state on the queue ends the stream instead.
	var poll <-chan time.Time
	if s.queue != nil {
		interval := s.jobPoll
		if interval <= 0 {
			interval = defaultJobPoll
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		poll = ticker.C
	}

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-poll:
			run := s.withJobState(r.Context(), runs.Run{ID: id})
			if !run.Status.Finished() {
				continue
			}
			line := fmt.Sprintf("run %s", run.Status)
			if run.Error != "" {
				line += ": " + run.Error
			}
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
			return
		}
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func respondText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)
}

func respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, map[string]string{"error": message}, status)
}
