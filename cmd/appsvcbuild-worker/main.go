package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyvo/appsvcbuild/pkg/app"
	"github.com/vyvo/appsvcbuild/pkg/config"
	"github.com/vyvo/appsvcbuild/pkg/logging"
	"github.com/vyvo/appsvcbuild/pkg/pipeline"
	"github.com/vyvo/appsvcbuild/pkg/queue"
	"github.com/vyvo/appsvcbuild/pkg/telemetry"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		fatal(log.NewLogfmtLogger(os.Stderr), "failed to load config", err)
	}
	logger, err := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fatal(log.NewLogfmtLogger(os.Stderr), "failed to create logger", err)
	}
	if cfg.RedisURL == "" {
		fatal(logger, "worker needs a queue", errors.New("APPSVCBUILD_REDIS_URL is not set"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := telemetry.InitTracer(ctx, "appsvcbuild-worker", cfg.Tracing, nil, logger)
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	env, err := app.NewEnv(cfg.PipelineConfig, logger)
	if err != nil {
		fatal(logger, "failed to prepare pipeline", err)
	}
	defer env.Close()

	q, err := queue.NewQueue(cfg.RedisURL)
	if err != nil {
		fatal(logger, "failed to connect queue", err)
	}
	defer q.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"status\":\"ok\"}"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(logger).Log("msg", "health listener failed", "err", err)
		}
	}()

	w := &worker{
		id:      workerID(),
		queue:   q,
		service: env.Service(env.Recorder()),
		logger:  log.With(logger, "component", "worker"),
	}
	level.Info(w.logger).Log("msg", "worker started", "worker", w.id, "addr", cfg.ListenAddr)
	w.run(ctx)
	level.Info(w.logger).Log("msg", "worker stopped")
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

func fatal(logger log.Logger, msg string, err error) {
	level.Error(logger).Log("msg", msg, "err", err)
	os.Exit(1)
}

// jobQueue is the part of the redis queue a worker uses.
type jobQueue interface {
	Dequeue(ctx context.Context, workerID string) (*queue.Job, error)
	Complete(ctx context.Context, jobID string, succeeded []string) error
	Fail(ctx context.Context, jobID string, succeeded []string, errorMsg string) error
}

type worker struct {
	id      string
	queue   jobQueue
	service *pipeline.Service
	logger  log.Logger
	// errorBackoff is the pause after a failed dequeue.
	errorBackoff time.Duration
}

// run processes jobs one at a time until ctx is done.
func (w *worker) run(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := w.queue.Dequeue(ctx, w.id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			level.Error(w.logger).Log("msg", "dequeue failed", "err", err)
			w.pause(ctx)
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, job)
	}
}

func (w *worker) process(ctx context.Context, job *queue.Job) {
	logger := log.With(w.logger, "run", job.ID)
	level.Info(logger).Log("msg", "processing batch", "requests", len(job.Batch.BuildRequests))

	summary, err := w.service.Handle(ctx, job.Batch, job.ID)
	done := context.WithoutCancel(ctx)
	if err != nil {
		level.Error(logger).Log("msg", "batch failed", "err", err)
		if ferr := w.queue.Fail(done, job.ID, summary.Succeeded, err.Error()); ferr != nil {
			level.Error(logger).Log("msg", "mark job failed", "err", ferr)
		}
		return
	}
	level.Info(logger).Log("msg", summary.Message())
	if cerr := w.queue.Complete(done, job.ID, summary.Succeeded); cerr != nil {
		level.Error(logger).Log("msg", "mark job completed", "err", cerr)
	}
}

func (w *worker) pause(ctx context.Context) {
	d := w.errorBackoff
	if d <= 0 {
		d = 5 * time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
