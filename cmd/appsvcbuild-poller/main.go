package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/vyvo/appsvcbuild/pkg/build"
	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
	"github.com/vyvo/appsvcbuild/pkg/client"
	"github.com/vyvo/appsvcbuild/pkg/config"
	"github.com/vyvo/appsvcbuild/pkg/logging"
	"github.com/vyvo/appsvcbuild/pkg/poller"
	"github.com/vyvo/appsvcbuild/pkg/queue"
)

func main() {
	cfg, err := config.LoadPoller()
	if err != nil {
		fatal(log.NewLogfmtLogger(os.Stderr), "failed to load config", err)
	}
	logger, err := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fatal(log.NewLogfmtLogger(os.Stderr), "failed to create logger", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := &poller.Poller{
		Hub:      poller.NewHubClient(poller.RateLimiterConfig{RPS: cfg.HubRPS}, log.With(logger, "component", "hub")),
		Lookback: cfg.Lookback,
		Logger:   log.With(logger, "component", "poller"),
	}
	if cfg.RedisURL != "" {
		q, err := queue.NewQueue(cfg.RedisURL)
		if err != nil {
			fatal(logger, "failed to connect checkpoint store", err)
		}
		defer q.Close()
		p.Checkpoints = q
	}

	d := &daemon{
		poller:    p,
		client:    client.NewClient(cfg.ServerURL, cfg.FunctionKey),
		targets:   cfg.Targets,
		queue:     cfg.Queue,
		postDelay: cfg.PostDelay,
		sleep:     build.Sleep,
		logger:    log.With(logger, "component", "daemon"),
	}
	level.Info(logger).Log("msg", "poller started", "targets", len(cfg.Targets), "interval", cfg.Interval, "server", cfg.ServerURL)
	d.loop(ctx, cfg.Interval)
	level.Info(logger).Log("msg", "poller stopped")
}

func fatal(logger log.Logger, msg string, err error) {
	level.Error(logger).Log("msg", msg, "err", err)
	os.Exit(1)
}

// submitter hands batches to the pipeline service.
type submitter interface {
	RunBatch(ctx context.Context, batch buildrequest.Batch) (client.RunResult, error)
	EnqueueBatch(ctx context.Context, batch buildrequest.Batch) (client.EnqueueResponse, error)
}

type daemon struct {
	poller    *poller.Poller
	client    submitter
	targets   []poller.Target
	queue     bool
	postDelay time.Duration
	sleep     build.Sleeper
	logger    log.Logger
}

// loop polls immediately and then every interval until ctx is done.
func (d *daemon) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick polls every target once. A target's checkpoint only advances when all
// of its requests were submitted.
func (d *daemon) tick(ctx context.Context) {
	for _, t := range d.targets {
		if ctx.Err() != nil {
			return
		}
		logger := log.With(d.logger, "stack", t.Stack)
		disc, err := d.poller.Discover(ctx, t)
		if err != nil {
			level.Error(logger).Log("msg", "poll failed", "err", err)
			continue
		}
		level.Info(logger).Log("msg", "tags found", "count", len(disc.Tags), "tags", strings.Join(disc.Tags, ", "))

		submitted := true
		for i, req := range disc.Requests {
			if i > 0 && d.postDelay > 0 {
				if err := d.sleep(ctx, d.postDelay); err != nil {
					return
				}
			}
			if err := d.submit(ctx, req, logger); err != nil {
				level.Error(logger).Log("msg", "submit failed", "version", req.Version, "err", err)
				submitted = false
			}
		}
		if !submitted {
			continue
		}
		if err := d.poller.Commit(ctx, disc); err != nil {
			level.Error(logger).Log("msg", "checkpoint failed", "err", err)
		}
	}
}

func (d *daemon) submit(ctx context.Context, req buildrequest.BuildRequest, logger log.Logger) error {
	batch := buildrequest.Batch{BuildRequests: []buildrequest.BuildRequest{req}}
	if d.queue {
		out, err := d.client.EnqueueBatch(ctx, batch)
		if err != nil {
			return err
		}
		level.Info(logger).Log("msg", "batch queued", "version", req.Version, "run", out.RunID)
		return nil
	}
	res, err := d.client.RunBatch(ctx, batch)
	if err != nil {
		return err
	}
	level.Info(logger).Log("msg", res.Message, "version", req.Version, "run", res.RunID)
	return nil
}

