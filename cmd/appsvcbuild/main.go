package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyvo/appsvcbuild/pkg/app"
	"github.com/vyvo/appsvcbuild/pkg/auth"
	"github.com/vyvo/appsvcbuild/pkg/config"
	"github.com/vyvo/appsvcbuild/pkg/keyvault"
	"github.com/vyvo/appsvcbuild/pkg/logging"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := telemetry.InitTracer(ctx, "appsvcbuild", cfg.Tracing, nil, logger)
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	env, err := app.NewEnv(cfg.PipelineConfig, logger)
	if err != nil {
		fatal(logger, "failed to prepare pipeline", err)
	}
	defer env.Close()

	recorder := env.Recorder()
	srv := &server{
		service:  env.Service(recorder),
		recorder: recorder,
		logger:   log.With(logger, "component", "http"),
	}
	if cfg.RedisURL != "" {
		q, err := queue.NewQueue(cfg.RedisURL)
		if err != nil {
			fatal(logger, "failed to connect queue", err)
		}
		defer q.Close()
		srv.queue = q
	}

	functionKey := auth.StaticKey(cfg.FunctionKey)
	if cfg.FunctionKey == "" && cfg.KeyVaultURL != "" {
		functionKey = func(ctx context.Context) (string, error) {
			return env.Secret(ctx, keyvault.SecretFunctionKey)
		}
	}

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.routes(functionKey, cfg.RequestTimeout),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			level.Error(logger).Log("msg", "shutdown error", "err", err)
		}
	}()

	level.Info(logger).Log("msg", "appsvcbuild listening", "addr", cfg.ListenAddr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fatal(logger, "listen failed", err)
	}
	level.Info(logger).Log("msg", "appsvcbuild stopped")
}

func (s *server) routes(functionKey auth.KeyFunc, timeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthzHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(functionKey))
		r.With(timeoutMiddleware(timeout)).Post("/pipeline", s.handleRun)
		r.Post("/pipeline/queue", s.handleQueue)
		r.Get("/runs", s.handleListRuns)
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/logs", s.handleStreamLogs)
		})
	})
	return r
}

func timeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if timeout <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func fatal(logger log.Logger, msg string, err error) {
	level.Error(logger).Log("msg", msg, "err", err)
	os.Exit(1)
}
