package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nsls2/srx-export/adapter/redis"
	"github.com/nsls2/srx-export/cli/config"
	"github.com/nsls2/srx-export/iox"
	"github.com/nsls2/srx-export/log"
	"github.com/nsls2/srx-export/metrics"
	"github.com/nsls2/srx-export/runtime"
)

// metricsShutdownTimeout bounds the metrics server shutdown.
const metricsShutdownTimeout = 5 * time.Second

// WorkerCommand returns the worker command: a long-running subscriber that
// runs the pipeline for every stop document published on Redis.
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Export runs as their stop documents arrive on Redis",
		Description: "On SIGINT or SIGTERM the worker stops accepting documents and waits\n" +
			"for in-flight runs to finish.",
		Flags: append(pipelineFlags(),
			&cli.StringFlag{Name: "redis-url", Usage: "Redis URL to subscribe on (worker.redis_url)"},
			&cli.StringFlag{Name: "stop-channel", Usage: "Stop document channel (worker.channel)"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus /metrics on this address (metrics.addr)"},
		),
		Action: workerAction,
	}
}

func workerAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	if cfg.Worker.RedisURL == "" {
		return cli.Exit("worker requires --redis-url or worker.redis_url", exitFailure)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runWorker(ctx, cfg, logger.Named("worker"), nil); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	return nil
}

// runWorker serves until ctx is done, then drains in-flight runs. ready,
// when non-nil, is closed once the subscription is live.
func runWorker(ctx context.Context, cfg *config.Config, logger *log.Logger, ready chan<- struct{}) error {
	collector := metrics.NewCollector(nil)
	p, err := buildPipeline(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(p)

	sub, err := redis.NewSubscriber(cfg.Worker.RedisURL, cfg.Worker.Channel)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(sub)
	sub.OnError = func(err error) {
		logger.Warn("stop document rejected", map[string]any{"error": err.Error()})
	}

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		srv = serveMetrics(ln, collector, logger)
	}

	worker := runtime.NewWorker(p.workflow, cfg.Worker.Parallel, false)
	logger.Info("worker started", map[string]any{
		"channel":  sub.Channel(),
		"parallel": cfg.Worker.Parallel,
		"metrics":  cfg.Metrics.Addr,
	})

	runErr := sub.Run(ctx, worker.Handle, ready)

	logger.Info("draining in-flight runs", nil)
	worker.Wait()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", map[string]any{"error": err.Error()})
		}
	}

	snap := collector.Snapshot()
	logger.Info("worker stopped", map[string]any{
		"runs_started":   snap.RunsStarted,
		"runs_succeeded": snap.RunsSucceeded,
		"runs_failed":    snap.RunsFailed,
	})
	return runErr
}

// serveMetrics serves the Prometheus endpoint on ln in the background.
func serveMetrics(ln net.Listener, collector *metrics.Collector, logger *log.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", map[string]any{"error": err.Error()})
		}
	}()
	return srv
}
