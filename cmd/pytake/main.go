// Package main is the pytake service entry point: it wires the NATS-backed
// stores, the flow execution engine, the conversation sweeper, and the HTTP
// gateway, then supervises them until shutdown.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xkayo32/pytake-sub013/config"
	"github.com/xkayo32/pytake-sub013/conversation"
	"github.com/xkayo32/pytake-sub013/engine"
	"github.com/xkayo32/pytake-sub013/errors"
	"github.com/xkayo32/pytake-sub013/extcall"
	"github.com/xkayo32/pytake-sub013/flowstore"
	"github.com/xkayo32/pytake-sub013/gateway"
	"github.com/xkayo32/pytake-sub013/health"
	"github.com/xkayo32/pytake-sub013/metric"
	"github.com/xkayo32/pytake-sub013/natsclient"
	"github.com/xkayo32/pytake-sub013/pkg/retry"
	"github.com/xkayo32/pytake-sub013/sender"
	"github.com/xkayo32/pytake-sub013/sweeper"
)

const (
	appName = "pytake"
	version = "0.1.0"

	shutdownTimeout = 15 * time.Second
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to JSON config file")
	validateOnly := flag.Bool("validate", false, "validate configuration and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *validateOnly {
		fmt.Println("configuration is valid")
		return nil
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting", "config_path", *configPath, "nats_url", cfg.NATS.URL, "http_addr", cfg.HTTP.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := health.NewMonitor()
	registry := metric.NewRegistry()

	natsClient, err := connectNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close()
	monitor.UpdateHealthy("nats", "connected")

	flows, err := flowstore.NewStore(ctx, natsClient)
	if err != nil {
		return err
	}
	defer flows.Close()

	if err := seedFlows(ctx, cfg, flows, logger); err != nil {
		return err
	}

	conversations, err := conversation.NewKVStore(ctx, natsClient)
	if err != nil {
		return err
	}

	outbound := sender.NewNATSSender(natsClient, cfg.Sender.RatePerSecond, cfg.Sender.Burst)
	invoker := extcall.NewHTTPInvoker(nil, logger)

	eng, err := engine.New(engine.Options{
		Flows:          flows,
		Store:          conversations,
		Sender:         outbound,
		Invoker:        invoker,
		Logger:         logger,
		Metrics:        registry,
		WindowDuration: cfg.Engine.WindowDuration.Std(),
		SessionTTL:     cfg.Engine.SessionTTL.Std(),
		IterationCap:   cfg.Engine.IterationCap,
	})
	if err != nil {
		return err
	}
	monitor.UpdateHealthy("engine", "ready")

	sweep, err := sweeper.New(sweeper.Options{
		Store:       conversations,
		Logger:      logger,
		Metrics:     registry,
		Interval:    cfg.Sweeper.Interval.Std(),
		Concurrency: cfg.Sweeper.Concurrency,
		GCGrace:     cfg.Sweeper.GCGrace.Std(),
	})
	if err != nil {
		return err
	}

	httpServer, err := gateway.New(gateway.Options{
		Engine:          eng,
		Flows:           flows,
		Logger:          logger,
		Metrics:         registry,
		Monitor:         monitor,
		Addr:            cfg.HTTP.Addr,
		MaxRequestBytes: cfg.HTTP.MaxRequestBytes,
		RequestTimeout:  cfg.HTTP.RequestTimeout.Std(),
		ConflictRetries: cfg.HTTP.ConflictRetries,
	})
	if err != nil {
		return err
	}

	return supervise(ctx, logger, monitor, sweep, httpServer)
}

// supervise runs the long-lived parts and shuts everything down once the
// first of them stops or a signal arrives.
func supervise(ctx context.Context, logger *slog.Logger, monitor *health.Monitor,
	sweep *sweeper.Sweeper, httpServer *gateway.Server) error {

	group, ctx := errgroup.WithContext(ctx)

	if err := sweep.Start(ctx); err != nil {
		return err
	}
	monitor.UpdateHealthy("sweeper", "running")

	group.Go(httpServer.Start)

	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := sweep.Stop(shutdownTimeout); err != nil {
			errs = append(errs, err)
		}
		return stderrors.Join(errs...)
	})

	if err := group.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}

// connectNATS dials the broker, retrying briefly so the service survives a
// broker that is still coming up.
func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	client := natsclient.New(natsclient.Options{
		URL:           cfg.NATS.URL,
		Name:          cfg.NATS.Name,
		Username:      cfg.NATS.Username,
		Password:      cfg.NATS.Password,
		Token:         cfg.NATS.Token,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait.Std(),
	}, logger)

	if err := retry.Do(ctx, retry.Quick(), client.Connect); err != nil {
		return nil, errors.WrapFatal(err, "main", "connectNATS", "connect to broker")
	}
	return client, nil
}

// seedFlows publishes YAML flow definitions from the configured directory.
// Already-published flows are left untouched so operator edits survive
// restarts.
func seedFlows(ctx context.Context, cfg *config.Config, flows *flowstore.Store, logger *slog.Logger) error {
	if cfg.Flows.SeedDir == "" {
		return nil
	}

	seeds, err := flowstore.LoadDir(cfg.Flows.SeedDir)
	if err != nil {
		return err
	}
	for _, flow := range seeds {
		if err := flows.Create(ctx, flow); err != nil {
			if stderrors.Is(err, errors.ErrAlreadyExists) {
				logger.Debug("flow already published", "flow", flow.ID)
				continue
			}
			return err
		}
		logger.Info("flow seeded", "flow", flow.ID, "name", flow.Name)
	}
	return nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.SlogLevel(),
		AddSource: cfg.Logging.Level == "debug",
	}

	var handler slog.Handler
	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", version,
		"pid", os.Getpid(),
	)
}
