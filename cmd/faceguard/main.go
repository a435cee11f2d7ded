// Command faceguard runs the liveness and deepfake scoring service: the
// frame pipeline, the optional Kafka ingest, and the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"faceguard/internal/alerts"
	"faceguard/internal/api"
	"faceguard/internal/config"
	"faceguard/internal/engine"
	"faceguard/internal/ingest"
	"faceguard/internal/logging"
	"faceguard/internal/notify"
	"faceguard/internal/session"
	"faceguard/internal/storage"
	"faceguard/internal/supervisor"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "faceguard.yaml", "path to the YAML or JSON config file")
	writeDefaults := flag.Bool("init", false, "write the default config to -config and exit")
	flag.Parse()

	if *writeDefaults {
		if err := config.Save(config.ResolvePath(*configPath), config.DefaultConfig()); err != nil {
			fmt.Fprintf(os.Stderr, "init: %v\n", err)
			os.Exit(1)
		}
		return
	}

	manager, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, manager, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("faceguard stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("faceguard stopped")
}

// loadConfig falls back to defaults when the file does not exist.
func loadConfig(path string) (*config.Manager, error) {
	path = config.ResolvePath(path)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := config.DefaultConfig()
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return config.NewStaticManager(cfg), nil
	}
	return config.NewManager(path)
}

func run(ctx context.Context, manager *config.Manager, logger *slog.Logger) error {
	cfg := manager.Get()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	var sink alerts.Sink
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("storage init: %w", err)
		}
		defer store.Close()
		sink = store
	}

	alertStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	dispatcher := alerts.NewDispatcher(
		cfg.Alerts.DispatchBuffer,
		cfg.Notify.Timeout,
		sink,
		logging.Component(logger, "dispatch"),
		notify.FromConfig(cfg.Notify, logging.Component(logger, "notify"))...,
	)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Warn("notifier close", "error", err)
		}
	}()
	eng := engine.NewEngine(cfg, logging.Component(logger, "engine"), session.NewTable(), alertStore, dispatcher, store)
	pool := engine.NewPool(eng, cfg.Session.Workers, cfg.Session.WorkerBuffer, logging.Component(logger, "pool"))

	tree := supervisor.NewTree(cfg.Supervise, logger)
	tree.AddPipeline(pool)
	tree.AddPipeline(dispatcher)
	tree.AddPipeline(supervisor.Func{Name: "session-sweeper", Run: eng.RunSweeper})
	if manager.Path() != "" {
		tree.AddPipeline(supervisor.Blocking("config-watch", func(stop <-chan struct{}) {
			manager.Watch(cfg.Supervise.ReloadInterval, func(next *config.Config) {
				eng.UpdateConfig(next)
				logger.Info("config reloaded", "path", manager.Path())
			}, func(err error) {
				logger.Warn("config reload rejected", "error", err)
			}, stop)
		}))
	}
	if cfg.Ingest.Kafka.Enabled {
		tree.AddIngest(ingest.NewKafkaSource(cfg.Ingest.Kafka, pool, logging.Component(logger, "ingest")))
	}
	if cfg.API.Enabled {
		tree.AddAPI(api.NewServer(manager, eng, pool, logging.Component(logger, "api"), version))
	}

	logger.Info("faceguard starting", "version", version, "config", manager.Path())
	return tree.Serve(ctx)
}
