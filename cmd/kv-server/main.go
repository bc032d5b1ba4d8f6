package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/dd0wney/cluso-kv/pkg/config"
	"github.com/dd0wney/cluso-kv/pkg/kv"
	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
	"github.com/dd0wney/cluso-kv/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	dataDir := flag.String("data", "", "Data directory (overrides config)")
	listen := flag.String("listen", "", "Listen address (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logging.NewDefaultLogger().Error("failed to load config", logging.Error(err))
			os.Exit(1)
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.Store.Dir = *dataDir
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.Log.Level))
	registry := metrics.NewRegistry()

	logger.Info("cluso-kv server starting",
		logging.Path(cfg.Store.Dir),
		logging.String("listen", cfg.Server.Listen),
	)

	store, err := kv.Open(cfg.Store.Dir, storeOptions(cfg.Store, logger, registry))
	if err != nil {
		logger.Error("failed to open store", logging.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	srv := server.New(store, server.Options{
		Listen:       cfg.Server.Listen,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
		Logger:       logger,
		Metrics:      registry,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", logging.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", logging.Error(err))
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", logging.Error(err))
	}

	if err := store.Close(); err != nil {
		logger.Error("store close failed", logging.Error(err))
		os.Exit(1)
	}
}

func storeOptions(cfg config.StoreConfig, logger logging.Logger, registry *metrics.Registry) kv.Options {
	opts := kv.DefaultOptions()
	if cfg.SegmentSize > 0 {
		opts.SegmentSize = cfg.SegmentSize
	}
	if cfg.MaxKeySize > 0 {
		opts.MaxKeySize = cfg.MaxKeySize
	}
	if cfg.MaxValueSize > 0 {
		opts.MaxValueSize = cfg.MaxValueSize
	}
	if cfg.CompactionThreshold > 0 {
		opts.CompactionThreshold = cfg.CompactionThreshold
	}
	if cfg.CompactInterval > 0 {
		opts.CompactInterval = cfg.CompactInterval.Std()
	}
	if cfg.CompactBatch > 0 {
		opts.CompactBatch = cfg.CompactBatch
	}
	opts.SyncOnPut = cfg.SyncOnPut
	opts.Compression = cfg.Compression
	opts.AutoCompaction = cfg.AutoCompactionEnabled()
	opts.Logger = logger
	opts.Metrics = registry
	return opts
}
