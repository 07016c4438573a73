package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fleetline/realtime/internal/archive"
	"github.com/fleetline/realtime/internal/config"
	"github.com/fleetline/realtime/internal/connection"
	"github.com/fleetline/realtime/internal/database"
	"github.com/fleetline/realtime/internal/engine"
	"github.com/fleetline/realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/archiver.local.yaml", "path to config file")
	orders := flag.String("orders", "", "comma-separated order ids to archive")
	alerts := flag.Bool("alerts", true, "archive system alerts")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting archiver",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.Archive.Enabled {
		logger.Error("archive.enabled must be true for this binary")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Archive.Postgres.Host,
		"port", cfg.Archive.Postgres.Port,
		"database", cfg.Archive.Postgres.Name,
	)

	pool, err := database.Connect(ctx, cfg.Archive.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	archiverCfg := archive.Config{
		InstanceID:    cfg.Instance.ID,
		BatchSize:     cfg.Archive.BatchSize,
		FlushInterval: cfg.Archive.FlushInterval,
	}
	archiver := archive.NewArchiver(archiverCfg, pool, logger)
	if err := archiver.Start(ctx); err != nil {
		logger.Error("failed to start archiver", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		archiver.Stop(shutdownCtx)
	}()

	eng := engine.New(*cfg, logger, engine.WithArchiver(archiver))
	defer eng.Close()

	for _, orderID := range splitList(*orders) {
		eng.SubscribeOrderTracking(orderID)
	}
	if *alerts {
		eng.SubscribeSystemAlerts(nil)
	}

	cred := connection.Credential{Token: cfg.Backend.Token}
	if err := eng.Connect(ctx, cred); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	logger.Info("connected", "conn_id", eng.ConnectionState().ConnID)

	// Report progress until shutdown.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stats := archiver.Stats()
			logger.Info("shutting down",
				"inserts", stats.Inserts,
				"flushes", stats.Flushes,
				"errors", stats.Errors,
			)
			return
		case <-ticker.C:
			stats := archiver.Stats()
			logger.Info("archiver stats",
				"inserts", stats.Inserts,
				"flushes", stats.Flushes,
				"errors", stats.Errors,
				"events_applied", eng.Stats().EventsApplied,
				"health", eng.Health().Status,
			)
		}
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
