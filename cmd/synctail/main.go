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

	"github.com/fleetline/realtime/internal/config"
	"github.com/fleetline/realtime/internal/connection"
	"github.com/fleetline/realtime/internal/engine"
	"github.com/fleetline/realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/synctail.local.yaml", "path to config file")
	orders := flag.String("orders", "", "comma-separated order ids to track")
	userID := flag.String("user", "", "user id for the notification feed")
	alerts := flag.Bool("alerts", true, "subscribe to system alerts")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting synctail",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"ws_url", cfg.Backend.WSURL,
	)

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

	eng := engine.New(*cfg, logger)
	defer eng.Close()

	// Register subscriptions up front; they replay on every (re)connect.
	for _, orderID := range splitList(*orders) {
		eng.SubscribeOrderTracking(orderID)
		eng.SubscribeMessaging(orderID, nil)
		logger.Info("tracking order", "order_id", orderID)
	}
	if *userID != "" {
		eng.SubscribeNotificationFeed(*userID, nil)
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

	// Tail notifications until shutdown.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	seen := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down",
				"health", eng.Health().Status,
				"events_applied", eng.Stats().EventsApplied,
			)
			return
		case <-ticker.C:
			notifs := eng.Notifications()
			if len(notifs) <= seen {
				continue
			}
			// List is most-recent-first; print the new ones oldest-first.
			fresh := notifs[:len(notifs)-seen]
			for i := len(fresh) - 1; i >= 0; i-- {
				n := fresh[i]
				logger.Info("notification",
					"id", n.ID,
					"type", n.Type,
					"title", n.Title,
					"message", n.Message,
					"order_id", n.OrderID,
				)
			}
			seen = len(notifs)
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
