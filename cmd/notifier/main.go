package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aquawatch-backend/internal/bus"
	"aquawatch-backend/internal/config"
	"aquawatch-backend/internal/notify"
	"aquawatch-backend/internal/storage"
)

// The notifier consumes alert events from NATS and delivers Web Push
// notifications. It runs apart from the ingestion service so that push
// latency or failure can never touch the request path.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.Load()

	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		logger.Error("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY are required")
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to db", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()
	repo := storage.NewRepository(store)

	subscriber, err := bus.NewSubscriber(cfg.NATSURL)
	if err != nil {
		logger.Error("failed to connect to nats", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer subscriber.Close()

	dispatcher := &notify.Dispatcher{
		Store:           repo,
		Logger:          logger,
		Subscriber:      cfg.VAPIDSubscriber,
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		TTL:             cfg.PushTTL,
	}

	_, err = subscriber.Subscribe(bus.SubjectAlertCreated, func(evt bus.AlertEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		results, err := dispatcher.Dispatch(ctx, notify.Notification{
			BroadcastRole: evt.BroadcastRole,
			Title:         evt.Title,
			Body:          evt.Body,
		})
		if err != nil {
			logger.Error("push dispatch failed",
				slog.String("alert_id", evt.AlertID),
				slog.String("error", err.Error()))
			return
		}
		sent := 0
		for _, res := range results {
			if res.Status == "sent" {
				sent++
			}
		}
		logger.Info("push dispatch complete",
			slog.String("alert_id", evt.AlertID),
			slog.Int("subscriptions", len(results)),
			slog.Int("sent", sent))
	})
	if err != nil {
		logger.Error("failed to subscribe", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("notifier listening", slog.String("subject", bus.SubjectAlertCreated))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
}
