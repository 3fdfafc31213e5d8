package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"faceattend/internal/app"
	"faceattend/internal/config"
	"faceattend/internal/logger"
)

// Worker consumes attendance events and sends the notification emails.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := logger.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogFile); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	if cfg.QueueBackend == "memory" {
		log.Fatal("worker needs a shared queue, set QUEUE_BACKEND to redis or kafka")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, log.StandardLogger())
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.Close()

	n := a.Notifier()
	if n == nil {
		log.Warn("EMAIL_ENABLED is false, events will be consumed and dropped")
	}

	messages, err := a.Queue.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.WithField("queue", cfg.QueueBackend).Info("worker started, waiting for messages...")
	for msg := range messages {
		entry := log.WithFields(log.Fields{"type": msg.Type, "key": msg.Key})
		if n == nil {
			entry.Debug("dropping message")
			continue
		}
		if err := n.Handle(ctx, msg); err != nil {
			entry.WithError(err).Error("notification failed")
			continue
		}
		entry.Debug("message processed")
	}
	log.Info("worker stopped")
}
