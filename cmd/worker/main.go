package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/carelink-support/internal/chat"
	"github.com/suPer8Hu/carelink-support/internal/config"
	"github.com/suPer8Hu/carelink-support/internal/db"
	"github.com/suPer8Hu/carelink-support/internal/identity"
	"github.com/suPer8Hu/carelink-support/internal/logger"
	"github.com/suPer8Hu/carelink-support/internal/store/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.RabbitURL == "" {
		return errors.New("RABBIT_URL is required for the worker")
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	gdb, err := db.Open(cfg.DBDSN)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb, append(chat.Models(), &identity.Admin{}, &identity.Visitor{})...); err != nil {
		return err
	}

	ids := identity.NewService(gdb, identity.Options{JWTSecret: cfg.JWTSecret, Timeout: cfg.StoreTimeout})
	repo := chat.NewRepo(gdb, cfg.StoreTimeout)
	relay := chat.NewRelay(repo, ids, log.With().Str("component", "outbox").Logger())

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, rabbitmq.ConsumerOptions{
		Concurrency: cfg.WorkerConcurrency,
		MaxAttempts: cfg.OutboxMaxAttempts,
	}, log)
	if err != nil {
		return fmt.Errorf("rabbit: %w", err)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// intents whose publish failed, or that exhausted broker retries, are re-queued from the table
	go relay.RunSweeper(ctx, consumer.Publisher(), cfg.OutboxSweepInterval, cfg.OutboxMaxAttempts)

	return consumer.Run(ctx, func(ctx context.Context, m rabbitmq.IntentMessage) error {
		start := time.Now()
		err := relay.Apply(ctx, m.IntentID)
		if errors.Is(err, chat.ErrNotFound) {
			// nothing to apply
			log.Warn().Str("intent_id", m.IntentID).Msg("intent not found, dropping")
			return nil
		}
		if err == nil && time.Since(start) > 2*time.Second {
			log.Info().Str("intent_id", m.IntentID).Dur("cost", time.Since(start)).Msg("slow intent")
		}
		return err
	})
}
