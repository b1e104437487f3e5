package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/carelink-support/internal/ai"
	"github.com/suPer8Hu/carelink-support/internal/chat"
	"github.com/suPer8Hu/carelink-support/internal/config"
	"github.com/suPer8Hu/carelink-support/internal/db"
	"github.com/suPer8Hu/carelink-support/internal/httpapi"
	"github.com/suPer8Hu/carelink-support/internal/identity"
	"github.com/suPer8Hu/carelink-support/internal/logger"
	"github.com/suPer8Hu/carelink-support/internal/store/rabbitmq"
	"github.com/suPer8Hu/carelink-support/internal/store/redisstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Open(cfg.DBDSN)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb, append(chat.Models(), &identity.Admin{}, &identity.Visitor{})...); err != nil {
		return err
	}

	ids := identity.NewService(gdb, identity.Options{
		JWTSecret:      cfg.JWTSecret,
		TokenTTL:       cfg.TokenTTL,
		AdminSignupKey: cfg.AdminSignupKey,
		Timeout:        cfg.StoreTimeout,
	})
	repo := chat.NewRepo(gdb, cfg.StoreTimeout)
	relay := chat.NewRelay(repo, ids, log.With().Str("component", "outbox").Logger())

	opts := chat.Options{
		Locker:           chat.NewLocalLocker(),
		Dispatcher:       chat.NewInlineDispatcher(relay, cfg.StoreTimeout),
		Visitors:         ids,
		StatsTTL:         cfg.StatsCacheTTL,
		MessageViewLimit: cfg.MessageViewLimit,
		Log:              log.With().Str("component", "chat").Logger(),
	}

	deps := httpapi.Deps{Cfg: cfg, Identity: ids, Log: log}

	if cfg.RedisAddr != "" {
		rds, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rds.Close()
		opts.Locker = redisstore.NewLocker(rds, cfg.AITimeout+cfg.StoreTimeout*3)
		deps.Limiter = redisstore.NewLimiter(rds, "carelink:rl:")
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis enabled: distributed session lock and rate limit")
	}

	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return err
		}
		defer pub.Close()
		opts.Dispatcher = pub
		log.Info().Str("queue", cfg.RabbitQueue).Msg("outbox intents go to rabbitmq")
	} else {
		// no worker in this mode; retry failed intents here
		go relay.RunSweeper(ctx, opts.Dispatcher, cfg.OutboxSweepInterval, cfg.OutboxMaxAttempts)
	}

	responder, err := newResponder(ctx, cfg, log)
	if err != nil {
		return err
	}
	opts.Responder = responder

	deps.Chat = chat.NewService(repo, opts)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func newResponder(ctx context.Context, cfg *config.Config, log zerolog.Logger) (chat.Responder, error) {
	base := chat.NewKeywordResponder(chat.DefaultRules, chat.DefaultReply)
	name := strings.TrimSpace(cfg.AIProvider)
	if name == "" {
		return base, nil
	}
	provider, err := ai.DefaultRegistry(cfg.OllamaBaseURL).Get(ctx, name, cfg.OllamaModel)
	if err != nil {
		return nil, err
	}
	log.Info().Str("provider", name).Str("model", cfg.OllamaModel).Msg("assisted replies enabled")
	return chat.NewAssistedResponder(base, provider, cfg.AITimeout, log.With().Str("component", "responder").Logger()), nil
}
