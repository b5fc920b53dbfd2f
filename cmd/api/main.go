package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notify"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

func main() {
	// best-effort: a missing .env leaves the real environment in charge
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-auth-go")

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	dbCfg, err := database.ConfigFromEnv()
	if err != nil {
		sugar.Fatalf("db config: %v", err)
	}
	sqlDB, err := database.Connect(dbCfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	sqlxDB := sqlx.NewDb(sqlDB, dbCfg.Driver)
	defer sqlxDB.Close()

	identities := repo.NewIdentityRepo(sqlxDB)
	if err := identities.EnsureTable(context.Background()); err != nil {
		sugar.Fatalf("ensure identities table: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	oidcVerifier, err := auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
		Issuer:   cfg.OIDCIssuer,
		ClientID: cfg.OIDCClientID,
		JWKSURL:  cfg.OIDCJWKSURL,
		Timeout:  cfg.OIDCVerifyTimeout,
	})
	if err != nil {
		sugar.Fatalf("oidc verifier: %v", err)
	}
	chatVerifier, err := auth.NewChatVerifier(cfg.ChatBotToken, cfg.ChatAuthMaxAge)
	if err != nil {
		sugar.Fatalf("chat verifier: %v", err)
	}
	bot, err := notify.NewBotClient(cfg.ChatBotAPIURL, cfg.ChatBotToken, nil)
	if err != nil {
		sugar.Fatalf("bot client: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	var sink notify.Sink = bot
	if cfg.NotifyQueue == config.QueueRedis {
		rdb, err := notify.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			sugar.Fatalf("redis connect: %v", err)
		}
		defer rdb.Close()
		queue := notify.NewRedisQueue(rdb, cfg.RedisQueueKey, sugar.Named("notify"))
		sink = queue
		g.Go(func() error { return queue.Consume(gctx, bot) })
	}
	dispatcher := notify.NewDispatcher(sink, notify.DispatcherConfig{
		Workers: cfg.NotifyWorkers,
		Buffer:  cfg.NotifyBuffer,
		Timeout: cfg.NotifyTimeout,
	}, sugar.Named("notify"))

	svc := auth.NewAuthService(identities, oidcVerifier, chatVerifier,
		auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer), dispatcher, sugar.Named("auth"))

	handler := router.RegisterRoutes(sugar, router.Routes{
		Auth:    auth.NewHandler(svc, sugar.Named("http")),
		Webhook: notify.NewWebhookHandler(identities, bot, cfg.ChatWebhookSecret, sugar.Named("webhook")),
		DB:      sqlxDB,
	})
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}

	g.Go(func() error {
		sugar.Infow("http server listening", "addr", cfg.HTTPAddr, "notifyQueue", cfg.NotifyQueue)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sugar.Info("shutting down")

		doneCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(doneCtx); err != nil {
			sugar.Warnf("http server shutdown failed: %v", err)
		}
		// in-flight logins may still enqueue until Shutdown returns
		if err := dispatcher.Close(doneCtx); err != nil {
			sugar.Warnf("notify dispatcher close: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorf("service stopped: %v", err)
	}
	sugar.Info("goodbye")
}
