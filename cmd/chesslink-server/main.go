package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chesslink/chesslink-server/internal/auth"
	"github.com/chesslink/chesslink-server/internal/config"
	"github.com/chesslink/chesslink-server/internal/engine"
	"github.com/chesslink/chesslink-server/internal/httpapi"
	"github.com/chesslink/chesslink-server/internal/obslog"
	"github.com/chesslink/chesslink-server/internal/session"
	"github.com/chesslink/chesslink-server/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	// game store: Redis when configured, in-memory for development
	var games session.GameStore
	if cfg.RedisURL != "" {
		redisGames, err := store.NewRedisGames(cfg.RedisURL, cfg.GameTTL)
		if err != nil {
			logger.Fatal("redis init failed", zap.Error(err))
		}
		defer redisGames.Close()
		games = redisGames
		logger.Info("game store: redis")
	} else {
		games = store.NewMemoryGames()
		logger.Warn("game store: in-memory, games will not survive restarts")
	}

	// account repository is optional; without it the account routes and
	// post-game bookkeeping are disabled
	var users *store.Postgres
	if cfg.DatabaseURL != "" {
		users, err = store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer users.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := users.EnsureSchema(ctx); err != nil {
			cancel()
			logger.Fatal("schema init failed", zap.Error(err))
		}
		cancel()
		logger.Info("account repository: postgres")
	} else {
		logger.Warn("no DATABASE_URL, player accounts disabled")
	}

	recommender := engine.NewClient(cfg.EngineURL, engine.WithTimeout(cfg.EngineTimeout))

	var results session.ResultStore
	if users != nil {
		results = users
	}
	registry := session.NewRegistry(session.Deps{
		Games:   games,
		Results: results,
		Engine:  recommender,
		Policy:  cfg.ColorPolicy,
		Logger:  logger.Named("session"),
	})

	signer := auth.NewSigner(cfg.AuthSecret, cfg.TokenTTL)
	server := httpapi.NewServer(cfg, registry, users, signer)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
