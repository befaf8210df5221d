// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/arena/internal/auth"
	"github.com/jason-s-yu/arena/internal/cache"
	"github.com/jason-s-yu/arena/internal/config"
	"github.com/jason-s-yu/arena/internal/database"
	"github.com/jason-s-yu/arena/internal/game"
	"github.com/jason-s-yu/arena/internal/handlers"
	"github.com/jason-s-yu/arena/internal/hub"
	"github.com/jason-s-yu/arena/internal/lobby"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func run(logger *logrus.Logger) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	ttl, err := auth.ParseTokenTTL(cfg.TokenExpireTime)
	if err != nil {
		return err
	}
	if cfg.JWTPrivateKeyPath != "" {
		err = auth.InitFromPath(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, ttl)
	} else {
		logger.Warn("no JWT key paths configured, using keys generated for this process")
		err = auth.Init(ttl)
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.ConnectDB(ctx, cfg.DatabaseConnString())
	if err != nil {
		return err
	}
	defer pool.Close()
	store := database.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	h := hub.New(logger)
	var pub hub.Publisher = h
	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		bridge := cache.NewBridge(rdb, cfg.HubChannelPrefix, h, logger)
		pub = bridge
		g.Go(func() error { return bridge.Run(ctx) })
	}

	registry := lobby.NewRegistry(store, store, pub, logger, cfg.LockWait)
	if err := registry.Restore(ctx); err != nil {
		return err
	}
	coord := game.NewCoordinator(pub, logger, cfg.LockWait, game.WithMembership(registry))
	registry.OnClose = coord.Discard
	registry.OnSeatsChanged = coord.Discard

	presence := lobby.NewPresence(registry, cfg.DisconnectGrace, logger)
	defer presence.Close()

	s := handlers.NewLobbyServer(registry, coord, game.NewRelay(pub, logger), h, logger)
	s.Origins = cfg.Origins()
	s.ClientBuffer = cfg.ClientBuffer
	s.Presence = presence

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.Routes(s, logger),
		ReadHeaderTimeout: 10 * time.Second,

		// websocket handlers outlive Shutdown unless their request context ends with ours
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
