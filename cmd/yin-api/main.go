package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"yintrade/internal/api"
	"yintrade/internal/auth"
	"yintrade/internal/broadcast"
	"yintrade/internal/config"
	"yintrade/internal/db"
	"yintrade/internal/game"
	"yintrade/internal/market"
	"yintrade/internal/orders"
	"yintrade/internal/profile"
	"yintrade/internal/team"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	store, closeStore, err := db.OpenStore(ctx, cfg.Store, 10, logger)
	if err != nil {
		logger.Error("store open failed", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	hasher, err := profile.NewHasher(cfg.Game.PasswordScheme)
	if err != nil {
		logger.Error("password scheme", "err", err)
		os.Exit(1)
	}
	profiles := profile.NewStore(store, profile.Config{
		Hasher:             hasher,
		StartingCashMicros: game.DollarsToMicros(cfg.Game.StartingCash),
	}, logger)

	mkt := market.New(market.Config{Volatility: cfg.Market.Volatility}, logger)
	found, err := mkt.Load(ctx, store)
	if err != nil {
		logger.Error("market load failed", "err", err)
		os.Exit(1)
	}
	if !found {
		if err := mkt.Save(ctx, store); err != nil {
			logger.Error("market seed failed", "err", err)
			os.Exit(1)
		}
	}
	go func() {
		if err := mkt.Follow(ctx, store); err != nil {
			logger.Error("market follow stopped", "err", err)
		}
	}()

	channel := broadcast.NewChannel(store, logger)
	if err := channel.Start(ctx); err != nil {
		logger.Error("broadcast watch failed", "err", err)
		os.Exit(1)
	}

	server := api.New(api.Deps{
		Profiles:  profiles,
		Market:    mkt,
		Orders:    orders.NewEngine(profiles, mkt, logger),
		Teams:     team.NewRegistry(store, profiles, logger),
		Broadcast: channel,
		Tokens:    auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL, cfg.AdminPassword),
	}, cfg.AllowedOrigin, logger)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("yin api listening", "addr", cfg.Addr, "store", cfg.Store.Backend)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
