package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"yintrade/internal/config"
	"yintrade/internal/db"
	"yintrade/internal/game"
	"yintrade/internal/kv"
	"yintrade/internal/market"
	"yintrade/internal/orders"
	"yintrade/internal/profile"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	store, closeStore, err := db.OpenStore(ctx, cfg.Store, 2, logger)
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
	engine := orders.NewEngine(profiles, mkt, logger)

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("YIN_WORKER_RUN_ONCE")), "true")
	if runOnce {
		if err := runTick(ctx, store, mkt, engine, logger); err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.Market.TickEvery)
	defer ticker.Stop()

	logger.Info("worker started", "tick_every", cfg.Market.TickEvery.String(), "volatility", cfg.Market.Volatility)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := runTick(ctx, store, mkt, engine, logger); err != nil {
				logger.Error("market tick failed", "err", err)
			}
		}
	}
}

// runTick reloads the shared snapshot so status changes made elsewhere win,
// moves prices, saves, then settles resting orders.
func runTick(ctx context.Context, store kv.Store, mkt *market.State, engine *orders.Engine, logger *slog.Logger) error {
	if _, err := mkt.Load(ctx, store); err != nil {
		return err
	}
	if !mkt.Tick() {
		logger.Debug("market closed, tick skipped")
		return nil
	}
	if err := mkt.Save(ctx, store); err != nil {
		return err
	}
	closed, err := engine.SweepAll(ctx)
	if err != nil {
		return err
	}
	snap := mkt.Snapshot()
	logger.Info("market tick complete", "regime", snap.Regime, "sentiment", snap.Sentiment.Label, "orders_closed", closed)
	return nil
}
