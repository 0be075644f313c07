package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"yintrade/internal/broadcast"
	"yintrade/internal/config"
	"yintrade/internal/db"
	"yintrade/internal/game"
	"yintrade/internal/kv"
	"yintrade/internal/market"
	"yintrade/internal/orders"
	"yintrade/internal/prefs"
	"yintrade/internal/profile"
	"yintrade/internal/team"

	"github.com/spf13/cobra"
)

var (
	errNoActiveProfile = errors.New("no active profile; run `yin profile use NAME`")
	errAdminCannotAct  = errors.New("the Admin session cannot trade or join teams")
	errAdminOnly       = errors.New("only the Admin session can send broadcasts")
)

// skipStore marks commands that never touch the local store.
const skipStore = "skip-store"

// app is one CLI process: a single view of the store.
type app struct {
	cfg config.CLIConfig
	log *slog.Logger

	store     kv.WatchStore
	closeFn   func()
	profiles  *profile.Store
	market    *market.State
	orders    *orders.Engine
	teams     *team.Registry
	broadcast *broadcast.Channel
	prefs     *prefs.Prefs
}

func main() {
	cfg, err := config.LoadCLIFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, log: logger}
	root := &cobra.Command{
		Use:          "yin",
		Short:        "Yin Trade stock market simulator",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !needsStore(cmd) {
				return nil
			}
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			return a.greet(cmd)
		},
	}

	root.AddCommand(
		newProfileCmd(a),
		newMarketCmd(a),
		newBuyCmd(a),
		newSellCmd(a),
		newCancelCmd(a),
		newOrdersCmd(a),
		newPortfolioCmd(a),
		newTeamCmd(a),
		newBroadcastCmd(a),
		newThemeCmd(a),
		newOnboardCmd(a),
		newRemoteCmd(a),
	)

	err = root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func needsStore(cmd *cobra.Command) bool {
	if f := cmd.Flags().Lookup("remote"); f != nil && f.Changed {
		return false
	}
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[skipStore]; ok {
			return false
		}
	}
	return true
}

func (a *app) open(ctx context.Context) error {
	store, closeFn, err := db.OpenStore(ctx, a.cfg.Store, 2, a.log)
	if err != nil {
		return err
	}
	hasher, err := profile.NewHasher(a.cfg.Game.PasswordScheme)
	if err != nil {
		closeFn()
		return err
	}
	a.store = store
	a.closeFn = closeFn
	a.profiles = profile.NewStore(store, profile.Config{
		Hasher:             hasher,
		StartingCashMicros: game.DollarsToMicros(a.cfg.Game.StartingCash),
	}, a.log)
	a.market = market.New(market.Config{Volatility: a.cfg.Market.Volatility}, a.log)
	found, err := a.market.Load(ctx, store)
	if err != nil {
		return err
	}
	if !found {
		if err := a.market.Save(ctx, store); err != nil {
			return err
		}
	}
	a.orders = orders.NewEngine(a.profiles, a.market, a.log)
	a.teams = team.NewRegistry(store, a.profiles, a.log)
	a.broadcast = broadcast.NewChannel(store, a.log)
	a.prefs = prefs.New(store)

	theme, err := a.prefs.Theme(ctx)
	if err != nil {
		return err
	}
	applyTheme(theme)
	return nil
}

func (a *app) close() {
	if a.closeFn != nil {
		a.closeFn()
		a.closeFn = nil
	}
}

// greet nudges a signed-in profile that has not seen the tour and shows a
// broadcast that is still fresh.
func (a *app) greet(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if m, fresh, err := a.broadcast.Latest(ctx); err == nil && fresh {
		printBroadcast(m)
	}
	if cmd.Name() == "onboard" {
		return nil
	}
	p, err := a.profiles.Active(ctx)
	if err != nil || p == nil {
		return err
	}
	onboarded, err := a.prefs.Onboarded(ctx)
	if err != nil {
		return err
	}
	if !onboarded {
		printInfo("New here? Run `yin onboard` for a quick tour.")
	}
	return nil
}

// trader returns the signed-in non-admin profile.
func (a *app) trader(ctx context.Context) (game.UserProfile, error) {
	p, err := a.profiles.Active(ctx)
	if err != nil {
		return game.UserProfile{}, err
	}
	if p == nil {
		return game.UserProfile{}, errNoActiveProfile
	}
	if game.IsAdmin(p) {
		return game.UserProfile{}, errAdminCannotAct
	}
	return *p, nil
}

// settle fills whatever resting orders the current prices cross.
func (a *app) settle(ctx context.Context, profileID string) error {
	closed, err := a.orders.Sweep(ctx, profileID)
	if err != nil {
		return err
	}
	for _, o := range closed {
		if o.Status == game.StatusFilled {
			printSuccess(fmt.Sprintf("Limit %s %s %s filled at %s.", o.Side, formatShares(o.QuantityUnits), o.Symbol, formatMicros(o.PriceMicros)))
		} else {
			printWarn(fmt.Sprintf("Limit %s %s %s cancelled: no longer affordable.", o.Side, formatShares(o.QuantityUnits), o.Symbol))
		}
	}
	return nil
}
