package main

import (
	"context"
	"fmt"
	"strings"

	"yintrade/internal/game"
	"yintrade/internal/orders"

	"github.com/spf13/cobra"
)

func newMarketCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "market [SYMBOL]",
		Short: "Show the market or one stock",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				renderMarket(a.market.Snapshot())
				return nil
			}
			st, err := a.market.Stock(strings.ToUpper(strings.TrimSpace(args[0])))
			if err != nil {
				return err
			}
			renderStock(st)
			return nil
		},
	}

	var count int
	tick := &cobra.Command{
		Use:   "tick",
		Short: "Advance the market and settle resting orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !a.market.IsOpen() {
				printWarn("The market is closed; prices did not move.")
				return nil
			}
			for i := 0; i < count; i++ {
				a.market.Tick()
			}
			if err := a.market.Save(ctx, a.store); err != nil {
				return err
			}
			closed, err := a.orders.SweepAll(ctx)
			if err != nil {
				return err
			}
			renderMarket(a.market.Snapshot())
			if closed > 0 {
				printInfo(fmt.Sprintf("%d resting order(s) settled.", closed))
			}
			return nil
		},
	}
	tick.Flags().IntVarP(&count, "count", "n", 1, "number of ticks to run")

	cmd.AddCommand(
		tick,
		newMarketStatusCmd(a, "open", "Open the market"),
		newMarketStatusCmd(a, "close", "Close the market"),
	)
	return cmd
}

func newMarketStatusCmd(a *app, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verb == "open" {
				a.market.Open()
			} else {
				a.market.Close()
			}
			if err := a.market.Save(cmd.Context(), a.store); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Market is %s.", a.market.Status()))
			return nil
		},
	}
}

func newBuyCmd(a *app) *cobra.Command {
	return newOrderCmd(a, game.SideBuy)
}

func newSellCmd(a *app) *cobra.Command {
	return newOrderCmd(a, game.SideSell)
}

func newOrderCmd(a *app, side game.OrderSide) *cobra.Command {
	var limit string
	cmd := &cobra.Command{
		Use:   string(side) + " [SYMBOL] [SHARES]",
		Short: fmt.Sprintf("Place a %s order", side),
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.trader(ctx)
			if err != nil {
				return err
			}
			symbol, err := symbolFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			var units int64
			if len(args) > 1 {
				units, err = game.ParseShares(args[1])
			} else {
				units, err = promptShares(fmt.Sprintf("Shares to %s", side))
			}
			if err != nil {
				return err
			}

			req := orders.Request{Symbol: symbol, Side: side, Type: game.TypeMarket, QuantityUnits: units}
			if strings.TrimSpace(limit) != "" {
				price, err := game.ParsePrice(limit)
				if err != nil {
					return err
				}
				req.Type = game.TypeLimit
				req.LimitPriceMicros = price
			}
			return placeOrder(ctx, a, p.ID, req)
		},
	}
	cmd.Flags().StringVar(&limit, "limit", "", "rest as a limit order at this price")
	return cmd
}

func placeOrder(ctx context.Context, a *app, profileID string, req orders.Request) error {
	if err := a.settle(ctx, profileID); err != nil {
		return err
	}
	o, err := a.orders.Place(ctx, profileID, req)
	if err != nil {
		return err
	}
	renderOrder(o)
	st, err := a.profiles.State(ctx, profileID)
	if err != nil {
		return err
	}
	fmt.Printf("Cash:   %s\n\n", formatMicros(st.Portfolio.CashMicros))
	return nil
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel a resting limit order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.trader(ctx)
			if err != nil {
				return err
			}
			o, err := a.orders.Cancel(ctx, p.ID, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Cancelled %s %s %s.", o.Side, formatShares(o.QuantityUnits), o.Symbol))
			return nil
		},
	}
}

func newOrdersCmd(a *app) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List active orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.trader(ctx)
			if err != nil {
				return err
			}
			if err := a.settle(ctx, p.ID); err != nil {
				return err
			}
			st, err := a.profiles.State(ctx, p.ID)
			if err != nil {
				return err
			}
			renderOrders("Active Orders", st.ActiveOrders)
			if history {
				recent := st.OrderHistory
				if len(recent) > 20 {
					recent = recent[len(recent)-20:]
				}
				renderOrders("Order History", recent)
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "also show recent closed orders")
	return cmd
}

func newPortfolioCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "portfolio",
		Short:   "Show cash, holdings and net worth",
		Aliases: []string{"dash"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.trader(ctx)
			if err != nil {
				return err
			}
			if err := a.settle(ctx, p.ID); err != nil {
				return err
			}
			st, err := a.profiles.State(ctx, p.ID)
			if err != nil {
				return err
			}
			prices := make(map[string]int64, len(st.Portfolio.Holdings))
			for sym := range st.Portfolio.Holdings {
				if price, err := a.market.Price(sym); err == nil {
					prices[sym] = price
				}
			}
			renderPortfolio(p.Name, st, a.orders.NetWorth(st), prices)
			return nil
		},
	}
}

func symbolFromArgsOrPrompt(args []string) (string, error) {
	if len(args) > 0 {
		symbol := strings.ToUpper(strings.TrimSpace(args[0]))
		if err := game.ValidateSymbol(symbol); err != nil {
			return "", err
		}
		return symbol, nil
	}
	return promptSymbol("Symbol")
}
