// Package orders fills buy and sell requests against the simulated market
// and records them in the owning profile's state.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"yintrade/internal/game"
	"yintrade/internal/market"
	"yintrade/internal/profile"

	"github.com/google/uuid"
)

type Request struct {
	Symbol           string
	Side             game.OrderSide
	Type             game.OrderType
	QuantityUnits    int64
	LimitPriceMicros int64
}

type Engine struct {
	profiles *profile.Store
	market   *market.State
	log      *slog.Logger
	now      func() time.Time

	// serializes read-modify-write of profile state within this process
	mu sync.Mutex
}

func NewEngine(profiles *profile.Store, mkt *market.State, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{profiles: profiles, market: mkt, log: logger, now: time.Now}
}

// Place validates a request and either fills it, rests it as an active limit
// order, or rejects it. Nothing is persisted on rejection.
func (e *Engine) Place(ctx context.Context, profileID string, req Request) (game.Order, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.Side = game.OrderSide(strings.ToLower(strings.TrimSpace(string(req.Side))))
	req.Type = game.OrderType(strings.ToLower(strings.TrimSpace(string(req.Type))))
	if req.Type == "" {
		req.Type = game.TypeMarket
	}
	if err := validate(req); err != nil {
		return game.Order{}, err
	}
	if !e.market.IsOpen() {
		return game.Order{}, game.ErrMarketClosed
	}
	price, err := e.market.Price(req.Symbol)
	if err != nil {
		return game.Order{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.profiles.State(ctx, profileID)
	if err != nil {
		return game.Order{}, err
	}
	order := game.Order{
		ID:            uuid.NewString(),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		QuantityUnits: req.QuantityUnits,
		PriceMicros:   req.LimitPriceMicros,
		Status:        game.StatusActive,
		CreatedAt:     e.now().UTC(),
	}

	marketable := req.Type == game.TypeMarket ||
		(req.Side == game.SideBuy && price <= req.LimitPriceMicros) ||
		(req.Side == game.SideSell && price >= req.LimitPriceMicros)

	if marketable {
		if err := checkAvailable(st, req.Side, req.Symbol, req.QuantityUnits, price); err != nil {
			return game.Order{}, err
		}
		if err := fill(&st, &order, price, e.now().UTC()); err != nil {
			return game.Order{}, err
		}
		st.OrderHistory = append(st.OrderHistory, order)
	} else {
		if err := checkAvailable(st, req.Side, req.Symbol, req.QuantityUnits, req.LimitPriceMicros); err != nil {
			return game.Order{}, err
		}
		st.ActiveOrders = append(st.ActiveOrders, order)
	}

	if err := e.profiles.SaveState(ctx, profileID, st); err != nil {
		return game.Order{}, err
	}
	e.log.Info("order placed",
		"profile_id", profileID,
		"order_id", order.ID,
		"symbol", order.Symbol,
		"side", order.Side,
		"type", order.Type,
		"status", order.Status,
	)
	return order, nil
}

// Cancel moves an active order into history as cancelled.
func (e *Engine) Cancel(ctx context.Context, profileID, orderID string) (game.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.profiles.State(ctx, profileID)
	if err != nil {
		return game.Order{}, err
	}
	for i, o := range st.ActiveOrders {
		if o.ID != orderID {
			continue
		}
		closeOrder(&o, game.StatusCancelled, e.now().UTC())
		st.ActiveOrders = append(st.ActiveOrders[:i], st.ActiveOrders[i+1:]...)
		st.OrderHistory = append(st.OrderHistory, o)
		if err := e.profiles.SaveState(ctx, profileID, st); err != nil {
			return game.Order{}, err
		}
		return o, nil
	}
	return game.Order{}, game.ErrOrderNotFound
}

// Sweep fills resting orders the market has crossed. A crossed order the
// profile can no longer fund is cancelled.
func (e *Engine) Sweep(ctx context.Context, profileID string) ([]game.Order, error) {
	if !e.market.IsOpen() {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.profiles.State(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if len(st.ActiveOrders) == 0 {
		return nil, nil
	}

	var closed []game.Order
	remaining := make([]game.Order, 0, len(st.ActiveOrders))
	for _, o := range st.ActiveOrders {
		price, err := e.market.Price(o.Symbol)
		if err != nil || !crossed(o, price) {
			remaining = append(remaining, o)
			continue
		}
		now := e.now().UTC()
		if err := fill(&st, &o, price, now); err != nil {
			e.log.Warn("resting order cancelled", "profile_id", profileID, "order_id", o.ID, "err", err)
			closeOrder(&o, game.StatusCancelled, now)
		}
		st.OrderHistory = append(st.OrderHistory, o)
		closed = append(closed, o)
	}
	if len(closed) == 0 {
		return nil, nil
	}
	st.ActiveOrders = remaining
	if err := e.profiles.SaveState(ctx, profileID, st); err != nil {
		return nil, err
	}
	return closed, nil
}

// SweepAll runs Sweep for every stored profile and returns how many orders
// closed.
func (e *Engine) SweepAll(ctx context.Context) (int, error) {
	profiles, err := e.profiles.List(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range profiles {
		closed, err := e.Sweep(ctx, p.ID)
		if err != nil {
			return total, fmt.Errorf("sweep %s: %w", p.ID, err)
		}
		total += len(closed)
	}
	return total, nil
}

// NetWorth is cash plus holdings at current prices.
func (e *Engine) NetWorth(st game.ProfileState) int64 {
	total := st.Portfolio.CashMicros
	for sym, h := range st.Portfolio.Holdings {
		price, err := e.market.Price(sym)
		if err != nil {
			price = h.AvgPriceMicros
		}
		v, err := game.NotionalMicros(price, h.QuantityUnits)
		if err != nil {
			continue
		}
		total += v
	}
	return total
}

func validate(req Request) error {
	if err := game.ValidateSymbol(req.Symbol); err != nil {
		return err
	}
	if req.Side != game.SideBuy && req.Side != game.SideSell {
		return game.ErrInvalidSide
	}
	if req.QuantityUnits <= 0 {
		return game.ErrInvalidQuantity
	}
	switch req.Type {
	case game.TypeMarket:
	case game.TypeLimit:
		if req.LimitPriceMicros <= 0 {
			return game.ErrInvalidPrice
		}
	default:
		return game.ErrInvalidOrderType
	}
	return nil
}

func crossed(o game.Order, price int64) bool {
	switch o.Side {
	case game.SideBuy:
		return price <= o.PriceMicros
	case game.SideSell:
		return price >= o.PriceMicros
	}
	return false
}

// checkAvailable counts cash and shares already promised to resting orders.
func checkAvailable(st game.ProfileState, side game.OrderSide, symbol string, qty, priceMicros int64) error {
	switch side {
	case game.SideBuy:
		notional, err := game.NotionalMicros(priceMicros, qty)
		if err != nil {
			return err
		}
		committed := int64(0)
		for _, o := range st.ActiveOrders {
			if o.Side != game.SideBuy {
				continue
			}
			n, err := game.NotionalMicros(o.PriceMicros, o.QuantityUnits)
			if err != nil {
				return err
			}
			committed += n
		}
		available := st.Portfolio.CashMicros - committed
		if notional > available {
			return fmt.Errorf("%w: need %.2f, available %.2f", game.ErrInsufficientFunds, game.MicrosToDollars(notional), game.MicrosToDollars(available))
		}
	case game.SideSell:
		held := st.Portfolio.Holdings[symbol].QuantityUnits
		for _, o := range st.ActiveOrders {
			if o.Side == game.SideSell && o.Symbol == symbol {
				held -= o.QuantityUnits
			}
		}
		if qty > held {
			return fmt.Errorf("%w: want %.4f, available %.4f", game.ErrInsufficientShares, game.UnitsToShares(qty), game.UnitsToShares(held))
		}
	}
	return nil
}

func fill(st *game.ProfileState, o *game.Order, priceMicros int64, at time.Time) error {
	notional, err := game.NotionalMicros(priceMicros, o.QuantityUnits)
	if err != nil {
		return err
	}
	if st.Portfolio.Holdings == nil {
		st.Portfolio.Holdings = map[string]game.Holding{}
	}
	h := st.Portfolio.Holdings[o.Symbol]

	switch o.Side {
	case game.SideBuy:
		if notional > st.Portfolio.CashMicros {
			return game.ErrInsufficientFunds
		}
		cost, err := game.NotionalMicros(h.AvgPriceMicros, h.QuantityUnits)
		if err != nil {
			return err
		}
		nextQty := h.QuantityUnits + o.QuantityUnits
		avg, err := game.AveragePriceMicros(cost+notional, nextQty)
		if err != nil {
			return err
		}
		st.Portfolio.CashMicros -= notional
		st.Portfolio.Holdings[o.Symbol] = game.Holding{QuantityUnits: nextQty, AvgPriceMicros: avg}
	case game.SideSell:
		if o.QuantityUnits > h.QuantityUnits {
			return game.ErrInsufficientShares
		}
		st.Portfolio.CashMicros += notional
		h.QuantityUnits -= o.QuantityUnits
		if h.QuantityUnits == 0 {
			delete(st.Portfolio.Holdings, o.Symbol)
		} else {
			st.Portfolio.Holdings[o.Symbol] = h
		}
	default:
		return game.ErrInvalidSide
	}
	o.PriceMicros = priceMicros
	closeOrder(o, game.StatusFilled, at)
	return nil
}

func closeOrder(o *game.Order, status game.OrderStatus, at time.Time) {
	o.Status = status
	o.ClosedAt = &at
}
