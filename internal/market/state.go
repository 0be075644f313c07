// Package market holds the simulated listing and moves prices on each tick.
package market

import (
	"context"
	"encoding/json"
	"log/slog"
	mathrand "math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"yintrade/internal/game"
	"yintrade/internal/kv"
)

const (
	SnapshotKey = "yin_trade_market"

	historyLen = 64

	minPriceMicros = int64(10_000) // 0.01
	maxPriceMicros = int64(1_000_000_000) * game.MicrosPerDollar
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

const (
	SentimentBullish = "bullish"
	SentimentBearish = "bearish"
	SentimentNeutral = "neutral"
)

type Stock struct {
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	PriceMicros  int64   `json:"price"`
	AnchorMicros int64   `json:"anchor"`
	OpenMicros   int64   `json:"open"`
	History      []int64 `json:"history"`
}

// ChangePct is the move since the session open, in percent.
func (s Stock) ChangePct() float64 {
	if s.OpenMicros <= 0 {
		return 0
	}
	return float64(s.PriceMicros-s.OpenMicros) / float64(s.OpenMicros) * 100
}

type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type Snapshot struct {
	Stocks     []Stock   `json:"stocks"`
	Regime     string    `json:"regime"`
	Status     Status    `json:"status"`
	Sentiment  Sentiment `json:"sentiment"`
	Volatility string    `json:"volatility"`
	TickedAt   time.Time `json:"tickedAt"`
}

type Config struct {
	Volatility string
	Seed       int64
}

// State is the live market. It is safe for concurrent use.
type State struct {
	log *slog.Logger

	mu         sync.RWMutex
	stocks     map[string]*Stock
	regime     string
	status     Status
	sentiment  Sentiment
	volatility string
	params     dynamics
	tickedAt   time.Time
	rand       *mathrand.Rand
	now        func() time.Time
}

func New(cfg Config, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	vol := NormalizeVolatility(cfg.Volatility)
	s := &State{
		log:        logger,
		stocks:     make(map[string]*Stock),
		regime:     RegimeNeutral,
		status:     StatusOpen,
		volatility: vol,
		params:     volatilityParams(vol),
		rand:       mathrand.New(mathrand.NewSource(seed)),
		now:        time.Now,
	}
	for _, l := range defaultListings() {
		s.stocks[l.Symbol] = &Stock{
			Symbol:       l.Symbol,
			Name:         l.Name,
			PriceMicros:  l.Price,
			AnchorMicros: l.Price,
			OpenMicros:   l.Price,
			History:      []int64{l.Price},
		}
	}
	s.sentiment = s.computeSentiment()
	return s
}

type listing struct {
	Symbol string
	Name   string
	Price  int64
}

func defaultListings() []listing {
	return []listing{
		{"YINT", "Yin Technologies", 182 * game.MicrosPerDollar},
		{"NOVA", "Nova Energy", 64 * game.MicrosPerDollar},
		{"ORBT", "Orbit Aerospace", 121 * game.MicrosPerDollar},
		{"CLDX", "Cloudex Systems", 248 * game.MicrosPerDollar},
		{"MEDI", "Medica Health", 93 * game.MicrosPerDollar},
		{"HRBR", "First Harbor Bank", 57 * game.MicrosPerDollar},
		{"GRNX", "Greenix Foods", 38 * game.MicrosPerDollar},
		{"QNTM", "Quantum Logic", 310 * game.MicrosPerDollar},
	}
}

func (s *State) Stocks() []Stock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Stock, 0, len(s.stocks))
	for _, st := range s.stocks {
		out = append(out, cloneStock(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *State) Stock(symbol string) (Stock, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if err := game.ValidateSymbol(symbol); err != nil {
		return Stock{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stocks[symbol]
	if !ok {
		return Stock{}, game.ErrStockNotFound
	}
	return cloneStock(st), nil
}

func (s *State) Price(symbol string) (int64, error) {
	st, err := s.Stock(symbol)
	if err != nil {
		return 0, err
	}
	return st.PriceMicros, nil
}

func (s *State) Sentiment() Sentiment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sentiment
}

func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *State) IsOpen() bool { return s.Status() == StatusOpen }

// Open starts a new session: the current prices become the session open.
func (s *State) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusOpen {
		return
	}
	s.status = StatusOpen
	for _, st := range s.stocks {
		st.OpenMicros = st.PriceMicros
	}
	s.sentiment = s.computeSentiment()
}

func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusClosed
}

// Tick moves every price one step. Closed markets do not move.
func (s *State) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusOpen {
		return false
	}
	p := s.params
	if s.rand.Float64() < p.RegimeSwitchProb {
		next := randomRegime(s.rand.Float64())
		if next != s.regime {
			s.log.Info("market regime changed", "from", s.regime, "to", next)
		}
		s.regime = next
	}

	for _, sym := range s.symbolsLocked() {
		st := s.stocks[sym]
		anchorRet := 0.30*regimeDrift(s.regime) + p.AnchorNoiseScale*normalish(s.rand.Float64())
		if s.rand.Float64() < p.ShockProb*0.20 {
			anchorRet += signedShock(s.rand.Float64(), s.rand.Float64(), p.ShockScale*0.40)
		}
		st.AnchorMicros = clampPrice(evolvePrice(st.AnchorMicros, anchorRet, p.MaxDropPerTick))

		ret := regimeDrift(s.regime) + p.NoiseScale*normalish(s.rand.Float64()) + meanReversion(st.PriceMicros, st.AnchorMicros, p.MeanReversion)
		if s.rand.Float64() < p.ShockProb {
			ret += signedShock(s.rand.Float64(), s.rand.Float64(), p.ShockScale)
		}
		if s.rand.Float64() < p.ExtremeShockProb {
			ret += signedShock(s.rand.Float64(), s.rand.Float64(), p.ExtremeShockScale)
		}
		st.PriceMicros = clampPrice(evolvePrice(st.PriceMicros, ret, p.MaxDropPerTick))
		st.History = append(st.History, st.PriceMicros)
		if len(st.History) > historyLen {
			st.History = st.History[len(st.History)-historyLen:]
		}
	}
	s.sentiment = s.computeSentiment()
	s.tickedAt = s.now().UTC()
	return true
}

// SetPrice overrides one stock's price and anchor.
func (s *State) SetPrice(symbol string, priceMicros int64) error {
	if priceMicros <= 0 {
		return game.ErrInvalidPrice
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stocks[symbol]
	if !ok {
		return game.ErrStockNotFound
	}
	st.PriceMicros = clampPrice(priceMicros)
	st.AnchorMicros = st.PriceMicros
	st.History = append(st.History, st.PriceMicros)
	if len(st.History) > historyLen {
		st.History = st.History[len(st.History)-historyLen:]
	}
	s.sentiment = s.computeSentiment()
	return nil
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Regime:     s.regime,
		Status:     s.status,
		Sentiment:  s.sentiment,
		Volatility: s.volatility,
		TickedAt:   s.tickedAt,
	}
	for _, sym := range s.symbolsLocked() {
		out.Stocks = append(out.Stocks, cloneStock(s.stocks[sym]))
	}
	return out
}

// Restore replaces the listing with a snapshot. Stocks with unusable data
// are skipped.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stocks := make(map[string]*Stock, len(snap.Stocks))
	for _, st := range snap.Stocks {
		if game.ValidateSymbol(st.Symbol) != nil || st.PriceMicros <= 0 {
			continue
		}
		c := cloneStock(&st)
		if c.AnchorMicros <= 0 {
			c.AnchorMicros = c.PriceMicros
		}
		if c.OpenMicros <= 0 {
			c.OpenMicros = c.PriceMicros
		}
		stocks[c.Symbol] = &c
	}
	if len(stocks) == 0 {
		return
	}
	s.stocks = stocks
	switch snap.Regime {
	case RegimeBull, RegimeBear, RegimeNeutral:
		s.regime = snap.Regime
	}
	if snap.Status == StatusOpen || snap.Status == StatusClosed {
		s.status = snap.Status
	}
	s.tickedAt = snap.TickedAt
	s.sentiment = s.computeSentiment()
}

func (s *State) Save(ctx context.Context, store kv.Store) error {
	return kv.WriteJSON(ctx, store, SnapshotKey, s.Snapshot())
}

// Load restores the last saved snapshot, if any readable one exists.
func (s *State) Load(ctx context.Context, store kv.Store) (bool, error) {
	var snap Snapshot
	ok, err := kv.ReadJSON(ctx, store, SnapshotKey, &snap, s.log)
	if err != nil || !ok {
		return false, err
	}
	s.Restore(snap)
	return true, nil
}

// Follow restores every snapshot another view saves until ctx is done.
func (s *State) Follow(ctx context.Context, store kv.Watcher) error {
	changes, err := store.Watch(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			if c.Key != SnapshotKey || c.Deleted {
				continue
			}
			var snap Snapshot
			if err := json.Unmarshal([]byte(c.NewValue), &snap); err != nil {
				s.log.Warn("ignoring unreadable market snapshot", "err", err)
				continue
			}
			s.Restore(snap)
		}
	}
}

func (s *State) computeSentiment() Sentiment {
	if len(s.stocks) == 0 {
		return Sentiment{Label: SentimentNeutral}
	}
	var sum float64
	for _, st := range s.stocks {
		sum += st.ChangePct()
	}
	score := sum / float64(len(s.stocks))
	label := SentimentNeutral
	switch {
	case score > 0.5:
		label = SentimentBullish
	case score < -0.5:
		label = SentimentBearish
	}
	return Sentiment{Label: label, Score: score}
}

func (s *State) symbolsLocked() []string {
	out := make([]string, 0, len(s.stocks))
	for sym := range s.stocks {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func cloneStock(st *Stock) Stock {
	c := *st
	c.History = append([]int64(nil), st.History...)
	return c
}

func clampPrice(v int64) int64 {
	if v < minPriceMicros {
		return minPriceMicros
	}
	if v > maxPriceMicros {
		return maxPriceMicros
	}
	return v
}
