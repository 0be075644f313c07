package market

import (
	"context"
	"testing"
	"time"

	"yintrade/internal/game"
	"yintrade/internal/kv"
)

func TestTickMovesPricesWithinBounds(t *testing.T) {
	s := New(Config{Volatility: "wild", Seed: 42}, nil)
	before := s.Stocks()

	for i := 0; i < 500; i++ {
		if !s.Tick() {
			t.Fatalf("tick %d on open market reported no move", i)
		}
	}

	after := s.Stocks()
	if len(after) != len(before) {
		t.Fatalf("listing size changed: %d -> %d", len(before), len(after))
	}
	moved := false
	for i := range after {
		if after[i].PriceMicros < minPriceMicros || after[i].PriceMicros > maxPriceMicros {
			t.Fatalf("%s price %d out of bounds", after[i].Symbol, after[i].PriceMicros)
		}
		if after[i].PriceMicros != before[i].PriceMicros {
			moved = true
		}
		if len(after[i].History) > historyLen {
			t.Fatalf("%s history grew to %d", after[i].Symbol, len(after[i].History))
		}
	}
	if !moved {
		t.Fatalf("expected at least one price to move")
	}
}

func TestClosedMarketDoesNotTick(t *testing.T) {
	s := New(Config{Seed: 1}, nil)
	s.Close()
	before := s.Snapshot()
	if s.Tick() {
		t.Fatalf("closed market ticked")
	}
	after := s.Snapshot()
	for i := range before.Stocks {
		if before.Stocks[i].PriceMicros != after.Stocks[i].PriceMicros {
			t.Fatalf("%s moved while closed", before.Stocks[i].Symbol)
		}
	}
	s.Open()
	if !s.IsOpen() {
		t.Fatalf("market should be open")
	}
}

func TestSentimentFollowsSessionMove(t *testing.T) {
	tests := []struct {
		name  string
		scale float64
		want  string
	}{
		{"rally", 1.10, SentimentBullish},
		{"selloff", 0.90, SentimentBearish},
		{"flat", 1.0, SentimentNeutral},
	}
	for _, tc := range tests {
		s := New(Config{Seed: 7}, nil)
		for _, st := range s.Stocks() {
			if err := s.SetPrice(st.Symbol, int64(float64(st.OpenMicros)*tc.scale)); err != nil {
				t.Fatalf("%s: set price: %v", tc.name, err)
			}
		}
		if got := s.Sentiment().Label; got != tc.want {
			t.Fatalf("%s: sentiment %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestStockLookup(t *testing.T) {
	s := New(Config{Seed: 3}, nil)
	if _, err := s.Stock("yint"); err != nil {
		t.Fatalf("lowercase lookup: %v", err)
	}
	if _, err := s.Stock("ZZZZ"); err != game.ErrStockNotFound {
		t.Fatalf("expected ErrStockNotFound, got %v", err)
	}
	if _, err := s.Stock("bad1"); err != game.ErrInvalidSymbol {
		t.Fatalf("expected ErrInvalidSymbol, got %v", err)
	}
}

func TestSnapshotRoundTripThroughStore(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory().View()

	src := New(Config{Seed: 11}, nil)
	for i := 0; i < 20; i++ {
		src.Tick()
	}
	src.Close()
	if err := src.Save(ctx, store); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := New(Config{Seed: 99}, nil)
	ok, err := dst.Load(ctx, store)
	if err != nil || !ok {
		t.Fatalf("load ok=%v err=%v", ok, err)
	}
	want, got := src.Snapshot(), dst.Snapshot()
	if got.Status != StatusClosed {
		t.Fatalf("status %q", got.Status)
	}
	for i := range want.Stocks {
		if want.Stocks[i].PriceMicros != got.Stocks[i].PriceMicros {
			t.Fatalf("%s price %d want %d", want.Stocks[i].Symbol, got.Stocks[i].PriceMicros, want.Stocks[i].PriceMicros)
		}
	}
}

func TestLoadIgnoresCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory().View()
	if err := store.Set(ctx, SnapshotKey, "[[["); err != nil {
		t.Fatalf("set: %v", err)
	}
	s := New(Config{Seed: 5}, nil)
	ok, err := s.Load(ctx, store)
	if err != nil || ok {
		t.Fatalf("load ok=%v err=%v", ok, err)
	}
	if len(s.Stocks()) != len(defaultListings()) {
		t.Fatalf("default listing lost")
	}
}

func TestFollowPicksUpOtherViewSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := kv.NewMemory()
	workerView, apiView := mem.View(), mem.View()

	worker := New(Config{Seed: 21}, nil)
	follower := New(Config{Seed: 22}, nil)
	done := make(chan error, 1)
	go func() { done <- follower.Follow(ctx, apiView) }()

	if err := worker.SetPrice("YINT", 777*game.MicrosPerDollar); err != nil {
		t.Fatalf("set price: %v", err)
	}
	// The watch is registered asynchronously; keep saving until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := worker.Save(ctx, workerView); err != nil {
			t.Fatalf("save: %v", err)
		}
		if p, _ := follower.Price("YINT"); p == 777*game.MicrosPerDollar {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("follower never saw the snapshot")
		}
		time.Sleep(20 * time.Millisecond)
		worker.Tick()
		if err := worker.SetPrice("YINT", 777*game.MicrosPerDollar); err != nil {
			t.Fatalf("set price: %v", err)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("follow: %v", err)
	}
}
