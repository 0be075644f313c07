package broadcast

import (
	"context"
	"fmt"
	"testing"
	"time"

	"yintrade/internal/kv"

	"github.com/stretchr/testify/require"
)

func TestFresh(t *testing.T) {
	now := time.UnixMilli(1_700_000_010_000)
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"just sent", `{"message":"hi","timestamp":1700000010000}`, true},
		{"four seconds", `{"message":"hi","timestamp":1700000006000}`, true},
		{"exactly five seconds", `{"message":"hi","timestamp":1700000005000}`, false},
		{"six seconds", `{"message":"hi","timestamp":1700000004000}`, false},
		{"empty text", `{"message":"  ","timestamp":1700000010000}`, false},
		{"not json", `hello`, false},
	}
	for _, tc := range tests {
		if _, got := Fresh(tc.raw, now); got != tc.want {
			t.Fatalf("%s: fresh=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestOtherViewReceivesSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := kv.NewMemory()
	sender := NewChannel(mem.View(), nil)
	receiver := NewChannel(mem.View(), nil)

	msgs := receiver.Subscribe(ctx)
	require.NoError(t, receiver.Start(ctx))

	sent, err := sender.Send(ctx, "market closes early")
	require.NoError(t, err)

	select {
	case got := <-msgs:
		require.Equal(t, sent, got)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast not delivered")
	}
}

func TestStaleBroadcastIsNotDelivered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := kv.NewMemory()
	writer := mem.View()
	receiver := NewChannel(mem.View(), nil)

	msgs := receiver.Subscribe(ctx)
	require.NoError(t, receiver.Start(ctx))

	old := time.Now().Add(-6 * time.Second).UnixMilli()
	require.NoError(t, writer.Set(ctx, Key, fmt.Sprintf(`{"message":"stale","timestamp":%d}`, old)))
	require.NoError(t, writer.Set(ctx, Key, fmt.Sprintf(`{"message":"fresh","timestamp":%d}`, time.Now().UnixMilli())))

	select {
	case got := <-msgs:
		require.Equal(t, "fresh", got.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("fresh broadcast not delivered")
	}

	latest, ok, err := receiver.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fresh", latest.Message)
}

func TestLocalSubscriberSeesOwnSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := NewChannel(kv.NewMemory().View(), nil)

	msgs := ch.Subscribe(ctx)
	_, err := ch.Send(ctx, "hello desk")
	require.NoError(t, err)

	select {
	case got := <-msgs:
		require.Equal(t, "hello desk", got.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("local send not delivered")
	}

	_, err = ch.Send(ctx, "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestListenStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := NewChannel(kv.NewMemory().View(), nil)
	done := make(chan error, 1)
	go func() { done <- ch.Listen(ctx, func(Message) {}) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not stop")
	}
}

func TestListenAgainAfterEarlierListenStops(t *testing.T) {
	mem := kv.NewMemory()
	sender := NewChannel(mem.View(), nil)
	receiver := NewChannel(mem.View(), nil)

	first, stopFirst := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- receiver.Listen(first, func(Message) {}) }()
	stopFirst()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("first listen did not stop")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Message, 1)
	go func() {
		_ = receiver.Listen(ctx, func(m Message) {
			select {
			case got <- m:
			default:
			}
		})
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case m := <-got:
			require.Equal(t, "second session", m.Message)
			return
		case <-ticker.C:
			_, err := sender.Send(ctx, "second session")
			require.NoError(t, err)
		case <-deadline:
			t.Fatal("second listen never received a broadcast from another view")
		}
	}
}

func TestWatchOutlivesOneOfTwoStarters(t *testing.T) {
	mem := kv.NewMemory()
	sender := NewChannel(mem.View(), nil)
	receiver := NewChannel(mem.View(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	short, stopShort := context.WithCancel(context.Background())

	msgs := receiver.Subscribe(ctx)
	require.NoError(t, receiver.Start(short))
	require.NoError(t, receiver.Start(ctx))
	stopShort()

	require.Eventually(t, func() bool {
		receiver.mu.Lock()
		defer receiver.mu.Unlock()
		return receiver.starters == 1
	}, 2*time.Second, 10*time.Millisecond)

	sent, err := sender.Send(ctx, "still here")
	require.NoError(t, err)
	select {
	case got := <-msgs:
		require.Equal(t, sent, got)
	case <-time.After(2 * time.Second):
		t.Fatal("remaining starter lost the watch")
	}
}
