package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"yintrade/internal/api"
	"yintrade/internal/auth"
	"yintrade/internal/broadcast"
	"yintrade/internal/game"
	"yintrade/internal/kv"
	"yintrade/internal/market"
	"yintrade/internal/orders"
	"yintrade/internal/profile"
	"yintrade/internal/team"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) *Client {
	t.Helper()
	store := kv.NewMemory().View()
	profiles := profile.NewStore(store, profile.Config{}, nil)
	mkt := market.New(market.Config{Seed: 7}, nil)
	require.NoError(t, mkt.SetPrice("YINT", 40*game.MicrosPerDollar))
	srv := httptest.NewServer(api.New(api.Deps{
		Profiles:  profiles,
		Market:    mkt,
		Orders:    orders.NewEngine(profiles, mkt, nil),
		Teams:     team.NewRegistry(store, profiles, nil),
		Broadcast: broadcast.NewChannel(store, nil),
		Tokens:    auth.NewTokens("client-test", time.Hour, "root"),
	}, "*", nil).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/")
}

func TestClientTradingRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestAPI(t)

	created, err := c.CreateProfile(ctx, "ada")
	require.NoError(t, err)
	require.False(t, created.HasPassword)

	sess, err := c.Login(ctx, "ada", "")
	require.NoError(t, err)
	require.Equal(t, created.ID, sess.Profile.ID)

	snap, err := c.Market(ctx, sess.AccessToken)
	require.NoError(t, err)
	require.NotEmpty(t, snap.Stocks)

	stock, err := c.Stock(ctx, sess.AccessToken, "YINT")
	require.NoError(t, err)
	require.Equal(t, 40*game.MicrosPerDollar, stock.PriceMicros)

	order, err := c.PlaceOrder(ctx, sess.AccessToken, OrderInput{
		Symbol: "YINT", Side: "buy", Quantity: decimal.RequireFromString("1.5"),
	})
	require.NoError(t, err)
	require.Equal(t, game.StatusFilled, order.Status)

	limit := decimal.NewFromInt(10)
	resting, err := c.PlaceOrder(ctx, sess.AccessToken, OrderInput{
		Symbol: "YINT", Side: "buy", Type: "limit", Quantity: decimal.NewFromInt(1), LimitPrice: &limit,
	})
	require.NoError(t, err)
	require.Equal(t, game.StatusActive, resting.Status)

	view, err := c.State(ctx, sess.AccessToken)
	require.NoError(t, err)
	require.Equal(t, game.StartingCashMicros-60*game.MicrosPerDollar, view.State.Portfolio.CashMicros)
	require.Len(t, view.State.ActiveOrders, 1)

	cancelled, err := c.CancelOrder(ctx, sess.AccessToken, resting.ID)
	require.NoError(t, err)
	require.Equal(t, game.StatusCancelled, cancelled.Status)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestAPI(t)

	_, err := c.Login(ctx, "nobody", "")
	require.Error(t, err)
	require.True(t, IsAPIError(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)

	_, err = c.AdminLogin(ctx, "guess")
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestClientBroadcastOverWebsocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := newTestAPI(t)

	_, err := c.CreateProfile(ctx, "grace")
	require.NoError(t, err)
	trader, err := c.Login(ctx, "grace", "")
	require.NoError(t, err)
	admin, err := c.AdminLogin(ctx, "root")
	require.NoError(t, err)

	got := make(chan broadcast.Message, 1)
	done := make(chan error, 1)
	listenCtx, stop := context.WithCancel(ctx)
	go func() {
		done <- c.ListenBroadcasts(listenCtx, trader.AccessToken, func(m broadcast.Message) {
			select {
			case got <- m:
			default:
			}
		})
	}()

	// The socket may not be subscribed yet when the first send lands.
	deadline := time.After(4 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	var msg broadcast.Message
wait:
	for {
		select {
		case msg = <-got:
			break wait
		case <-tick.C:
			_, err := c.SendBroadcast(ctx, admin.AccessToken, "closing bell")
			require.NoError(t, err)
		case <-deadline:
			t.Fatal("broadcast not received")
		}
	}
	require.Equal(t, "closing bell", msg.Message)

	stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestSessionFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := LoadSession()
	require.ErrorIs(t, err, ErrNoSession)

	want := Session{AccessToken: "tok", ProfileID: "p1", ProfileName: "ada", BaseURL: "http://localhost:8080"}
	require.NoError(t, SaveSession(want))
	got, err := LoadSession()
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NoError(t, ClearSession())
	require.NoError(t, ClearSession())
	_, err = LoadSession()
	require.ErrorIs(t, err, ErrNoSession)
}
