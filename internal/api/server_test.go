package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"yintrade/internal/auth"
	"yintrade/internal/broadcast"
	"yintrade/internal/game"
	"yintrade/internal/kv"
	"yintrade/internal/market"
	"yintrade/internal/orders"
	"yintrade/internal/profile"
	"yintrade/internal/team"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := kv.NewMemory().View()
	profiles := profile.NewStore(store, profile.Config{}, nil)
	mkt := market.New(market.Config{Seed: 1}, nil)
	require.NoError(t, mkt.SetPrice("YINT", 100*game.MicrosPerDollar))
	return New(Deps{
		Profiles:  profiles,
		Market:    mkt,
		Orders:    orders.NewEngine(profiles, mkt, nil),
		Teams:     team.NewRegistry(store, profiles, nil),
		Broadcast: broadcast.NewChannel(store, nil),
		Tokens:    auth.NewTokens("test-secret", time.Hour, "admin-pw"),
	}, "*", nil)
}

func call(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func signUp(t *testing.T, s *Server, name string) string {
	t.Helper()
	rec := call(t, s, http.MethodPost, "/v1/profiles", "", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = call(t, s, http.MethodPost, "/v1/auth/login", "", map[string]string{"profile": name})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[auth.Session](t, rec).AccessToken
}

func TestHealthz(t *testing.T) {
	rec := call(t, newTestServer(t), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusUnauthorized, call(t, s, http.MethodGet, "/v1/me", "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, call(t, s, http.MethodGet, "/v1/me", "garbage", nil).Code)
}

func TestOrderFlow(t *testing.T) {
	s := newTestServer(t)
	token := signUp(t, s, "ada")

	rec := call(t, s, http.MethodPost, "/v1/orders", token, map[string]any{
		"symbol": "YINT", "side": "buy", "quantity": "2.5",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	filled := decode[game.Order](t, rec)
	require.Equal(t, game.StatusFilled, filled.Status)

	rec = call(t, s, http.MethodPost, "/v1/orders", token, map[string]any{
		"symbol": "YINT", "side": "buy", "type": "limit", "quantity": 1, "limit_price": "50",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resting := decode[game.Order](t, rec)
	require.Equal(t, game.StatusActive, resting.Status)

	rec = call(t, s, http.MethodGet, "/v1/state", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[struct {
		State    game.ProfileState `json:"state"`
		NetWorth int64             `json:"netWorth"`
	}](t, rec)
	require.Equal(t, game.StartingCashMicros-250*game.MicrosPerDollar, state.State.Portfolio.CashMicros)
	require.Equal(t, game.StartingCashMicros, state.NetWorth)
	require.Len(t, state.State.ActiveOrders, 1)

	rec = call(t, s, http.MethodDelete, "/v1/orders/"+resting.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = call(t, s, http.MethodDelete, "/v1/orders/"+resting.ID, token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, s, http.MethodPost, "/v1/orders", token, map[string]any{
		"symbol": "YINT", "side": "sell", "quantity": "100",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOverlongBcryptPasswordIsBadRequest(t *testing.T) {
	store := kv.NewMemory().View()
	profiles := profile.NewStore(store, profile.Config{Hasher: profile.BcryptHasher{Cost: 4}}, nil)
	mkt := market.New(market.Config{Seed: 1}, nil)
	s := New(Deps{
		Profiles:  profiles,
		Market:    mkt,
		Orders:    orders.NewEngine(profiles, mkt, nil),
		Teams:     team.NewRegistry(store, profiles, nil),
		Broadcast: broadcast.NewChannel(store, nil),
		Tokens:    auth.NewTokens("test-secret", time.Hour, "admin-pw"),
	}, "*", nil)
	token := signUp(t, s, "ada")

	rec := call(t, s, http.MethodPost, "/v1/me/password", token, map[string]string{"password": strings.Repeat("x", 73)})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "password is too long")

	rec = call(t, s, http.MethodPost, "/v1/me/password", token, map[string]string{"password": "hunter2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPasswordLogin(t *testing.T) {
	s := newTestServer(t)
	token := signUp(t, s, "ada")

	rec := call(t, s, http.MethodPost, "/v1/me/password", token, map[string]string{"password": "hunter2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, decode[profileView](t, rec).HasPassword)

	rec = call(t, s, http.MethodPost, "/v1/auth/login", "", map[string]string{"profile": "ADA", "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "Incorrect password. Please try again.")

	rec = call(t, s, http.MethodPost, "/v1/auth/login", "", map[string]string{"profile": "ada", "password": "hunter2"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, s, http.MethodGet, "/v1/profiles", "", nil)
	require.NotContains(t, rec.Body.String(), "aHVudGVyMg==", "profile list must not expose passwords")
}

func TestTeams(t *testing.T) {
	s := newTestServer(t)
	leader := signUp(t, s, "ada")
	member := signUp(t, s, "grace")

	rec := call(t, s, http.MethodPost, "/v1/teams", leader, map[string]string{"name": "alpha"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		Team   game.Team       `json:"team"`
		Invite game.TeamInvite `json:"invite"`
	}](t, rec)

	rec = call(t, s, http.MethodPost, "/v1/teams", leader, map[string]string{"name": "again"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, s, http.MethodGet, "/v1/teams/"+created.Team.ID, member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), created.Invite.Code)

	rec = call(t, s, http.MethodPost, "/v1/teams/join", member, map[string]string{"code": created.Invite.Code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, s, http.MethodGet, "/v1/teams/"+created.Team.ID, member, nil)
	require.Contains(t, rec.Body.String(), created.Invite.Code)

	rec = call(t, s, http.MethodGet, "/v1/teams", member, nil)
	teams := decode[struct {
		Teams []game.Team `json:"teams"`
	}](t, rec)
	require.Len(t, teams.Teams, 1)
	require.Len(t, teams.Teams[0].MemberIDs, 2)
}

func TestAdminBroadcastOverWebsocket(t *testing.T) {
	s := newTestServer(t)
	trader := signUp(t, s, "ada")

	rec := call(t, s, http.MethodPost, "/v1/auth/admin", "", map[string]string{"password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = call(t, s, http.MethodPost, "/v1/auth/admin", "", map[string]string{"password": "admin-pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	admin := decode[auth.Session](t, rec).AccessToken

	rec = call(t, s, http.MethodGet, "/v1/state", admin, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = call(t, s, http.MethodPost, "/v1/broadcast", trader, map[string]string{"message": "hi"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/broadcast/ws?token=" + trader
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	rec = call(t, s, http.MethodPost, "/v1/broadcast", admin, map[string]string{"message": "trading halts at noon"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var got broadcast.Message
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "trading halts at noon", got.Message)
}

func TestBroadcastWebsocketRejectsBadToken(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/broadcast/ws?token=nope", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
