package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"yintrade/internal/auth"
	"yintrade/internal/broadcast"
	"yintrade/internal/game"
	"yintrade/internal/market"
	"yintrade/internal/orders"
	"yintrade/internal/profile"
	"yintrade/internal/team"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	ProfileID string
	Name      string
	Admin     bool
	Token     string
}

type Deps struct {
	Profiles  *profile.Store
	Market    *market.State
	Orders    *orders.Engine
	Teams     *team.Registry
	Broadcast *broadcast.Channel
	Tokens    *auth.Tokens
}

type Server struct {
	log       *slog.Logger
	profiles  *profile.Store
	market    *market.State
	orders    *orders.Engine
	teams     *team.Registry
	broadcast *broadcast.Channel
	tokens    *auth.Tokens
	upgrader  websocket.Upgrader
	mux       *chi.Mux
}

func New(deps Deps, allowedOrigin string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:       logger,
		profiles:  deps.Profiles,
		market:    deps.Market,
		orders:    deps.Orders,
		teams:     deps.Teams,
		broadcast: deps.Broadcast,
		tokens:    deps.Tokens,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, allowedOrigin) },
		},
		mux: chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		// long-lived, authenticated by query token
		r.Get("/broadcast/ws", s.handleBroadcastWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/profiles", s.handleProfilesList)
			r.Post("/profiles", s.handleProfileCreate)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/admin", s.handleAdminLogin)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/me", s.handleMe)
				r.Post("/me/password", s.handleSetPassword)
				r.Get("/market", s.handleMarket)
				r.Get("/market/{symbol}", s.handleStock)
				r.Get("/state", s.handleState)
				r.Post("/orders", s.handleOrder)
				r.Delete("/orders/{id}", s.handleCancelOrder)
				r.Get("/teams", s.handleTeamsList)
				r.Post("/teams", s.handleTeamCreate)
				r.Post("/teams/join", s.handleTeamJoin)
				r.Get("/teams/{id}", s.handleTeamDetail)
				r.Post("/broadcast", s.handleBroadcastSend)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.tokens.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			ProfileID: claims.Subject,
			Name:      claims.Name,
			Admin:     claims.Admin,
			Token:     token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	user, ok := ctx.Value(userContextKey).(UserContext)
	if !ok || user.ProfileID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

// traderFromContext rejects admin sessions, which own no trading state.
func traderFromContext(ctx context.Context) (UserContext, error) {
	user, err := userFromContext(ctx)
	if err != nil {
		return UserContext{}, err
	}
	if user.Admin {
		return UserContext{}, game.ErrUnauthorized
	}
	return user, nil
}

type profileView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	TeamID       string `json:"teamId,omitempty"`
	IsTeamLeader bool   `json:"isTeamLeader,omitempty"`
	HasPassword  bool   `json:"hasPassword"`
	IsAdmin      bool   `json:"isAdmin,omitempty"`
}

func viewOf(p game.UserProfile) profileView {
	return profileView{
		ID:           p.ID,
		Name:         p.Name,
		TeamID:       p.TeamID,
		IsTeamLeader: p.IsTeamLeader,
		HasPassword:  p.HasPassword(),
		IsAdmin:      game.IsAdmin(&p),
	}
}

func (s *Server) handleProfilesList(w http.ResponseWriter, r *http.Request) {
	list, err := s.profiles.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]profileView, 0, len(list))
	for _, p := range list {
		out = append(out, viewOf(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": out})
}

func (s *Server) handleProfileCreate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.profiles.Create(r.Context(), in.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(p))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Profile  string `json:"profile"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.profiles.FindByName(r.Context(), in.Profile)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	p, err = s.profiles.Authenticate(r.Context(), p.ID, in.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	session, err := s.tokens.Issue(p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.tokens.AdminLogin(in.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("admin session issued", "request_id", middleware.GetReqID(r.Context()))
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if user.Admin {
		writeJSON(w, http.StatusOK, viewOf(game.AdminProfile()))
		return
	}
	p, err := s.profiles.Get(r.Context(), user.ProfileID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	user, err := traderFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.profiles.SetPassword(r.Context(), user.ProfileID, in.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

func (s *Server) handleMarket(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.market.Snapshot())
}

func (s *Server) handleStock(w http.ResponseWriter, r *http.Request) {
	st, err := s.market.Stock(chi.URLParam(r, "symbol"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	user, err := traderFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := s.profiles.Get(r.Context(), user.ProfileID); err != nil {
		writeDomainError(w, err)
		return
	}
	st, err := s.profiles.State(r.Context(), user.ProfileID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    st,
		"netWorth": s.orders.NetWorth(st),
	})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	user, err := traderFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in struct {
		Symbol     string           `json:"symbol"`
		Side       string           `json:"side"`
		Type       string           `json:"type"`
		Quantity   decimal.Decimal  `json:"quantity"`
		LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	qty, err := game.SharesFromDecimal(in.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	req := orders.Request{
		Symbol:        in.Symbol,
		Side:          game.OrderSide(in.Side),
		Type:          game.OrderType(in.Type),
		QuantityUnits: qty,
	}
	if in.LimitPrice != nil {
		price, err := game.PriceFromDecimal(*in.LimitPrice)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		req.LimitPriceMicros = price
	}
	if _, err := s.profiles.Get(r.Context(), user.ProfileID); err != nil {
		writeDomainError(w, err)
		return
	}
	order, err := s.orders.Place(r.Context(), user.ProfileID, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	user, err := traderFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	order, err := s.orders.Cancel(r.Context(), user.ProfileID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleTeamsList(w http.ResponseWriter, r *http.Request) {
	teams, err := s.teams.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (s *Server) handleTeamCreate(w http.ResponseWriter, r *http.Request) {
	user, err := traderFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, inv, err := s.teams.Create(r.Context(), user.ProfileID, in.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"team": t, "invite": inv})
}

func (s *Server) handleTeamJoin(w http.ResponseWriter, r *http.Request) {
	user, err := traderFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.teams.Join(r.Context(), user.ProfileID, in.Code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"team": t})
}

// handleTeamDetail shows the invite code to team members only.
func (s *Server) handleTeamDetail(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	t, err := s.teams.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := map[string]any{"team": t}
	for _, id := range t.MemberIDs {
		if id != user.ProfileID {
			continue
		}
		if inv, err := s.teams.InviteFor(r.Context(), t.ID); err == nil {
			out["invite"] = inv
		}
		break
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBroadcastSend(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if !user.Admin {
		writeDomainError(w, game.ErrUnauthorized)
		return
	}
	var in struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := s.broadcast.Send(r.Context(), in.Message)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleBroadcastWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	if _, err := s.tokens.Parse(token); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	msgs := s.broadcast.Subscribe(ctx)
	if m, fresh, err := s.broadcast.Latest(ctx); err == nil && fresh {
		if err := conn.WriteJSON(m); err != nil {
			return
		}
	}

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
	}
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "" || origin == "*" {
		return true
	}
	reqOrigin := r.Header.Get("Origin")
	if reqOrigin == "" {
		return true
	}
	return strings.EqualFold(reqOrigin, origin)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, profile.ErrPasswordMismatch):
		writeError(w, http.StatusUnauthorized, "Incorrect password. Please try again.")
	case errors.Is(err, auth.ErrAdminPassword):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, game.ErrUnauthorized), errors.Is(err, auth.ErrAdminDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, game.ErrInsufficientFunds), errors.Is(err, game.ErrInsufficientShares),
		errors.Is(err, game.ErrInvalidSymbol), errors.Is(err, game.ErrInvalidQuantity),
		errors.Is(err, game.ErrInvalidSide), errors.Is(err, game.ErrInvalidOrderType),
		errors.Is(err, game.ErrInvalidPrice), errors.Is(err, profile.ErrNameRequired), errors.Is(err, profile.ErrPasswordRequired),
		errors.Is(err, profile.ErrPasswordTooLong),
		errors.Is(err, team.ErrTeamNameRequired), errors.Is(err, broadcast.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrStockNotFound), errors.Is(err, game.ErrOrderNotFound),
		errors.Is(err, profile.ErrProfileNotFound), errors.Is(err, team.ErrTeamNotFound),
		errors.Is(err, team.ErrInviteNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, profile.ErrDuplicateName), errors.Is(err, profile.ErrReservedName),
		errors.Is(err, team.ErrAlreadyOnTeam), errors.Is(err, game.ErrMarketClosed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
