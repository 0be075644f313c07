package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"yintrade/internal/auth"
	"yintrade/internal/broadcast"
	"yintrade/internal/game"
	"yintrade/internal/market"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Dialer  *websocket.Dialer
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
		Dialer: websocket.DefaultDialer,
	}
}

type StateView struct {
	State    game.ProfileState `json:"state"`
	NetWorth int64             `json:"netWorth"`
}

type OrderInput struct {
	Symbol     string           `json:"symbol"`
	Side       string           `json:"side"`
	Type       string           `json:"type,omitempty"`
	Quantity   decimal.Decimal  `json:"quantity"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
}

// ProfileSummary is the public view of a profile the API returns.
type ProfileSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TeamID      string `json:"teamId,omitempty"`
	HasPassword bool   `json:"hasPassword"`
}

func (c *Client) CreateProfile(ctx context.Context, name string) (ProfileSummary, error) {
	var out ProfileSummary
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/profiles", "", map[string]any{
		"name": name,
	}, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context, profileName, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"profile":  profileName,
		"password": password,
	}, &out)
	return out, err
}

func (c *Client) AdminLogin(ctx context.Context, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/admin", "", map[string]any{
		"password": password,
	}, &out)
	return out, err
}

func (c *Client) Market(ctx context.Context, accessToken string) (market.Snapshot, error) {
	var out market.Snapshot
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market", accessToken, nil, &out)
	return out, err
}

func (c *Client) Stock(ctx context.Context, accessToken, symbol string) (market.Stock, error) {
	var out market.Stock
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market/"+url.PathEscape(symbol), accessToken, nil, &out)
	return out, err
}

func (c *Client) State(ctx context.Context, accessToken string) (StateView, error) {
	var out StateView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/state", accessToken, nil, &out)
	return out, err
}

func (c *Client) PlaceOrder(ctx context.Context, accessToken string, in OrderInput) (game.Order, error) {
	var out game.Order
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/orders", accessToken, in, &out)
	return out, err
}

func (c *Client) CancelOrder(ctx context.Context, accessToken, orderID string) (game.Order, error) {
	var out game.Order
	err := c.jsonRequest(ctx, http.MethodDelete, "/v1/orders/"+url.PathEscape(orderID), accessToken, nil, &out)
	return out, err
}

func (c *Client) SendBroadcast(ctx context.Context, accessToken, message string) (broadcast.Message, error) {
	var out broadcast.Message
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/broadcast", accessToken, map[string]any{
		"message": message,
	}, &out)
	return out, err
}

// ListenBroadcasts holds a websocket open and calls handle for each message
// until ctx is done or the server goes away.
func (c *Client) ListenBroadcasts(ctx context.Context, accessToken string, handle func(broadcast.Message)) error {
	u, err := url.Parse(c.BaseURL + "/v1/broadcast/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", accessToken)
	u.RawQuery = q.Encode()

	conn, resp, err := c.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return &APIError{Status: resp.StatusCode, Message: err.Error()}
		}
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var m broadcast.Message
		if err := conn.ReadJSON(&m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		handle(m)
	}
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// IsAPIError reports whether err came back from the API rather than the
// network.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
