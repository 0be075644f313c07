package game

import "time"

type OrderSide string

type OrderType string

type OrderStatus string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

const (
	StatusActive    OrderStatus = "active"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

type UserProfile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Password     string `json:"password,omitempty"`
	TeamID       string `json:"teamId,omitempty"`
	IsTeamLeader bool   `json:"isTeamLeader,omitempty"`
}

func (p UserProfile) HasPassword() bool { return p.Password != "" }

type Holding struct {
	QuantityUnits  int64 `json:"quantity"`
	AvgPriceMicros int64 `json:"avgPrice"`
}

type Portfolio struct {
	CashMicros int64              `json:"cash"`
	Holdings   map[string]Holding `json:"holdings"`
}

type Order struct {
	ID            string      `json:"id"`
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	Type          OrderType   `json:"type"`
	QuantityUnits int64       `json:"quantity"`
	PriceMicros   int64       `json:"price"`
	Status        OrderStatus `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
	ClosedAt      *time.Time  `json:"closedAt,omitempty"`
}

// ProfileState is everything trading-related that belongs to one profile.
type ProfileState struct {
	Portfolio    Portfolio `json:"portfolio"`
	ActiveOrders []Order   `json:"activeOrders"`
	OrderHistory []Order   `json:"orderHistory"`
}

func NewProfileState(cashMicros int64) ProfileState {
	return ProfileState{
		Portfolio:    Portfolio{CashMicros: cashMicros, Holdings: map[string]Holding{}},
		ActiveOrders: []Order{},
		OrderHistory: []Order{},
	}
}

type Team struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	LeaderID  string   `json:"leaderId"`
	MemberIDs []string `json:"memberIds"`
}

type TeamInvite struct {
	Code      string `json:"code"`
	TeamID    string `json:"teamId"`
	CreatedAt int64  `json:"createdAt"`
}
