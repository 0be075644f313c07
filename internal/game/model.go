package game

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MicrosPerDollar = int64(1_000_000)

	StartingCashMicros = int64(100_000) * MicrosPerDollar

	ShareScale = int64(10_000) // 1 share = 10_000 units.

	AdminName = "Admin"
	AdminID   = "admin"
)

var (
	ErrInvalidSymbol      = errors.New("symbol must be 1 to 6 uppercase letters")
	ErrStockNotFound      = errors.New("stock not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrMarketClosed       = errors.New("market is closed")
	ErrInvalidQuantity    = errors.New("quantity must be > 0")
	ErrInvalidSide        = errors.New("side must be buy or sell")
	ErrInvalidOrderType   = errors.New("order type must be market or limit")
	ErrInvalidPrice       = errors.New("limit price must be > 0")
	ErrOrderNotFound      = errors.New("order not found")
	ErrUnauthorized       = errors.New("unauthorized")
)

var symbolRE = regexp.MustCompile(`^[A-Z]{1,6}$`)

func ValidateSymbol(symbol string) error {
	if !symbolRE.MatchString(strings.TrimSpace(symbol)) {
		return ErrInvalidSymbol
	}
	return nil
}

func DollarsToMicros(v float64) int64 {
	return int64(math.Round(v * float64(MicrosPerDollar)))
}

func MicrosToDollars(v int64) float64 {
	return float64(v) / float64(MicrosPerDollar)
}

func SharesToUnits(v float64) (int64, error) {
	if v <= 0 {
		return 0, ErrInvalidQuantity
	}
	return int64(math.Round(v * float64(ShareScale))), nil
}

func UnitsToShares(v int64) float64 {
	return float64(v) / float64(ShareScale)
}

// NotionalMicros is price * quantity, truncated to whole micros.
func NotionalMicros(priceMicros, qtyUnits int64) (int64, error) {
	v := new(big.Int).Mul(big.NewInt(priceMicros), big.NewInt(qtyUnits))
	v = v.Div(v, big.NewInt(ShareScale))
	if !v.IsInt64() {
		return 0, fmt.Errorf("notional overflow")
	}
	return v.Int64(), nil
}

// AveragePriceMicros divides a total cost back into a per-share price.
func AveragePriceMicros(totalMicros, qtyUnits int64) (int64, error) {
	if qtyUnits <= 0 {
		return 0, ErrInvalidQuantity
	}
	v := new(big.Int).Mul(big.NewInt(totalMicros), big.NewInt(ShareScale))
	v = v.Div(v, big.NewInt(qtyUnits))
	if !v.IsInt64() {
		return 0, fmt.Errorf("avg overflow")
	}
	return v.Int64(), nil
}

func IsAdmin(p *UserProfile) bool {
	return p != nil && p.Name == AdminName
}

func AdminProfile() UserProfile {
	return UserProfile{ID: AdminID, Name: AdminName}
}

// SharesFromDecimal converts a share count to units. More precision than
// the unit scale is rejected rather than rounded.
func SharesFromDecimal(d decimal.Decimal) (int64, error) {
	if !d.IsPositive() {
		return 0, ErrInvalidQuantity
	}
	u := d.Mul(decimal.NewFromInt(ShareScale))
	if !u.Equal(u.Truncate(0)) {
		return 0, fmt.Errorf("%w: at most 4 decimal places", ErrInvalidQuantity)
	}
	if u.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("%w: too large", ErrInvalidQuantity)
	}
	return u.IntPart(), nil
}

func ParseShares(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, s)
	}
	return SharesFromDecimal(d)
}

// PriceFromDecimal converts dollars to micros, rounding half away from zero.
func PriceFromDecimal(d decimal.Decimal) (int64, error) {
	if !d.IsPositive() {
		return 0, ErrInvalidPrice
	}
	m := d.Mul(decimal.NewFromInt(MicrosPerDollar)).Round(0)
	if m.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("%w: too large", ErrInvalidPrice)
	}
	return m.IntPart(), nil
}

func ParsePrice(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	return PriceFromDecimal(d)
}
