// Package auth issues and verifies API session tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"yintrade/internal/game"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "yintrade"

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrAdminDisabled = errors.New("admin login is disabled")
	ErrAdminPassword = errors.New("incorrect admin password")
)

type Session struct {
	AccessToken string           `json:"access_token"`
	TokenType   string           `json:"token_type"`
	ExpiresIn   int              `json:"expires_in"`
	Profile     game.UserProfile `json:"profile"`
}

// Claims identify a profile. Admin sessions carry no stored profile.
type Claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name,omitempty"`
	Admin bool   `json:"adm,omitempty"`
}

type Tokens struct {
	secret        []byte
	ttl           time.Duration
	adminPassword string
	now           func() time.Time
}

func NewTokens(secret string, ttl time.Duration, adminPassword string) *Tokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{
		secret:        []byte(secret),
		ttl:           ttl,
		adminPassword: adminPassword,
		now:           time.Now,
	}
}

func (t *Tokens) Issue(p game.UserProfile) (Session, error) {
	now := t.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Name:  p.Name,
		Admin: game.IsAdmin(&p),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return Session{}, err
	}
	p.Password = ""
	return Session{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresIn:   int(t.ttl.Seconds()),
		Profile:     p,
	}, nil
}

func (t *Tokens) Parse(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return Claims{}, err
	}
	if !parsed.Valid || claims.Issuer != issuer || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// AdminLogin checks the configured admin password, which may be plain text
// or a bcrypt hash, and issues an admin session.
func (t *Tokens) AdminLogin(password string) (Session, error) {
	if err := VerifyAdmin(t.adminPassword, password); err != nil {
		return Session{}, err
	}
	return t.Issue(game.AdminProfile())
}

// VerifyAdmin checks given against the configured admin password. An empty
// configuration disables admin access.
func VerifyAdmin(configured, given string) error {
	if configured == "" {
		return ErrAdminDisabled
	}
	if !checkAdminPassword(configured, given) {
		return ErrAdminPassword
	}
	return nil
}

func checkAdminPassword(configured, given string) bool {
	if strings.HasPrefix(configured, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(given)) == 1
}
