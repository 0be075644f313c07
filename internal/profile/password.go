package profile

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	SchemeBase64 = "base64"
	SchemeBcrypt = "bcrypt"
)

// Hasher encodes profile passwords. Verification goes through VerifyPassword
// so that either stored encoding is accepted.
type Hasher interface {
	Hash(plain string) (string, error)
}

// Base64Hasher reproduces the reversible encoding older stores were written
// with. It offers no protection.
type Base64Hasher struct{}

func (Base64Hasher) Hash(plain string) (string, error) {
	return base64.StdEncoding.EncodeToString([]byte(plain)), nil
}

type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(plain string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", fmt.Errorf("%w: bcrypt accepts at most 72 bytes", ErrPasswordTooLong)
	}
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func NewHasher(scheme string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", SchemeBase64:
		return Base64Hasher{}, nil
	case SchemeBcrypt:
		return BcryptHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown password scheme %q", scheme)
	}
}

func VerifyPassword(plain, encoded string) bool {
	if encoded == "" {
		return false
	}
	if isBcrypt(encoded) {
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain)) == nil
	}
	want := base64.StdEncoding.EncodeToString([]byte(plain))
	return subtle.ConstantTimeCompare([]byte(want), []byte(encoded)) == 1
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$")
}
