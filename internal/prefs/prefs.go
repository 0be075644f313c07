// Package prefs stores the per-installation theme and onboarding flag.
package prefs

import (
	"context"
	"fmt"
	"strings"

	"yintrade/internal/kv"
)

const (
	ThemeKey     = "theme"
	OnboardedKey = "yin_trade_onboarded"

	ThemeDark  = "dark"
	ThemeLight = "light"
)

type Prefs struct {
	kv kv.Store
}

func New(store kv.Store) *Prefs {
	return &Prefs{kv: store}
}

// Theme falls back to dark for a missing or unknown value.
func (p *Prefs) Theme(ctx context.Context) (string, error) {
	v, ok, err := p.kv.Get(ctx, ThemeKey)
	if err != nil {
		return "", err
	}
	if !ok || v != ThemeLight {
		return ThemeDark, nil
	}
	return ThemeLight, nil
}

func (p *Prefs) SetTheme(ctx context.Context, theme string) error {
	theme = strings.ToLower(strings.TrimSpace(theme))
	if theme != ThemeDark && theme != ThemeLight {
		return fmt.Errorf("unknown theme %q (want dark or light)", theme)
	}
	return p.kv.Set(ctx, ThemeKey, theme)
}

func (p *Prefs) ToggleTheme(ctx context.Context) (string, error) {
	cur, err := p.Theme(ctx)
	if err != nil {
		return "", err
	}
	next := ThemeLight
	if cur == ThemeLight {
		next = ThemeDark
	}
	if err := p.kv.Set(ctx, ThemeKey, next); err != nil {
		return "", err
	}
	return next, nil
}

func (p *Prefs) Onboarded(ctx context.Context) (bool, error) {
	v, ok, err := p.kv.Get(ctx, OnboardedKey)
	if err != nil {
		return false, err
	}
	return ok && v == "true", nil
}

func (p *Prefs) CompleteOnboarding(ctx context.Context) error {
	return p.kv.Set(ctx, OnboardedKey, "true")
}
