package prefs

import (
	"context"
	"testing"

	"yintrade/internal/kv"
)

func TestThemeDefaultsAndToggles(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory().View()
	p := New(store)

	theme, err := p.Theme(ctx)
	if err != nil || theme != ThemeDark {
		t.Fatalf("default theme = %q, %v", theme, err)
	}
	next, err := p.ToggleTheme(ctx)
	if err != nil || next != ThemeLight {
		t.Fatalf("toggle = %q, %v", next, err)
	}
	if raw, _, _ := store.Get(ctx, ThemeKey); raw != "light" {
		t.Fatalf("stored theme %q", raw)
	}
	if next, _ = p.ToggleTheme(ctx); next != ThemeDark {
		t.Fatalf("second toggle = %q", next)
	}
	if err := p.SetTheme(ctx, "sepia"); err == nil {
		t.Fatalf("expected unknown theme to fail")
	}
	if err := store.Set(ctx, ThemeKey, "garbage"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if theme, _ := p.Theme(ctx); theme != ThemeDark {
		t.Fatalf("unknown stored theme read as %q", theme)
	}
}

func TestOnboarding(t *testing.T) {
	ctx := context.Background()
	p := New(kv.NewMemory().View())
	if done, _ := p.Onboarded(ctx); done {
		t.Fatalf("fresh store reports onboarded")
	}
	if err := p.CompleteOnboarding(ctx); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done, _ := p.Onboarded(ctx); !done {
		t.Fatalf("onboarding flag not persisted")
	}
}
