package main

import (
	"context"
	"testing"

	"yintrade/internal/broadcast"
	"yintrade/internal/game"
	"yintrade/internal/kv"
	"yintrade/internal/profile"

	"github.com/stretchr/testify/require"
)

func TestSendAsAdminNeedsAdminSession(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory().View()
	profiles := profile.NewStore(store, profile.Config{}, nil)
	ch := broadcast.NewChannel(store, nil)

	_, err := sendAsAdmin(ctx, profiles, ch, "markets open")
	require.ErrorIs(t, err, errAdminOnly)

	trader, err := profiles.Create(ctx, "ada")
	require.NoError(t, err)
	require.NoError(t, profiles.SetActive(ctx, trader))
	_, err = sendAsAdmin(ctx, profiles, ch, "markets open")
	require.ErrorIs(t, err, errAdminOnly)
	_, ok, err := ch.Latest(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, profiles.SetActive(ctx, game.AdminProfile()))
	sent, err := sendAsAdmin(ctx, profiles, ch, "markets open")
	require.NoError(t, err)
	require.Equal(t, "markets open", sent.Message)

	latest, ok, err := ch.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sent, latest)
}
