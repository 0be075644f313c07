package team

import (
	"context"
	mathrand "math/rand"
	"strings"
	"testing"
	"time"

	"yintrade/internal/game"
	"yintrade/internal/kv"
	"yintrade/internal/profile"

	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) (*Registry, *profile.Store, kv.Store) {
	t.Helper()
	store := kv.NewMemory().View()
	profiles := profile.NewStore(store, profile.Config{}, nil)
	r := NewRegistry(store, profiles, nil)
	r.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	r.rand = mathrand.New(mathrand.NewSource(1))
	return r, profiles, store
}

func TestCreateOnceYieldsOneTeamAndInvite(t *testing.T) {
	ctx := context.Background()
	r, profiles, _ := newRegistry(t)
	leader, err := profiles.Create(ctx, "ada")
	require.NoError(t, err)

	team, inv, err := r.Create(ctx, leader.ID, "alpha wolves")
	require.NoError(t, err)
	require.Equal(t, "team_1700000000000", team.ID)
	require.Equal(t, leader.ID, team.LeaderID)
	require.Equal(t, []string{leader.ID}, team.MemberIDs)
	require.Equal(t, team.ID, inv.TeamID)
	require.True(t, strings.HasPrefix(inv.Code, "ALPH"), inv.Code)
	require.Len(t, inv.Code, 8)

	teams, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	invites, err := r.Invites(ctx)
	require.NoError(t, err)
	require.Len(t, invites, 1)

	got, err := profiles.Get(ctx, leader.ID)
	require.NoError(t, err)
	require.Equal(t, team.ID, got.TeamID)
	require.True(t, got.IsTeamLeader)
}

func TestCreateWhenOnTeamWritesNothing(t *testing.T) {
	ctx := context.Background()
	r, profiles, store := newRegistry(t)
	leader, err := profiles.Create(ctx, "ada")
	require.NoError(t, err)
	_, _, err = r.Create(ctx, leader.ID, "alpha")
	require.NoError(t, err)

	teamsBefore, _, _ := store.Get(ctx, TeamsKey)
	invitesBefore, _, _ := store.Get(ctx, InvitesKey)

	_, _, err = r.Create(ctx, leader.ID, "beta")
	require.ErrorIs(t, err, ErrAlreadyOnTeam)

	teamsAfter, _, _ := store.Get(ctx, TeamsKey)
	invitesAfter, _, _ := store.Get(ctx, InvitesKey)
	require.Equal(t, teamsBefore, teamsAfter)
	require.Equal(t, invitesBefore, invitesAfter)
}

func TestJoinByInviteCode(t *testing.T) {
	ctx := context.Background()
	r, profiles, _ := newRegistry(t)
	leader, err := profiles.Create(ctx, "ada")
	require.NoError(t, err)
	member, err := profiles.Create(ctx, "grace")
	require.NoError(t, err)

	team, inv, err := r.Create(ctx, leader.ID, "alpha")
	require.NoError(t, err)

	joined, err := r.Join(ctx, member.ID, strings.ToLower(inv.Code))
	require.NoError(t, err)
	require.Equal(t, team.ID, joined.ID)
	require.Equal(t, []string{leader.ID, member.ID}, joined.MemberIDs)

	got, err := profiles.Get(ctx, member.ID)
	require.NoError(t, err)
	require.Equal(t, team.ID, got.TeamID)
	require.False(t, got.IsTeamLeader)

	_, err = r.Join(ctx, member.ID, inv.Code)
	require.ErrorIs(t, err, ErrAlreadyOnTeam)

	loner, err := profiles.Create(ctx, "linus")
	require.NoError(t, err)
	_, err = r.Join(ctx, loner.ID, "NOPE0000")
	require.ErrorIs(t, err, ErrInviteNotFound)
}

func TestTeamIDsStayUniqueWithinOneMillisecond(t *testing.T) {
	ctx := context.Background()
	r, profiles, _ := newRegistry(t)
	a, err := profiles.Create(ctx, "ada")
	require.NoError(t, err)
	b, err := profiles.Create(ctx, "grace")
	require.NoError(t, err)

	t1, _, err := r.Create(ctx, a.ID, "alpha")
	require.NoError(t, err)
	t2, _, err := r.Create(ctx, b.ID, "alpha")
	require.NoError(t, err)
	require.NotEqual(t, t1.ID, t2.ID)

	inv, err := r.InviteFor(ctx, t2.ID)
	require.NoError(t, err)
	require.Equal(t, t2.ID, inv.TeamID)
}

func TestCodePrefix(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"alpha wolves", "ALPH"},
		{"a b", "AB"},
		{"Zé Team", "ZÉTE"},
	}
	for _, tc := range tests {
		if got := codePrefix(tc.name); got != tc.want {
			t.Fatalf("codePrefix(%q) = %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestCorruptTeamsListAsEmpty(t *testing.T) {
	ctx := context.Background()
	r, _, store := newRegistry(t)
	require.NoError(t, store.Set(ctx, TeamsKey, "{oops"))
	teams, err := r.List(ctx)
	require.NoError(t, err)
	require.Empty(t, teams)

	_, err = r.Get(ctx, "team_1")
	require.ErrorIs(t, err, ErrTeamNotFound)
}

func TestNextCodeLengthensWhenSuffixesExhausted(t *testing.T) {
	r, _, _ := newRegistry(t)

	// Same seed as r, so these are exactly the candidates r will draw.
	shadow, _, _ := newRegistry(t)
	var invites []game.TeamInvite
	for i := 0; i < maxCodeTries; i++ {
		invites = append(invites, game.TeamInvite{Code: "ALPH" + shadow.suffix(), TeamID: "team_x"})
	}

	code := r.nextCode(invites, "alpha")
	require.Len(t, code, codePrefixLen+codeSuffixLen+1)
	require.True(t, strings.HasPrefix(code, invites[maxCodeTries-1].Code), code)
}
