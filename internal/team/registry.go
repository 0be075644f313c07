// Package team creates teams, issues their invite codes and links profiles
// to them.
package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"yintrade/internal/game"
	"yintrade/internal/kv"
	"yintrade/internal/profile"
)

const (
	TeamsKey   = "yin_trade_teams"
	InvitesKey = "yin_trade_invites"

	codePrefixLen = 4
	codeSuffixLen = 4
	maxCodeTries  = 8
)

var (
	ErrAlreadyOnTeam    = errors.New("profile is already on a team")
	ErrInviteNotFound   = errors.New("invite code not found")
	ErrTeamNotFound     = errors.New("team not found")
	ErrTeamNameRequired = errors.New("team name is required")
)

type Registry struct {
	kv       kv.Store
	profiles *profile.Store
	log      *slog.Logger
	now      func() time.Time

	randMu sync.Mutex
	rand   *mathrand.Rand
}

func NewRegistry(store kv.Store, profiles *profile.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		kv:       store,
		profiles: profiles,
		log:      logger,
		now:      time.Now,
		rand:     mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

func (r *Registry) List(ctx context.Context) ([]game.Team, error) {
	var out []game.Team
	if _, err := kv.ReadJSON(ctx, r.kv, TeamsKey, &out, r.log); err != nil {
		return nil, err
	}
	if out == nil {
		out = []game.Team{}
	}
	return out, nil
}

func (r *Registry) Invites(ctx context.Context) ([]game.TeamInvite, error) {
	var out []game.TeamInvite
	if _, err := kv.ReadJSON(ctx, r.kv, InvitesKey, &out, r.log); err != nil {
		return nil, err
	}
	if out == nil {
		out = []game.TeamInvite{}
	}
	return out, nil
}

func (r *Registry) Get(ctx context.Context, teamID string) (game.Team, error) {
	teams, err := r.List(ctx)
	if err != nil {
		return game.Team{}, err
	}
	for _, t := range teams {
		if t.ID == teamID {
			return t, nil
		}
	}
	return game.Team{}, ErrTeamNotFound
}

// InviteFor returns the first invite issued for a team.
func (r *Registry) InviteFor(ctx context.Context, teamID string) (game.TeamInvite, error) {
	invites, err := r.Invites(ctx)
	if err != nil {
		return game.TeamInvite{}, err
	}
	for _, inv := range invites {
		if inv.TeamID == teamID {
			return inv, nil
		}
	}
	return game.TeamInvite{}, ErrInviteNotFound
}

// Create makes the profile the leader of a new team. A profile that already
// has a team gets ErrAlreadyOnTeam and nothing is written.
func (r *Registry) Create(ctx context.Context, profileID, name string) (game.Team, game.TeamInvite, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return game.Team{}, game.TeamInvite{}, ErrTeamNameRequired
	}
	p, err := r.profiles.Get(ctx, profileID)
	if err != nil {
		return game.Team{}, game.TeamInvite{}, err
	}
	if p.TeamID != "" {
		return game.Team{}, game.TeamInvite{}, ErrAlreadyOnTeam
	}

	teams, err := r.List(ctx)
	if err != nil {
		return game.Team{}, game.TeamInvite{}, err
	}
	invites, err := r.Invites(ctx)
	if err != nil {
		return game.Team{}, game.TeamInvite{}, err
	}

	now := r.now()
	t := game.Team{
		ID:        r.nextTeamID(teams, now),
		Name:      name,
		LeaderID:  p.ID,
		MemberIDs: []string{p.ID},
	}
	inv := game.TeamInvite{
		Code:      r.nextCode(invites, name),
		TeamID:    t.ID,
		CreatedAt: now.UnixMilli(),
	}

	if err := kv.WriteJSON(ctx, r.kv, TeamsKey, append(teams, t)); err != nil {
		return game.Team{}, game.TeamInvite{}, err
	}
	if err := kv.WriteJSON(ctx, r.kv, InvitesKey, append(invites, inv)); err != nil {
		return game.Team{}, game.TeamInvite{}, err
	}
	p.TeamID = t.ID
	p.IsTeamLeader = true
	if err := r.profiles.Update(ctx, p); err != nil {
		return game.Team{}, game.TeamInvite{}, err
	}
	r.log.Info("team created", "team_id", t.ID, "leader_id", p.ID, "invite", inv.Code)
	return t, inv, nil
}

// Join adds the profile to the team behind an invite code. Codes match
// case-insensitively.
func (r *Registry) Join(ctx context.Context, profileID, code string) (game.Team, error) {
	code = strings.TrimSpace(code)
	p, err := r.profiles.Get(ctx, profileID)
	if err != nil {
		return game.Team{}, err
	}
	if p.TeamID != "" {
		return game.Team{}, ErrAlreadyOnTeam
	}

	invites, err := r.Invites(ctx)
	if err != nil {
		return game.Team{}, err
	}
	teamID := ""
	for _, inv := range invites {
		if code != "" && strings.EqualFold(inv.Code, code) {
			teamID = inv.TeamID
			break
		}
	}
	if teamID == "" {
		return game.Team{}, ErrInviteNotFound
	}

	teams, err := r.List(ctx)
	if err != nil {
		return game.Team{}, err
	}
	idx := -1
	for i := range teams {
		if teams[i].ID == teamID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return game.Team{}, fmt.Errorf("%w: invite %s points at %s", ErrTeamNotFound, code, teamID)
	}

	t := teams[idx]
	if !contains(t.MemberIDs, p.ID) {
		t.MemberIDs = append(t.MemberIDs, p.ID)
		teams[idx] = t
		if err := kv.WriteJSON(ctx, r.kv, TeamsKey, teams); err != nil {
			return game.Team{}, err
		}
	}
	p.TeamID = t.ID
	p.IsTeamLeader = false
	if err := r.profiles.Update(ctx, p); err != nil {
		return game.Team{}, err
	}
	r.log.Info("team joined", "team_id", t.ID, "profile_id", p.ID)
	return t, nil
}

func (r *Registry) nextTeamID(teams []game.Team, now time.Time) string {
	ms := now.UnixMilli()
	for {
		id := "team_" + strconv.FormatInt(ms, 10)
		taken := false
		for _, t := range teams {
			if t.ID == id {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
		ms++
	}
}

// nextCode retries on collision and then lengthens the suffix until the
// code is unused.
func (r *Registry) nextCode(invites []game.TeamInvite, name string) string {
	taken := make(map[string]struct{}, len(invites))
	for _, inv := range invites {
		taken[strings.ToUpper(inv.Code)] = struct{}{}
	}
	prefix := codePrefix(name)
	code := prefix + r.suffix()
	for i := 1; ; i++ {
		if _, clash := taken[strings.ToUpper(code)]; !clash {
			return code
		}
		if i < maxCodeTries {
			code = prefix + r.suffix()
			continue
		}
		r.log.Warn("invite code space crowded, lengthening", "prefix", prefix)
		code += r.suffix()[:1]
	}
}

func (r *Registry) suffix() string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	r.randMu.Lock()
	defer r.randMu.Unlock()
	var b strings.Builder
	for i := 0; i < codeSuffixLen; i++ {
		b.WriteByte(alphabet[r.rand.Intn(len(alphabet))])
	}
	return b.String()
}

func codePrefix(name string) string {
	var b strings.Builder
	n := 0
	for _, c := range name {
		if unicode.IsSpace(c) {
			continue
		}
		b.WriteRune(unicode.ToUpper(c))
		n++
		if n == codePrefixLen {
			break
		}
	}
	return b.String()
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
