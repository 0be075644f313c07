// Package profile manages the persisted profile collection, the active
// profile pointer and each profile's trading state.
package profile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"yintrade/internal/game"
	"yintrade/internal/kv"

	"github.com/google/uuid"
)

const (
	ActiveProfileKey = "yin_trade_active_profile_id"
	ProfilesKey      = "yin_trade_profiles"
	StateKeyPrefix   = "yin_trade_state_"
)

var (
	ErrProfileNotFound  = errors.New("profile not found")
	ErrPasswordMismatch = errors.New("incorrect password")
	ErrReservedName     = errors.New("profile name is reserved")
	ErrDuplicateName    = errors.New("profile name already taken")
	ErrNameRequired     = errors.New("profile name is required")
	ErrPasswordRequired = errors.New("password is required")
	ErrPasswordTooLong  = errors.New("password is too long")
)

type Config struct {
	Hasher             Hasher
	StartingCashMicros int64
}

type Store struct {
	kv     kv.Store
	log    *slog.Logger
	hasher Hasher
	cash   int64

	mu    sync.Mutex
	admin *game.UserProfile
}

func NewStore(store kv.Store, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Hasher == nil {
		cfg.Hasher = Base64Hasher{}
	}
	if cfg.StartingCashMicros <= 0 {
		cfg.StartingCashMicros = game.StartingCashMicros
	}
	return &Store{
		kv:     store,
		log:    logger,
		hasher: cfg.Hasher,
		cash:   cfg.StartingCashMicros,
	}
}

// List never fails on bad content: an unreadable collection is empty.
func (s *Store) List(ctx context.Context) ([]game.UserProfile, error) {
	var out []game.UserProfile
	if _, err := kv.ReadJSON(ctx, s.kv, ProfilesKey, &out, s.log); err != nil {
		return nil, err
	}
	if out == nil {
		out = []game.UserProfile{}
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (game.UserProfile, error) {
	profiles, err := s.List(ctx)
	if err != nil {
		return game.UserProfile{}, err
	}
	for _, p := range profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return game.UserProfile{}, ErrProfileNotFound
}

func (s *Store) Create(ctx context.Context, name string) (game.UserProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return game.UserProfile{}, ErrNameRequired
	}
	if strings.EqualFold(name, game.AdminName) {
		return game.UserProfile{}, ErrReservedName
	}
	profiles, err := s.List(ctx)
	if err != nil {
		return game.UserProfile{}, err
	}
	for _, p := range profiles {
		if strings.EqualFold(p.Name, name) {
			return game.UserProfile{}, ErrDuplicateName
		}
	}

	p := game.UserProfile{ID: uuid.NewString(), Name: name}
	profiles = append(profiles, p)
	if err := kv.WriteJSON(ctx, s.kv, ProfilesKey, profiles); err != nil {
		return game.UserProfile{}, err
	}
	if err := s.SaveState(ctx, p.ID, game.NewProfileState(s.cash)); err != nil {
		return game.UserProfile{}, err
	}
	s.log.Info("profile created", "profile_id", p.ID, "name", p.Name)
	return p, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	profiles, err := s.List(ctx)
	if err != nil {
		return err
	}
	kept := profiles[:0]
	found := false
	for _, p := range profiles {
		if p.ID == id {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return ErrProfileNotFound
	}
	if err := kv.WriteJSON(ctx, s.kv, ProfilesKey, kept); err != nil {
		return err
	}
	if err := s.kv.Remove(ctx, StateKeyPrefix+id); err != nil {
		return err
	}
	activeID, ok, err := s.kv.Get(ctx, ActiveProfileKey)
	if err != nil {
		return err
	}
	if ok && activeID == id {
		return s.kv.Remove(ctx, ActiveProfileKey)
	}
	return nil
}

// Active returns the signed-in profile or nil. A pointer that no longer
// resolves is cleared.
func (s *Store) Active(ctx context.Context) (*game.UserProfile, error) {
	s.mu.Lock()
	admin := s.admin
	s.mu.Unlock()
	if admin != nil {
		p := *admin
		return &p, nil
	}

	id, ok, err := s.kv.Get(ctx, ActiveProfileKey)
	if err != nil || !ok || id == "" {
		return nil, err
	}
	p, err := s.Get(ctx, id)
	if errors.Is(err, ErrProfileNotFound) {
		s.log.Warn("active profile pointer is stale, clearing", "profile_id", id)
		return nil, s.kv.Remove(ctx, ActiveProfileKey)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetActive signs a profile in. Admin sessions live only in this Store.
func (s *Store) SetActive(ctx context.Context, p game.UserProfile) error {
	if game.IsAdmin(&p) {
		s.mu.Lock()
		s.admin = &p
		s.mu.Unlock()
		return nil
	}
	s.mu.Lock()
	s.admin = nil
	s.mu.Unlock()
	return s.kv.Set(ctx, ActiveProfileKey, p.ID)
}

func (s *Store) ClearActive(ctx context.Context) error {
	s.mu.Lock()
	s.admin = nil
	s.mu.Unlock()
	return s.kv.Remove(ctx, ActiveProfileKey)
}

// Update replaces the stored entry with the same id and writes the whole
// collection back.
func (s *Store) Update(ctx context.Context, p game.UserProfile) error {
	profiles, err := s.List(ctx)
	if err != nil {
		return err
	}
	idx := -1
	for i := range profiles {
		if profiles[i].ID == p.ID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrProfileNotFound
	}
	profiles[idx] = p
	return kv.WriteJSON(ctx, s.kv, ProfilesKey, profiles)
}

func (s *Store) SetPassword(ctx context.Context, id, plain string) (game.UserProfile, error) {
	if strings.TrimSpace(plain) == "" {
		return game.UserProfile{}, ErrPasswordRequired
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return game.UserProfile{}, err
	}
	encoded, err := s.hasher.Hash(plain)
	if err != nil {
		return game.UserProfile{}, err
	}
	p.Password = encoded
	if err := s.Update(ctx, p); err != nil {
		return game.UserProfile{}, err
	}
	return p, nil
}

// Authenticate checks the password when the profile has one. It does not
// touch the active pointer.
func (s *Store) Authenticate(ctx context.Context, id, plain string) (game.UserProfile, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return game.UserProfile{}, err
	}
	if p.HasPassword() && !VerifyPassword(plain, p.Password) {
		return game.UserProfile{}, ErrPasswordMismatch
	}
	return p, nil
}

// Login authenticates and signs in.
func (s *Store) Login(ctx context.Context, id, plain string) (game.UserProfile, error) {
	p, err := s.Authenticate(ctx, id, plain)
	if err != nil {
		return game.UserProfile{}, err
	}
	if err := s.SetActive(ctx, p); err != nil {
		return game.UserProfile{}, err
	}
	return p, nil
}

// FindByName matches case-insensitively.
func (s *Store) FindByName(ctx context.Context, name string) (game.UserProfile, error) {
	profiles, err := s.List(ctx)
	if err != nil {
		return game.UserProfile{}, err
	}
	name = strings.TrimSpace(name)
	for _, p := range profiles {
		if p.ID == name || strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return game.UserProfile{}, ErrProfileNotFound
}

// State loads a profile's trading state, falling back to a fresh one when
// nothing readable is stored.
func (s *Store) State(ctx context.Context, id string) (game.ProfileState, error) {
	st := game.NewProfileState(s.cash)
	var stored game.ProfileState
	ok, err := kv.ReadJSON(ctx, s.kv, StateKeyPrefix+id, &stored, s.log)
	if err != nil {
		return st, err
	}
	if !ok {
		return st, nil
	}
	if stored.Portfolio.Holdings == nil {
		stored.Portfolio.Holdings = map[string]game.Holding{}
	}
	if stored.ActiveOrders == nil {
		stored.ActiveOrders = []game.Order{}
	}
	if stored.OrderHistory == nil {
		stored.OrderHistory = []game.Order{}
	}
	return stored, nil
}

func (s *Store) SaveState(ctx context.Context, id string, st game.ProfileState) error {
	return kv.WriteJSON(ctx, s.kv, StateKeyPrefix+id, st)
}
