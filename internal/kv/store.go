// Package kv is the persistence layer behind every piece of game state.
//
// Values are strings. Structured values are JSON documents written and read
// whole; there is no partial update and no transaction. Concurrent writers
// through different views race with last-writer-wins semantics.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
)

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Change is a storage event. Watchers never see changes made through their
// own view.
type Change struct {
	Key      string
	OldValue string
	NewValue string
	Deleted  bool
	Origin   string
}

type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

type WatchStore interface {
	Store
	Watcher
}

// ReadJSON decodes the value under key into out, which must be a non-nil
// pointer. A missing key leaves out untouched. Content that does not decode,
// including well-formed JSON of the wrong shape, is logged and treated as
// absent; out is only assigned after a complete decode.
func ReadJSON(ctx context.Context, s Store, key string, out any, logger *slog.Logger) (bool, error) {
	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return false, fmt.Errorf("kv: ReadJSON needs a non-nil pointer, got %T", out)
	}
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok || raw == "" {
		return false, err
	}
	staged := reflect.New(dst.Elem().Type())
	if err := json.Unmarshal([]byte(raw), staged.Interface()); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("discarding unreadable stored value", "key", key, "err", err)
		return false, nil
	}
	dst.Elem().Set(staged.Elem())
	return true, nil
}

func WriteJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(raw))
}
