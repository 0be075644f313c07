package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const DefaultPollEvery = 250 * time.Millisecond

// File keeps every key in one JSON object on disk. Each operation re-reads
// the file, so separate processes sharing the path see each other's writes.
// Writers hold an exclusive lock on a sibling .lock file from load to save,
// so concurrent writes to different keys never drop each other.
type File struct {
	path      string
	lock      *flock.Flock
	log       *slog.Logger
	pollEvery time.Duration

	mu       sync.Mutex
	watchers map[*fileWatch]struct{}
}

type fileWatch struct {
	seen map[string]string
	ch   chan Change
}

func NewFile(path string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return &File{
		path:      path,
		lock:      flock.New(path + ".lock"),
		log:       logger,
		pollEvery: DefaultPollEvery,
		watchers:  make(map[*fileWatch]struct{}),
	}, nil
}

// DefaultPath is ~/.yintrade/store.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".yintrade", "store.json"), nil
}

func (f *File) SetPollInterval(d time.Duration) {
	if d > 0 {
		f.pollEvery = d
	}
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.loadShared()
	if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", f.path, err)
	}
	defer f.unlock()
	data, err := f.load()
	if err != nil {
		return err
	}
	data[key] = value
	if err := f.save(data); err != nil {
		return err
	}
	for w := range f.watchers {
		w.seen[key] = value
	}
	return nil
}

func (f *File) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", f.path, err)
	}
	defer f.unlock()
	data, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	if err := f.save(data); err != nil {
		return err
	}
	for w := range f.watchers {
		delete(w.seen, key)
	}
	return nil
}

// Watch polls the file and reports keys changed by other writers.
func (f *File) Watch(ctx context.Context) (<-chan Change, error) {
	f.mu.Lock()
	data, err := f.loadShared()
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	w := &fileWatch{seen: data, ch: make(chan Change, 64)}
	f.watchers[w] = struct{}{}
	f.mu.Unlock()

	go func() {
		ticker := time.NewTicker(f.pollEvery)
		defer ticker.Stop()
		defer func() {
			f.mu.Lock()
			delete(f.watchers, w)
			f.mu.Unlock()
			close(w.ch)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, c := range f.poll(w) {
					select {
					case w.ch <- c:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return w.ch, nil
}

func (f *File) poll(w *fileWatch) []Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, err := f.loadShared()
	if err != nil {
		f.log.Warn("kv file poll failed", "path", f.path, "err", err)
		return nil
	}
	var out []Change
	for k, v := range current {
		old, ok := w.seen[k]
		if ok && old == v {
			continue
		}
		out = append(out, Change{Key: k, OldValue: old, NewValue: v})
	}
	for k, old := range w.seen {
		if _, ok := current[k]; !ok {
			out = append(out, Change{Key: k, OldValue: old, Deleted: true})
		}
	}
	w.seen = current
	return out
}

func (f *File) loadShared() (map[string]string, error) {
	if err := f.lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", f.path, err)
	}
	defer f.unlock()
	return f.load()
}

func (f *File) unlock() {
	if err := f.lock.Unlock(); err != nil {
		f.log.Warn("kv file unlock failed", "path", f.path, "err", err)
	}
}

// load reads the file; callers hold the file lock.
func (f *File) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	out := map[string]string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		f.log.Warn("kv file unreadable, starting empty", "path", f.path, "err", err)
		return map[string]string{}, nil
	}
	return out, nil
}

func (f *File) save(data map[string]string) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
