package kv

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is a shared in-process map. Each View behaves like one browser tab
// over the same storage area.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
	subs map[chan Change]string
}

func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]string),
		subs: make(map[chan Change]string),
	}
}

func (m *Memory) View() *MemoryView {
	return &MemoryView{mem: m, origin: uuid.NewString()}
}

type MemoryView struct {
	mem    *Memory
	origin string
}

func (v *MemoryView) Origin() string { return v.origin }

func (v *MemoryView) Get(_ context.Context, key string) (string, bool, error) {
	v.mem.mu.RLock()
	defer v.mem.mu.RUnlock()
	val, ok := v.mem.data[key]
	return val, ok, nil
}

func (v *MemoryView) Set(_ context.Context, key, value string) error {
	v.mem.mu.Lock()
	old, existed := v.mem.data[key]
	v.mem.data[key] = value
	v.mem.mu.Unlock()
	if existed && old == value {
		return nil
	}
	v.mem.publish(Change{Key: key, OldValue: old, NewValue: value, Origin: v.origin})
	return nil
}

func (v *MemoryView) Remove(_ context.Context, key string) error {
	v.mem.mu.Lock()
	old, existed := v.mem.data[key]
	delete(v.mem.data, key)
	v.mem.mu.Unlock()
	if !existed {
		return nil
	}
	v.mem.publish(Change{Key: key, OldValue: old, Deleted: true, Origin: v.origin})
	return nil
}

func (v *MemoryView) Watch(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 64)
	v.mem.mu.Lock()
	v.mem.subs[ch] = v.origin
	v.mem.mu.Unlock()
	go func() {
		<-ctx.Done()
		v.mem.mu.Lock()
		if _, ok := v.mem.subs[ch]; ok {
			delete(v.mem.subs, ch)
			close(ch)
		}
		v.mem.mu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) publish(c Change) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for ch, origin := range m.subs {
		if origin == c.Origin {
			continue
		}
		select {
		case ch <- c:
		default:
		}
	}
}
