// Package broadcast carries short admin announcements between views of the
// same store. Delivery is best effort: a message is shown only while it is
// younger than FreshnessWindow, and nothing is retried or ordered.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"yintrade/internal/kv"
)

const (
	Key             = "yin_trade_broadcast"
	FreshnessWindow = 5 * time.Second
)

var ErrEmptyMessage = errors.New("broadcast message is empty")

type Message struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func (m Message) SentAt() time.Time { return time.UnixMilli(m.Timestamp) }

// Fresh decodes a stored payload and reports whether it should still be
// shown at now. Malformed payloads are never fresh.
func Fresh(raw string, now time.Time) (Message, bool) {
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Message{}, false
	}
	if strings.TrimSpace(m.Message) == "" {
		return Message{}, false
	}
	if now.UnixMilli()-m.Timestamp >= FreshnessWindow.Milliseconds() {
		return Message{}, false
	}
	return m, true
}

// Channel sends and receives broadcasts through one store view. Subscribers
// of a Channel also receive that Channel's own sends; other views receive
// them through store change events.
type Channel struct {
	store kv.WatchStore
	log   *slog.Logger
	now   func() time.Time

	mu   sync.Mutex
	subs map[chan Message]struct{}
	// The store watch runs while at least one Start context is live.
	stopWatch context.CancelFunc
	starters  int
	gen       uint64
}

func NewChannel(store kv.WatchStore, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		store: store,
		log:   logger,
		now:   time.Now,
		subs:  make(map[chan Message]struct{}),
	}
}

func (c *Channel) Send(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	m := Message{Message: text, Timestamp: c.now().UnixMilli()}
	if err := kv.WriteJSON(ctx, c.store, Key, m); err != nil {
		return Message{}, err
	}
	c.mu.Lock()
	for ch := range c.subs {
		deliver(ch, m)
	}
	c.mu.Unlock()
	c.log.Info("broadcast sent", "timestamp", m.Timestamp)
	return m, nil
}

// Latest returns the stored message if it is still fresh.
func (c *Channel) Latest(ctx context.Context) (Message, bool, error) {
	raw, ok, err := c.store.Get(ctx, Key)
	if err != nil || !ok {
		return Message{}, false, err
	}
	m, fresh := Fresh(raw, c.now())
	return m, fresh, nil
}

// Start watches the store and fans fresh messages out to subscribers until
// ctx is done. The watch is registered before Start returns. Concurrent
// Start calls share one watch, which stops when the last of their contexts
// ends; a later Start opens a new one.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopWatch == nil {
		watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		changes, err := c.store.Watch(watchCtx)
		if err != nil {
			cancel()
			return err
		}
		c.gen++
		c.stopWatch = cancel
		c.starters = 0
		go c.fanOut(watchCtx, c.gen, changes)
	}
	c.starters++
	gen := c.gen
	go func() {
		<-ctx.Done()
		c.release(gen)
	}()
	return nil
}

func (c *Channel) release(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.stopWatch == nil {
		return
	}
	c.starters--
	if c.starters == 0 {
		c.stopWatch()
		c.stopWatch = nil
	}
}

func (c *Channel) fanOut(ctx context.Context, gen uint64, changes <-chan kv.Change) {
	defer func() {
		c.mu.Lock()
		if gen == c.gen && c.stopWatch != nil {
			c.log.Warn("broadcast watch closed by store")
			c.stopWatch()
			c.stopWatch = nil
			c.starters = 0
		}
		c.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			if ch.Key != Key || ch.Deleted {
				continue
			}
			m, fresh := Fresh(ch.NewValue, c.now())
			if !fresh {
				c.log.Debug("stale or malformed broadcast dropped")
				continue
			}
			c.mu.Lock()
			for sub := range c.subs {
				deliver(sub, m)
			}
			c.mu.Unlock()
		}
	}
}

// Subscribe registers a reader until ctx is done, then closes its channel.
// A slow reader loses messages rather than blocking the sender.
func (c *Channel) Subscribe(ctx context.Context) <-chan Message {
	out := make(chan Message, 16)
	c.mu.Lock()
	c.subs[out] = struct{}{}
	c.mu.Unlock()
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subs, out)
		close(out)
		c.mu.Unlock()
	}()
	return out
}

// Listen calls handle for every fresh message until ctx is done.
func (c *Channel) Listen(ctx context.Context, handle func(Message)) error {
	msgs := c.Subscribe(ctx)
	if err := c.Start(ctx); err != nil {
		return err
	}
	for m := range msgs {
		handle(m)
	}
	return nil
}

func deliver(ch chan Message, m Message) {
	select {
	case ch <- m:
	default:
	}
}
