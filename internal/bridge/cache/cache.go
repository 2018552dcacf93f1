// Package cache decorates the companion connection with a read-through
// local cache so the extension still has data to show while the companion
// is unreachable. Writes always go to the companion; there is no offline
// write queue.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keyhaven/keybridge/internal/bridge"
	"github.com/keyhaven/keybridge/internal/observability"
	"github.com/keyhaven/keybridge/internal/store"
)

var (
	ErrUnknownBinding = errors.New("cache: no binding for key")
	ErrReadOnly       = errors.New("cache: binding has no write method")
)

// DefaultTTL marks cached data stale after this long without a refresh.
// Stale data is still served; the flag is advisory.
const DefaultTTL = 5 * time.Minute

// Source says where a read's data actually came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
	SourceNone   Source = "none"
)

// Binding ties one cache key to the companion methods that read and write
// it. Invalidates lists additional keys a successful write makes stale.
type Binding struct {
	Key         string
	ReadMethod  string
	WriteMethod string
	Invalidates []string
}

// Value is a read result with its provenance.
type Value struct {
	Data     json.RawMessage
	Source   Source
	Stale    bool
	CachedAt time.Time
}

// Remote is the connection surface the cache layer needs. *bridge.Conn
// satisfies it.
type Remote interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	IsAvailable(ctx context.Context) bool
	State() bridge.State
	OnStateChange(bridge.StateHook)
}

type Option func(*Client)

func WithTTL(ttl time.Duration) Option {
	return func(c *Client) { c.ttl = ttl }
}

func WithClock(clock bridge.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client routes reads through the companion when it is reachable and falls
// back to the local store when it is not. On every reconnect it re-reads
// all bound keys so the cache converges on companion truth.
type Client struct {
	remote Remote
	store  store.Store
	ttl    time.Duration
	clock  bridge.Clock
	logger zerolog.Logger

	mu       sync.RWMutex
	bindings map[string]Binding
}

func New(remote Remote, st store.Store, opts ...Option) *Client {
	c := &Client{
		remote:   remote,
		store:    st,
		ttl:      DefaultTTL,
		clock:    bridge.SystemClock(),
		logger:   log.Logger,
		bindings: make(map[string]Binding),
	}
	for _, opt := range opts {
		opt(c)
	}
	remote.OnStateChange(func(old, new bridge.State) {
		if new != bridge.StateConnected {
			return
		}
		// Hooks run under connection locks; sync on a fresh goroutine.
		go c.syncAll(context.Background())
	})
	return c
}

// Bind registers a binding, replacing any previous one for the same key.
func (c *Client) Bind(b Binding) error {
	if b.Key == "" || b.ReadMethod == "" {
		return fmt.Errorf("cache: binding needs a key and a read method")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[b.Key] = b
	return nil
}

func (c *Client) binding(key string) (Binding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bindings[key]
	return b, ok
}

// Read returns companion data when reachable, cached data when not, and an
// explicit SourceNone value when neither exists. Companion application
// faults are returned as errors, never papered over with cached data.
func (c *Client) Read(ctx context.Context, key string, params any) (Value, error) {
	b, ok := c.binding(key)
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownBinding, key)
	}

	if c.remote.State() == bridge.StateConnected || c.remote.IsAvailable(ctx) {
		data, err := c.remote.Call(ctx, b.ReadMethod, params)
		switch {
		case err == nil:
			c.refresh(b.Key, data)
			observability.RecordCacheRead(string(SourceRemote), false)
			return Value{Data: data, Source: SourceRemote, CachedAt: c.clock.Now()}, nil
		case !bridge.Unavailable(err):
			return Value{}, err
		}
		// Unavailability mid-call; fall through to the store.
	}
	return c.readCached(b.Key)
}

func (c *Client) readCached(key string) (Value, error) {
	entry, ok, err := c.store.Get(key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache store read failed")
		ok = false
	}
	if !ok {
		observability.RecordCacheRead(string(SourceNone), false)
		return Value{Source: SourceNone}, nil
	}
	stale := c.clock.Now().Sub(entry.StoredAt) > c.ttl
	observability.RecordCacheRead(string(SourceCache), stale)
	return Value{Data: entry.Value, Source: SourceCache, Stale: stale, CachedAt: entry.StoredAt}, nil
}

// Write sends a mutation to the companion. A failure propagates untouched
// and leaves the cache exactly as it was; a success invalidates the bound
// key and everything the binding names.
func (c *Client) Write(ctx context.Context, key string, params any) (json.RawMessage, error) {
	b, ok := c.binding(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBinding, key)
	}
	if b.WriteMethod == "" {
		return nil, fmt.Errorf("%w: %q", ErrReadOnly, key)
	}

	result, err := c.remote.Call(ctx, b.WriteMethod, params)
	if err != nil {
		return nil, err
	}
	c.invalidate(b.Key)
	for _, k := range b.Invalidates {
		c.invalidate(k)
	}
	return result, nil
}

// SyncNow refreshes every bound key from the companion. Per-key failures
// are logged and skipped; stale entries are better than missing ones.
func (c *Client) SyncNow(ctx context.Context) {
	c.syncAll(ctx)
}

func (c *Client) syncAll(ctx context.Context) {
	c.mu.RLock()
	bindings := make([]Binding, 0, len(c.bindings))
	for _, b := range c.bindings {
		bindings = append(bindings, b)
	}
	c.mu.RUnlock()

	for _, b := range bindings {
		data, err := c.remote.Call(ctx, b.ReadMethod, nil)
		if err != nil {
			c.logger.Warn().Err(err).
				Str("key", b.Key).
				Str("method", b.ReadMethod).
				Msg("cache sync skipped key")
			continue
		}
		c.refresh(b.Key, data)
	}
	c.logger.Debug().Int("keys", len(bindings)).Msg("cache sync complete")
}

func (c *Client) refresh(key string, data json.RawMessage) {
	err := c.store.Set(store.Entry{Key: key, Value: data, StoredAt: c.clock.Now()})
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache store write failed")
	}
}

func (c *Client) invalidate(key string) {
	if err := c.store.Delete(key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache invalidation failed")
	}
}
