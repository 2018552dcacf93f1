package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/keyhaven/keybridge/internal/bridge"
	"github.com/keyhaven/keybridge/internal/store"
	"github.com/keyhaven/keybridge/internal/testutil/testlog"
	"github.com/keyhaven/keybridge/internal/wire"
)

// fakeRemote stands in for a live connection so the cache layer's routing
// decisions can be tested without sockets.
type fakeRemote struct {
	mu      sync.Mutex
	state   bridge.State
	hooks   []bridge.StateHook
	calls   []string
	respond func(method string, params any) (json.RawMessage, error)
}

func newFakeRemote(state bridge.State) *fakeRemote {
	return &fakeRemote{state: state}
}

func (f *fakeRemote) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	state := f.state
	respond := f.respond
	f.mu.Unlock()
	if state != bridge.StateConnected {
		return nil, bridge.ErrConnectionLost
	}
	if respond != nil {
		return respond(method, params)
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (f *fakeRemote) IsAvailable(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == bridge.StateConnected
}

func (f *fakeRemote) State() bridge.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRemote) OnStateChange(hook bridge.StateHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, hook)
}

func (f *fakeRemote) setState(next bridge.State) {
	f.mu.Lock()
	prev := f.state
	f.state = next
	hooks := append([]bridge.StateHook(nil), f.hooks...)
	f.mu.Unlock()
	for _, hook := range hooks {
		hook(prev, next)
	}
}

func (f *fakeRemote) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.calls {
		if m == method {
			n++
		}
	}
	return n
}

// stepClock is a manually advanced clock for staleness checks.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (s *stepClock) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *stepClock) NewTimer(d time.Duration) bridge.Timer {
	return bridge.SystemClock().NewTimer(d)
}

func (s *stepClock) advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

func accountsBinding() Binding {
	return Binding{
		Key:         "accounts",
		ReadMethod:  "accounts.getAll",
		WriteMethod: "accounts.create",
		Invalidates: []string{"summary"},
	}
}

func TestReadConnectedRefreshesStore(t *testing.T) {
	testlog.Start(t)
	remote := newFakeRemote(bridge.StateConnected)
	remote.respond = func(method string, params any) (json.RawMessage, error) {
		return json.RawMessage(`{"accounts":[{"id":1}]}`), nil
	}
	st := store.NewMemory()
	c := New(remote, st)
	if err := c.Bind(accountsBinding()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	v, err := c.Read(context.Background(), "accounts", nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v.Source != SourceRemote || v.Stale {
		t.Fatalf("unexpected value %+v", v)
	}
	entry, ok, err := st.Get("accounts")
	if err != nil || !ok {
		t.Fatalf("store not refreshed: ok=%v err=%v", ok, err)
	}
	if string(entry.Value) != `{"accounts":[{"id":1}]}` {
		t.Fatalf("stored value %s", entry.Value)
	}
}

func TestReadFallsBackToCacheWhenUnreachable(t *testing.T) {
	testlog.Start(t)
	remote := newFakeRemote(bridge.StateDisconnected)
	clock := &stepClock{now: time.Unix(1700000000, 0)}
	st := store.NewMemory()
	c := New(remote, st, WithClock(clock), WithTTL(time.Minute))
	if err := c.Bind(accountsBinding()); err != nil {
		t.Fatalf("bind: %v", err)
	}
	seed := store.Entry{Key: "accounts", Value: json.RawMessage(`{"accounts":[]}`), StoredAt: clock.Now()}
	if err := st.Set(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	v, err := c.Read(context.Background(), "accounts", nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v.Source != SourceCache || v.Stale {
		t.Fatalf("expected fresh cached value, got %+v", v)
	}

	clock.advance(2 * time.Minute)
	v, err = c.Read(context.Background(), "accounts", nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v.Source != SourceCache || !v.Stale {
		t.Fatalf("expected stale cached value, got %+v", v)
	}
}

func TestReadWithNoDataAnywhere(t *testing.T) {
	testlog.Start(t)
	remote := newFakeRemote(bridge.StateDisconnected)
	c := New(remote, store.NewMemory())
	if err := c.Bind(accountsBinding()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	v, err := c.Read(context.Background(), "accounts", nil)
	if err != nil {
		t.Fatalf("no-data read must not error: %v", err)
	}
	if v.Source != SourceNone || v.Data != nil {
		t.Fatalf("expected explicit no-data, got %+v", v)
	}
}

func TestReadRemoteFaultDoesNotFallBack(t *testing.T) {
	testlog.Start(t)
	remote := newFakeRemote(bridge.StateConnected)
	remote.respond = func(method string, params any) (json.RawMessage, error) {
		return nil, &wire.Error{Code: wire.CodeInvalidParams, Message: "bad filter"}
	}
	st := store.NewMemory()
	seed := store.Entry{Key: "accounts", Value: json.RawMessage(`{"accounts":[]}`), StoredAt: time.Now()}
	if err := st.Set(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	c := New(remote, st)
	if err := c.Bind(accountsBinding()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	_, err := c.Read(context.Background(), "accounts", nil)
	var remoteErr *wire.Error
	if !errors.As(err, &remoteErr) || remoteErr.Code != wire.CodeInvalidParams {
		t.Fatalf("expected companion fault to propagate, got %v", err)
	}
}

func TestWriteOfflineFailsAndLeavesCacheAlone(t *testing.T) {
	testlog.Start(t)
	remote := newFakeRemote(bridge.StateDisconnected)
	st := store.NewMemory()
	seed := store.Entry{Key: "accounts", Value: json.RawMessage(`{"accounts":[]}`), StoredAt: time.Now()}
	if err := st.Set(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	c := New(remote, st)
	if err := c.Bind(accountsBinding()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	_, err := c.Write(context.Background(), "accounts", map[string]any{"name": "x"})
	if !errors.Is(err, bridge.ErrConnectionLost) {
		t.Fatalf("expected connection error, got %v", err)
	}
	entry, ok, _ := st.Get("accounts")
	if !ok || string(entry.Value) != `{"accounts":[]}` {
		t.Fatalf("failed write must not touch the cache: ok=%v value=%s", ok, entry.Value)
	}
}

func TestWriteInvalidatesBoundKeys(t *testing.T) {
	testlog.Start(t)
	remote := newFakeRemote(bridge.StateConnected)
	st := store.NewMemory()
	for _, key := range []string{"accounts", "summary"} {
		err := st.Set(store.Entry{Key: key, Value: json.RawMessage(`{}`), StoredAt: time.Now()})
		if err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	c := New(remote, st)
	if err := c.Bind(accountsBinding()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if _, err := c.Write(context.Background(), "accounts", map[string]any{"name": "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, key := range []string{"accounts", "summary"} {
		if _, ok, _ := st.Get(key); ok {
			t.Fatalf("key %q survived invalidation", key)
		}
	}
}

func TestWriteWithoutWriteMethod(t *testing.T) {
	testlog.Start(t)
	c := New(newFakeRemote(bridge.StateConnected), store.NewMemory())
	if err := c.Bind(Binding{Key: "status", ReadMethod: "system.status"}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := c.Write(context.Background(), "status", nil); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestUnknownBinding(t *testing.T) {
	testlog.Start(t)
	c := New(newFakeRemote(bridge.StateConnected), store.NewMemory())
	if _, err := c.Read(context.Background(), "ghost", nil); !errors.Is(err, ErrUnknownBinding) {
		t.Fatalf("expected ErrUnknownBinding, got %v", err)
	}
	if _, err := c.Write(context.Background(), "ghost", nil); !errors.Is(err, ErrUnknownBinding) {
		t.Fatalf("expected ErrUnknownBinding, got %v", err)
	}
}

func TestReconnectTriggersSync(t *testing.T) {
	testlog.Start(t)
	remote := newFakeRemote(bridge.StateDisconnected)
	remote.respond = func(method string, params any) (json.RawMessage, error) {
		return json.RawMessage(`{"accounts":[{"id":7}]}`), nil
	}
	st := store.NewMemory()
	c := New(remote, st)
	if err := c.Bind(accountsBinding()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	remote.setState(bridge.StateConnected)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if entry, ok, _ := st.Get("accounts"); ok && string(entry.Value) == `{"accounts":[{"id":7}]}` {
			if remote.callCount("accounts.getAll") == 0 {
				t.Fatalf("store updated without a companion read")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("reconnect sync never refreshed the store")
}
