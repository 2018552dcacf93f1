package bridge

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/keyhaven/keybridge/internal/testutil/testlog"
	"github.com/keyhaven/keybridge/internal/wire"
)

func TestRegisterAssignsDistinctIDs(t *testing.T) {
	testlog.Start(t)
	c := NewCorrelator(64)

	const k = 32
	var wg sync.WaitGroup
	ids := make(chan uint64, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pc, err := c.Register()
			if err != nil {
				t.Errorf("register: %v", err)
				return
			}
			ids <- pc.id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != k {
		t.Fatalf("expected %d distinct ids, got %d", k, len(seen))
	}
}

func TestResolvePermutedOrder(t *testing.T) {
	testlog.Start(t)
	c := NewCorrelator(64)

	const k = 16
	calls := make([]*pendingCall, 0, k)
	for i := 0; i < k; i++ {
		pc, err := c.Register()
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		calls = append(calls, pc)
	}

	perm := rand.New(rand.NewSource(42)).Perm(k)
	for _, i := range perm {
		pc := calls[i]
		resp, err := wire.NewResult(pc.id, map[string]uint64{"id": pc.id})
		if err != nil {
			t.Fatalf("result: %v", err)
		}
		c.Resolve(resp)
	}

	for _, pc := range calls {
		select {
		case res := <-pc.ch:
			if res.err != nil {
				t.Fatalf("id=%d unexpected error: %v", pc.id, res.err)
			}
			want := fmt.Sprintf(`{"id":%d}`, pc.id)
			if string(res.payload) != want {
				t.Fatalf("id=%d resolved with wrong payload %s", pc.id, res.payload)
			}
		default:
			t.Fatalf("id=%d not resolved", pc.id)
		}
	}
	if c.PendingCount() != 0 {
		t.Fatalf("pending map not drained: %d", c.PendingCount())
	}
}

func TestResolveUnknownIDIsDiscarded(t *testing.T) {
	testlog.Start(t)
	c := NewCorrelator(4)
	resp, err := wire.NewResult(999, "orphan")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	// Must not panic or block.
	c.Resolve(resp)
	if c.PendingCount() != 0 {
		t.Fatalf("discard path mutated pending map")
	}
}

func TestExpireThenLateResponse(t *testing.T) {
	testlog.Start(t)
	c := NewCorrelator(4)
	pc, err := c.Register()
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !c.Expire(pc.id) {
		t.Fatalf("expire should remove a present entry")
	}
	if c.Expire(pc.id) {
		t.Fatalf("second expire must be a no-op")
	}
	// The late response for the expired id hits the discard path.
	resp, _ := wire.NewResult(pc.id, "late")
	c.Resolve(resp)
	select {
	case res := <-pc.ch:
		t.Fatalf("expired call must never resolve, got %+v", res)
	default:
	}
}

func TestFailAllDrainsEverything(t *testing.T) {
	testlog.Start(t)
	c := NewCorrelator(8)
	calls := make([]*pendingCall, 0, 5)
	for i := 0; i < 5; i++ {
		pc, err := c.Register()
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		calls = append(calls, pc)
	}
	c.FailAll(ErrConnectionLost)
	for _, pc := range calls {
		select {
		case res := <-pc.ch:
			if !errors.Is(res.err, ErrConnectionLost) {
				t.Fatalf("id=%d expected ErrConnectionLost, got %v", pc.id, res.err)
			}
		default:
			t.Fatalf("id=%d not rejected", pc.id)
		}
	}
	if c.PendingCount() != 0 {
		t.Fatalf("pending map not empty after drain")
	}
}

func TestRegisterRespectsPendingCap(t *testing.T) {
	testlog.Start(t)
	c := NewCorrelator(2)
	for i := 0; i < 2; i++ {
		if _, err := c.Register(); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	if _, err := c.Register(); !errors.Is(err, ErrTooManyPending) {
		t.Fatalf("expected ErrTooManyPending, got %v", err)
	}
}
