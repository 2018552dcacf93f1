package bridge

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/keyhaven/keybridge/internal/observability"
	"github.com/keyhaven/keybridge/internal/wire"
)

type callResult struct {
	payload json.RawMessage
	err     error
}

// pendingCall is one outstanding request. The channel is buffered so the
// resolving side never blocks on a waiter that already gave up. Expiry is
// the caller's job: the correlator only tracks ids.
type pendingCall struct {
	id uint64
	ch chan callResult
}

// Correlator multiplexes many logical calls over one stream by tracking
// outstanding request ids. Every entry leaves the map exactly once: through
// Resolve, Expire, Cancel, or FailAll.
type Correlator struct {
	mu         sync.Mutex
	nextID     uint64
	pending    map[uint64]*pendingCall
	maxPending int
}

func NewCorrelator(maxPending int) *Correlator {
	if maxPending <= 0 {
		maxPending = DefaultConfig().MaxPending
	}
	return &Correlator{
		pending:    make(map[uint64]*pendingCall),
		maxPending: maxPending,
	}
}

// Register allocates the next id and tracks a pending call against it. Ids
// increase monotonically, wrap at the uint64 boundary, skip zero, and are
// never reissued while still outstanding.
func (c *Correlator) Register() (*pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) >= c.maxPending {
		return nil, fmt.Errorf("%w: cap=%d", ErrTooManyPending, c.maxPending)
	}
	for {
		c.nextID++
		if c.nextID == 0 {
			continue
		}
		if _, taken := c.pending[c.nextID]; !taken {
			break
		}
	}
	pc := &pendingCall{
		id: c.nextID,
		ch: make(chan callResult, 1),
	}
	c.pending[pc.id] = pc
	return pc, nil
}

// Resolve completes the pending call matching the response id. Responses with
// no matching entry (late, duplicate, or unknown) are logged and discarded.
func (c *Correlator) Resolve(resp wire.Response) {
	pc := c.take(resp.ID)
	if pc == nil {
		observability.RecordDiscardedResponse()
		log.Debug().Uint64("id", resp.ID).Msg("discarding response with no pending request")
		return
	}
	if resp.Err != nil {
		pc.ch <- callResult{err: resp.Err}
		return
	}
	pc.ch <- callResult{payload: resp.Result}
}

// Expire removes the entry for id if still present. The caller owns the
// timeout outcome; a response arriving afterwards hits the discard path.
func (c *Correlator) Expire(id uint64) bool {
	return c.take(id) != nil
}

// Cancel removes the entry for id without recording an outcome, for callers
// abandoning a request on context cancellation.
func (c *Correlator) Cancel(id uint64) bool {
	return c.take(id) != nil
}

// FailAll drains every pending call, rejecting each with err. Called when the
// stream closes underneath outstanding requests.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	drained := c.pending
	c.pending = make(map[uint64]*pendingCall)
	c.mu.Unlock()
	for _, pc := range drained {
		pc.ch <- callResult{err: err}
	}
}

func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) take(id uint64) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return pc
}
