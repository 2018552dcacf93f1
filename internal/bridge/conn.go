package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keyhaven/keybridge/internal/bridge/transport"
	"github.com/keyhaven/keybridge/internal/observability"
	"github.com/keyhaven/keybridge/internal/wire"
)

// State is the connection lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StateHook observes state transitions. Hooks run with internal locks held
// and must not call back into the Conn synchronously; spawn a goroutine for
// anything beyond bookkeeping.
type StateHook func(old, new State)

// Conn owns exactly one duplex stream to the companion process and
// multiplexes logical calls over it through the correlator. It connects
// lazily on first use, reconnects with backoff after unexpected stream loss,
// and gives up into StateFailed after MaxReconnectAttempts consecutive
// failures until Connect is called again.
type Conn struct {
	cfg       Config
	transport transport.Transport
	clock     Clock
	corr      *Correlator
	logger    zerolog.Logger

	writeMu sync.Mutex

	// dialMu serializes connection attempts so at most one dial/handshake
	// is ever in flight; overlapping Connect calls join the winner instead
	// of racing it with a second stream.
	dialMu sync.Mutex

	mu           sync.Mutex
	state        State
	stream       io.ReadWriteCloser
	gen          uint64
	retryTimer   Timer
	retryCancel  chan struct{}
	retryAttempt int
	manual       bool
	rng          *rand.Rand
	hooks        []StateHook
}

type Option func(*Conn)

func WithClock(clock Clock) Option {
	return func(c *Conn) { c.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Conn) { c.logger = logger }
}

func New(t transport.Transport, cfg Config, opts ...Option) *Conn {
	cfg = cfg.WithDefaults()
	c := &Conn{
		cfg:       cfg,
		transport: t,
		clock:     SystemClock(),
		corr:      NewCorrelator(cfg.MaxPending),
		logger:    log.Logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) PendingCount() int {
	return c.corr.PendingCount()
}

// OnStateChange registers a transition hook. Register before traffic starts.
func (c *Conn) OnStateChange(hook StateHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Connect dials and handshakes explicitly, clearing StateFailed and any
// manual-disconnect hold. A Connect overlapping an in-flight attempt waits
// for it and shares its stream.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.manual = false
	c.retryAttempt = 0
	c.cancelRetryLocked()
	c.mu.Unlock()
	return c.connect(ctx, true)
}

// connect is the single entry point for dialing. dialMu guarantees one
// attempt at a time; a caller arriving second re-checks state under the
// lock and returns without dialing if the first attempt already won.
func (c *Conn) connect(ctx context.Context, explicit bool) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	c.cancelRetryLocked()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.manual {
		c.mu.Unlock()
		return ErrDisconnected
	}
	if !explicit && c.state == StateFailed {
		c.mu.Unlock()
		return ErrReconnectExhausted
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if err := c.establish(ctx); err != nil {
		c.mu.Lock()
		// Only the attempt that still owns the state may demote it.
		if c.state == StateConnecting {
			c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect tears the stream down, rejects all outstanding requests, and
// holds off auto-reconnect until Connect is called again.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	c.manual = true
	c.cancelRetryLocked()
	stream := c.stream
	c.stream = nil
	if stream != nil {
		c.gen++
	}
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	var err error
	if stream != nil {
		err = stream.Close()
	}
	c.corr.FailAll(ErrConnectionLost)
	return err
}

// Call sends method with params and blocks until a response, the call
// timeout, or ctx cancellation.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	start := c.clock.Now()
	payload, err := c.call(ctx, method, params, c.cfg.CallTimeout)
	observability.RecordRPCCall(method, callOutcome(err), c.clock.Now().Sub(start))
	return payload, err
}

// IsAvailable probes the companion with a short-deadline ping. It never
// returns an error; any failure means "pick the offline path".
func (c *Conn) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	_, err := c.call(probeCtx, "system.ping", nil, c.cfg.ProbeTimeout)
	return err == nil
}

func (c *Conn) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	return c.do(ctx, method, params, timeout)
}

// ensureConnected performs the lazy first dial; once a connection has ever
// been attempted, drops are the reconnect machinery's problem and callers
// fail fast while it works.
func (c *Conn) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateFailed:
		c.mu.Unlock()
		return ErrReconnectExhausted
	case StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return ErrConnectionLost
	}
	if c.manual {
		c.mu.Unlock()
		return ErrDisconnected
	}
	c.mu.Unlock()
	return c.connect(ctx, false)
}

// establish dials a fresh stream, starts its read loop, and completes the
// ping handshake before declaring the connection usable.
func (c *Conn) establish(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	stream, err := c.transport.Dial(dialCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("bridge: dial companion: %w", err)
	}

	c.mu.Lock()
	c.stream = stream
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.readLoop(stream, gen)

	handshakeCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	_, err = c.do(handshakeCtx, "system.ping", nil, c.cfg.HandshakeTimeout)
	cancel()
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.stream = nil
			c.gen++
		}
		c.mu.Unlock()
		_ = stream.Close()
		return fmt.Errorf("bridge: handshake: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen || c.stream == nil {
		// The stream died between the handshake response and here.
		c.mu.Unlock()
		_ = stream.Close()
		return ErrConnectionLost
	}
	c.retryAttempt = 0
	c.setStateLocked(StateConnected)
	c.mu.Unlock()
	return nil
}

// do registers a pending call, writes the request frame, and waits for
// exactly one terminal outcome: response, timeout, or cancellation.
func (c *Conn) do(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	pc, err := c.corr.Register()
	if err != nil {
		return nil, err
	}
	req, err := wire.NewRequest(pc.id, method, params)
	if err != nil {
		c.corr.Cancel(pc.id)
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		c.corr.Cancel(pc.id)
		return nil, fmt.Errorf("bridge: marshal request: %w", err)
	}

	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		c.corr.Cancel(pc.id)
		return nil, ErrConnectionLost
	}

	c.writeMu.Lock()
	err = wire.WriteFrame(stream, payload, c.cfg.Limits)
	c.writeMu.Unlock()
	if err != nil {
		c.corr.Cancel(pc.id)
		return nil, fmt.Errorf("bridge: write request: %w", err)
	}

	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-pc.ch:
		return res.payload, res.err
	case <-timer.C():
		if c.corr.Expire(pc.id) {
			return nil, fmt.Errorf("%w: method=%s", ErrTimeout, method)
		}
		// The response won the race; take it.
		res := <-pc.ch
		return res.payload, res.err
	case <-ctx.Done():
		if c.corr.Cancel(pc.id) {
			return nil, ctx.Err()
		}
		res := <-pc.ch
		return res.payload, res.err
	}
}

// readLoop decodes frames off one stream generation until it dies. Malformed
// envelopes are dropped without killing the stream; framing errors are fatal.
func (c *Conn) readLoop(stream io.Reader, gen uint64) {
	for {
		payload, err := wire.ReadFrame(stream, c.cfg.Limits)
		if err != nil {
			c.handleStreamLoss(gen, err)
			return
		}
		resp, err := wire.ParseResponse(payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed response envelope")
			continue
		}
		c.corr.Resolve(resp)
	}
}

func (c *Conn) handleStreamLoss(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	stream := c.stream
	c.stream = nil
	c.gen++
	wasConnected := c.state == StateConnected
	manual := c.manual
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	c.corr.FailAll(fmt.Errorf("%w: %v", ErrConnectionLost, cause))

	if errors.Is(cause, io.EOF) {
		c.logger.Info().Msg("companion closed the stream")
	} else {
		c.logger.Warn().Err(cause).Msg("companion stream lost")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !wasConnected {
		// A dial or handshake in flight owns this failure.
		return
	}
	c.setStateLocked(StateDisconnected)
	if manual {
		return
	}
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the single reconnect timer. A second stream
// loss while one is pending is absorbed here.
func (c *Conn) scheduleReconnectLocked() {
	if c.retryTimer != nil {
		return
	}
	c.retryAttempt++
	delay := NextBackoffDelay(c.cfg.Backoff, c.retryAttempt, c.rng)
	c.setStateLocked(StateReconnecting)
	c.logger.Info().
		Int("attempt", c.retryAttempt).
		Dur("delay", delay).
		Msg("scheduling reconnect")

	timer := c.clock.NewTimer(delay)
	cancel := make(chan struct{})
	c.retryTimer = timer
	c.retryCancel = cancel
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C():
		case <-cancel:
			return
		}
		c.runReconnect()
	}()
}

func (c *Conn) runReconnect() {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.manual || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	c.retryCancel = nil
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	observability.RecordReconnectAttempt()
	err := c.establish(context.Background())
	if err == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manual {
		c.setStateLocked(StateDisconnected)
		return
	}
	if c.state != StateConnecting {
		// An explicit Connect took over while we were dialing.
		return
	}
	c.setStateLocked(StateDisconnected)
	if c.retryAttempt >= c.cfg.MaxReconnectAttempts {
		c.logger.Error().
			Int("attempts", c.retryAttempt).
			Err(err).
			Msg("reconnect attempts exhausted")
		c.setStateLocked(StateFailed)
		return
	}
	c.scheduleReconnectLocked()
}

func (c *Conn) cancelRetryLocked() {
	if c.retryCancel != nil {
		close(c.retryCancel)
		c.retryCancel = nil
		c.retryTimer = nil
	}
}

func (c *Conn) setStateLocked(next State) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	c.logger.Debug().
		Stringer("from", prev).
		Stringer("to", next).
		Msg("connection state change")
	for _, hook := range c.hooks {
		hook(prev, next)
	}
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case Unavailable(err):
		return "unavailable"
	default:
		var remote *wire.Error
		if errors.As(err, &remote) {
			return "remote_fault"
		}
		return "error"
	}
}
