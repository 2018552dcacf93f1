package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/keyhaven/keybridge/internal/observability"
	"github.com/keyhaven/keybridge/internal/wire"
)

var (
	ErrEmptyNamespace  = errors.New("host: empty namespace")
	ErrDuplicateRoute  = errors.New("host: namespace already registered")
	ErrNilHandler      = errors.New("host: nil handler")
	errOversizedResult = errors.New("host: result exceeds frame limit")
)

// Handler serves every action of one method namespace.
type Handler interface {
	Call(ctx context.Context, action string, params json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, action string, params json.RawMessage) (any, error)

func (f HandlerFunc) Call(ctx context.Context, action string, params json.RawMessage) (any, error) {
	return f(ctx, action, params)
}

// RouterConfig tunes one serving loop.
type RouterConfig struct {
	// Production hides internal fault detail from the wire, replacing it
	// with a correlation id that pairs the response with a server-side log
	// line.
	Production bool
	// Workers above 1 dispatches requests concurrently, bounded by a
	// semaphore. Responses may then leave out of order; the extension
	// matches them by id.
	Workers int
	Limits  wire.Limits
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{Workers: 1, Limits: wire.HostLimits()}
}

func (cfg RouterConfig) WithDefaults() RouterConfig {
	def := DefaultRouterConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.Limits.MaxReadBytes == 0 || cfg.Limits.MaxWriteBytes == 0 {
		cfg.Limits = def.Limits
	}
	return cfg
}

// Router reads request frames off a stream and dispatches them to the
// handler registered for the method's namespace.
type Router struct {
	cfg      RouterConfig
	logger   zerolog.Logger
	writeMu  sync.Mutex
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		cfg:      cfg.WithDefaults(),
		logger:   log.Logger,
		handlers: make(map[string]Handler),
	}
}

func (r *Router) SetLogger(logger zerolog.Logger) {
	r.logger = logger
}

// Register binds a namespace to a handler. Registration happens before
// Serve; there is no live re-registration.
func (r *Router) Register(namespace string, h Handler) error {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return ErrEmptyNamespace
	}
	if h == nil {
		return ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[namespace]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateRoute, namespace)
	}
	r.handlers[namespace] = h
	return nil
}

func (r *Router) handler(namespace string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[namespace]
	return h, ok
}

// Serve decodes frames until the stream closes. A clean close returns nil;
// framing faults return the error since the stream can no longer be
// trusted. Malformed envelopes get a fault response with id 0 and the loop
// continues.
func (r *Router) Serve(ctx context.Context, rw io.ReadWriter) error {
	var sem *semaphore.Weighted
	if r.cfg.Workers > 1 {
		sem = semaphore.NewWeighted(int64(r.cfg.Workers))
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := wire.ReadFrame(rw, r.cfg.Limits)
		if errors.Is(err, io.EOF) {
			r.logger.Info().Msg("client closed the stream")
			return nil
		}
		if err != nil {
			return fmt.Errorf("host: read frame: %w", err)
		}

		req, err := wire.ParseRequest(payload)
		if err != nil {
			code := wire.CodeInvalidParams
			if errors.Is(err, wire.ErrBadEnvelope) {
				code = wire.CodeParse
			}
			r.logger.Warn().Err(err).Msg("rejecting unparseable request")
			r.writeResponse(rw, wire.NewFault(0, code, "malformed request envelope", nil))
			continue
		}

		if sem == nil {
			r.dispatch(ctx, rw, req)
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(req wire.Request) {
			defer sem.Release(1)
			r.dispatch(ctx, rw, req)
		}(req)
	}
}

func (r *Router) dispatch(ctx context.Context, w io.Writer, req wire.Request) {
	start := time.Now()
	namespace, fault, result := r.invoke(ctx, req)
	outcome := "ok"

	var resp wire.Response
	if fault != nil {
		outcome = "fault"
		resp = r.faultResponse(req, fault)
	} else {
		var err error
		resp, err = wire.NewResult(req.ID, result)
		if err != nil {
			outcome = "fault"
			r.logger.Error().Err(err).Str("method", req.Method).Msg("result not serializable")
			resp = r.faultResponse(req, Internal("result not serializable"))
		}
	}

	r.writeResponse(w, resp)
	observability.RecordDispatch(namespace, outcome, time.Since(start))
}

// invoke resolves and runs the handler, converting panics and routing
// misses into faults.
func (r *Router) invoke(ctx context.Context, req wire.Request) (namespace string, fault *Fault, result any) {
	namespace, action, err := wire.SplitMethod(req.Method)
	if err != nil {
		return "unknown", MethodNotFound(req.Method), nil
	}
	h, ok := r.handler(namespace)
	if !ok {
		return namespace, MethodNotFound(req.Method), nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("method", req.Method).
				Interface("panic", rec).
				Msg("handler panicked")
			fault = Internal(fmt.Sprintf("panic in %s: %v", req.Method, rec))
			result = nil
		}
	}()

	result, err = h.Call(ctx, action, req.Params)
	if err != nil {
		return namespace, asFault(err), nil
	}
	return namespace, nil, result
}

// faultResponse builds the wire fault, sanitizing internal detail in
// production. The full message stays in the log, joined to the response by
// a correlation id.
func (r *Router) faultResponse(req wire.Request, f *Fault) wire.Response {
	if r.cfg.Production && f.Code == wire.CodeInternal {
		correlationID := uuid.NewString()
		r.logger.Error().
			Uint64("id", req.ID).
			Str("method", req.Method).
			Str("correlation_id", correlationID).
			Str("detail", f.Message).
			Msg("internal fault")
		return wire.NewFault(req.ID, f.Code, "internal fault", map[string]string{
			"correlationId": correlationID,
		})
	}
	return wire.NewFault(req.ID, f.Code, f.Message, f.Data)
}

func (r *Router) writeResponse(w io.Writer, resp wire.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		r.logger.Error().Err(err).Uint64("id", resp.ID).Msg("response not serializable")
		return
	}

	r.writeMu.Lock()
	err = wire.WriteFrame(w, payload, r.cfg.Limits)
	r.writeMu.Unlock()
	if errors.Is(err, wire.ErrPayloadTooLarge) {
		r.logger.Error().
			Uint64("id", resp.ID).
			Int("bytes", len(payload)).
			Msg("response exceeds frame limit")
		fallback, merr := json.Marshal(wire.NewFault(resp.ID, wire.CodeInternal, errOversizedResult.Error(), nil))
		if merr == nil {
			r.writeMu.Lock()
			err = wire.WriteFrame(w, fallback, r.cfg.Limits)
			r.writeMu.Unlock()
		}
	}
	if err != nil {
		r.logger.Warn().Err(err).Uint64("id", resp.ID).Msg("response write failed")
	}
}
