package bridge

import "errors"

var (
	ErrTimeout            = errors.New("bridge: request timed out")
	ErrConnectionLost     = errors.New("bridge: connection lost")
	ErrDisconnected       = errors.New("bridge: disconnected")
	ErrReconnectExhausted = errors.New("bridge: reconnect attempts exhausted")
	ErrTooManyPending     = errors.New("bridge: too many outstanding requests")
)

// Unavailable reports whether err means the companion cannot currently be
// reached, as opposed to a request-scoped remote fault. The cache layer uses
// this to pick the fallback path.
func Unavailable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrDisconnected) ||
		errors.Is(err, ErrReconnectExhausted)
}
