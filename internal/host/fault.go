// Package host runs the companion side of the stream: it decodes request
// frames, routes them to registered service handlers, and writes response
// frames back.
package host

import (
	"errors"
	"fmt"

	"github.com/keyhaven/keybridge/internal/wire"
)

// Fault is an application error a handler wants delivered to the extension
// with a specific code. Any other handler error becomes an internal fault.
type Fault struct {
	Code    int
	Message string
	Data    any
}

func (f *Fault) Error() string {
	return fmt.Sprintf("host: fault code=%d message=%q", f.Code, f.Message)
}

func MethodNotFound(method string) *Fault {
	return &Fault{Code: wire.CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
}

func InvalidParams(format string, args ...any) *Fault {
	return &Fault{Code: wire.CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

func Internal(message string) *Fault {
	return &Fault{Code: wire.CodeInternal, Message: message}
}

// asFault normalizes any handler error into a Fault, defaulting to an
// internal fault that carries the original message.
func asFault(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Code: wire.CodeInternal, Message: err.Error()}
}
