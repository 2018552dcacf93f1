package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ProtocolVersion is carried on every envelope crossing the stream.
const ProtocolVersion = "2.0"

// Standard fault codes shared with the extension side.
const (
	CodeParse          = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
)

// Local-only fault codes. These never appear on the wire; they exist so
// client-side faults carry a code alongside the standard ones.
const (
	CodeTimeout        = -32100
	CodeConnectionLost = -32101
)

var (
	ErrBadEnvelope     = errors.New("wire: malformed envelope")
	ErrVersionMismatch = errors.New("wire: protocol version mismatch")
	ErrMissingID       = errors.New("wire: missing envelope id")
	ErrBadMethod       = errors.New("wire: malformed method")
)

// Request is one extension->companion call envelope.
type Request struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ID              uint64          `json:"id"`
	Method          string          `json:"method"`
	Params          json.RawMessage `json:"params,omitempty"`
}

// Error is the structured fault carried inside an error response.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("wire: remote fault code=%d message=%q", e.Code, e.Message)
}

// Response carries exactly one of Result or Err for a previously sent id.
type Response struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ID              uint64          `json:"id"`
	Result          json.RawMessage `json:"result,omitempty"`
	Err             *Error          `json:"error,omitempty"`
}

// NewRequest builds a request envelope, marshaling params to JSON.
func NewRequest(id uint64, method string, params any) (Request, error) {
	req := Request{
		ProtocolVersion: ProtocolVersion,
		ID:              id,
		Method:          method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Request{}, fmt.Errorf("wire: marshal params: %w", err)
		}
		req.Params = raw
	}
	return req, nil
}

// NewResult builds a success response envelope.
func NewResult(id uint64, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("wire: marshal result: %w", err)
	}
	return Response{ProtocolVersion: ProtocolVersion, ID: id, Result: raw}, nil
}

// NewFault builds an error response envelope.
func NewFault(id uint64, code int, message string, data any) Response {
	e := &Error{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return Response{ProtocolVersion: ProtocolVersion, ID: id, Err: e}
}

// ParseRequest decodes and validates one request envelope payload.
func ParseRequest(payload []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if req.ProtocolVersion != ProtocolVersion {
		return Request{}, fmt.Errorf("%w: got %q", ErrVersionMismatch, req.ProtocolVersion)
	}
	if req.ID == 0 {
		return Request{}, ErrMissingID
	}
	if strings.TrimSpace(req.Method) == "" {
		return Request{}, fmt.Errorf("%w: empty method", ErrBadMethod)
	}
	return req, nil
}

// ParseResponse decodes one response envelope payload, enforcing the
// exactly-one-of-result-or-error contract.
func ParseResponse(payload []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if resp.ProtocolVersion != ProtocolVersion {
		return Response{}, fmt.Errorf("%w: got %q", ErrVersionMismatch, resp.ProtocolVersion)
	}
	if resp.ID == 0 {
		return Response{}, ErrMissingID
	}
	hasResult := len(resp.Result) > 0
	hasError := resp.Err != nil
	if hasResult == hasError {
		return Response{}, fmt.Errorf("%w: want exactly one of result or error", ErrBadEnvelope)
	}
	return resp, nil
}

// SplitMethod splits a dot-namespaced method into (namespace, action) on the
// first dot only; "cards.vault.list" routes to namespace "cards".
func SplitMethod(method string) (namespace, action string, err error) {
	idx := strings.Index(method, ".")
	if idx <= 0 || idx == len(method)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrBadMethod, method)
	}
	return method[:idx], method[idx+1:], nil
}
