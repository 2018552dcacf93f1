// Package system serves the system.* namespace: the handshake ping and a
// status snapshot for operators.
package system

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/keyhaven/keybridge/internal/host"
)

type Service struct {
	version string
	started time.Time
	pings   atomic.Uint64
}

func NewService(version string) *Service {
	return &Service{version: version, started: time.Now().UTC()}
}

func (s *Service) Call(ctx context.Context, action string, params json.RawMessage) (any, error) {
	switch action {
	case "ping":
		s.pings.Add(1)
		return map[string]any{
			"message":     "pong",
			"timestampMs": time.Now().UnixMilli(),
		}, nil
	case "status":
		return s.Status(), nil
	default:
		return nil, host.MethodNotFound("system." + action)
	}
}

// Status is also served on the admin HTTP surface.
func (s *Service) Status() map[string]any {
	return map[string]any{
		"version":       s.version,
		"startedAt":     s.started,
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
		"pingsServed":   s.pings.Load(),
	}
}
