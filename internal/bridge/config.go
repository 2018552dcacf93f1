package bridge

import (
	"time"

	"github.com/keyhaven/keybridge/internal/wire"
)

// BackoffConfig defines the reconnect delay schedule.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines connection reliability defaults. The reconnect ceiling and
// delay schedule are tunables, not contract.
type Config struct {
	ConnectTimeout       time.Duration
	HandshakeTimeout     time.Duration
	CallTimeout          time.Duration
	ProbeTimeout         time.Duration
	MaxPending           int
	MaxReconnectAttempts int
	Backoff              BackoffConfig
	Limits               wire.Limits
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       5 * time.Second,
		HandshakeTimeout:     5 * time.Second,
		CallTimeout:          10 * time.Second,
		ProbeTimeout:         time.Second,
		MaxPending:           100,
		MaxReconnectAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       false,
		},
		Limits: wire.ClientLimits(),
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.MaxPending <= 0 {
		c.MaxPending = def.MaxPending
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	if c.Limits.MaxReadBytes == 0 || c.Limits.MaxWriteBytes == 0 {
		c.Limits = def.Limits
	}
	return c
}
