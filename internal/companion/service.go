// Package companion wires the router, service handlers, and admin surface
// into the long-running companion process.
package companion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/keyhaven/keybridge/internal/host"
	"github.com/keyhaven/keybridge/internal/observability"
	"github.com/keyhaven/keybridge/internal/service/accounts"
	"github.com/keyhaven/keybridge/internal/service/cards"
	"github.com/keyhaven/keybridge/internal/service/system"
)

const Version = "0.1.0"

type Config struct {
	ID string
	// ListenAddr serves the framed protocol over TCP. Empty means stdio,
	// the native-messaging arrangement where the browser owns both pipes.
	ListenAddr string
	// AdminAddr enables the loopback HTTP surface. Empty disables it.
	AdminAddr  string
	Production bool
	Workers    int
}

func DefaultConfig() Config {
	return Config{ID: "keybridge-companion", Workers: 1}
}

func (cfg Config) WithDefaults() Config {
	def := DefaultConfig()
	if cfg.ID == "" {
		cfg.ID = def.ID
	}
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	return cfg
}

// Service is one companion process: a router with the standard handler set,
// serving stdio or TCP, plus the optional admin server.
type Service struct {
	cfg    Config
	router *host.Router
	system *system.Service

	mu       sync.Mutex
	listener net.Listener
}

func NewService(cfg Config) (*Service, error) {
	cfg = cfg.WithDefaults()
	routerCfg := host.DefaultRouterConfig()
	routerCfg.Production = cfg.Production
	routerCfg.Workers = cfg.Workers
	router := host.NewRouter(routerCfg)

	sys := system.NewService(Version)
	for namespace, handler := range map[string]host.Handler{
		"system":   sys,
		"accounts": accounts.NewService(),
		"cards":    cards.NewService(),
	} {
		if err := router.Register(namespace, handler); err != nil {
			return nil, fmt.Errorf("companion: register %s: %w", namespace, err)
		}
	}

	return &Service{cfg: cfg, router: router, system: sys}, nil
}

// Run serves until ctx is canceled or the stream/listener closes.
func (s *Service) Run(ctx context.Context) error {
	observability.RegisterMetrics()

	if s.cfg.AdminAddr != "" {
		admin := host.NewAdmin(s.cfg.ID, s.cfg.AdminAddr, Version, s.system.Status)
		go func() {
			if err := admin.Serve(); err != nil {
				log.Error().Err(err).Str("addr", s.cfg.AdminAddr).Msg("admin server stopped")
			}
		}()
	}

	if s.cfg.ListenAddr == "" {
		log.Info().Str("id", s.cfg.ID).Msg("serving framed protocol on stdio")
		return s.router.Serve(ctx, stdio{})
	}
	return s.listen(ctx)
}

func (s *Service) listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("companion: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	log.Info().Str("id", s.cfg.ID).Str("addr", ln.Addr().String()).Msg("serving framed protocol")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("companion: accept: %w", err)
		}
		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			defer conn.Close()
			stop := make(chan struct{})
			go func() {
				select {
				case <-ctx.Done():
					conn.Close()
				case <-stop:
				}
			}()
			defer close(stop)
			if err := s.router.Serve(ctx, conn); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
				log.Warn().Err(err).Str("peer", conn.RemoteAddr().String()).Msg("stream ended with error")
			}
		}(conn)
	}
}

// Addr reports the bound TCP address once listening, for tests that bind
// port 0.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// stdio pairs the process pipes into one duplex stream.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

var _ io.ReadWriter = stdio{}
