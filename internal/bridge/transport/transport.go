// Package transport provisions the duplex byte stream between the extension
// side and the companion process. The bridge does not care where the stream
// comes from; these are the two hosts this repo ships.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"
	"time"
)

var ErrCompanionPathRequired = errors.New("transport: companion path required")

// Transport yields a fresh duplex stream per dial. Each connection attempt
// gets its own stream; tearing one down never affects a later dial.
type Transport interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a plain function to Transport.
type DialerFunc func(ctx context.Context) (io.ReadWriteCloser, error)

func (f DialerFunc) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	return f(ctx)
}

// TCP returns a Transport dialing a companion listening on addr, for
// debugging setups where the companion runs as a standalone daemon.
func TCP(addr string, timeout time.Duration) Transport {
	return DialerFunc(func(ctx context.Context) (io.ReadWriteCloser, error) {
		dialer := net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// Proc spawns the companion binary and bridges its stdio, the way a browser
// runtime launches a native-messaging host.
type Proc struct {
	Path string
	Args []string
}

func (p Proc) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if strings.TrimSpace(p.Path) == "" {
		return nil, ErrCompanionPathRequired
	}
	cmd := exec.Command(p.Path, p.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transport: start companion: %w", err)
	}
	return &procStream{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// procStream is the spawned companion's stdio as one duplex stream. Close
// signals shutdown by closing stdin, then reaps or kills the process.
type procStream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (s *procStream) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *procStream) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *procStream) Close() error {
	_ = s.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		_ = s.cmd.Process.Kill()
		return <-done
	}
}
