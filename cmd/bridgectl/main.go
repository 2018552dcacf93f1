// bridgectl exercises the client stack end to end from a terminal: it
// spawns or dials a companion, routes reads through the cache layer, and
// prints results as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/keyhaven/keybridge/internal/bridge"
	"github.com/keyhaven/keybridge/internal/bridge/cache"
	"github.com/keyhaven/keybridge/internal/bridge/transport"
	"github.com/keyhaven/keybridge/internal/logging"
	"github.com/keyhaven/keybridge/internal/store"
)

const usage = `usage: bridgectl [flags] <command> [args]

commands:
  ping                      round-trip system.ping
  status                    fetch system.status
  read <key>                read a bound resource (accounts, cards), cache fallback
  write <key> <json>        write through a bound resource
  call <method> [json]      raw RPC, no cache layer

flags:
  -config <path>            bridgectl config.toml
  -addr <host:port>         dial a companion over TCP
  -companion <path>         spawn a companion binary over stdio
  -cache-dir <path>         durable cache directory (default: in-memory)
`

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("bridgectl", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := fs.String("config", "", "path to config.toml")
	addr := fs.String("addr", "", "companion TCP address")
	companionPath := fs.String("companion", "", "companion binary to spawn")
	cacheDir := fs.String("cache-dir", "", "durable cache directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := defaultClientConfig()
	if *configPath != "" {
		loaded, err := loadClientConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *companionPath != "" {
		cfg.CompanionPath = *companionPath
	}
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}

	var t transport.Transport
	switch {
	case cfg.CompanionPath != "":
		t = transport.Proc{Path: cfg.CompanionPath, Args: cfg.CompanionArgs}
	case cfg.Addr != "":
		t = transport.TCP(cfg.Addr, cfg.CallTimeout)
	default:
		return fmt.Errorf("either -addr or -companion is required")
	}

	bridgeCfg := bridge.Config{CallTimeout: cfg.CallTimeout}
	conn := bridge.New(t, bridgeCfg)
	defer conn.Disconnect()

	var st store.Store = store.NewMemory()
	if cfg.CacheDir != "" {
		b, err := store.OpenBadger(cfg.CacheDir)
		if err != nil {
			return err
		}
		defer b.Close()
		st = b
	}
	client := cache.New(conn, st, cache.WithTTL(cfg.TTL))
	for _, b := range standardBindings() {
		if err := client.Bind(b); err != nil {
			return err
		}
	}

	ctx := context.Background()
	switch cmd := rest[0]; cmd {
	case "ping":
		return rawCall(ctx, conn, "system.ping", nil)
	case "status":
		return rawCall(ctx, conn, "system.status", nil)
	case "read":
		if len(rest) != 2 {
			return fmt.Errorf("read takes exactly one key")
		}
		return cachedRead(ctx, client, rest[1])
	case "write":
		if len(rest) != 3 {
			return fmt.Errorf("write takes a key and a JSON params document")
		}
		return cachedWrite(ctx, client, rest[1], rest[2])
	case "call":
		if len(rest) < 2 || len(rest) > 3 {
			return fmt.Errorf("call takes a method and optional JSON params")
		}
		var params any
		if len(rest) == 3 {
			params = json.RawMessage(rest[2])
		}
		return rawCall(ctx, conn, rest[1], params)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// standardBindings mirrors the resource keys the extension binds.
func standardBindings() []cache.Binding {
	return []cache.Binding{
		{Key: "accounts", ReadMethod: "accounts.getAll", WriteMethod: "accounts.create"},
		{Key: "cards", ReadMethod: "cards.getAll", WriteMethod: "cards.create"},
	}
}

func rawCall(ctx context.Context, conn *bridge.Conn, method string, params any) error {
	result, err := conn.Call(ctx, method, params)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"result": json.RawMessage(result)})
}

func cachedRead(ctx context.Context, client *cache.Client, key string) error {
	value, err := client.Read(ctx, key, nil)
	if err != nil {
		return err
	}
	out := map[string]any{
		"source": value.Source,
		"stale":  value.Stale,
	}
	if value.Data != nil {
		out["data"] = json.RawMessage(value.Data)
	}
	if !value.CachedAt.IsZero() {
		out["cachedAt"] = value.CachedAt
	}
	return printJSON(out)
}

func cachedWrite(ctx context.Context, client *cache.Client, key, params string) error {
	if !json.Valid([]byte(params)) {
		return fmt.Errorf("params must be valid JSON: %s", strings.TrimSpace(params))
	}
	result, err := client.Write(ctx, key, json.RawMessage(params))
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"result": json.RawMessage(result)})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
