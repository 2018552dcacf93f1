package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/keyhaven/keybridge/internal/companion"
	"github.com/keyhaven/keybridge/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to companiond config.toml")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := companion.DefaultConfig()
	if *configPath != "" {
		loaded, err := loadCompanionConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "companiond: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc, err := companion.NewService(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "companiond: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "companiond: %v\n", err)
		os.Exit(1)
	}
}
