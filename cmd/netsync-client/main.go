package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"arena/netsync/internal/app"
	"arena/netsync/internal/config"
)

func main() {
	var (
		configPath string
		address    string
		identity   string
	)
	flag.StringVar(&configPath, "config", "", "path to a JSON, YAML or TOML config file")
	flag.StringVar(&address, "address", "", "websocket URL of the match server (overrides server.address)")
	flag.StringVar(&identity, "identity", "", "client identity (overrides server.identity)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if address != "" {
		cfg.Server.Address = address
	}
	if identity != "" {
		cfg.Server.Identity = identity
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}
}
