package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentroom-dev/agentroom"
	"github.com/agentroom-dev/agentroom/internal/tracing"
	"github.com/agentroom-dev/agentroom/pkg/config"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	configFile = flag.String("config", getEnv("AGENTROOM_CONFIG", ""), "Configuration file (YAML)")
	listenAddr = flag.String("listen", "", "Gateway listen address (overrides config)")
)

func main() {
	flag.Parse()

	log.Printf("Starting agentroom coordinator v%s", Version)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	if err := tracing.InitFromEnv(); err != nil {
		log.Printf("Tracing disabled: %v", err)
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agentroom.Run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Coordinator stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
