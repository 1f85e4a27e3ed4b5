package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"vrpdiag/internal/api"
	"vrpdiag/internal/config"
)

func main() {
	cfg, err := config.Load(os.Getenv("VRPDIAG_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := api.Serve(ctx, cfg); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
