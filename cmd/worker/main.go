package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/vidconvert/internal/app"
	"github.com/dharsanguruparan/vidconvert/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := app.RunWorker(ctx, cfg, true, log.Default()); err != nil {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
}
