// Package main runs the upload authorization API.
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
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := app.RunAPI(ctx, cfg, log.Default()); err != nil {
		log.Printf("api stopped: %v", err)
		os.Exit(1)
	}
}
