// Package main runs one conversion executor. PROCESSOR_TYPE names the
// deployment (small or large); both run the same code.
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
	logger := log.New(os.Stderr, "["+cfg.ProcessorType+"] ", log.LstdFlags)
	if err := app.RunExecutor(ctx, cfg, logger); err != nil {
		logger.Printf("executor stopped: %v", err)
		os.Exit(1)
	}
}
