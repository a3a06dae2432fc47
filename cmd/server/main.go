package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"netball/server/internal/app"
	"netball/server/internal/telemetry"
)

func main() {
	logger := telemetry.WrapLogger(log.Default())
	cfg := app.LoadConfig(os.Getenv, logger)
	cfg.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil {
		log.Fatalf("%v", err)
	}
}
