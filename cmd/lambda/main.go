package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"papers-gateway/internal/app"
	"papers-gateway/internal/config"
	"papers-gateway/internal/logger"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)

	// ---- Clients and handler ----
	gateway, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to assemble gateway", "err", err)
		os.Exit(1)
	}

	lambda.Start(gateway.Handler.Handle)
}
