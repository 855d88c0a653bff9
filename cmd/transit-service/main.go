package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"bustrack/internal/bootstrap"
	"bustrack/internal/shared/config"
	"bustrack/internal/shared/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalln("failed to load configuration:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	bootstrap.Run(ctx, cfg, logger.NewLogger("transit-service"))
}
