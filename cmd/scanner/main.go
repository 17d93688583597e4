package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/moment-museum/giftscan/app/scanner"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := scanner.Initialize(ctx)

	app.Start(ctx)
}
