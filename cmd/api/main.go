package main

import (
	"context"
	"log"
	"os"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/app"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/config"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	ctx := context.Background()

	// Connects to PostgreSQL (and Redis when configured)
	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	// Run application (blocks until shutdown)
	if err := application.Run(ctx); err != nil {
		log.Printf("application error: %v", err)
		os.Exit(1)
	}
}
