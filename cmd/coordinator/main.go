package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/1inch/swap-coordinator/internal/config"
	"github.com/1inch/swap-coordinator/internal/coordinator"
	"github.com/1inch/swap-coordinator/internal/oracle"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	orc, err := oracle.ParseQuotes(os.Getenv("ORACLE_QUOTES"))
	if err != nil {
		log.Fatalf("Failed to parse ORACLE_QUOTES: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord, err := coordinator.New(ctx, cfg, orc)
	if err != nil {
		log.Fatalf("Failed to start coordinator: %v", err)
	}

	if err := coord.Run(ctx); err != nil {
		log.Fatalf("Coordinator exited: %v", err)
	}
}
