package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/1inch/swap-coordinator/internal/config"
	"github.com/1inch/swap-coordinator/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment variables")
	}

	db, err := store.Open(config.LoadDatabase())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(store.Migrations); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Migrations applied")
}
