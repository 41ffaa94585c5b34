package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine, the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load .env: %v", err)
	}

	config, err := loadConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	app, err := NewApp(config)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
