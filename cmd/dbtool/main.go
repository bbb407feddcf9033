package main

import (
	"context"
	"delivery-dashboard/internal/adapters/cache"
	"delivery-dashboard/internal/config"
	"delivery-dashboard/internal/platform/db"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// dbtool prepares the telemetry sample cache ahead of a dashboard deploy.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	driver := config.Get("DB_DRIVER", "pgx")
	databaseURL := config.Get("DATABASE_URL", "")
	if strings.TrimSpace(databaseURL) == "" {
		log.Fatal("DATABASE_URL is required")
	}

	sqlDB, dialect, err := db.Open(driver, databaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Printf("Initializing sample cache schema dialect=%s...", dialect)
	if err := cache.InitSchema(ctx, sqlDB, dialect); err != nil {
		log.Fatalf("schema initialization failed: %v", err)
	}
	log.Println("Schema ready.")
}
