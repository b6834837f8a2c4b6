//go:build ignore

// Seeds online drivers around Bangalore into the Redis proximity index so a
// local server has supply to dispatch to.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"

	"github.com/aditya/ride-dispatch/internal/cache"
	"github.com/aditya/ride-dispatch/internal/config"
	"github.com/aditya/ride-dispatch/internal/database"
	"github.com/aditya/ride-dispatch/internal/models"
)

// Bangalore coordinates
const (
	baseLat = 12.9716
	baseLng = 77.5946
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	redis, err := database.NewRedis(cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	ctx := context.Background()
	index := cache.NewRedisIndex(redis.Client)

	classes := []string{models.CarClassEconomy, models.CarClassComfort, models.CarClassBusiness, models.CarClassXL}
	perClass := map[string]int{}

	log.Println("Seeding 100 drivers...")
	driverIDs := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("seed-driver-%03d", i)
		class := classes[rand.Intn(len(classes))]

		status := models.DriverStatusOnline
		if rand.Float64() < 0.2 {
			status = models.DriverStatusBreak
		}

		lat := baseLat + (rand.Float64()-0.5)*0.1 // +/- 0.05 degrees (~5km)
		lng := baseLng + (rand.Float64()-0.5)*0.1

		if err := index.UpsertPosition(ctx, id, lat, lng, status, class); err != nil {
			log.Printf("Failed to seed driver %s: %v", id, err)
			continue
		}
		driverIDs = append(driverIDs, id)
		if status == models.DriverStatusOnline {
			perClass[class]++
		}
	}

	online, err := index.CountOnline(ctx)
	if err != nil {
		log.Fatalf("Failed to count online drivers: %v", err)
	}

	log.Println("\n=== Seed Data Summary ===")
	log.Printf("Drivers seeded: %d", len(driverIDs))
	log.Printf("Online now: %d", online)
	for _, class := range classes {
		log.Printf("  %-8s %d", class, perClass[class])
	}
	log.Println("\nSample Driver ID:", driverIDs[0])
	log.Println("Mint a driver token with POST /v1/auth/token to act as it.")
}
