package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/railsim/railsim_core/internal/cache"
	"github.com/railsim/railsim_core/internal/db"
	"github.com/railsim/railsim_core/internal/sim"
)

func main() {
	minutes := flag.Int("minutes", 60, "Simulated minutes to advance (1-1440)")
	yes := flag.Bool("yes", false, "Skip the confirmation prompt")
	flag.Parse()

	if *minutes < 1 || *minutes > 1440 {
		log.Fatalf("❌ minutes must be between 1 and 1440")
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to read .env: %v", err)
	}

	log.Println("🔄 railsim - Manual Step Tool")
	log.Println("=============================")

	ctx := context.Background()

	log.Println("📡 Opening store...")
	dbCfg := db.LoadConfigFromEnv()
	store, err := db.Open(ctx, dbCfg)
	if err != nil {
		log.Fatalf("❌ Failed to open %s store: %v", dbCfg.Driver, err)
	}
	defer store.Close()
	log.Printf("✅ %s store ready", dbCfg.Driver)

	var opts []sim.Option
	redisCfg := cache.LoadConfigFromEnv()
	if redisCfg.Enabled {
		rdb, err := cache.NewClient(ctx, redisCfg)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		opts = append(opts, sim.WithPassLocker(cache.NewPassLock(rdb, redisCfg.PassLockTTL)))
	}

	engine := sim.NewEngine(store, sim.LoadConfigFromEnv(), opts...)
	if err := engine.Open(ctx); err != nil {
		log.Fatalf("❌ Failed to open simulation: %v", err)
	}

	before := engine.Status()
	log.Printf("📊 Simulation %s", before.SimulationID)
	log.Printf("   Current time: %s", before.CurrentTime.Format(time.RFC3339))
	log.Printf("   Passes: %d", before.Passes)
	for status, n := range before.Trains {
		log.Printf("   %s: %d", status, n)
	}
	if before.Running {
		log.Println("⚠️  A server reports the simulation as running; its driver also advances the clock")
	}

	if !*yes {
		fmt.Println()
		fmt.Printf("Advance simulated time by %d minutes? (yes/no): ", *minutes)
		var confirm string
		fmt.Scanln(&confirm)
		if confirm != "yes" && confirm != "y" {
			log.Println("❌ Step cancelled")
			os.Exit(0)
		}
	}

	startTime := time.Now()
	if err := engine.Step(ctx, time.Duration(*minutes)*time.Minute); err != nil {
		if sim.IsBusy(err) {
			log.Fatalf("❌ Another pass is in progress, try again shortly")
		}
		log.Fatalf("❌ Step failed: %v", err)
	}

	after := engine.Status()
	fmt.Println()
	log.Println("✅ Step completed!")
	log.Printf("⏱️  Duration: %v", time.Since(startTime))
	log.Printf("   Current time: %s", after.CurrentTime.Format(time.RFC3339))
	for status, n := range after.Trains {
		log.Printf("   %s: %d", status, n)
	}
	if after.StalledTrains > 0 {
		log.Printf("⚠️  %d trains stalled without traction", after.StalledTrains)
	}
	for _, d := range engine.DelayStats() {
		log.Printf("   route %s: %d journeys, mean delay %.0fs", d.RouteID, d.Journeys, d.MeanSeconds)
	}
}
