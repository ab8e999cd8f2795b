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
	"github.com/railsim/railsim_core/internal/gtfs"
)

func main() {
	defaults := gtfs.DefaultBuildOptions()

	// Command-line flags
	gtfsPath := flag.String("gtfs", "", "Path to GTFS ZIP file (required)")
	serviceDate := flag.String("service-date", "", "Create one train per trip departing on this date (YYYY-MM-DD)")
	timezone := flag.String("timezone", "UTC", "Timezone of the feed's stop times")
	generateFleet := flag.Bool("generate-fleet", false, "Give every train a locomotive and carriages")
	carriages := flag.Int("carriages", defaults.CarriagesPerTrain, "Carriages per generated train")
	dedupeThreshold := flag.Float64("dedupe-threshold", defaults.MergeMeters, "Stop deduplication threshold in meters")
	platforms := flag.Int("platforms", defaults.PlatformCount, "Platforms per imported station")
	maxSpeed := flag.Float64("max-speed", defaults.MaxSpeedKmh, "Line speed of imported tracks in km/h")
	allModes := flag.Bool("all-modes", false, "Import every route, not only rail")
	dryRun := flag.Bool("dry-run", false, "Parse and validate without writing")

	flag.Parse()

	if *gtfsPath == "" {
		fmt.Println("Usage: railsim-import --gtfs=<path.zip> [--service-date=2024-03-01] [--generate-fleet] [--dry-run]")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if _, err := os.Stat(*gtfsPath); os.IsNotExist(err) {
		log.Fatalf("GTFS file not found: %s", *gtfsPath)
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to read .env: %v", err)
	}

	opts := defaults
	opts.AllModes = *allModes
	opts.MergeMeters = *dedupeThreshold
	opts.PlatformCount = *platforms
	opts.MaxSpeedKmh = *maxSpeed
	opts.GenerateFleet = *generateFleet
	opts.CarriagesPerTrain = *carriages
	if *serviceDate != "" {
		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			log.Fatalf("Invalid timezone %q: %v", *timezone, err)
		}
		date, err := time.ParseInLocation("2006-01-02", *serviceDate, loc)
		if err != nil {
			log.Fatalf("Invalid service date (use YYYY-MM-DD): %v", err)
		}
		opts.ServiceDate = date
	}

	log.Println("Starting GTFS import...")
	log.Printf("GTFS file: %s", *gtfsPath)

	ctx := context.Background()
	if err := runImport(ctx, *gtfsPath, opts, *dryRun); err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	log.Println("Import completed successfully!")
}

func runImport(ctx context.Context, gtfsPath string, opts gtfs.BuildOptions, dryRun bool) error {
	startTime := time.Now()

	log.Println("Step 1/4: Parsing GTFS feed...")
	feed, err := gtfs.ParseZip(gtfsPath)
	if err != nil {
		return fmt.Errorf("failed to parse GTFS: %w", err)
	}

	log.Println("Step 2/4: Building rail network...")
	result, err := gtfs.Build(feed, opts)
	if err != nil {
		return fmt.Errorf("failed to build network: %w", err)
	}
	if err := result.Check(ctx); err != nil {
		return fmt.Errorf("imported network is inconsistent: %w", err)
	}

	if dryRun {
		log.Println("Step 3/4: Skipping write (dry run)")
		log.Printf("Import validated in %s", time.Since(startTime))
		return nil
	}

	log.Println("Step 3/4: Writing network to the store...")
	dbCfg := db.LoadConfigFromEnv()
	store, err := db.Open(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", dbCfg.Driver, err)
	}
	defer store.Close()

	if err := result.Write(ctx, store); err != nil {
		return fmt.Errorf("failed to write network: %w", err)
	}

	log.Println("Step 4/4: Notifying running simulations...")
	notify(ctx, fmt.Sprintf("gtfs import of %d routes", len(result.Routes)))

	log.Printf("Import completed in %s", time.Since(startTime))
	return nil
}

// notify tells running API servers to reload infrastructure before their next pass
func notify(ctx context.Context, reason string) {
	redisCfg := cache.LoadConfigFromEnv()
	if !redisCfg.Enabled {
		log.Println("Redis disabled; running servers reload on their next pass")
		return
	}

	rdb, err := cache.NewClient(ctx, redisCfg)
	if err != nil {
		log.Printf("Warning: could not notify running servers: %v", err)
		return
	}
	defer rdb.Close()

	if err := cache.PublishInfraChange(ctx, rdb, reason); err != nil {
		log.Printf("Warning: could not notify running servers: %v", err)
	}
}
