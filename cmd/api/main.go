package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/railsim/railsim_core/internal/api"
	"github.com/railsim/railsim_core/internal/cache"
	"github.com/railsim/railsim_core/internal/db"
	"github.com/railsim/railsim_core/internal/middleware"
	"github.com/railsim/railsim_core/internal/sim"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to read .env: %v", err)
	}
	log.Println("Starting railsim API server...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize store
	dbCfg := db.LoadConfigFromEnv()
	store, err := db.Open(ctx, dbCfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", dbCfg.Driver, err)
	}
	defer store.Close()
	log.Printf("✓ %s store ready", dbCfg.Driver)

	// Initialize Redis connection (optional)
	simCfg := sim.LoadConfigFromEnv()
	var opts []sim.Option
	var rdb *redis.Client
	redisCfg := cache.LoadConfigFromEnv()
	if redisCfg.Enabled {
		rdb, err = cache.NewClient(ctx, redisCfg)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		opts = append(opts, sim.WithPassLocker(cache.NewPassLock(rdb, redisCfg.PassLockTTL)))
		log.Println("✓ Redis connection established")
	}

	// Open the simulation
	engine := sim.NewEngine(store, simCfg, opts...)
	if err := engine.Open(ctx); err != nil {
		log.Fatalf("Failed to open simulation: %v", err)
	}
	log.Printf("✓ Simulation open at %s", engine.CurrentTime().Format(time.RFC3339))

	if rdb != nil {
		err := cache.SubscribeInfraChanges(ctx, rdb, func(reason string) {
			log.Printf("Infrastructure changed (%s), reloading before next pass", reason)
			engine.InvalidateInfrastructure()
		})
		if err != nil {
			log.Printf("Warning: infrastructure notifications unavailable: %v", err)
		}
	}

	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		sim.NewDriver(engine, simCfg.TickInterval).Run(ctx)
	}()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "railsim API",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorHandler: api.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
	}))

	h := api.NewHandler(engine, rdb)
	app.Get("/health", h.Health)

	authCfg := middleware.LoadAuthConfigFromEnv()
	if authCfg.Enabled && len(authCfg.KeyHashes) == 0 {
		log.Fatalf("AUTH_ENABLED is set but API_KEY_HASH is empty")
	}
	v2 := app.Group("/v2", middleware.AuthMiddleware(authCfg))
	if authCfg.Enabled {
		log.Println("✓ Authentication middleware enabled")
	}
	h.Register(v2, middleware.RateLimitMiddleware(rdb, middleware.LoadStepRateLimitFromEnv()))

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(404).JSON(fiber.Map{
			"error":   "not_found",
			"message": "The requested endpoint does not exist",
			"path":    c.Path(),
		})
	})

	port := getEnv("API_PORT", "8080")
	addr := fmt.Sprintf(":%s", port)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Println("Shutting down gracefully...")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	log.Printf("🚀 Server listening on http://localhost%s", addr)
	log.Printf("🚆 Trains: http://localhost%s/v2/simulation/trains", addr)
	log.Printf("❤️  Health check: http://localhost%s/health", addr)

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	<-driverDone
	log.Println("✓ Server shut down gracefully")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
