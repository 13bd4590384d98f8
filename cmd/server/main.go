package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	swagger "github.com/gofiber/swagger"
	"github.com/localnerve/doctypesdb/internal/cache"
	"github.com/localnerve/doctypesdb/internal/config"
	"github.com/localnerve/doctypesdb/internal/database"
	"github.com/localnerve/doctypesdb/internal/handlers"
	"github.com/localnerve/doctypesdb/internal/lock"
	"github.com/localnerve/doctypesdb/internal/middleware"
	"github.com/localnerve/doctypesdb/internal/services"
	"github.com/localnerve/doctypesdb/internal/utils"

	_ "github.com/localnerve/doctypesdb/docs/api" // Swagger docs
)

// @title DocTypesDB API
// @version 1.0.0
// @description User-defined document types backed by managed tables
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url https://github.com/localnerve/doctypesdb
// @contact.email info@localnerve.com

// @license.name AGPL-3.0
// @license.url https://www.gnu.org/licenses/agpl-3.0.html

// @host localhost:3000
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey UserHeader
// @in header
// @name X-User-Id

func main() {
	// Load configuration
	cfg, err := config.LoadFile(os.Getenv("ENV_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	// Run auto-migrations for the metadata tables
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Shared locks and cache when Redis is configured
	opts := services.Options{
		TablePrefix:     cfg.TablePrefix,
		IdentifierLimit: cfg.IdentifierLimit,
		LockTTL:         cfg.LockTTL,
		LockRefresh:     cfg.LockRefresh,
		CacheTTL:        cfg.CacheTTL,
	}
	var redisClient *redis.Client
	if addr := cfg.RedisAddr(); addr != "" {
		redisClient, err = lock.NewRedisClient(context.Background(), addr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		opts.Locker = lock.NewRedisLocker(redisClient)
		opts.Cache = cache.NewRedisStore(redisClient)
		log.Printf("Using redis at %s for locks and cache", addr)
	} else {
		log.Printf("REDIS_HOST not set, locks and cache are process local")
	}

	engine, err := services.NewEngine(db, opts)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	// Periodic reconciliation
	if cfg.ReconcileSchedule != "" {
		reconciler, err := services.NewReconciler(engine, cfg.ReconcileSchedule, services.ReconcileOptions{
			DropNonEmpty: cfg.ReconcileDropNonEmpty,
		})
		if err != nil {
			log.Fatalf("Failed to schedule reconciliation: %v", err)
		}
		reconciler.Start()
		defer reconciler.Stop()
		log.Printf("Reconciliation scheduled %q", cfg.ReconcileSchedule)
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		// Disable startup message for cleaner logs
		DisableStartupMessage: false,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New())

	// Prometheus metrics
	prometheus := fiberprometheus.New("doctypesdb")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	// Health check, no identity required
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
		defer cancel()
		result := services.HealthCheck(ctx, cfg, db, redisClient)
		status := fiber.StatusOK
		if result.Status != "healthy" {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(result)
	})

	// API routes under /api
	api := app.Group("/api", middleware.Identity())
	handlers.Register(api, engine)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return utils.NotFoundResponse(c, "[404] Resource Not Found")
	})

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("Gracefully shutting down...")
		_ = app.Shutdown()
	}()

	// Start server
	port := cfg.Port
	log.Printf("Starting server on port %s", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Println("Server stopped")
}

// customErrorHandler handles errors globally
func customErrorHandler(c *fiber.Ctx, err error) error {
	return utils.EngineErrorResponse(c, err)
}
