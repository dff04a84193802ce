package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/marminbh/eventsync-svc/internal/config"
	"github.com/marminbh/eventsync-svc/internal/database"
	"github.com/marminbh/eventsync-svc/internal/logger"
	"github.com/marminbh/eventsync-svc/internal/rabbitmq"
	"github.com/marminbh/eventsync-svc/internal/routes"
	"github.com/marminbh/eventsync-svc/internal/service"
)

func main() {
	if err := logger.Init(os.Getenv("LOG_LEVEL")); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()
	log := logger.Get()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	if err := database.RunMigrations(&cfg.Database, cfg.Database.MigrationsPath, log); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		}
	}()

	// RabbitMQ is optional: it carries dead-letter notices and the intake queue
	var rmq *rabbitmq.Connection
	if cfg.RabbitMQ.Enabled() {
		rmq = rabbitmq.NewConnection(&cfg.RabbitMQ, log)
		if err := rmq.Connect(context.Background()); err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer rmq.Close()

		if cfg.RabbitMQ.DeadLetterExchange != "" {
			if err := rmq.EnsureExchange(cfg.RabbitMQ.DeadLetterExchange, "topic"); err != nil {
				logger.Fatal("Failed to declare dead letter exchange", zap.Error(err))
			}
		}
	}

	svc := service.NewService(cfg, db, log, rmq)

	in := svc.Intake()
	if in != nil {
		if err := in.Start(); err != nil {
			logger.Fatal("Failed to start intake", zap.Error(err))
		}
	}

	jobs := svc.Scheduler()
	jobs.Start()

	app := fiber.New(fiber.Config{
		AppName:      "Event Sync Service",
		ServerHeader: "Fiber",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	routes.SetupRoutes(app, svc.HealthHandler(), svc.SyncHandler())

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		logger.Info("Server starting",
			zap.String("address", addr),
			zap.Bool("sync_enabled", cfg.Sync.Enabled),
		)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	jobs.Stop()
	if in != nil {
		if err := in.Stop(); err != nil {
			logger.Error("Error stopping intake", zap.Error(err))
		}
	}

	logger.Info("Server stopped")
}
