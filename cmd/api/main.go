package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/chemprep/backend/internal/api/handlers"
	"github.com/chemprep/backend/internal/compute/image"
	"github.com/chemprep/backend/internal/compute/mopac"
	"github.com/chemprep/backend/internal/conjoiner"
	"github.com/chemprep/backend/internal/metrics"
	"github.com/chemprep/backend/internal/middleware/ratelimit"
	"github.com/chemprep/backend/internal/middleware/security"
	"github.com/chemprep/backend/internal/middleware/validation"
	queue "github.com/chemprep/backend/internal/queue/redis"
	"github.com/chemprep/backend/internal/registry"
	"github.com/chemprep/backend/internal/storage/sqlite"
	"github.com/chemprep/backend/internal/task"
	"github.com/chemprep/backend/pkg/config"
	appLogger "github.com/chemprep/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting dataset conjoiner service")
	metrics.Init()

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	err = store.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	jobQueue, err := queue.NewQueue(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Fatal("Failed to create job queue", zap.Error(err))
	}
	defer jobQueue.Close()

	registryClient := registry.NewClient(registry.Config{
		Timeout:         time.Duration(cfg.Registry.TimeoutSec) * time.Second,
		MaxConnsPerHost: cfg.Registry.MaxConnsPerHost,
		MaxRetries:      cfg.Registry.MaxRetries,
	})
	imageClient := image.NewClient(cfg.Services.ImageBasePath, registryClient)
	mopacClient := mopac.NewClient(cfg.Services.AlgorithmsBasePath, registryClient)

	conj := conjoiner.New(
		registryClient,
		imageClient,
		mopacClient,
		cfg.Services.ServerBasePath,
		cfg.Worker.SubstanceParallelism,
	)

	taskService := task.NewService(store, jobQueue, time.Duration(cfg.Worker.QueueDelayMS)*time.Millisecond)
	worker := task.NewWorker(store, jobQueue, conj, taskService,
		time.Duration(cfg.Worker.PollIntervalMS)*time.Millisecond,
		time.Duration(cfg.Worker.TaskDeadlineMin)*time.Minute,
	)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	go worker.Run(workerCtx)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, subjectid, X-User-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		MaxBodySize: cfg.Server.BodyLimit,
		Logger:      appLogger.GetLogger(),
	}))

	preparationHandler := handlers.NewPreparationHandler(taskService)
	wsHandler := handlers.NewWebSocketHandler(taskService)

	api := app.Group("/api/v1")

	api.Post("/preparation", preparationHandler.SubmitPreparation)
	api.Get("/tasks/:id", preparationHandler.GetTask)
	api.Delete("/tasks/:id", preparationHandler.CancelTask)
	api.Get("/datasets/:id", preparationHandler.GetDataset)

	api.Get("/tasks/:id/stream", websocket.New(wsHandler.HandleConnection))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	stopWorker()
	app.Shutdown()
	appLogger.Info("Server stopped")
}
