package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/runawaydevil/ScoutBot/config"
	"github.com/runawaydevil/ScoutBot/database"
	"github.com/runawaydevil/ScoutBot/handlers"
	"github.com/runawaydevil/ScoutBot/logger"
	"github.com/runawaydevil/ScoutBot/middleware"
	"github.com/runawaydevil/ScoutBot/models"
	"github.com/runawaydevil/ScoutBot/repositories"
	"github.com/runawaydevil/ScoutBot/services"
	"github.com/runawaydevil/ScoutBot/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	log.Println("starting scoutbot storage service")

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	if err := database.InitMySQL(&cfg.Database); err != nil {
		log.Fatalf("init mysql failed: %v", err)
	}

	database.DB.AutoMigrate(
		&models.Upload{},
		&models.UploadStat{},
		&models.UserSettings{},
	)
	log.Println("database migration completed")

	if err := database.InitRedis(&cfg.Redis); err != nil {
		log.Fatalf("init redis failed: %v", err)
	}

	if err := os.MkdirAll(filepath.Join(cfg.Storage.BasePath, "temp"), 0o755); err != nil {
		log.Fatalf("create temp dir failed: %v", err)
	}

	store := storage.NewClient(&cfg.Pentaract)
	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.Initialize(initCtx); err != nil {
		// The queue retries transfers; a store that is down at boot only
		// delays them.
		logger.Errorf("pentaract initialization failed, transfers will retry: %v", err)
	}
	cancelInit()

	repoContainer := repositories.NewGormRepositories(database.DB, database.RedisClient).BuildContainer()
	serviceContainer := services.NewContainer(cfg, repoContainer, store)
	handlers.SetServices(serviceContainer)

	serviceContainer.StartAll()
	log.Println("background services started")

	r := gin.Default()
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.RequestLogger())
	setupRoutes(r)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("shutting down")
		serviceContainer.StopAll()
		os.Exit(0)
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("server listening on http://%s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server start failed: %v", err)
	}
}

func setupRoutes(r *gin.Engine) {
	api := r.Group("/api")

	api.GET("/health", handlers.HealthCheck)

	uploads := api.Group("/uploads")
	{
		uploads.POST("", handlers.EnqueueUpload)
		uploads.POST("/local", handlers.EnqueueLocalUpload)
		uploads.GET("", handlers.ListUploads)
		uploads.GET("/queue/status", handlers.GetQueueStatus)
		uploads.GET("/code/:code", handlers.GetUploadByCode)
		uploads.GET("/:id", handlers.GetUpload)
		uploads.POST("/:id/cancel", handlers.CancelUpload)
		uploads.POST("/:id/retry", handlers.RetryUpload)
	}

	api.GET("/stats/summary", handlers.GetStatsSummary)

	settings := api.Group("/settings")
	{
		settings.GET("/:user_id", handlers.GetUserSettings)
		settings.PUT("/:user_id", handlers.UpdateUserSettings)
	}
}
