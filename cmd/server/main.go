// Package main is the entry point for the map annotation service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/map-annotator/backend/internal/auth"
	"github.com/map-annotator/backend/internal/blob"
	"github.com/map-annotator/backend/internal/cache"
	"github.com/map-annotator/backend/internal/config"
	"github.com/map-annotator/backend/internal/database"
	"github.com/map-annotator/backend/internal/handler"
)

func main() {
	// A missing .env is fine; env vars and defaults still apply.
	_ = godotenv.Load()

	port := flag.String("port", "", "Server port (overrides SERVER_PORT env var)")
	flag.Parse()

	if *port != "" {
		os.Setenv("SERVER_PORT", *port)
	}

	app := fx.New(
		fx.Provide(
			config.New,
			newLogger,
			newGinEngine,
		),
		fx.Invoke(startServer),
	)

	app.Run()
}

// newLogger creates a new zap logger based on the environment.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newGinEngine creates and configures a new Gin engine.
func newGinEngine(cfg *config.Config) *gin.Engine {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	// CORS middleware
	engine.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	return engine
}

// startServer wires the repository, cache, auth and blob store into the HTTP
// server.
func startServer(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, engine *gin.Engine) error {
	logger.Info("Starting service", zap.String("port", cfg.ServerPort))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "map-annotator",
		})
	})

	repo, err := database.NewPostgresRepository(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
		return err
	}

	cacheClient, err := cache.NewRedisCache(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
		return err
	}

	blobs, err := blob.NewFSStore(cfg.ImageDir, logger)
	if err != nil {
		logger.Fatal("Failed to open image storage", zap.Error(err))
		return err
	}

	authSvc := auth.NewService(repo, cacheClient, cfg.JWTSecret, cfg.TokenTTL(), logger)

	h := handler.NewHandler(repo, cacheClient, authSvc, blobs, logger)
	apiV1 := engine.Group("/api/v1")
	h.RegisterRoutes(apiV1)
	engine.Static("/images", blobs.Dir())

	logger.Info("Routes registered")

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info("Server starting", zap.String("addr", server.Addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("Server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Server shutting down")

			repo.Close()
			_ = cacheClient.Close()

			return server.Shutdown(ctx)
		},
	})

	return nil
}
