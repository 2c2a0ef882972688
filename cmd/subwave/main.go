package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/subwave/internal/client/apprise"
	"github.com/subwave/internal/config"
	"github.com/subwave/internal/engine"
	"github.com/subwave/internal/fileops"
	"github.com/subwave/internal/handler"
	"github.com/subwave/internal/runner"
	"github.com/subwave/internal/store"
	"github.com/subwave/internal/version"
	"github.com/subwave/pkg/logger"
)

func main() {
	// Initialize logger
	isDev := os.Getenv("ENV") != "production"
	logger.Init(isDev)
	defer logger.Sync()

	version.PrintBanner(nil)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	logger.Infof("📁 Loading config: %s", configPath)
	cfgMgr, err := config.NewManager(configPath)
	if err != nil {
		logger.Fatalf("❌ Config error: %v", err)
	}
	defer cfgMgr.Stop()
	cfg := cfgMgr.Get()

	// Staging area for multipart uploads; runners reclaim files when done
	uploadDir := filepath.Join(os.TempDir(), "subwave-uploads")
	if err := fileops.EnsureDir(uploadDir); err != nil {
		logger.Fatalf("❌ Upload dir error: %v", err)
	}

	// Initialize inference engine and model cache
	eng, err := engine.New(cfg.Engine)
	if err != nil {
		logger.Fatalf("❌ Engine error: %v", err)
	}
	modelCache := engine.NewCache(eng, cfg.Engine.ConcurrentInference)

	// Initialize job store with its eviction sweeper
	jobStore := store.New()
	jobStore.StartSweeper(cfg.Jobs.SweepInterval(), cfg.Jobs.Retention())
	defer jobStore.Stop()

	// Initialize Apprise client
	var appriseClient *apprise.Client
	if cfg.Apprise.Enabled {
		appriseClient = apprise.NewClient(cfg.Apprise)
		logger.Infof("🔔 Notifications: enabled (key=%s)", cfg.Apprise.Key)
	} else {
		logger.Info("🔔 Notifications: disabled")
	}

	// Initialize job runner
	jobRunner := runner.New(jobStore, modelCache, cfg.Engine.RateLimitRPM, appriseClient)

	// Initialize HTTP server
	if !isDev {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	// Register routes
	h := handler.New(jobStore, jobRunner, cfg, uploadDir)
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Minute, // large audio uploads
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Print startup info
	logger.Info("")
	logger.Infof("🎤 Engine: %s (default model: %s, concurrent inference: %v)",
		cfg.Engine.Provider, cfg.Engine.DefaultModel, cfg.Engine.ConcurrentInference)
	logger.Infof("🧹 Jobs: sweep every %v, retain %v", cfg.Jobs.SweepInterval(), cfg.Jobs.Retention())
	logger.Info("")
	logger.Infof("🌐 API server: http://localhost:%d", cfg.Server.Port)
	logger.Infof("   POST /transcribe           - Submit audio, returns task_id")
	logger.Infof("   GET  /progress/{task_id}   - Poll job state")
	logger.Infof("   GET  /download/{task_id}   - Fetch completed .srt")
	logger.Infof("   GET  /health               - Liveness probe")
	logger.Info("")
	logger.Info("────────────────────────────────────────────────────────────────")
	logger.Info("✅  Ready! Waiting for transcription requests...")
	logger.Info("────────────────────────────────────────────────────────────────")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("")
	logger.Info("🛑 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("❌ Shutdown error: %v", err)
	}

	logger.Info("👋 Goodbye!")
}

// requestLogger returns a gin middleware for logging HTTP requests
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		if path != "/health" || status >= 400 {
			latency := time.Since(start)
			logger.Debugf("HTTP %s %s → %d (%v)", c.Request.Method, path, status, latency)
		}
	}
}
