package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reelpick/internal/client/llm"
	"github.com/reelpick/internal/client/tmdb"
	"github.com/reelpick/internal/client/trakt"
	"github.com/reelpick/internal/config"
	"github.com/reelpick/internal/handler"
	"github.com/reelpick/internal/metrics"
	"github.com/reelpick/internal/scheduler"
	"github.com/reelpick/internal/service/history"
	"github.com/reelpick/internal/service/library"
	"github.com/reelpick/internal/service/metadata"
	"github.com/reelpick/internal/service/recommend"
	"github.com/reelpick/internal/version"
	"github.com/reelpick/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

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
	cfg := cfgMgr.Get()
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		logger.Warnf("⚠️  %v", err)
	}

	// Generative-text provider
	llmClient := llm.NewClient(cfg.LLM)
	if llmClient.IsConfigured() {
		logger.Infof("🤖 LLM: %s (model=%s)", cfg.LLM.BaseURL, cfg.LLM.Model)
	} else {
		logger.Warn("⚠️  LLM api key not set, recommendations will fail until configured")
	}

	// Metadata provider
	tmdbClient := tmdb.NewClient(cfg.TMDB)
	if tmdbClient.IsConfigured() {
		logger.Info("🎬 TMDB: configured")
	} else {
		logger.Info("🎬 TMDB: disabled (no api key)")
	}
	metadataService := metadata.NewService(tmdbClient, metadata.NewCache(cfg.Cache.TTL(), cfg.Cache.MaxItems))
	logger.Infof("🗃️  Metadata cache: ttl=%s max=%d", cfg.Cache.TTL(), cfg.Cache.MaxItems)

	// Library store
	store, err := library.Open(cfg.Library.Path)
	if err != nil {
		logger.Fatalf("❌ Library error: %v", err)
	}
	logger.Infof("📚 Library: %s (%d favorites, %d watched)", cfg.Library.Path, len(store.Favorites()), len(store.Watched()))

	// Trakt watch-history import
	importCtx, stopImport := context.WithCancel(context.Background())
	defer stopImport()

	var historyService *history.Service
	if traktClient := trakt.NewClient(cfg.Trakt); traktClient.IsConfigured() {
		historyService = history.NewService(traktClient, store)
		logger.Info("📥 Trakt import: enabled")
		go func() {
			if err := traktClient.Authorize(importCtx); err != nil {
				logger.Errorf("❌ Trakt authorization failed: %v", err)
				return
			}
			if _, err := historyService.Import(importCtx); err != nil {
				logger.Errorf("❌ Initial history import failed: %v", err)
			}
		}()
	} else {
		logger.Info("📥 Trakt import: disabled")
	}

	recommendService := recommend.NewService(llmClient, store, func() float64 {
		return cfgMgr.Get().LLM.Temperature
	})

	// Initialize scheduler
	sched := scheduler.New(store, metadataService)
	if err := sched.Start(cfg.Scheduler.Cron); err != nil {
		logger.Fatalf("❌ Scheduler error: %v", err)
	}

	cfgMgr.OnChange(func(old, cur *config.Config) {
		if old.Log != cur.Log {
			if err := logger.SetLevel(cur.Log.Level); err != nil {
				logger.Warnf("⚠️  %v", err)
			} else {
				logger.Infof("🔄 Log level: %s", logger.Level())
			}
		}
		if old.LLM != cur.LLM {
			llmClient.Reconfigure(cur.LLM)
			logger.Info("🔄 LLM client reconfigured")
		}
		if old.Cache != cur.Cache {
			metadataService.Cache().Resize(cur.Cache.TTL(), cur.Cache.MaxItems)
		}
		if old.Scheduler.Cron != cur.Scheduler.Cron {
			if err := sched.Reschedule(cur.Scheduler.Cron); err != nil {
				logger.Errorf("❌ Reschedule failed, keeping previous schedule: %v", err)
			}
		}
		if old.Library.Path != cur.Library.Path || old.Server.Port != cur.Server.Port || old.TMDB != cur.TMDB || old.Trakt != cur.Trakt {
			logger.Warn("⚠️  server, tmdb, trakt and library changes take effect after restart")
		}
	})

	// Initialize HTTP server
	if !isDev {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger())
	router.Use(metrics.Middleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handler.New(recommendService, metadataService, store, historyService, llmClient, sched)
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.LLM.Timeout() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("❌ Server error: %v", err)
		}
	}()

	logger.Infof("🌐 API server: http://localhost:%d", cfg.Server.Port)
	logger.Info("")
	logger.Info("────────────────────────────────────────────────────────────────")
	logger.Info("✅  Ready!")
	logger.Info("────────────────────────────────────────────────────────────────")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("")
	logger.Info("🛑 Shutting down...")
	stopImport()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("❌ Shutdown error: %v", err)
	}

	// Stops cron and flushes pending library writes
	sched.Stop()

	logger.Info("👋 Goodbye!")
}

// requestID tags each request with an id, reusing the caller's if present
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requestLogger returns a gin middleware for logging HTTP requests
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		// Only log non-health endpoints or errors
		status := c.Writer.Status()
		if (path != "/api/v1/health" && path != "/metrics") || status >= 400 {
			logger.With("request_id", c.GetString("request_id")).
				Debugf("HTTP %s %s → %d (%v)", c.Request.Method, path, status, time.Since(start))
		}
	}
}
