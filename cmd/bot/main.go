package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/partyhub/mention-lifecycle/internal/app"
	"github.com/partyhub/mention-lifecycle/internal/config"
	"github.com/partyhub/mention-lifecycle/internal/scheduler"
	"github.com/partyhub/mention-lifecycle/internal/webhook"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting mention lifecycle service")

	ctx := context.Background()
	services, err := app.New(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize services: %v", err)
	}
	defer services.Close()

	schedulerService := scheduler.NewService(cfg, services.Lifecycle, services.Party, services.Hashtags)
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	router := mux.NewRouter()
	router.Use(services.Metrics.Middleware)

	webhook.NewHandler(cfg, services.Webhook, services.Directory).RegisterRoutes(router)

	router.HandleFunc("/health", healthCheckHandler(services.Lifecycle)).Methods(http.MethodGet)
	router.Handle("/metrics", services.Metrics.Handler()).Methods(http.MethodGet)

	if !registerInternalRoutes(router, cfg.CronSecret, services.Lifecycle, services.Party, services.Hashtags) {
		logrus.Warn("CRON_SECRET is not set, /internal sweep triggers are disabled")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	// Party selection started by late deliveries still owns its messages.
	services.Webhook.Wait()

	logrus.Info("Server exited")
}
