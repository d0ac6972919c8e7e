package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	internalhttp "github.com/stadtnetz/lorabulk/internal/api/http"
	"github.com/stadtnetz/lorabulk/internal/api/http/handler"
	"github.com/stadtnetz/lorabulk/internal/auth"
	"github.com/stadtnetz/lorabulk/internal/db"
	"github.com/stadtnetz/lorabulk/internal/reports"
	"github.com/stadtnetz/lorabulk/internal/settings"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("LoRa Bulk Registration Server", "version", AppVersion)

	if config.Auth.JWTSecret == "" || config.Auth.AdminPassword == "" {
		slog.Error("auth.jwt_secret and auth.admin_password must be configured")
		os.Exit(1)
	}

	adminHash, err := auth.HashPassword(config.Auth.AdminPassword)
	if err != nil {
		slog.Error("Failed to hash admin password", "error", err)
		os.Exit(1)
	}
	authService := auth.NewService(auth.Config{
		AdminUsername: config.Auth.AdminUsername,
		AdminHash:     adminHash,
		JWTSecret:     config.Auth.JWTSecret,
		TokenTTL:      config.Auth.TokenTTL,
	})

	settingsStore, err := settings.NewStore(config.SettingsPath)
	if err != nil {
		slog.Error("Failed to load settings", "path", config.SettingsPath, "error", err)
		os.Exit(1)
	}

	// Run history is optional; without a database the server still does
	// everything except persist reports.
	var pool *pgxpool.Pool
	if config.Database.Url != "" {
		if err := db.RunMigrations(config.Database.Url); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
		pool, err = db.InitDB(context.Background(), config.Database.Url)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
	} else {
		slog.Warn("No database configured, run history is disabled")
	}

	jobs := handler.NewJobManager()
	defer jobs.Close()

	services := &internalhttp.Services{
		Auth:      authService,
		Settings:  settingsStore,
		Reports:   reports.NewService(pool),
		Jobs:      jobs,
		Registry:  handler.ChirpstackFactory,
		JWTSecret: config.Auth.JWTSecret,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("Shutdown complete")
}
