package http

import (
	"github.com/gin-gonic/gin"

	"github.com/stadtnetz/lorabulk/internal/api/http/handler"
	"github.com/stadtnetz/lorabulk/internal/api/http/middleware"
	"github.com/stadtnetz/lorabulk/internal/auth"
	"github.com/stadtnetz/lorabulk/internal/reports"
	"github.com/stadtnetz/lorabulk/internal/settings"
)

type Services struct {
	Auth     *auth.Service
	Settings *settings.Store
	Reports  *reports.Service
	Jobs     *handler.JobManager
	Registry handler.RegistryFactory
	// JWTSecret guards everything except login and health.
	JWTSecret string
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	authHandler := handler.NewAuthHandler(srvs.Auth)
	engine.POST("/api/auth/login", authHandler.Login)

	api := engine.Group("/api", middleware.JWTAuth(srvs.JWTSecret))

	settingsHandler := handler.NewSettingsHandler(srvs.Settings, srvs.Registry)
	api.GET("/settings", settingsHandler.Get)
	api.PUT("/settings", settingsHandler.Save)
	api.POST("/settings/test-connection", settingsHandler.TestConnection)

	datasetHandler := handler.NewDatasetHandler(srvs.Jobs)
	api.POST("/uploads", datasetHandler.Upload)
	api.GET("/uploads/:id/mapping", datasetHandler.SuggestMapping)

	runsHandler := handler.NewRunsHandler(srvs.Jobs, srvs.Settings, srvs.Registry, srvs.Reports)
	api.POST("/runs", runsHandler.Start)
	api.GET("/runs/:id", runsHandler.Get)
	api.GET("/runs/:id/events", runsHandler.Events)
	api.POST("/runs/:id/cancel", runsHandler.Cancel)
	api.GET("/history", runsHandler.History)
	api.GET("/history/:id", runsHandler.HistoryDetail)

	devicesHandler := handler.NewDevicesHandler(srvs.Settings, srvs.Registry)
	api.GET("/devices", devicesHandler.List)
}
