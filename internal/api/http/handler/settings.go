package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stadtnetz/lorabulk/internal/api/http/dto"
	"github.com/stadtnetz/lorabulk/internal/settings"
)

const testConnectionTimeout = 10 * time.Second

type SettingsHandler struct {
	store   *settings.Store
	factory RegistryFactory
}

func NewSettingsHandler(store *settings.Store, factory RegistryFactory) *SettingsHandler {
	return &SettingsHandler{store: store, factory: factory}
}

func (h *SettingsHandler) Get(c *gin.Context) {
	s := h.store.Get()
	c.JSON(http.StatusOK, dto.SettingsResponse{
		Server:                 s.Server,
		TokenConfigured:        s.APIToken != "",
		TenantID:               s.TenantID,
		DefaultApplicationID:   s.DefaultApplicationID,
		DefaultDeviceProfileID: s.DefaultDeviceProfileID,
	})
}

func (h *SettingsHandler) Save(c *gin.Context) {
	var req dto.SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next := settings.Settings{
		Server:                 req.Server,
		APIToken:               req.APIToken,
		TenantID:               req.TenantID,
		DefaultApplicationID:   req.DefaultApplicationID,
		DefaultDeviceProfileID: req.DefaultDeviceProfileID,
	}
	if err := h.store.Save(next); err != nil {
		slog.Error("Failed to save settings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
		return
	}

	h.Get(c)
}

// TestConnection dials the registry with the stored settings and runs a
// lightweight probe call.
func (h *SettingsHandler) TestConnection(c *gin.Context) {
	if !h.store.Configured() {
		c.JSON(http.StatusOK, dto.TestConnectionResponse{OK: false, Error: settings.ErrNotConfigured.Error()})
		return
	}

	conn, err := h.factory(h.store.Get())
	if err != nil {
		c.JSON(http.StatusOK, dto.TestConnectionResponse{OK: false, Error: err.Error()})
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(c.Request.Context(), testConnectionTimeout)
	defer cancel()

	if err := conn.TestConnection(ctx); err != nil {
		c.JSON(http.StatusOK, dto.TestConnectionResponse{OK: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.TestConnectionResponse{OK: true})
}
