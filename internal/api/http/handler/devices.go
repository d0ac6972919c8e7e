package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stadtnetz/lorabulk/internal/api/http/dto"
	"github.com/stadtnetz/lorabulk/internal/settings"
)

type DevicesHandler struct {
	store   *settings.Store
	factory RegistryFactory
}

func NewDevicesHandler(store *settings.Store, factory RegistryFactory) *DevicesHandler {
	return &DevicesHandler{store: store, factory: factory}
}

// List pages through the registry's devices for one application, mainly so
// the UI can verify what a run produced.
func (h *DevicesHandler) List(c *gin.Context) {
	if !h.store.Configured() {
		c.JSON(http.StatusConflict, gin.H{"error": settings.ErrNotConfigured.Error()})
		return
	}

	applicationID := c.Query("application_id")
	if applicationID == "" {
		applicationID = h.store.Get().DefaultApplicationID
	}
	if applicationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "application_id is required"})
		return
	}

	limit, _ := strconv.ParseUint(c.DefaultQuery("limit", "100"), 10, 32)
	offset, _ := strconv.ParseUint(c.DefaultQuery("offset", "0"), 10, 32)

	conn, err := h.factory(h.store.Get())
	if err != nil {
		slog.Error("Failed to dial registry", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "registry connection failed: " + err.Error()})
		return
	}
	defer conn.Close()

	devices, total, err := conn.ListDevices(c.Request.Context(), applicationID, c.Query("search"), uint32(limit), uint32(offset))
	if err != nil {
		slog.Error("Failed to list devices", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	resp := dto.ListDevicesResponse{Total: total, Devices: make([]dto.DeviceSummaryDTO, 0, len(devices))}
	for _, d := range devices {
		resp.Devices = append(resp.Devices, dto.DeviceSummaryDTO{DevEUI: d.DevEUI, Name: d.Name})
	}
	c.JSON(http.StatusOK, resp)
}
