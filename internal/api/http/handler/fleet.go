package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/EternisAI/iot-shield/internal/api/http/dto"
	"github.com/EternisAI/iot-shield/internal/api/http/middleware"
	"github.com/EternisAI/iot-shield/internal/events"
	"github.com/EternisAI/iot-shield/internal/fleet"
	"github.com/gin-gonic/gin"
)

type FleetHandler struct {
	store     fleet.Store
	publisher events.Publisher
}

func NewFleetHandler(store fleet.Store, publisher events.Publisher) *FleetHandler {
	return &FleetHandler{
		store:     store,
		publisher: publisher,
	}
}

// Dashboard returns the fleet aggregates and the alert feed
// GET /api/v1/dashboard
func (h *FleetHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	devices, err := h.store.ListDevices(ctx)
	if err != nil {
		internalError(c, "Failed to list devices", err)
		return
	}
	alerts, err := h.store.ListAlerts(ctx)
	if err != nil {
		internalError(c, "Failed to list alerts", err)
		return
	}
	releases, err := h.store.ListFirmware(ctx)
	if err != nil {
		internalError(c, "Failed to list firmware", err)
		return
	}

	resp := dto.DashboardResponse{
		Stats:  fleet.Summarize(devices),
		Alerts: alerts,
	}
	for i := range releases {
		if releases[i].Deployable() {
			resp.LatestFirmware = &releases[i]
			break
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ListDevices returns the device table, optionally filtered by q
// GET /api/v1/devices
func (h *FleetHandler) ListDevices(c *gin.Context) {
	devices, err := h.store.ListDevices(c.Request.Context())
	if err != nil {
		internalError(c, "Failed to list devices", err)
		return
	}

	if q := strings.ToLower(strings.TrimSpace(c.Query("q"))); q != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if strings.Contains(strings.ToLower(d.Name), q) ||
				strings.Contains(strings.ToLower(d.ID), q) ||
				strings.Contains(d.IP, q) {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	c.JSON(http.StatusOK, dto.ListDevicesResponse{Devices: devices, Total: len(devices)})
}

// GET /api/v1/devices/:id
func (h *FleetHandler) GetDevice(c *gin.Context) {
	device, err := h.store.GetDevice(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, fleet.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		internalError(c, "Failed to get device", err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// GET /api/v1/alerts
func (h *FleetHandler) ListAlerts(c *gin.Context) {
	alerts, err := h.store.ListAlerts(c.Request.Context())
	if err != nil {
		internalError(c, "Failed to list alerts", err)
		return
	}
	c.JSON(http.StatusOK, dto.ListAlertsResponse{Alerts: alerts, Total: len(alerts)})
}

// AcknowledgeAlert marks an alert as handled. Repeating it is harmless.
// POST /api/v1/alerts/:id/acknowledge
func (h *FleetHandler) AcknowledgeAlert(c *gin.Context) {
	ctx := c.Request.Context()
	alert, err := h.store.AcknowledgeAlert(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, fleet.ErrAlertNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
			return
		}
		internalError(c, "Failed to acknowledge alert", err)
		return
	}

	slog.Info("Alert acknowledged", "alert_id", alert.ID, "username", c.GetString(middleware.UsernameKey))
	events.Emit(ctx, h.publisher, events.TypeAlertAcknowledged, alert)
	c.JSON(http.StatusOK, alert)
}

func internalError(c *gin.Context, msg string, err error) {
	slog.Error(msg, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
