package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/iot-shield/internal/advisory"
	"github.com/EternisAI/iot-shield/internal/api/http/dto"
	"github.com/EternisAI/iot-shield/internal/api/http/middleware"
	"github.com/EternisAI/iot-shield/internal/fleet"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

// SecurityHandler runs advisory requests in the background and parks
// their results in the caller's panels. The advisory service tracks the
// background work so shutdown can wait for it.
type SecurityHandler struct {
	store    fleet.Store
	advisory *advisory.Service
	panels   *advisory.Panels
	clock    clockwork.Clock
}

func NewSecurityHandler(store fleet.Store, advisoryService *advisory.Service, panels *advisory.Panels, clock clockwork.Clock) *SecurityHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SecurityHandler{
		store:    store,
		advisory: advisoryService,
		panels:   panels,
		clock:    clock,
	}
}

// POST /api/v1/security/analysis
func (h *SecurityHandler) Analyze(c *gin.Context) {
	sessionID := c.GetString(middleware.SessionIDKey)
	ctx := context.WithoutCancel(c.Request.Context())

	ticket, ok := h.panels.Begin(sessionID, advisory.PanelAnalysis)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session not found"})
		return
	}
	h.advisory.Go(func() {
		text := advisory.AnalysisUnavailable
		devices, err := h.store.ListDevices(ctx)
		if err == nil {
			var alerts []fleet.Alert
			alerts, err = h.store.ListAlerts(ctx)
			if err == nil {
				text = h.advisory.AnalyzeSecurityPosture(ctx, devices, alerts)
			}
		}
		if err != nil {
			slog.Error("Failed to load fleet for analysis", "error", err)
		}
		h.panels.Complete(sessionID, advisory.PanelAnalysis, ticket, "", text, h.clock.Now().UTC())
	})

	c.JSON(http.StatusAccepted, h.panelsFor(sessionID))
}

// POST /api/v1/security/compliance
func (h *SecurityHandler) Compliance(c *gin.Context) {
	var req dto.ComplianceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	standard, err := advisory.ParseStandard(req.Standard)
	if err != nil {
		if errors.Is(err, advisory.ErrUnknownStandard) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		internalError(c, "Failed to parse standard", err)
		return
	}

	sessionID := c.GetString(middleware.SessionIDKey)
	ctx := context.WithoutCancel(c.Request.Context())

	ticket, ok := h.panels.Begin(sessionID, advisory.PanelCompliance)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session not found"})
		return
	}
	h.advisory.Go(func() {
		text := h.advisory.GenerateComplianceMap(ctx, standard)
		h.panels.Complete(sessionID, advisory.PanelCompliance, ticket, standard, text, h.clock.Now().UTC())
	})

	c.JSON(http.StatusAccepted, h.panelsFor(sessionID))
}

// GET /api/v1/security/panels
func (h *SecurityHandler) Panels(c *gin.Context) {
	c.JSON(http.StatusOK, h.panelsFor(c.GetString(middleware.SessionIDKey)))
}

func (h *SecurityHandler) panelsFor(sessionID string) dto.PanelsResponse {
	panels := h.panels.Get(sessionID)
	return dto.PanelsResponse{
		Analysis:   panels[advisory.PanelAnalysis],
		Compliance: panels[advisory.PanelCompliance],
	}
}
