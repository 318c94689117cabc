package http

import (
	"context"

	"github.com/EternisAI/iot-shield/internal/advisory"
	"github.com/EternisAI/iot-shield/internal/api/http/handler"
	"github.com/EternisAI/iot-shield/internal/api/http/middleware"
	"github.com/EternisAI/iot-shield/internal/auth"
	"github.com/EternisAI/iot-shield/internal/deploy"
	"github.com/EternisAI/iot-shield/internal/events"
	"github.com/EternisAI/iot-shield/internal/firmware"
	"github.com/EternisAI/iot-shield/internal/fleet"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

type Services struct {
	Auth      *auth.Service
	Store     fleet.Store
	Deploy    *deploy.Workflow
	Firmware  *firmware.Service
	Advisory  *advisory.Service
	Panels    *advisory.Panels
	Publisher events.Publisher
	Clock     clockwork.Clock
	Ready     func(ctx context.Context) error
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	if srvs.Panels == nil {
		srvs.Panels = advisory.NewPanels()
	}

	healthHandler := handler.NewHealthHandler(srvs.Ready)
	engine.GET("/health", healthHandler.Check)

	authHandler := handler.NewAuthHandler(srvs.Auth, srvs.Panels)
	engine.POST("/auth/login", authHandler.Login)
	engine.POST("/auth/logout", authHandler.Logout)

	fleetHandler := handler.NewFleetHandler(srvs.Store, srvs.Publisher)
	deployHandler := handler.NewDeployHandler(srvs.Deploy)
	firmwareHandler := handler.NewFirmwareHandler(srvs.Store, srvs.Firmware)
	securityHandler := handler.NewSecurityHandler(srvs.Store, srvs.Advisory, srvs.Panels, srvs.Clock)

	adminOnly := middleware.RequireRole(auth.RoleAdmin)

	api := engine.Group("/api/v1", middleware.JWTAuth(srvs.Auth))
	{
		api.GET("/session", authHandler.GetSession)
		api.PUT("/session/tab", authHandler.SetTab)

		api.GET("/dashboard", fleetHandler.Dashboard)

		api.GET("/devices", fleetHandler.ListDevices)
		api.GET("/devices/:id", fleetHandler.GetDevice)
		api.POST("/devices/:id/deploy", adminOnly, deployHandler.Deploy)
		api.DELETE("/devices/:id/deploy", adminOnly, deployHandler.Cancel)

		api.GET("/deployments", deployHandler.List)
		api.GET("/deployments/:id", deployHandler.Get)

		api.GET("/firmware", firmwareHandler.List)
		api.GET("/firmware/:id", firmwareHandler.Get)
		api.POST("/firmware", adminOnly, firmwareHandler.Upload)

		api.GET("/alerts", fleetHandler.ListAlerts)
		api.POST("/alerts/:id/acknowledge", adminOnly, fleetHandler.AcknowledgeAlert)

		api.POST("/security/analysis", securityHandler.Analyze)
		api.POST("/security/compliance", securityHandler.Compliance)
		api.GET("/security/panels", securityHandler.Panels)
	}
}
