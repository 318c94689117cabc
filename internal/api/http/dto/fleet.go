package dto

import (
	"github.com/EternisAI/iot-shield/internal/deploy"
	"github.com/EternisAI/iot-shield/internal/fleet"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type DashboardResponse struct {
	Stats          fleet.Stats     `json:"stats"`
	Alerts         []fleet.Alert   `json:"alerts"`
	LatestFirmware *fleet.Firmware `json:"latest_firmware,omitempty"`
}

type ListDevicesResponse struct {
	Devices []fleet.Device `json:"devices"`
	Total   int            `json:"total"`
}

type ListDeploymentsResponse struct {
	Deployments []deploy.Deployment `json:"deployments"`
	Total       int                 `json:"total"`
}

type ListFirmwareResponse struct {
	Firmware []fleet.Firmware `json:"firmware"`
	Total    int              `json:"total"`
}

type ListAlertsResponse struct {
	Alerts []fleet.Alert `json:"alerts"`
	Total  int           `json:"total"`
}
