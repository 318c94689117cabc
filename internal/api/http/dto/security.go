package dto

import "github.com/EternisAI/iot-shield/internal/advisory"

type ComplianceRequest struct {
	Standard string `json:"standard" binding:"required"`
}

type PanelsResponse struct {
	Analysis   advisory.Panel `json:"analysis"`
	Compliance advisory.Panel `json:"compliance"`
}
