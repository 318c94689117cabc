package handler

import (
	"errors"
	"net/http"

	"github.com/EternisAI/iot-shield/internal/api/http/dto"
	"github.com/EternisAI/iot-shield/internal/deploy"
	"github.com/EternisAI/iot-shield/internal/fleet"
	"github.com/gin-gonic/gin"
)

type DeployHandler struct {
	workflow *deploy.Workflow
}

func NewDeployHandler(workflow *deploy.Workflow) *DeployHandler {
	return &DeployHandler{workflow: workflow}
}

// Deploy starts an update on the device. The outcome is reported later
// through the device status and the deployment record.
// POST /api/v1/devices/:id/deploy
func (h *DeployHandler) Deploy(c *gin.Context) {
	dep, err := h.workflow.Deploy(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDeployError(c, err, "Failed to start deployment")
		return
	}
	c.JSON(http.StatusAccepted, dep)
}

// DELETE /api/v1/devices/:id/deploy
func (h *DeployHandler) Cancel(c *gin.Context) {
	dep, err := h.workflow.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDeployError(c, err, "Failed to cancel deployment")
		return
	}
	c.JSON(http.StatusOK, dep)
}

// GET /api/v1/deployments
func (h *DeployHandler) List(c *gin.Context) {
	list := h.workflow.List()
	c.JSON(http.StatusOK, dto.ListDeploymentsResponse{Deployments: list, Total: len(list)})
}

// GET /api/v1/deployments/:id
func (h *DeployHandler) Get(c *gin.Context) {
	dep, err := h.workflow.Get(c.Param("id"))
	if err != nil {
		writeDeployError(c, err, "Failed to get deployment")
		return
	}
	c.JSON(http.StatusOK, dep)
}

func writeDeployError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, fleet.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
	case errors.Is(err, deploy.ErrDeploymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "deployment not found"})
	case errors.Is(err, deploy.ErrDeploymentInProgress),
		errors.Is(err, deploy.ErrNoActiveDeployment),
		errors.Is(err, deploy.ErrNoTargetRelease):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		internalError(c, msg, err)
	}
}
