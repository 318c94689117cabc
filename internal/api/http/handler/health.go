package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/EternisAI/iot-shield/internal/api/http/dto"
	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	ready func(ctx context.Context) error
}

// NewHealthHandler reports "ok" while ready returns nil. A nil ready
// check always passes.
func NewHealthHandler(ready func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{ready: ready}
}

func (h *HealthHandler) Check(ctx *gin.Context) {
	if h.ready != nil {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(checkCtx); err != nil {
			ctx.JSON(http.StatusServiceUnavailable, dto.HealthResponse{Status: "unavailable"})
			return
		}
	}
	ctx.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
}
