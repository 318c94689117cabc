package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/EternisAI/iot-shield/internal/api/http/dto"
	"github.com/EternisAI/iot-shield/internal/firmware"
	"github.com/EternisAI/iot-shield/internal/fleet"
	"github.com/gin-gonic/gin"
)

// multipart framing on top of the binary itself
const uploadOverhead = 1 << 20

type FirmwareHandler struct {
	store   fleet.Store
	service *firmware.Service
}

func NewFirmwareHandler(store fleet.Store, service *firmware.Service) *FirmwareHandler {
	return &FirmwareHandler{
		store:   store,
		service: service,
	}
}

// GET /api/v1/firmware
func (h *FirmwareHandler) List(c *gin.Context) {
	list, err := h.store.ListFirmware(c.Request.Context())
	if err != nil {
		internalError(c, "Failed to list firmware", err)
		return
	}
	c.JSON(http.StatusOK, dto.ListFirmwareResponse{Firmware: list, Total: len(list)})
}

// GET /api/v1/firmware/:id
func (h *FirmwareHandler) Get(c *gin.Context) {
	fw, err := h.store.GetFirmware(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, fleet.ErrFirmwareNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "firmware not found"})
			return
		}
		internalError(c, "Failed to get firmware", err)
		return
	}
	c.JSON(http.StatusOK, fw)
}

// Upload signs a .bin or .hex image and adds it as a DRAFT release
// POST /api/v1/firmware
func (h *FirmwareHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, firmware.MaxBinarySize+uploadOverhead)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		slog.Warn("Failed to read file from form", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Error("Failed to read uploaded file", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}

	fw, err := h.service.UploadAndSign(c.Request.Context(), firmware.Binary{
		Filename:    header.Filename,
		Data:        data,
		Description: c.PostForm("description"),
	})
	if err != nil {
		switch {
		case errors.Is(err, firmware.ErrInvalidBinaryFormat):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, firmware.ErrHSMUnavailable):
			slog.Error("Signing unavailable", "filename", header.Filename, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signing module unavailable"})
		default:
			internalError(c, "Failed to upload firmware", err)
		}
		return
	}

	c.JSON(http.StatusCreated, fw)
}
