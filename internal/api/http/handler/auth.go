package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/iot-shield/internal/advisory"
	"github.com/EternisAI/iot-shield/internal/api/http/dto"
	"github.com/EternisAI/iot-shield/internal/api/http/middleware"
	"github.com/EternisAI/iot-shield/internal/auth"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	auth   *auth.Service
	panels *advisory.Panels
}

func NewAuthHandler(authService *auth.Service, panels *advisory.Panels) *AuthHandler {
	return &AuthHandler{
		auth:   authService,
		panels: panels,
	}
}

// Login checks the operator credentials and opens a session
// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		slog.Error("Failed to log in", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if h.panels != nil {
		h.panels.Open(session.ID)
	}

	c.JSON(http.StatusOK, dto.LoginResponse{
		Token:     token,
		Username:  session.Username,
		Role:      string(session.Role),
		ActiveTab: string(session.ActiveTab),
		ExpiresAt: session.ExpiresAt,
	})
}

// Logout closes the caller's session. It succeeds whether or not the
// session is still open.
// POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if token, ok := middleware.BearerToken(c); ok {
		if sessionID, ok := h.auth.LogoutToken(token); ok && h.panels != nil {
			h.panels.Drop(sessionID)
		}
	}
	c.Status(http.StatusNoContent)
}

// GET /api/v1/session
func (h *AuthHandler) GetSession(c *gin.Context) {
	session, err := h.auth.Lookup(c.GetString(middleware.SessionIDKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// PUT /api/v1/session/tab
func (h *AuthHandler) SetTab(c *gin.Context) {
	var req dto.SetTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.auth.SetActiveTab(c.GetString(middleware.SessionIDKey), auth.Tab(req.Tab))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnknownTab):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrSessionNotFound):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session not found"})
		default:
			slog.Error("Failed to set tab", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, session)
}
