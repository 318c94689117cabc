package dto

import "time"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ActiveTab string    `json:"active_tab"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SetTabRequest struct {
	Tab string `json:"tab" binding:"required"`
}
