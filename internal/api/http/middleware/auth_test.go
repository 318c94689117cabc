package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/EternisAI/iot-shield/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAuthenticator map[string]auth.Session

func (s stubAuthenticator) Authenticate(token string) (auth.Session, error) {
	session, ok := s[token]
	if !ok {
		return auth.Session{}, errors.New("unknown token")
	}
	return session, nil
}

func setupRouter() *gin.Engine {
	authenticator := stubAuthenticator{
		"admin-token":  {ID: "s1", Username: "admin", Role: auth.RoleAdmin},
		"viewer-token": {ID: "s2", Username: "user", Role: auth.RoleViewer},
	}

	r := gin.New()
	r.Use(RequestLogger())
	api := r.Group("/api", JWTAuth(authenticator))
	api.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"session_id": c.GetString(SessionIDKey), "role": c.GetString(RoleKey)})
	})
	api.POST("/admin", RequireRole(auth.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	r := setupRouter()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "no header", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "empty bearer", header: "Bearer ", want: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer viewer-token", want: http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/api/whoami", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	r := setupRouter()

	for token, want := range map[string]int{
		"admin-token":  http.StatusNoContent,
		"viewer-token": http.StatusForbidden,
	} {
		req, _ := http.NewRequest("POST", "/api/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, token)
	}
}
