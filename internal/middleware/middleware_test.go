package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medbook/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medbook/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type stubValidator struct {
	claims *domain.Claims
	err    error
}

func (s stubValidator) ValidateAccessToken(string) (*domain.Claims, error) {
	return s.claims, s.err
}

func TestAuthAndRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	doctor := &domain.Claims{UserID: uuid.New(), Role: domain.RoleDoctor}

	tests := []struct {
		name   string
		header string
		v      stubValidator
		status int
	}{
		{"missing header", "", stubValidator{claims: doctor}, http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", stubValidator{claims: doctor}, http.StatusUnauthorized},
		{"rejected token", "Bearer abc", stubValidator{err: errors.New("token is invalid")}, http.StatusUnauthorized},
		{"wrong role", "Bearer abc", stubValidator{claims: &domain.Claims{UserID: uuid.New(), Role: domain.RolePatient}}, http.StatusForbidden},
		{"allowed", "bearer abc", stubValidator{claims: doctor}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/x", Auth(tt.v), RequireRole(domain.RoleDoctor), func(c *gin.Context) {
				if ClaimsFrom(c) == nil {
					t.Error("claims missing from context")
				}
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var seen string
	r.GET("/x", RequestID(), func(c *gin.Context) {
		seen = service.RequestIDFrom(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if seen != "req-123" || w.Header().Get(HeaderRequestID) != "req-123" {
		t.Errorf("expected propagated id, got ctx=%q header=%q", seen, w.Header().Get(HeaderRequestID))
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if _, err := uuid.Parse(w.Header().Get(HeaderRequestID)); err != nil {
		t.Errorf("expected a minted uuid, got %q", w.Header().Get(HeaderRequestID))
	}
}

func TestRateLimiter_Evict(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.get("10.0.0.1")
	rl.get("10.0.0.2")
	rl.clients["10.0.0.1"].seen = time.Now().Add(-time.Hour)
	rl.evict(3 * time.Minute)

	rl.mu.Lock()
	n := len(rl.clients)
	rl.mu.Unlock()
	if n != 1 {
		t.Errorf("expected only the idle client to be evicted, %d left", n)
	}
}
