package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/energydesk-api/internal/auth"
	"github.com/ksred/energydesk-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noAccounts struct{}

func (noAccounts) Authenticate(context.Context, string, string) (*types.Account, error) {
	return nil, nil
}

func serve(router *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := auth.NewService("secret", time.Hour, noAccounts{})

	router := gin.New()
	router.GET("/me", JWTAuth(tokens), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(TraderIDKey))
	})

	token, _, err := tokens.Sign("alice", time.Now())
	require.NoError(t, err)

	w := serve(router, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	w = serve(router, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(router, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/admin", AdminAuth("admin123"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodGet, "/admin", map[string]string{AdminPINHeader: "admin123"}).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/admin", map[string]string{AdminPINHeader: "admin124"}).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/admin", nil).Code)
}

func TestRateLimitPerRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter()

	router := gin.New()
	router.Use(limiter.Middleware())
	router.POST("/api/v1/auth/token", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Auth allows a burst of 3
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/api/v1/auth/token", nil).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodPost, "/api/v1/auth/token", nil).Code)

	for i := 0; i < 50; i++ {
		require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", nil).Code)
	}
}

func TestRateLimitBucketsByTraderAfterAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter()

	asTrader := func(c *gin.Context) {
		c.Set(TraderIDKey, c.GetHeader("X-Trader"))
		c.Next()
	}
	router := gin.New()
	router.POST("/api/v1/trades", asTrader, limiter.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	// Trading allows a burst of 10; both traders share one client IP
	alice := map[string]string{"X-Trader": "alice"}
	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/api/v1/trades", alice).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodPost, "/api/v1/trades", alice).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/api/v1/trades", map[string]string{"X-Trader": "bob"}).Code)
}

func TestRateLimiterCleanup(t *testing.T) {
	limiter := NewRateLimiter()
	limiter.getLimiter("/api/v1/trades", "1.2.3.4")
	require.Len(t, limiter.visitors, 1)

	limiter.cleanup(time.Now().Add(time.Minute))
	assert.Len(t, limiter.visitors, 1)

	limiter.cleanup(time.Now().Add(visitorTTL + time.Second))
	assert.Empty(t, limiter.visitors)
}
