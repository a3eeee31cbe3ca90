package middleware

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/energydesk-api/internal/auth"
	"github.com/ksred/energydesk-api/pkg/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// TraderIDKey is the gin context key holding the authenticated trader
	TraderIDKey = "traderID"
	// AdminPINHeader carries the admin PIN on admin routes
	AdminPINHeader = "X-Admin-PIN"

	visitorTTL = 3 * time.Minute
)

// Configure limits per endpoint type
var (
	authLimit    = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	tradingLimit = rate.Limit(120.0 / 60.0)  // 120 requests per minute
	readLimit    = rate.Limit(1000.0 / 60.0) // 1000 requests per minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client and route
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{visitors: make(map[string]*visitor)}
}

func limitFor(path string) (rate.Limit, int) {
	switch {
	case strings.HasPrefix(path, "/api/v1/auth"), strings.HasPrefix(path, "/api/v1/traders/register"):
		return authLimit, 3
	case strings.HasPrefix(path, "/api/v1/trades"):
		return tradingLimit, 10
	case strings.HasPrefix(path, "/api/v1/leaderboard"), strings.HasPrefix(path, "/api/v1/trade-feed"),
		strings.HasPrefix(path, "/api/v1/market-status"):
		return readLimit, 20
	default:
		return rate.Inf, 1
	}
}

func (l *RateLimiter) getLimiter(path, client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := client + ":" + path
	v, exists := l.visitors[key]
	if !exists {
		limit, burst := limitFor(path)
		v = &visitor{limiter: rate.NewLimiter(limit, burst)}
		l.visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Run evicts idle visitors every minute until ctx is cancelled
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup(time.Now())
		}
	}
}

func (l *RateLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, key)
		}
	}
}

// Middleware limits requests per route. Mounted after JWTAuth it buckets by trader,
// otherwise by client IP.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.GetString(TraderIDKey)
		if client == "" {
			client = c.ClientIP()
		}

		if !l.getLimiter(c.FullPath(), client).Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth requires a valid bearer token and stores the trader id in the context
func JWTAuth(tokens *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(bearerToken[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set(TraderIDKey, claims.TraderID)
		c.Next()
	}
}

// AdminAuth requires the admin PIN header
func AdminAuth(pin string) gin.HandlerFunc {
	expected := []byte(pin)
	return func(c *gin.Context) {
		given := []byte(c.GetHeader(AdminPINHeader))
		if len(given) == 0 || subtle.ConstantTimeCompare(given, expected) != 1 {
			log.Warn().
				Str("service", "middleware").
				Str("client_ip", c.ClientIP()).
				Str("path", c.FullPath()).
				Msg("rejected admin request")
			response.Unauthorized(c, "Admin authentication required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestLogger logs every request with zerolog
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Debug()
		if c.Writer.Status() >= 500 {
			event = log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("trader", c.GetString(TraderIDKey)).
			Msg("request")
	}
}
