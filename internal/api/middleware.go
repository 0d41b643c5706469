package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultRatePerSecond = 20
	defaultRateBurst     = 50
	limiterResetInterval = 5 * time.Minute
	requestIDKey         = "RequestID"
)

// ipLimiters hands out one token bucket per client IP. The whole map is
// dropped every limiterResetInterval so idle clients do not accumulate.
type ipLimiters struct {
	perSecond rate.Limit
	burst     int

	mu      sync.Mutex
	byIP    map[string]*rate.Limiter
	resetAt time.Time
}

func newIPLimiters(perSecond float64, burst int) *ipLimiters {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &ipLimiters{
		perSecond: limit,
		burst:     burst,
		byIP:      make(map[string]*rate.Limiter),
		resetAt:   time.Now().Add(limiterResetInterval),
	}
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now := time.Now(); now.After(l.resetAt) {
		l.byIP = make(map[string]*rate.Limiter)
		l.resetAt = now.Add(limiterResetInterval)
	}
	limiter, ok := l.byIP[ip]
	if !ok {
		limiter = rate.NewLimiter(l.perSecond, l.burst)
		l.byIP[ip] = limiter
	}
	return limiter
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware adds unique request ID for tracking
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RateLimitMiddleware prevents API abuse with per-IP rate limiting
func RateLimitMiddleware(limiters *ipLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP()).Allow() {
			respondError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, please slow down")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestLogger logs every request with its status and latency.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Warn("http_request", fields...)
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics":
			log.Debug("http_request", fields...)
		default:
			log.Info("http_request", fields...)
		}
	}
}
