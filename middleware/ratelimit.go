package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/arcturusdc/orbit/services/ratelimit"
	"github.com/arcturusdc/orbit/utils"
	"go.uber.org/zap"
)

// RateLimitMiddleware enforces fixed-window limits per caller identity
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	window  time.Duration
	logger  *zap.Logger
}

// NewRateLimitMiddleware creates a new RateLimitMiddleware. A nil limiter disables limiting.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, window time.Duration, logger *zap.Logger) *RateLimitMiddleware {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimitMiddleware{limiter: limiter, window: window, logger: logger}
}

// Limit counts requests in the named bucket against limit per window.
// Counter failures let the request through.
func (m *RateLimitMiddleware) Limit(bucket string, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m.limiter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := bucket + ":" + callerIdentity(r)

			result, err := m.limiter.Allow(ctx, key, limit, m.window)
			if err != nil {
				m.logger.Warn("rate limiter unavailable",
					zap.String("request_id", GetRequestIDFromContext(ctx)),
					zap.String("bucket", bucket),
					zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := int(time.Until(result.ResetAt).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				m.logger.Info("rate limit exceeded",
					zap.String("request_id", GetRequestIDFromContext(ctx)),
					zap.String("key", key))
				_ = utils.WriteTooManyRequests(w, "", map[string]interface{}{
					"limit":   result.Limit,
					"resetAt": result.ResetAt.UTC().Format(time.RFC3339),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// callerIdentity prefers the authenticated org, then the session subject, then the client address
func callerIdentity(r *http.Request) string {
	ctx := r.Context()
	if orgID := GetOrgIDFromContext(ctx); orgID != "" {
		return "org:" + orgID
	}
	if subject := GetSubjectFromContext(ctx); subject != "" {
		return "sub:" + subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
