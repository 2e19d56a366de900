package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/arcturusdc/orbit/auth"
	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/services"
	"github.com/arcturusdc/orbit/utils"
	"go.uber.org/zap"
)

// Credential headers
const (
	HeaderOrgID    = "X-Org-ID"
	HeaderAPIKey   = "X-API-Key"
	HeaderAdminKey = "X-Admin-Key"
)

// TokenValidator validates subject session tokens
type TokenValidator interface {
	Validate(token string) (*auth.Session, error)
}

// OrgAuthenticator checks an org identifier and API key against the stored org record
type OrgAuthenticator interface {
	Authenticate(ctx context.Context, orgID, apiKey string) (*models.Organization, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	orgs      OrgAuthenticator
	adminKey  string
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. An empty adminKey rejects every admin request.
func NewAuthMiddleware(validator TokenValidator, orgs OrgAuthenticator, adminKey string, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		orgs:      orgs,
		adminKey:  adminKey,
		logger:    logger,
	}
}

// RequireSession is a middleware that requires a valid Bearer session token
func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractBearerToken(r)
		if token == "" {
			m.logger.Warn("missing session token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		session, err := m.validator.Validate(token)
		if err != nil {
			m.logger.Warn("session validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired session")
			return
		}

		m.logger.Debug("session authenticated",
			zap.String("request_id", requestID),
			zap.String("sub", session.Subject))

		next.ServeHTTP(w, r.WithContext(WithSession(ctx, session)))
	})
}

// RequireOrgCredentials is a middleware that requires X-Org-ID and X-API-Key
// matching a stored organization
func (m *AuthMiddleware) RequireOrgCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		orgID := strings.TrimSpace(r.Header.Get(HeaderOrgID))
		apiKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
		if orgID == "" || apiKey == "" {
			m.logger.Warn("missing org credentials",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing organization credentials")
			return
		}

		org, err := m.orgs.Authenticate(ctx, orgID, apiKey)
		if err != nil {
			if services.IsUnauthorizedError(err) {
				m.logger.Warn("org authentication failed",
					zap.String("request_id", requestID),
					zap.String("org_id", orgID))
				_ = utils.WriteUnauthorized(w, "Invalid organization credentials")
				return
			}
			m.logger.Error("org authentication error",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteInternalServerError(w, "")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithOrganization(ctx, org)))
	})
}

// RequireAdminKey is a middleware that requires the operator key in X-Admin-Key
func (m *AuthMiddleware) RequireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(HeaderAdminKey)
		if m.adminKey == "" || presented == "" ||
			subtle.ConstantTimeCompare([]byte(presented), []byte(m.adminKey)) != 1 {
			m.logger.Warn("admin authentication failed",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, services.ErrInvalidAdminKey.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
