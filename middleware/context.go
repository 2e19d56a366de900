package middleware

import (
	"context"

	"github.com/arcturusdc/orbit/auth"
	"github.com/arcturusdc/orbit/models"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// SessionKey is the context key for the validated subject session
	SessionKey contextKey = "session"

	// OrganizationKey is the context key for the authenticated organization
	OrganizationKey contextKey = "organization"
)

// GetRequestIDFromContext retrieves the request ID from context, falling back to
// the one chi's RequestID middleware assigned
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetSessionFromContext retrieves the subject session from context
func GetSessionFromContext(ctx context.Context) *auth.Session {
	if val := ctx.Value(SessionKey); val != nil {
		if session, ok := val.(*auth.Session); ok {
			return session
		}
	}
	return nil
}

// WithSession adds a subject session to the context
func WithSession(ctx context.Context, session *auth.Session) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// GetSubjectFromContext returns the session subject, empty without a session
func GetSubjectFromContext(ctx context.Context) string {
	if session := GetSessionFromContext(ctx); session != nil {
		return session.Subject
	}
	return ""
}

// GetOrganizationFromContext retrieves the authenticated organization from context
func GetOrganizationFromContext(ctx context.Context) *models.Organization {
	if val := ctx.Value(OrganizationKey); val != nil {
		if org, ok := val.(*models.Organization); ok {
			return org
		}
	}
	return nil
}

// WithOrganization adds an authenticated organization to the context
func WithOrganization(ctx context.Context, org *models.Organization) context.Context {
	return context.WithValue(ctx, OrganizationKey, org)
}

// GetOrgIDFromContext returns the authenticated org ID, empty without org credentials
func GetOrgIDFromContext(ctx context.Context) string {
	if org := GetOrganizationFromContext(ctx); org != nil {
		return org.OrgID
	}
	return ""
}
