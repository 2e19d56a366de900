// Package auth issues and validates subject session tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrMissingSubject is returned when the token names no subject
	ErrMissingSubject = errors.New("missing subject")

	// ErrNotConfigured is returned when no signing secret is set
	ErrNotConfigured = errors.New("session secret not configured")
)

// Claims represents the claims carried by a session token
type Claims struct {
	jwt.RegisteredClaims
}

// Session is a validated subject session
type Session struct {
	Subject   string    `json:"subject"`
	TokenID   string    `json:"tokenId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Config holds configuration for SessionManager
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// SessionManager signs and verifies HS256 session tokens
type SessionManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionManager creates a new SessionManager
func NewSessionManager(config Config) *SessionManager {
	if config.TTL == 0 {
		config.TTL = time.Hour
	}
	return &SessionManager{
		secret: []byte(config.Secret),
		issuer: config.Issuer,
		ttl:    config.TTL,
		now:    time.Now,
	}
}

// Issue creates a signed token for subject
func (m *SessionManager) Issue(subject string) (string, *Session, error) {
	if len(m.secret) == 0 {
		return "", nil, ErrNotConfigured
	}
	if subject == "" {
		return "", nil, ErrMissingSubject
	}

	now := m.now().Truncate(time.Second)
	session := &Session{
		Subject:   subject,
		TokenID:   uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			ID:        session.TokenID,
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			NotBefore: jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}
	return signed, session, nil
}

// Validate verifies a token's signature, lifetime and issuer
func (m *SessionManager) Validate(tokenString string) (*Session, error) {
	if len(m.secret) == 0 {
		return nil, ErrNotConfigured
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Issuer != m.issuer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidIssuer, m.issuer, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	session := &Session{Subject: claims.Subject, TokenID: claims.ID}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}
