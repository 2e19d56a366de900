package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *SessionManager {
	return NewSessionManager(Config{Secret: "test-secret", Issuer: "orbit-test", TTL: time.Hour})
}

func TestSessionManager_RoundTrip(t *testing.T) {
	m := newTestManager()

	token, issued, err := m.Issue("user_1")
	require.NoError(t, err)

	session, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user_1", session.Subject)
	assert.Equal(t, issued.TokenID, session.TokenID)
	assert.True(t, session.ExpiresAt.Equal(issued.ExpiresAt))
}

func TestSessionManager_Rejections(t *testing.T) {
	m := newTestManager()

	t.Run("expired", func(t *testing.T) {
		past := NewSessionManager(Config{Secret: "test-secret", Issuer: "orbit-test", TTL: time.Minute})
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, _, err := past.Issue("user_1")
		require.NoError(t, err)

		_, err = m.Validate(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewSessionManager(Config{Secret: "test-secret", Issuer: "someone-else"})
		token, _, err := other.Issue("user_1")
		require.NoError(t, err)

		_, err = m.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidIssuer)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewSessionManager(Config{Secret: "another-secret", Issuer: "orbit-test"})
		token, _, err := other.Issue("user_1")
		require.NoError(t, err)

		_, err = m.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Issuer:    "orbit-test",
			Subject:   "user_1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = m.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.Validate("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestSessionManager_RequiresConfiguration(t *testing.T) {
	m := NewSessionManager(Config{Issuer: "orbit-test"})

	_, _, err := m.Issue("user_1")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = m.Validate("anything")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, _, err = newTestManager().Issue("")
	assert.ErrorIs(t, err, ErrMissingSubject)
}
