package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arcturusdc/orbit/app"
	"github.com/arcturusdc/orbit/config"
	"github.com/arcturusdc/orbit/middleware"
	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/services/ledger"
	"github.com/arcturusdc/orbit/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	adminKey = "admin-key-for-tests"
	orgKey   = "acme-secret-key-0001"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment:  "test",
		StoreBackend: config.StoreBackendMemory,
		Server:       config.ServerConfig{RequestTimeout: 5 * time.Second, AllowedOrigins: []string{"http://localhost:5173"}},
		Session:      config.SessionConfig{JWTSecret: "test-secret", Issuer: "orbit", TTL: time.Hour},
		Admin:        config.AdminConfig{APIKey: adminKey},
		Ledger:       config.LedgerConfig{AppendRetries: 3},
		Policy:       config.PolicyConfig{Workers: 1, BufferSize: 10, StopTimeout: time.Second},
		RateLimit:    config.RateLimitConfig{Enabled: true, WriteLimit: 100, ReadLimit: 100, VerifyLimit: 2, Window: time.Minute},
		Sandbox:      config.SandboxConfig{Enabled: true, UserPrefix: "demo_", BatchSize: 100},
	}
}

type client struct {
	t       *testing.T
	handler http.Handler
}

func newClient(t *testing.T, cfg *config.Config) *client {
	t.Helper()
	deps, err := app.NewDependencies(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })
	return &client{t: t, handler: SetupRoutes(deps)}
}

func (c *client) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func (c *client) admin() map[string]string {
	return map[string]string{middleware.HeaderAdminKey: adminKey}
}

// onboard registers org_acme and returns headers carrying a session for subject plus org credentials
func (c *client) onboard(subject string) map[string]string {
	c.t.Helper()
	rec := c.do(http.MethodPut, "/api/v1/admin/orgs/org_acme", map[string]interface{}{"name": "Acme", "apiKey": orgKey}, c.admin())
	require.Contains(c.t, []int{http.StatusCreated, http.StatusOK}, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, "/api/v1/admin/sessions", map[string]string{"subject": subject}, c.admin())
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())
	var session struct {
		Token string `json:"token"`
	}
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &session))

	return map[string]string{
		"Authorization":         "Bearer " + session.Token,
		middleware.HeaderOrgID:  "org_acme",
		middleware.HeaderAPIKey: orgKey,
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) utils.ErrorResponse {
	t.Helper()
	var resp utils.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	c := newClient(t, testConfig())

	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/healthz", nil, nil).Code)
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/readyz", nil, nil).Code)

	rec := c.do(http.MethodGet, "/api/v1/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "memory", status["storeBackend"])
	assert.Contains(t, status, "alertHook")
	assert.Contains(t, status, "keyCache")
}

func TestLedgerFlow(t *testing.T) {
	c := newClient(t, testConfig())
	headers := c.onboard("user_1")

	rec := c.do(http.MethodPost, "/api/v1/events", map[string]interface{}{
		"eventType":     "CONSENT_GRANTED",
		"userId":        "user_1",
		"orgId":         "org_acme",
		"consentScope":  "email",
		"consentStatus": "GRANTED",
	}, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first models.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, int64(1), first.BlockIndex)
	assert.NotEmpty(t, first.Signature)

	rec = c.do(http.MethodPost, "/api/v1/events", map[string]interface{}{
		"eventType": "DATA_USED",
		"userId":    "user_1",
		"orgId":     "org_acme",
		"scopes":    []string{"email"},
		"purpose":   "newsletter",
	}, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var second models.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first.EventHash, second.PreviousEventHash)

	rec = c.do(http.MethodGet, "/api/v1/users/user_1/events?orgId=org_acme", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []models.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Len(t, events, 2)

	rec = c.do(http.MethodGet, "/api/v1/users/user_1/chains/org_acme/verify", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var report ledger.ChainReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.Length)

	rec = c.do(http.MethodGet, "/api/v1/users/user_1/consents?orgId=org_acme", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"scope":"email"`)

	rec = c.do(http.MethodPost, "/api/v1/verify", map[string]interface{}{"eventId": second.EventID, "verifierName": "auditor"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var record models.VerificationRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.True(t, record.Verified)

	rec = c.do(http.MethodGet, "/api/v1/verifications/"+record.ID.String()+"/check", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":true`)
}

func TestAuthBoundaries(t *testing.T) {
	c := newClient(t, testConfig())
	headers := c.onboard("user_1")

	body := map[string]interface{}{
		"eventType": "DATA_USED",
		"userId":    "user_1",
		"orgId":     "org_acme",
		"scopes":    []string{"email"},
		"purpose":   "newsletter",
	}

	t.Run("missing session", func(t *testing.T) {
		rec := c.do(http.MethodPost, "/api/v1/events", body, map[string]string{
			middleware.HeaderOrgID:  "org_acme",
			middleware.HeaderAPIKey: orgKey,
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong api key", func(t *testing.T) {
		bad := map[string]string{
			"Authorization":         headers["Authorization"],
			middleware.HeaderOrgID:  "org_acme",
			middleware.HeaderAPIKey: "wrong-key-wrong-key",
		}
		rec := c.do(http.MethodPost, "/api/v1/events", body, bad)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("subject mismatch", func(t *testing.T) {
		other := map[string]interface{}{}
		for k, v := range body {
			other[k] = v
		}
		other["userId"] = "user_2"
		rec := c.do(http.MethodPost, "/api/v1/events", other, headers)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("reading another subject", func(t *testing.T) {
		rec := c.do(http.MethodGet, "/api/v1/users/user_2/events", nil, headers)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin key required", func(t *testing.T) {
		rec := c.do(http.MethodPost, "/api/v1/admin/orgs/org_acme/keys", nil, map[string]string{middleware.HeaderAdminKey: "nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = c.do(http.MethodPost, "/api/v1/admin/orgs/org_acme/keys", nil, c.admin())
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("alerts need org credentials", func(t *testing.T) {
		rec := c.do(http.MethodGet, "/api/v1/orgs/org_acme/alerts", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = c.do(http.MethodGet, "/api/v1/orgs/org_acme/alerts", nil, map[string]string{
			middleware.HeaderOrgID:  "org_acme",
			middleware.HeaderAPIKey: orgKey,
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestVerifyRateLimit(t *testing.T) {
	c := newClient(t, testConfig())
	body := map[string]interface{}{"eventId": "evt_missing", "verifierName": "auditor"}

	for i := 0; i < 2; i++ {
		rec := c.do(http.MethodPost, "/api/v1/verify", body, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := c.do(http.MethodPost, "/api/v1/verify", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decodeError(t, rec).Error)
}

func TestRateLimitDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = false
	c := newClient(t, cfg)
	body := map[string]interface{}{"eventId": "evt_missing", "verifierName": "auditor"}

	for i := 0; i < 5; i++ {
		rec := c.do(http.MethodPost, "/api/v1/verify", body, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestSandboxReset(t *testing.T) {
	c := newClient(t, testConfig())
	headers := c.onboard("demo_alice")

	rec := c.do(http.MethodPost, "/api/v1/events", map[string]interface{}{
		"eventType": "DATA_USED",
		"userId":    "demo_alice",
		"orgId":     "org_acme",
		"scopes":    []string{"email"},
		"purpose":   "demo",
	}, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, "/api/v1/admin/sandbox/reset", map[string]interface{}{"userId": "demo_alice"}, c.admin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"events":1`)

	rec = c.do(http.MethodGet, "/api/v1/users/demo_alice/events", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	c := newClient(t, testConfig())

	rec := c.do(http.MethodGet, "/api/v1/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Error)

	rec = c.do(http.MethodDelete, "/healthz", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
