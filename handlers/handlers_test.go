package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arcturusdc/orbit/auth"
	"github.com/arcturusdc/orbit/middleware"
	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/arcturusdc/orbit/repositories/memory"
	"github.com/arcturusdc/orbit/services/consent"
	"github.com/arcturusdc/orbit/services/keyring"
	"github.com/arcturusdc/orbit/services/ledger"
	"github.com/arcturusdc/orbit/services/organization"
	"github.com/arcturusdc/orbit/services/policy"
	"github.com/arcturusdc/orbit/services/sandbox"
	"github.com/arcturusdc/orbit/services/snapshot"
	"github.com/arcturusdc/orbit/services/verification"
	"github.com/arcturusdc/orbit/utils"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stack struct {
	repos         *repositories.Repositories
	org           *models.Organization
	events        *EventHandler
	consents      *ConsentHandler
	snapshots     *SnapshotHandler
	verifications *VerificationHandler
	alerts        *AlertHandler
	admin         *AdminHandler
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	repos := store.NewRepositories()
	txMgr := store.TransactionManager()

	ring := keyring.NewKeyRing(repos.Organizations, repos.SigningKeys, txMgr, nil, logger)
	orgs := organization.NewService(repos.Organizations, ring, txMgr, logger)
	created, err := orgs.Upsert(context.Background(), "org_acme", organization.UpsertRequest{Name: "Acme", APIKey: "acme-secret-key-0001"})
	require.NoError(t, err)

	consents := consent.NewService(repos.Consents, logger)
	locks := ledger.NewChainLocks()
	ledgerSvc := ledger.NewService(repos.Events, ring, locks, consents, nil, ledger.Config{AppendRetries: 2}, logger)
	snapshots := snapshot.NewService(repos.Snapshots, txMgr, ledgerSvc, locks, logger)
	verifier := verification.NewService(repos.Events, ring, repos.Verifications, logger)
	sandboxSvc := sandbox.NewService(repos, txMgr, sandbox.Config{Enabled: true, UserPrefix: "demo_"}, logger)
	sessions := auth.NewSessionManager(auth.Config{Secret: "test-secret", Issuer: "orbit"})

	return &stack{
		repos:         repos,
		org:           created.Organization,
		events:        NewEventHandler(ledgerSvc, logger),
		consents:      NewConsentHandler(consents, logger),
		snapshots:     NewSnapshotHandler(snapshots, logger),
		verifications: NewVerificationHandler(verifier, logger),
		alerts:        NewAlertHandler(policy.NewAlertService(repos.Alerts), logger),
		admin:         NewAdminHandler(orgs, sandboxSvc, sessions, logger),
	}
}

// request builds a request carrying the given session subject and org, with chi URL params
func (s *stack) request(method, target string, body interface{}, subject string, params map[string]string) *http.Request {
	var reader *bytes.Reader
	if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	r := httptest.NewRequest(method, target, reader)
	r.Header.Set("Content-Type", "application/json")
	ctx := r.Context()
	if subject != "" {
		ctx = middleware.WithSession(ctx, &auth.Session{Subject: subject})
	}
	ctx = middleware.WithOrganization(ctx, s.org)

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

func serve(h http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) utils.ErrorResponse {
	t.Helper()
	var response utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

func grant(scope string) map[string]interface{} {
	return map[string]interface{}{
		"eventType":     "CONSENT_GRANTED",
		"userId":        "user_1",
		"orgId":         "org_acme",
		"consentScope":  scope,
		"consentStatus": "GRANTED",
	}
}

func TestAppendEvent(t *testing.T) {
	s := newStack(t)

	w := serve(s.events.HandleAppendEvent, s.request(http.MethodPost, "/api/v1/events", grant("email"), "user_1", nil))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var first models.Event
	decodeData(t, w, &first)
	assert.Equal(t, int64(1), first.BlockIndex)
	assert.Empty(t, first.PreviousEventHash)
	assert.NotEmpty(t, first.Signature)
	assert.True(t, strings.HasPrefix(first.EventID, "evt_"))

	w = serve(s.events.HandleAppendEvent, s.request(http.MethodPost, "/api/v1/events", grant("phone"), "user_1", nil))
	require.Equal(t, http.StatusCreated, w.Code)
	var second models.Event
	decodeData(t, w, &second)
	assert.Equal(t, int64(2), second.BlockIndex)
	assert.Equal(t, first.EventHash, second.PreviousEventHash)

	w = serve(s.consents.HandleGetConsentState, s.request(http.MethodGet, "/api/v1/users/user_1/consents", nil, "user_1",
		map[string]string{"userId": "user_1"}))
	require.Equal(t, http.StatusOK, w.Code)
	var states []models.ConsentState
	decodeData(t, w, &states)
	require.Len(t, states, 2)
	assert.Equal(t, models.ConsentStatusGranted, states[0].Status)
}

func TestAppendEvent_DuplicateEventID(t *testing.T) {
	s := newStack(t)
	body := grant("email")
	body["eventId"] = "evt_client_1"

	w := serve(s.events.HandleAppendEvent, s.request(http.MethodPost, "/api/v1/events", body, "user_1", nil))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body = grant("phone")
	body["eventId"] = "evt_client_1"
	w = serve(s.events.HandleAppendEvent, s.request(http.MethodPost, "/api/v1/events", body, "user_1", nil))
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	resp := decodeError(t, w)
	assert.Equal(t, "conflict", resp.Error)
	assert.Equal(t, "event already exists", resp.Message)
	assert.Equal(t, "evt_client_1", resp.Details["eventId"])

	events, err := s.repos.Events.ListByUser(context.Background(), "user_1", repositories.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAppendEvent_Rejections(t *testing.T) {
	s := newStack(t)

	tests := []struct {
		name     string
		body     interface{}
		subject  string
		wantCode int
		wantMsg  string
	}{
		{
			name:     "missing fields are named",
			body:     map[string]interface{}{"eventType": "CONSENT_GRANTED", "userId": "user_1", "orgId": "org_acme"},
			subject:  "user_1",
			wantCode: http.StatusBadRequest,
			wantMsg:  "Missing required fields: consentScope, consentStatus",
		},
		{
			name:     "unknown event type",
			body:     map[string]interface{}{"eventType": "DATA_SOLD", "userId": "user_1", "orgId": "org_acme"},
			subject:  "user_1",
			wantCode: http.StatusBadRequest,
			wantMsg:  "Unknown event type: DATA_SOLD",
		},
		{
			name:     "store owned fields",
			body:     map[string]interface{}{"eventType": "CONSENT_GRANTED", "userId": "user_1", "orgId": "org_acme", "consentScope": "email", "consentStatus": "GRANTED", "blockIndex": 7},
			subject:  "user_1",
			wantCode: http.StatusBadRequest,
			wantMsg:  "Fields are assigned by the ledger: blockIndex",
		},
		{
			name:     "subject mismatch",
			body:     grant("email"),
			subject:  "user_2",
			wantCode: http.StatusForbidden,
		},
		{
			name:     "org mismatch",
			body:     map[string]interface{}{"eventType": "CONSENT_GRANTED", "userId": "user_1", "orgId": "org_other", "consentScope": "email", "consentStatus": "GRANTED"},
			subject:  "user_1",
			wantCode: http.StatusForbidden,
		},
		{
			name:     "unknown field",
			body:     `{"eventType":"CONSENT_GRANTED","colour":"blue"}`,
			subject:  "user_1",
			wantCode: http.StatusBadRequest,
			wantMsg:  `unknown field "colour"`,
		},
		{
			name:     "malformed identifier",
			body:     map[string]interface{}{"eventType": "CONSENT_GRANTED", "userId": "user 1"},
			subject:  "user 1",
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(s.events.HandleAppendEvent, s.request(http.MethodPost, "/api/v1/events", tt.body, tt.subject, nil))
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantMsg != "" {
				assert.Contains(t, decodeError(t, w).Message, tt.wantMsg)
			}
		})
	}

	events, err := s.repos.Events.ListByUser(context.Background(), "user_1", repositories.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events, "rejected writes are never persisted")
}

func TestQueryEventsAndVerifyChain(t *testing.T) {
	s := newStack(t)
	for _, scope := range []string{"email", "phone", "location"} {
		w := serve(s.events.HandleAppendEvent, s.request(http.MethodPost, "/api/v1/events", grant(scope), "user_1", nil))
		require.Equal(t, http.StatusCreated, w.Code)
	}
	params := map[string]string{"userId": "user_1", "orgId": "org_acme"}

	w := serve(s.events.HandleQueryEvents, s.request(http.MethodGet, "/api/v1/users/user_1/events?orgId=org_acme&limit=2", nil, "user_1", params))
	require.Equal(t, http.StatusOK, w.Code)
	var events []models.Event
	decodeData(t, w, &events)
	require.Len(t, events, 2)
	assert.Equal(t, int64(3), events[0].BlockIndex, "newest first")

	w = serve(s.events.HandleQueryEvents, s.request(http.MethodGet, "/api/v1/users/user_1/events?limit=-1", nil, "user_1", params))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s.events.HandleQueryEvents, s.request(http.MethodGet, "/api/v1/users/user_1/events?eventType=NOPE", nil, "user_1", params))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s.events.HandleQueryEvents, s.request(http.MethodGet, "/api/v1/users/user_1/events", nil, "user_2", params))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(s.events.HandleVerifyChain, s.request(http.MethodGet, "/api/v1/users/user_1/chains/org_acme/verify", nil, "user_1", params))
	require.Equal(t, http.StatusOK, w.Code)
	var report ledger.ChainReport
	decodeData(t, w, &report)
	assert.True(t, report.Valid)
	assert.Equal(t, 3, report.Length)
}

func TestSnapshots(t *testing.T) {
	s := newStack(t)
	body := map[string]interface{}{
		"userId": "user_1",
		"data":   map[string]interface{}{"name": "Ada", "email": "ada@example.com"},
		"scopes": []string{"email"},
	}

	w := serve(s.snapshots.HandleCreateSnapshot, s.request(http.MethodPost, "/api/v1/snapshots", body, "user_1", nil))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created snapshot.CreateResult
	decodeData(t, w, &created)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, "org_acme_v1", created.SnapshotID)
	assert.Equal(t, models.EventTypeProfileRegistered, created.Event.EventType)

	w = serve(s.snapshots.HandleCreateSnapshot, s.request(http.MethodPost, "/api/v1/snapshots", body, "user_1", nil))
	require.Equal(t, http.StatusCreated, w.Code)
	var updated snapshot.CreateResult
	decodeData(t, w, &updated)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, models.EventTypeProfileUpdated, updated.Event.EventType)

	w = serve(s.snapshots.HandleGetSnapshot, s.request(http.MethodGet, "/api/v1/snapshots?pointer="+created.SnapshotPointer, nil, "user_1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var fetched SnapshotResponse
	decodeData(t, w, &fetched)
	assert.Equal(t, 1, fetched.Version)
	assert.True(t, fetched.HashValid)

	w = serve(s.snapshots.HandleGetLatestSnapshot, s.request(http.MethodGet, "/api/v1/users/user_1/snapshots/org_acme/latest", nil, "user_1",
		map[string]string{"userId": "user_1", "orgId": "org_acme"}))
	require.Equal(t, http.StatusOK, w.Code)
	var latest SnapshotResponse
	decodeData(t, w, &latest)
	assert.Equal(t, 2, latest.Version)

	w = serve(s.snapshots.HandleGetSnapshot, s.request(http.MethodGet, "/api/v1/snapshots?pointer="+created.SnapshotPointer, nil, "user_2", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(s.snapshots.HandleGetSnapshot, s.request(http.MethodGet, "/api/v1/snapshots?pointer=garbage", nil, "user_1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s.snapshots.HandleGetSnapshot, s.request(http.MethodGet, "/api/v1/snapshots?pointer=snapshots/user_1/org_acme_v9", nil, "user_1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(s.snapshots.HandleCreateSnapshot, s.request(http.MethodPost, "/api/v1/snapshots", map[string]interface{}{"userId": "user_1"}, "user_1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required fields: data, scopes", decodeError(t, w).Message)
}

func TestVerifyAndCheckProof(t *testing.T) {
	s := newStack(t)
	w := serve(s.events.HandleAppendEvent, s.request(http.MethodPost, "/api/v1/events", grant("email"), "user_1", nil))
	require.Equal(t, http.StatusCreated, w.Code)
	var stored models.Event
	decodeData(t, w, &stored)

	w = serve(s.verifications.HandleVerify, s.request(http.MethodPost, "/api/v1/verify",
		map[string]interface{}{"eventId": stored.EventID, "verifierName": "auditor"}, "", nil))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var record models.VerificationRecord
	decodeData(t, w, &record)
	assert.True(t, record.Verified)
	assert.NotEmpty(t, record.Proof)

	w = serve(s.verifications.HandleVerify, s.request(http.MethodPost, "/api/v1/verify",
		map[string]interface{}{"event": stored, "verifierName": "auditor"}, "", nil))
	require.Equal(t, http.StatusCreated, w.Code)

	w = serve(s.verifications.HandleCheckProof, s.request(http.MethodGet, "/api/v1/verifications/"+record.ID.String()+"/check", nil, "",
		map[string]string{"id": record.ID.String()}))
	require.Equal(t, http.StatusOK, w.Code)
	var check verification.ProofCheck
	decodeData(t, w, &check)
	assert.True(t, check.Valid)

	w = serve(s.verifications.HandleCheckProof, s.request(http.MethodGet, "/api/v1/verifications/nope/check", nil, "",
		map[string]string{"id": "nope"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s.verifications.HandleVerify, s.request(http.MethodPost, "/api/v1/verify", map[string]interface{}{"eventId": stored.EventID}, "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required fields: verifierName", decodeError(t, w).Message)
}

func TestListAlerts(t *testing.T) {
	s := newStack(t)
	require.NoError(t, s.repos.Alerts.Insert(context.Background(),
		models.NewAlert(&models.Event{EventID: "evt_1", UserID: "user_1", OrgID: "org_acme"}, policy.RuleConsentRevoked, models.AlertSeverityLow, "consent revoked for scope email")))

	w := serve(s.alerts.HandleListAlerts, s.request(http.MethodGet, "/api/v1/orgs/org_acme/alerts", nil, "", map[string]string{"orgId": "org_acme"}))
	require.Equal(t, http.StatusOK, w.Code)
	var alerts []models.Alert
	decodeData(t, w, &alerts)
	require.Len(t, alerts, 1)
	assert.Equal(t, policy.RuleConsentRevoked, alerts[0].Rule)

	w = serve(s.alerts.HandleListAlerts, s.request(http.MethodGet, "/api/v1/orgs/org_other/alerts", nil, "", map[string]string{"orgId": "org_other"}))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmin(t *testing.T) {
	s := newStack(t)
	params := map[string]string{"orgId": "org_beta"}

	w := serve(s.admin.HandleUpsertOrganization, s.request(http.MethodPut, "/api/v1/admin/orgs/org_beta",
		map[string]interface{}{"name": "Beta", "apiKey": "beta-secret-key-0001", "sandbox": true}, "", params))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created organization.UpsertResult
	decodeData(t, w, &created)
	assert.True(t, created.Created)
	assert.NotEmpty(t, created.Organization.SigningKeyID)
	assert.NotContains(t, w.Body.String(), "beta-secret-key")

	w = serve(s.admin.HandleUpsertOrganization, s.request(http.MethodPut, "/api/v1/admin/orgs/org_beta",
		map[string]interface{}{"name": "Beta Renamed"}, "", params))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(s.admin.HandleGetOrganization, s.request(http.MethodGet, "/api/v1/admin/orgs/org_beta", nil, "", params))
	require.Equal(t, http.StatusOK, w.Code)
	var org models.Organization
	decodeData(t, w, &org)
	assert.Equal(t, "Beta Renamed", org.Name)

	w = serve(s.admin.HandleRotateSigningKey, s.request(http.MethodPost, "/api/v1/admin/orgs/org_beta/keys", nil, "", params))
	require.Equal(t, http.StatusCreated, w.Code)
	var key models.SigningKey
	decodeData(t, w, &key)
	assert.NotEqual(t, created.Organization.SigningKeyID, key.KeyID)

	w = serve(s.admin.HandleRotateSigningKey, s.request(http.MethodPost, "/api/v1/admin/orgs/org_missing/keys", nil, "", map[string]string{"orgId": "org_missing"}))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(s.admin.HandleUpsertOrganization, s.request(http.MethodPut, "/api/v1/admin/orgs/bad%20id",
		map[string]interface{}{"name": "Bad"}, "", map[string]string{"orgId": "bad id"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s.admin.HandleUpsertOrganization, s.request(http.MethodPut, "/api/v1/admin/orgs/org_gamma",
		map[string]interface{}{"name": "Gamma", "apiKey": "short"}, "", map[string]string{"orgId": "org_gamma"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_SandboxAndSessions(t *testing.T) {
	s := newStack(t)
	w := serve(s.events.HandleAppendEvent, s.request(http.MethodPost, "/api/v1/events",
		map[string]interface{}{"eventType": "CONSENT_GRANTED", "userId": "demo_ada", "orgId": "org_acme", "consentScope": "email", "consentStatus": "GRANTED"},
		"demo_ada", nil))
	require.Equal(t, http.StatusCreated, w.Code)

	w = serve(s.admin.HandleResetSandbox, s.request(http.MethodPost, "/api/v1/admin/sandbox/reset",
		map[string]interface{}{"userId": "demo_ada"}, "", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result sandbox.Result
	decodeData(t, w, &result)
	assert.Equal(t, int64(1), result.Events)
	assert.Equal(t, int64(1), result.Consents)

	w = serve(s.admin.HandleResetSandbox, s.request(http.MethodPost, "/api/v1/admin/sandbox/reset",
		map[string]interface{}{"userId": "user_1"}, "", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(s.admin.HandleIssueSession, s.request(http.MethodPost, "/api/v1/admin/sessions",
		map[string]interface{}{"subject": "user_1"}, "", nil))
	require.Equal(t, http.StatusCreated, w.Code)
	var issued IssueSessionResponse
	decodeData(t, w, &issued)
	assert.NotEmpty(t, issued.Token)
	assert.Equal(t, "user_1", issued.Session.Subject)
	assert.WithinDuration(t, time.Now().Add(time.Hour), issued.Session.ExpiresAt, time.Minute)
}
